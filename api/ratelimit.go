/*
ratelimit.go - Per-caller request throttling

PURPOSE:
  Payment endpoints are triggered by gate staff on flaky connections that
  retry aggressively. A token bucket per caller keeps a retry storm from
  double-entering payments faster than the dedup checks can catch them.

  Two buckets:
    - single-payment endpoints: higher limit
    - bulk payment/outflow endpoints: lower limit (each request can touch
      many records)

KEY SELECTION:
  The X-Customer-ID header when present (one bucket per gate terminal),
  otherwise the remote address.
*/
package api

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a simple in-memory token bucket per caller key.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   int
	window  time.Duration
}

type client struct {
	tokens    int
	lastReset time.Time
}

// NewRateLimiter allows limit requests per window per key. A background
// sweep drops idle keys so the map cannot grow without bound.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*client),
		limit:   limit,
		window:  window,
	}
	go rl.sweep()
	return rl
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.window * 2)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, c := range rl.clients {
			if now.Sub(c.lastReset) > rl.window*2 {
				delete(rl.clients, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Allow reports whether a request under key may proceed and consumes a
// token if so.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	c, exists := rl.clients[key]
	if !exists {
		rl.clients[key] = &client{tokens: rl.limit - 1, lastReset: now}
		return true
	}
	if now.Sub(c.lastReset) >= rl.window {
		c.tokens = rl.limit - 1
		c.lastReset = now
		return true
	}
	if c.tokens > 0 {
		c.tokens--
		return true
	}
	return false
}

// Middleware wraps handlers with the limiter, answering 429 when the
// caller's bucket is empty.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(callerKey(r)) {
			writeError(w, http.StatusTooManyRequests, "too many requests, please retry shortly", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	if id := r.Header.Get("X-Customer-ID"); id != "" {
		return "customer:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
