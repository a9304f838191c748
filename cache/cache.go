/*
Package cache invalidates denormalized customer and record views.

PURPOSE:
  Read endpoints serve customer balances and record summaries from cached
  views. Every write path (payments, outflows, ledger corrections) must
  drop the affected views so the next read rebuilds them.

  Two backends:
    - Redis for multi-instance deployments
    - In-memory for single-instance deployments and tests

  NewFromConfig tries Redis first and falls back to in-memory with a
  warning, so a missing Redis never blocks startup.
*/
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config selects and configures the cache backend.
type Config struct {
	Backend  string // "redis" or "memory"
	Addr     string
	Password string
	DB       int
}

// =============================================================================
// REDIS
// =============================================================================

// Redis drops view keys from a shared Redis instance.
type Redis struct {
	client *redis.Client
}

// NewRedis connects and pings; a dead Redis fails fast here rather than
// on the first invalidation.
func NewRedis(cfg Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// =============================================================================
// IN-MEMORY
// =============================================================================

// Memory is a process-local view cache. State is not shared across
// instances.
type Memory struct {
	mu    sync.RWMutex
	views map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{views: make(map[string][]byte)}
}

func (m *Memory) Invalidate(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.views, k)
	}
	return nil
}

// Get returns a cached view and whether it was present.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.views[key]
	return v, ok
}

// Set stores a rendered view.
func (m *Memory) Set(_ context.Context, key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[key] = value
}

// =============================================================================
// FACTORY
// =============================================================================

// Invalidator is the write-path view of a cache backend.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// NewFromConfig builds the configured backend. When Redis is configured
// but unreachable it falls back to in-memory with a warning; in-memory
// state is not shared across instances.
func NewFromConfig(cfg Config, logger *zap.Logger) Invalidator {
	if cfg.Backend != "redis" {
		return NewMemory()
	}
	r, err := NewRedis(cfg)
	if err != nil {
		logger.Warn("redis unavailable, falling back to in-memory view cache",
			zap.String("addr", cfg.Addr), zap.Error(err))
		return NewMemory()
	}
	logger.Info("using redis view cache", zap.String("addr", cfg.Addr))
	return r
}
