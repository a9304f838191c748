/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin frontend
  5. RateLimit:  Per-caller throttling on the payment routes

ROUTE GROUPS:
  /api/payments/*     Payment entry, edit and bulk allocation
  /api/outflows/*     Multi-record bulk withdrawals
  /api/withdrawals/*  Ledger reversal and correction
  /api/records/*      Record, ledger and payment reads
  /api/customers/*    Outstanding dues

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the router-level tunables.
type RouterConfig struct {
	AllowedOrigins  []string
	SinglePerMinute int
	BulkPerMinute   int
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Customer-ID"},
		AllowCredentials: true,
	}))

	singleLimit := NewRateLimiter(cfg.SinglePerMinute, time.Minute)
	bulkLimit := NewRateLimiter(cfg.BulkPerMinute, time.Minute)

	r.Route("/api", func(r chi.Router) {
		r.Route("/payments", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(singleLimit.Middleware)
				r.Post("/", h.CreatePayment)
				r.Put("/{id}", h.UpdatePayment)
				r.Delete("/{id}", h.DeletePayment)
			})
			r.Group(func(r chi.Router) {
				r.Use(bulkLimit.Middleware)
				r.Post("/bulk", h.BulkPayment)
			})
		})

		r.Route("/outflows", func(r chi.Router) {
			r.Use(bulkLimit.Middleware)
			r.Post("/bulk", h.BulkOutflow)
		})

		r.Route("/withdrawals", func(r chi.Router) {
			r.Use(singleLimit.Middleware)
			r.Post("/{id}/reverse", h.ReverseWithdrawal)
			r.Put("/{id}", h.UpdateWithdrawal)
		})

		r.Route("/records", func(r chi.Router) {
			r.Get("/{id}", h.GetRecord)
			r.Get("/{id}/ledger", h.GetRecordLedger)
			r.Get("/{id}/payments", h.GetRecordPayments)
		})

		r.Route("/customers", func(r chi.Router) {
			r.Get("/{id}/dues", h.GetCustomerDues)
			r.Get("/{id}/payments", h.GetCustomerPayments)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
