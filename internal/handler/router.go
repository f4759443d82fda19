package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig selects the optional parts of the router.
type RouterConfig struct {
	RequestTimeout time.Duration
	// RefreshAuth guards the refresh endpoint when set.
	RefreshAuth func(http.Handler) http.Handler
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// RequestLogger wraps every request when set.
	RequestLogger func(http.Handler) http.Handler
}

// NewRouter wires the company and health endpoints.
func NewRouter(h *Handler, health *HealthHandler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	if cfg.RequestLogger != nil {
		r.Use(cfg.RequestLogger)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(timeout))

	// Health check endpoints (no auth required)
	r.Get("/health", health.Live)
	r.Get("/health/ready", health.Ready)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/company", func(r chi.Router) {
		r.Get("/info/{countryCode}/{companyId}", h.Info)
		r.Get("/history/{countryCode}/{companyId}", h.History)

		r.Group(func(r chi.Router) {
			if cfg.RefreshAuth != nil {
				r.Use(cfg.RefreshAuth)
			}
			r.Post("/refresh/{countryCode}/{companyId}", h.Refresh)
		})
	})

	return r
}
