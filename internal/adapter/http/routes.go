package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the chi router with standard middleware and all routes
// mounted.
func NewRouter(h *Handlers) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	MountRoutes(r, h)
	return r
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/changes", h.ListChanges)
		r.Get("/changes/{id}", h.GetChange)
		r.Post("/changes/{id}/approve", h.ApproveChange)
		r.Post("/changes/{id}/reject", h.RejectChange)

		r.Get("/traces/{traceID}/events", h.ListTraceEvents)

		r.Get("/budget", h.BudgetOverview)
	})
}
