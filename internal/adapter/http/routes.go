package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Apsistec/fitos-app-sub001/internal/middleware"
	"github.com/Apsistec/fitos-app-sub001/internal/port/cache"
)

// RouteOptions carries the optional middleware for MountRoutes.
type RouteOptions struct {
	// MessageLimiter throttles POST /messages per caller; nil disables it.
	MessageLimiter *middleware.RateLimiter
	// Idempotency stores replayable POST responses; nil disables replay.
	Idempotency    cache.Cache
	IdempotencyTTL time.Duration
}

// MountRoutes registers all routes on r. Authentication is expected to run
// before r, so every handler sees a principal.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	r.Get("/health", h.HealthCheck)
	if h.LiveFeed != nil {
		r.Get("/ws", h.LiveFeedWS)
	}

	idem := func(next http.Handler) http.Handler { return next }
	if opts.Idempotency != nil {
		ttl := opts.IdempotencyTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		idem = middleware.Idempotency(opts.Idempotency, ttl)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		// Coaching turns come from the app backend, not from trainers.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleService, middleware.RoleAdmin))
			if opts.MessageLimiter != nil {
				r.Use(opts.MessageLimiter.Handler)
			}
			r.With(idem).Post("/messages", h.HandleMessage)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleService, middleware.RoleAdmin))
			r.Post("/approvals/sweep", h.RunSweep)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleTrainer, middleware.RoleAdmin))
			r.Get("/trainers/{id}/approvals", h.ListApprovals)
			r.Get("/trainers/{id}/approvals/stats", h.ApprovalStats)
			r.Get("/approvals/{id}", h.GetApproval)
			r.With(idem).Post("/approvals/{id}/decision", h.DecideApproval)
		})
	})
}
