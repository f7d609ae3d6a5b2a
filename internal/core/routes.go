package core

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MountRoutes defines the routing hierarchy: global middleware, the
// authenticated job group, and the public health and metrics endpoints.
//
// Middleware ordering:
//  1. Recoverer     - catches panics; outermost to catch all failures.
//  2. RequestID     - generates/propagates the correlation ID.
//  3. RequestLogger - structured request logging.
//
// The job secret check applies only to /internal/jobs; health and metrics
// stay open for load balancers and scrapers.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Route("/internal/jobs", func(r chi.Router) {
		r.Use(s.JobSecretMiddleware)
		r.Post("/reminders", s.HandleRunReminders)
		r.Post("/digests", s.HandleRunDigests)
		r.Post("/retention", s.HandleRunRetention)
	})

	s.router.Get("/health", s.HandleHealth)

	if s.Gatherer != nil {
		s.router.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
}
