// Package core provides the HTTP chassis for the nudge service. It builds a
// chi router that fronts the internal job endpoints, the health probe, and
// the metrics scrape, and enforces the cross-cutting concerns (panic
// recovery, request correlation, logging, job authentication) before
// requests reach the job handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"nudge/internal/config"
	"nudge/internal/scheduler"
)

// ReminderRunner executes one reminder pass. Implemented by
// scheduler.ReminderScheduler.
type ReminderRunner interface {
	Run(ctx context.Context) (*scheduler.ReminderResult, error)
}

// DigestRunner executes one digest pass. Implemented by
// scheduler.DigestScheduler.
type DigestRunner interface {
	Run(ctx context.Context) (*scheduler.DigestResult, error)
}

// RetentionRunner executes one retention pass. Implemented by
// scheduler.RetentionJanitor.
type RetentionRunner interface {
	Run(ctx context.Context) (*scheduler.RetentionResult, error)
}

// Pinger checks database liveness. Implemented by pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server encapsulates the dependencies of the HTTP surface, allowing easy
// injection during testing.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Reminders ReminderRunner
	Digests   DigestRunner
	Retention RetentionRunner
	DB        Pinger
	Gatherer  prometheus.Gatherer

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares the server for
// route mounting. The caller mounts routes via MountRoutes after
// construction; the separation lets tests customize registration.
func NewServer(
	cfg *config.Config,
	logger *slog.Logger,
	reminders ReminderRunner,
	digests DigestRunner,
	retention RetentionRunner,
	db Pinger,
	gatherer prometheus.Gatherer,
) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Reminders: reminders,
		Digests:   digests,
		Retention: retention,
		DB:        db,
		Gatherer:  gatherer,
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
