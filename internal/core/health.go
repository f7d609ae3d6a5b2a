package core

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the database probe. A hung pool must not hang
// the load balancer's health check.
const healthCheckTimeout = 2 * time.Second

// healthResponse is the JSON response body for the health check endpoint.
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	BuildID  string `json:"buildId,omitempty"`
}

// HandleHealth probes database liveness. Returns 200 when the database
// responds within the timeout, 503 otherwise. Public, unauthenticated.
//
// GET /health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy", BuildID: s.Config.Build.ID()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.ErrorContext(r.Context(), "health check database ping failed", "error", err)
		JSON(w, r, http.StatusServiceUnavailable, healthResponse{
			Status:   "unhealthy",
			Database: "unreachable",
		})
		return
	}

	JSON(w, r, http.StatusOK, healthResponse{
		Status:   "healthy",
		Database: "ok",
		BuildID:  s.Config.Build.ID(),
	})
}
