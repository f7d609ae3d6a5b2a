package core

import (
	"net/http"
	"time"

	"nudge/internal/scheduler"
	"nudge/internal/types"
)

// HandleRunReminders executes one reminder pass.
//
// POST /internal/jobs/reminders
func (s *Server) HandleRunReminders(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	result, err := s.Reminders.Run(r.Context())
	if err != nil {
		s.jobError(w, r, scheduler.JobReminders, started,
			types.NewAppError(types.ErrCodeJobFailed, "reminder pass failed", err))
		return
	}

	resp := s.newJobResponse(scheduler.JobReminders, started)
	if result.LeaseSkipped {
		resp.Skipped = true
		resp.Reason = result.LeaseReason
	} else {
		resp.Counters = result
	}
	JSON(w, r, http.StatusOK, resp)
}

// HandleRunDigests executes one digest pass.
//
// POST /internal/jobs/digests
func (s *Server) HandleRunDigests(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	result, err := s.Digests.Run(r.Context())
	if err != nil {
		s.jobError(w, r, scheduler.JobDigests, started,
			types.NewAppError(types.ErrCodeJobFailed, "digest pass failed", err))
		return
	}

	resp := s.newJobResponse(scheduler.JobDigests, started)
	if result.LeaseSkipped {
		resp.Skipped = true
		resp.Reason = result.LeaseReason
	} else {
		resp.Counters = result
	}
	JSON(w, r, http.StatusOK, resp)
}

// HandleRunRetention executes one retention pass. The janitor takes no lease;
// partial counters accompany the error response context via logs, and the
// envelope reports only complete passes.
//
// POST /internal/jobs/retention
func (s *Server) HandleRunRetention(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	result, err := s.Retention.Run(r.Context())
	if err != nil {
		s.jobError(w, r, scheduler.JobRetention, started,
			types.NewAppError(types.ErrCodeJobFailed, "retention pass failed", err))
		return
	}

	resp := s.newJobResponse(scheduler.JobRetention, started)
	resp.Counters = result
	JSON(w, r, http.StatusOK, resp)
}
