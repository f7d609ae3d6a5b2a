package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"nudge/internal/types"
)

// JobResponse is the standard envelope for job endpoint responses, success
// and failure alike. Counters carries the job-specific result struct;
// Skipped/Reason describe a pass that intentionally did no work; Error is
// set (and OK false) when the pass failed outright.
type JobResponse struct {
	OK         bool         `json:"ok"`
	Job        string       `json:"job"`
	TS         string       `json:"ts"`
	DurationMs int64        `json:"durationMs"`
	BuildID    string       `json:"buildId,omitempty"`
	Skipped    bool         `json:"skipped,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Counters   any          `json:"counters,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
}

// APIErrorResponse is the standard envelope for error responses.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned to clients.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON writes a JSON response with the given status code and data. If
// marshalling fails, it falls back to a 500 error response.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fallback := APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(types.ErrCodeInternalUnexpected),
				Message:   "failed to marshal response",
				RequestID: types.GetRequestID(r.Context()),
			},
		}
		_ = json.NewEncoder(w).Encode(fallback)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes an error response to the client. If the error is (or wraps) a
// *types.AppError, its Code determines the HTTP status; otherwise a generic
// 500 is returned. Wrapped internal details are never exposed.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	requestID := types.GetRequestID(r.Context())

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		resp := APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(appErr.Code),
				Message:   appErr.Message,
				Details:   appErr.Details,
				RequestID: requestID,
			},
		}
		JSON(w, r, appErr.HTTPStatus(), resp)
		return
	}

	resp := APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(types.ErrCodeInternalUnexpected),
			Message:   "an unexpected error occurred",
			RequestID: requestID,
		},
	}
	JSON(w, r, http.StatusInternalServerError, resp)
}

// newJobResponse builds the common envelope fields for one job invocation.
func (s *Server) newJobResponse(job string, started time.Time) JobResponse {
	return JobResponse{
		OK:         true,
		Job:        job,
		TS:         started.UTC().Format(time.RFC3339),
		DurationMs: time.Since(started).Milliseconds(),
		BuildID:    s.Config.Build.ID(),
	}
}

// jobError writes the job envelope for a pass that failed outright. Failures
// keep the same envelope shape as successes so callers parse one format: OK
// flips false and Error carries the stable code.
func (s *Server) jobError(w http.ResponseWriter, r *http.Request, job string, started time.Time, err error) {
	resp := s.newJobResponse(job, started)
	resp.OK = false

	detail := ErrorDetail{
		Code:      string(types.ErrCodeInternalUnexpected),
		Message:   "an unexpected error occurred",
		RequestID: types.GetRequestID(r.Context()),
	}
	status := http.StatusInternalServerError

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		detail.Code = string(appErr.Code)
		detail.Message = appErr.Message
		detail.Details = appErr.Details
		status = appErr.HTTPStatus()
	}

	resp.Error = &detail
	JSON(w, r, status, resp)
}
