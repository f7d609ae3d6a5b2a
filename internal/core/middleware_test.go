package core

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"nudge/internal/config"
	"nudge/internal/scheduler"
)

// ---------------------------------------------------------------------------
// Job secret authentication
// ---------------------------------------------------------------------------

func TestJobSecret_ValidSecretPasses(t *testing.T) {
	s := newTestServer(t, &fakeReminderRunner{result: &scheduler.ReminderResult{}}, &fakeDigestRunner{}, &fakeRetentionRunner{}, nil)

	rec := postJob(s, "/internal/jobs/reminders", testJobSecret)
	if rec.Code != http.StatusOK {
		t.Errorf("got status %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestJobSecret_MissingHeader(t *testing.T) {
	reminders := &fakeReminderRunner{result: &scheduler.ReminderResult{}}
	s := newTestServer(t, reminders, &fakeDigestRunner{}, &fakeRetentionRunner{}, nil)

	rec := postJob(s, "/internal/jobs/reminders", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", rec.Code)
	}
	if code := errorCode(t, rec); code != "auth_job_secret_missing" {
		t.Errorf("got error code %q, want auth_job_secret_missing", code)
	}
	if reminders.calls != 0 {
		t.Error("handler must not run without the secret")
	}
}

func TestJobSecret_WrongSecret(t *testing.T) {
	reminders := &fakeReminderRunner{result: &scheduler.ReminderResult{}}
	s := newTestServer(t, reminders, &fakeDigestRunner{}, &fakeRetentionRunner{}, nil)

	rec := postJob(s, "/internal/jobs/reminders", "wrong-secret")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", rec.Code)
	}
	if code := errorCode(t, rec); code != "auth_job_secret_mismatch" {
		t.Errorf("got error code %q, want auth_job_secret_mismatch", code)
	}
	if reminders.calls != 0 {
		t.Error("handler must not run with a bad secret")
	}
}

func TestJobSecret_UnsetServerSecretIsMisconfigurationNotAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Jobs.Secret = config.SecretString("")
	s, err := NewServer(cfg, discardLogger(), &fakeReminderRunner{result: &scheduler.ReminderResult{}}, &fakeDigestRunner{}, &fakeRetentionRunner{}, nil, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	s.MountRoutes()

	// Even a caller presenting some secret is rejected: there is nothing to
	// compare against, and that is the server's fault, not the caller's.
	rec := postJob(s, "/internal/jobs/reminders", "anything")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got status %d, want 500", rec.Code)
	}
	if code := errorCode(t, rec); code != "config_job_secret_unset" {
		t.Errorf("got error code %q, want config_job_secret_unset", code)
	}
}

func TestJobSecret_HealthStaysOpen(t *testing.T) {
	s := newTestServer(t, &fakeReminderRunner{}, &fakeDigestRunner{}, &fakeRetentionRunner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("health must not require the job secret, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Request correlation
// ---------------------------------------------------------------------------

func TestRequestID_GeneratedAndEchoed(t *testing.T) {
	s := newTestServer(t, &fakeReminderRunner{result: &scheduler.ReminderResult{}}, &fakeDigestRunner{}, &fakeRetentionRunner{}, nil)

	rec := postJob(s, "/internal/jobs/reminders", testJobSecret)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("expected a generated X-Request-Id response header")
	}
}

func TestRequestID_IncomingHeaderReused(t *testing.T) {
	s := newTestServer(t, &fakeReminderRunner{}, &fakeDigestRunner{}, &fakeRetentionRunner{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/reminders", nil)
	req.Header.Set("X-Request-Id", "req-abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "req-abc-123" {
		t.Errorf("got X-Request-Id %q, want req-abc-123", got)
	}

	// The correlation ID lands in the error body too (no secret was sent).
	body := decodeBody(t, rec)
	errObj := body["error"].(map[string]any)
	if errObj["request_id"] != "req-abc-123" {
		t.Errorf("got request_id %v in error body, want req-abc-123", errObj["request_id"])
	}
}

// ---------------------------------------------------------------------------
// Panic recovery
// ---------------------------------------------------------------------------

func TestRecoverer_PanicBecomes500(t *testing.T) {
	s := newTestServer(t, &fakeReminderRunner{}, &fakeDigestRunner{}, &fakeRetentionRunner{}, nil)
	s.Router().Get("/panic", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got status %d, want 500", rec.Code)
	}
	if code := errorCode(t, rec); code != "internal_unexpected_error" {
		t.Errorf("got error code %q, want internal_unexpected_error", code)
	}
}
