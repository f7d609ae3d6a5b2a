package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSweeps implements all three janitor stores with scripted counts and
// recorded cutoffs. The janitor runs its sweeps concurrently, so recording
// is mutex-guarded.
type fakeSweeps struct {
	mu sync.Mutex

	deactivated int
	deleted     int
	dedup       int
	sessions    int

	deactivateErr error
	dedupErr      error

	cutoffs map[string]time.Time
}

func newFakeSweeps() *fakeSweeps {
	return &fakeSweeps{deactivated: 5, deleted: 3, dedup: 37, sessions: 12, cutoffs: map[string]time.Time{}}
}

func (s *fakeSweeps) record(name string, cutoff time.Time) {
	s.mu.Lock()
	s.cutoffs[name] = cutoff
	s.mu.Unlock()
}

func (s *fakeSweeps) DeactivateUnseenBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.record("deactivate", cutoff)
	if s.deactivateErr != nil {
		return 0, s.deactivateErr
	}
	return s.deactivated, nil
}

func (s *fakeSweeps) DeleteInactiveBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.record("delete", cutoff)
	return s.deleted, nil
}

func (s *fakeSweeps) DeleteDedupBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.record("dedup", cutoff)
	if s.dedupErr != nil {
		return 0, s.dedupErr
	}
	return s.dedup, nil
}

func (s *fakeSweeps) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.record("sessions", cutoff)
	return s.sessions, nil
}

func janitorConfig() RetentionConfig {
	return RetentionConfig{
		TokenDeactivateAfter: 60 * 24 * time.Hour,
		TokenDeleteAfter:     180 * 24 * time.Hour,
		DedupRetention:       90 * 24 * time.Hour,
		SessionGrace:         7 * 24 * time.Hour,
	}
}

func TestRetentionJanitor_RunsAllSweeps(t *testing.T) {
	sweeps := newFakeSweeps()
	j := NewRetentionJanitor(sweeps, sweeps, sweeps, testClock(), nil, discardLogger(), janitorConfig())

	result, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TokensDeactivated != 5 || result.TokensDeleted != 3 {
		t.Errorf("got tokens deactivated=%d deleted=%d, want 5/3", result.TokensDeactivated, result.TokensDeleted)
	}
	if result.DedupDeleted != 37 {
		t.Errorf("got dedup deleted=%d, want 37", result.DedupDeleted)
	}
	if result.SessionsDeleted != 12 {
		t.Errorf("got sessions deleted=%d, want 12", result.SessionsDeleted)
	}

	now := testClock().T
	want := map[string]time.Time{
		"deactivate": now.Add(-60 * 24 * time.Hour),
		"delete":     now.Add(-180 * 24 * time.Hour),
		"dedup":      now.Add(-90 * 24 * time.Hour),
		"sessions":   now.Add(-7 * 24 * time.Hour),
	}
	for name, cutoff := range want {
		if got := sweeps.cutoffs[name]; !got.Equal(cutoff) {
			t.Errorf("%s cutoff = %v, want %v", name, got, cutoff)
		}
	}
}

func TestRetentionJanitor_SweepFailureFailsRunWithPartialResult(t *testing.T) {
	sweeps := newFakeSweeps()
	sweeps.dedupErr = errors.New("connection refused")
	j := NewRetentionJanitor(sweeps, sweeps, sweeps, testClock(), nil, discardLogger(), janitorConfig())

	result, err := j.Run(context.Background())
	if err == nil {
		t.Fatal("expected the failed sweep to fail the run")
	}
	if result == nil {
		t.Fatal("expected a partial result alongside the error")
	}
	// The session sweep is independent of the failed dedup sweep and still
	// reports its count.
	if result.SessionsDeleted != 12 {
		t.Errorf("got sessions deleted=%d, want 12", result.SessionsDeleted)
	}
	if result.DedupDeleted != 0 {
		t.Errorf("got dedup deleted=%d, want 0", result.DedupDeleted)
	}
}
