package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"nudge/internal/db"
	"nudge/internal/types"
)

type releaseCall struct {
	jobName string
	ownerID string
}

// fakeLeaseStore drives the LeaseManager without a database. acquireOK and
// acquireErr script the Acquire outcome; calls are recorded for assertions.
type fakeLeaseStore struct {
	acquireOK  bool
	acquireErr error

	acquiredOwner string
	acquiredTTL   time.Duration
	releaseCalls  []releaseCall
	extendCalls   []releaseCall
}

func (s *fakeLeaseStore) Acquire(_ context.Context, _, ownerID string, _ time.Time, ttl time.Duration) (bool, error) {
	s.acquiredOwner = ownerID
	s.acquiredTTL = ttl
	return s.acquireOK, s.acquireErr
}

func (s *fakeLeaseStore) Release(_ context.Context, jobName, ownerID string) (bool, error) {
	s.releaseCalls = append(s.releaseCalls, releaseCall{jobName, ownerID})
	return true, nil
}

func (s *fakeLeaseStore) Extend(_ context.Context, jobName, ownerID string, _ time.Time, _ time.Duration) (bool, error) {
	s.extendCalls = append(s.extendCalls, releaseCall{jobName, ownerID})
	return true, nil
}

func testClock() types.FixedClock {
	return types.FixedClock{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestLeaseManager_AcquireAndRelease(t *testing.T) {
	store := &fakeLeaseStore{acquireOK: true}
	m := NewLeaseManager(store, testClock(), discardLogger(), false)

	lease, err := m.Acquire(context.Background(), JobReminders, 10*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lease == nil {
		t.Fatal("expected an acquired lease")
	}
	if lease.JobName != JobReminders {
		t.Errorf("got job %q, want %q", lease.JobName, JobReminders)
	}
	if lease.OwnerID == "" || lease.OwnerID != store.acquiredOwner {
		t.Errorf("lease owner %q does not match store owner %q", lease.OwnerID, store.acquiredOwner)
	}
	if store.acquiredTTL != 10*time.Minute {
		t.Errorf("got TTL %v, want 10m", store.acquiredTTL)
	}

	m.Release(context.Background(), lease)
	if len(store.releaseCalls) != 1 {
		t.Fatalf("got %d release calls, want 1", len(store.releaseCalls))
	}
	if store.releaseCalls[0].ownerID != lease.OwnerID {
		t.Errorf("release used owner %q, want %q", store.releaseCalls[0].ownerID, lease.OwnerID)
	}
}

func TestLeaseManager_Blocked(t *testing.T) {
	store := &fakeLeaseStore{acquireOK: false}
	m := NewLeaseManager(store, testClock(), discardLogger(), false)

	lease, err := m.Acquire(context.Background(), JobDigests, 10*time.Minute)
	if err != nil {
		t.Fatalf("a held lease is not an error, got: %v", err)
	}
	if lease != nil {
		t.Fatal("expected nil lease when blocked")
	}
}

func TestLeaseManager_InfrastructureFailureFailClosed(t *testing.T) {
	store := &fakeLeaseStore{acquireErr: errors.New("connection refused")}
	m := NewLeaseManager(store, testClock(), discardLogger(), false)

	lease, err := m.Acquire(context.Background(), JobReminders, 10*time.Minute)
	if lease != nil {
		t.Fatal("fail-closed must not yield a lease on infrastructure failure")
	}
	if err == nil {
		t.Fatal("expected an error")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeLeaseInfrastructure {
		t.Errorf("got code %q, want %q", appErr.Code, types.ErrCodeLeaseInfrastructure)
	}
}

func TestLeaseManager_MissingTableFailClosed(t *testing.T) {
	// Same missing-table error, but fail-open is off: treated as infrastructure
	// failure, not a license to run unlocked.
	store := &fakeLeaseStore{acquireErr: db.ErrLeaseTableMissing}
	m := NewLeaseManager(store, testClock(), discardLogger(), false)

	lease, err := m.Acquire(context.Background(), JobReminders, 10*time.Minute)
	if lease != nil || err == nil {
		t.Fatalf("got (%v, %v), want (nil, error)", lease, err)
	}
}

func TestLeaseManager_MissingTableFailOpen(t *testing.T) {
	store := &fakeLeaseStore{acquireErr: db.ErrLeaseTableMissing}
	m := NewLeaseManager(store, testClock(), discardLogger(), true)

	lease, err := m.Acquire(context.Background(), JobReminders, 10*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lease == nil {
		t.Fatal("fail-open should yield an unlocked lease")
	}

	// Release and Extend on an unlocked lease never touch the store.
	m.Release(context.Background(), lease)
	m.Extend(context.Background(), lease, time.Minute)
	if len(store.releaseCalls) != 0 || len(store.extendCalls) != 0 {
		t.Errorf("unlocked lease must not call the store: %d releases, %d extends",
			len(store.releaseCalls), len(store.extendCalls))
	}
}

func TestLeaseManager_NilLeaseIsSafe(t *testing.T) {
	store := &fakeLeaseStore{}
	m := NewLeaseManager(store, testClock(), discardLogger(), false)

	m.Release(context.Background(), nil)
	m.Extend(context.Background(), nil, time.Minute)
	if len(store.releaseCalls) != 0 || len(store.extendCalls) != 0 {
		t.Error("nil lease must be a no-op")
	}
}
