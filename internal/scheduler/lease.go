package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"nudge/internal/db"
	"nudge/internal/types"
)

// LeaseStore defines the storage operations the LeaseManager needs. The
// production implementation is db.JobLeaseRepository; the store must report
// definitively whether the conditional write applied, not merely "no error".
type LeaseStore interface {
	// Acquire atomically claims jobName for ownerID until now+ttl, taking
	// over only if any existing lease has already expired. Returns whether
	// the claim applied.
	Acquire(ctx context.Context, jobName, ownerID string, now time.Time, ttl time.Duration) (bool, error)

	// Release deletes the lease only if both jobName and ownerID match.
	Release(ctx context.Context, jobName, ownerID string) (bool, error)

	// Extend pushes locked_until to now+additionalTTL, scoped by ownerID.
	Extend(ctx context.Context, jobName, ownerID string, now time.Time, additionalTTL time.Duration) (bool, error)
}

// LeaseManager is the distributed mutex in front of every locked job. It is
// safe under N concurrent callers racing for the same job name: the store's
// atomic conditional write decides the winner, and the TTL is the safety net
// when a holder dies without releasing.
//
// FailOpen controls behavior on lease *infrastructure* failure (e.g. the
// job_leases table does not exist). Closed (the default) treats the failure
// as not-acquired, preferring a missed run over a duplicate send. Open
// proceeds without the lock, which is only acceptable in development. This
// is an explicit flag, not an environment sniff, so the choice is testable
// and intentional.
type LeaseManager struct {
	store    LeaseStore
	clock    types.Clock
	logger   *slog.Logger
	failOpen bool
}

// NewLeaseManager creates a LeaseManager. A nil logger falls back to
// slog.Default().
func NewLeaseManager(store LeaseStore, clock types.Clock, logger *slog.Logger, failOpen bool) *LeaseManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaseManager{
		store:    store,
		clock:    clock,
		logger:   logger,
		failOpen: failOpen,
	}
}

// Lease is a successfully acquired claim. OwnerID identifies this run;
// Release and Extend are scoped to it.
type Lease struct {
	JobName string
	OwnerID string

	// unlocked marks a fail-open lease that holds no real lock. Release
	// and Extend become no-ops.
	unlocked bool
}

// Acquire attempts to take the lease for jobName with the given TTL.
//
// Outcomes:
//   - (lease, nil): acquired; caller must Release when done.
//   - (nil, nil): blocked — another owner holds an unexpired lease. This is
//     an expected, frequent outcome, not an error.
//   - (nil, err): infrastructure failure with fail-closed policy. Logged
//     loudly; the caller reports the run as skipped, never as a crash.
//
// The owner ID is generated locally from a timestamp plus random component
// so two runners acquiring in the same instant can never collide.
func (m *LeaseManager) Acquire(ctx context.Context, jobName string, ttl time.Duration) (*Lease, error) {
	now := m.clock.Now()
	ownerID := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())

	acquired, err := m.store.Acquire(ctx, jobName, ownerID, now, ttl)
	if err != nil {
		if errors.Is(err, db.ErrLeaseTableMissing) && m.failOpen {
			m.logger.WarnContext(ctx, "lease table missing, proceeding unlocked (fail-open)",
				"job", jobName,
			)
			return &Lease{JobName: jobName, OwnerID: ownerID, unlocked: true}, nil
		}
		m.logger.ErrorContext(ctx, "lease infrastructure failure, treating as not acquired",
			"job", jobName,
			"error", err,
		)
		return nil, types.NewAppError(types.ErrCodeLeaseInfrastructure, "lease acquisition failed", err)
	}

	if !acquired {
		m.logger.InfoContext(ctx, "lease blocked by another owner",
			"job", jobName,
		)
		return nil, nil
	}

	m.logger.InfoContext(ctx, "lease acquired",
		"job", jobName,
		"owner_id", ownerID,
		"ttl", ttl.String(),
	)
	return &Lease{JobName: jobName, OwnerID: ownerID}, nil
}

// Release gives the lease up early. Best-effort: failures are logged and
// swallowed because the TTL is the authoritative safety net — an unreleased
// lease simply expires.
func (m *LeaseManager) Release(ctx context.Context, lease *Lease) {
	if lease == nil || lease.unlocked {
		return
	}

	deleted, err := m.store.Release(ctx, lease.JobName, lease.OwnerID)
	if err != nil {
		m.logger.ErrorContext(ctx, "lease release failed, lease will expire at TTL",
			"job", lease.JobName,
			"owner_id", lease.OwnerID,
			"error", err,
		)
		return
	}
	if !deleted {
		// Someone else re-acquired after our TTL expired mid-run. Nothing to
		// do, but worth surfacing: it means the TTL was too short for this
		// run's duration.
		m.logger.WarnContext(ctx, "lease no longer owned at release time",
			"job", lease.JobName,
			"owner_id", lease.OwnerID,
		)
	}
}

// Extend pushes the lease expiry forward for long-running jobs. Non-fatal on
// failure: the job keeps running and the original TTL applies.
func (m *LeaseManager) Extend(ctx context.Context, lease *Lease, additionalTTL time.Duration) {
	if lease == nil || lease.unlocked {
		return
	}

	extended, err := m.store.Extend(ctx, lease.JobName, lease.OwnerID, m.clock.Now(), additionalTTL)
	if err != nil {
		m.logger.ErrorContext(ctx, "lease extend failed",
			"job", lease.JobName,
			"owner_id", lease.OwnerID,
			"error", err,
		)
		return
	}
	if !extended {
		m.logger.WarnContext(ctx, "lease not owned at extend time",
			"job", lease.JobName,
			"owner_id", lease.OwnerID,
		)
	}
}
