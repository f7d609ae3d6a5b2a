package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"nudge/internal/types"
)

// JobLeaseRepository provides distributed locking via the job_leases table.
// The locking mechanism uses INSERT ... ON CONFLICT DO UPDATE to atomically
// acquire a lease, ensuring only one runner processes a given job name while
// an unexpired lease exists. The conditional write's affected-row count is
// the definitive acquisition signal; a plain "no error" is not sufficient.
type JobLeaseRepository struct {
	db DBTX
}

// NewJobLeaseRepository creates a new JobLeaseRepository backed by the given
// database connection (pool or transaction).
func NewJobLeaseRepository(db DBTX) *JobLeaseRepository {
	return &JobLeaseRepository{db: db}
}

// ErrLeaseTableMissing is returned by Acquire when the job_leases table does
// not exist. Callers decide whether to fail open or closed; the repository
// only classifies.
var ErrLeaseTableMissing = errors.New("job_leases table does not exist")

// Acquire attempts to insert a lease row for jobName owned by ownerID.
// Returns true if acquired, false if an unexpired lease held by another
// owner blocks it.
//
// SQL pattern:
//
//	INSERT INTO job_leases (job_name, owner_id, acquired_at, locked_until)
//	VALUES ($1, $2, $3, $4)
//	ON CONFLICT (job_name) DO UPDATE
//	  SET owner_id = EXCLUDED.owner_id,
//	      acquired_at = EXCLUDED.acquired_at,
//	      locked_until = EXCLUDED.locked_until
//	  WHERE job_leases.locked_until < $3
//
// locked_until ($4) is computed as a concrete timestamp in Go rather than
// with interval arithmetic in SQL; Go duration strings (e.g. "15m0s") are
// not valid PostgreSQL intervals.
//
// If the existing row has expired, the UPDATE applies and the caller takes
// over the lease. If the row is still live, the ON CONFLICT WHERE clause
// blocks the update and zero rows are affected.
//
// After a positive affected-row count, Acquire re-reads the stored owner_id
// and only reports success when it matches what was just written. This
// guards against the race where the conditional write resolves in an
// unexpected interleaving between two near-simultaneous claimants.
func (r *JobLeaseRepository) Acquire(ctx context.Context, jobName, ownerID string, now time.Time, ttl time.Duration) (bool, error) {
	lockedUntil := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_leases (job_name, owner_id, acquired_at, locked_until)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (job_name) DO UPDATE
		   SET owner_id = EXCLUDED.owner_id,
		       acquired_at = EXCLUDED.acquired_at,
		       locked_until = EXCLUDED.locked_until
		   WHERE job_leases.locked_until < $3`,
		jobName,
		ownerID,
		now,
		lockedUntil,
	)
	if err != nil {
		if isUndefinedTable(err) {
			return false, ErrLeaseTableMissing
		}
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lease", err)
	}

	// RowsAffected is 1 if the INSERT succeeded (new row) or the ON CONFLICT
	// UPDATE matched (expired lease reclaimed). It is 0 if the lease exists
	// and has not expired (another owner holds it).
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	var storedOwner string
	err = r.db.QueryRow(ctx,
		`SELECT owner_id FROM job_leases WHERE job_name = $1`,
		jobName,
	).Scan(&storedOwner)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to confirm job lease owner", err)
	}

	return storedOwner == ownerID, nil
}

// Release deletes the lease row only if both job_name and owner_id match.
// The owner scoping prevents a slow caller from releasing a lease that has
// since been re-acquired by someone else after TTL expiry. Returns whether
// a row was actually deleted.
func (r *JobLeaseRepository) Release(ctx context.Context, jobName, ownerID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM job_leases WHERE job_name = $1 AND owner_id = $2`,
		jobName,
		ownerID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to release job lease", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Extend pushes locked_until forward by additionalTTL from now, scoped by
// owner_id so a lease taken over by another runner cannot be extended by the
// previous holder. Returns whether the extension applied.
func (r *JobLeaseRepository) Extend(ctx context.Context, jobName, ownerID string, now time.Time, additionalTTL time.Duration) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE job_leases SET locked_until = $3
		 WHERE job_name = $1 AND owner_id = $2`,
		jobName,
		ownerID,
		now.Add(additionalTTL),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to extend job lease", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get returns the current lease row for a job name, or nil if none exists.
// Used by operational tooling; the schedulers themselves only go through
// Acquire/Release.
func (r *JobLeaseRepository) Get(ctx context.Context, jobName string) (*types.JobLease, error) {
	var lease types.JobLease
	err := r.db.QueryRow(ctx,
		`SELECT job_name, owner_id, locked_until, acquired_at
		 FROM job_leases WHERE job_name = $1`,
		jobName,
	).Scan(&lease.JobName, &lease.OwnerID, &lease.LockedUntil, &lease.AcquiredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get job lease", err)
	}
	return &lease, nil
}
