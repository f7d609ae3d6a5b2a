package db

import (
	"context"
	"time"

	"nudge/internal/types"
)

// SessionRepository gives the retention janitor its only touch point on the
// sessions table. Session creation and resolution belong to the auth layer
// outside this service.
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new SessionRepository backed by the given
// database connection (pool or transaction).
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// DeleteExpiredBefore removes sessions whose expires_at is older than the
// cutoff (expiry plus grace period, computed by the caller). Returns the
// count of deleted rows.
func (r *SessionRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM sessions WHERE expires_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete expired sessions", err)
	}
	return int(tag.RowsAffected()), nil
}
