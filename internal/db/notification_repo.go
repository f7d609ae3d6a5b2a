package db

import (
	"context"
	"encoding/json"
	"time"

	"nudge/internal/types"
)

// NotificationRepository provides data access for the notifications and
// notification_dedup tables. The dedup table is the idempotency ledger: the
// composite unique constraint on (user_id, dedupe_key) — not any
// application-level check-then-act — is what guarantees at-most-one delivery
// recording per occasion under concurrent runners.
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a new NotificationRepository backed by
// the given database connection (pool or transaction).
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// DedupExists reports whether a dedup entry already exists for the given
// (user, key) pair. This is the cheap pre-filter; the authoritative guard is
// the unique constraint exercised by CreateWithDedup.
func (r *NotificationRepository) DedupExists(ctx context.Context, userID, dedupeKey string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM notification_dedup
		   WHERE user_id = $1 AND dedupe_key = $2
		 )`,
		userID,
		dedupeKey,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check dedup entry", err)
	}
	return exists, nil
}

// CreateWithDedup atomically records a notification occasion: the dedup entry
// and the notification row are written in a single data-modifying CTE, so
// either both land or neither does. Returns created=false without error when
// the dedup entry already exists — including when a concurrent runner won the
// insert race — because "already handled" is an expected outcome, not a
// failure.
//
// SQL pattern:
//
//	WITH claimed AS (
//	  INSERT INTO notification_dedup (user_id, dedupe_key, created_at)
//	  VALUES ($2, $6, COALESCE($7, NOW()))
//	  ON CONFLICT (user_id, dedupe_key) DO NOTHING
//	  RETURNING 1
//	)
//	INSERT INTO notifications (id, user_id, kind, title, body, data, created_at)
//	SELECT $1, $2, $3, $4, $5, $8, COALESCE($7, NOW())
//	WHERE EXISTS (SELECT 1 FROM claimed)
//
// When the ON CONFLICT clause suppresses the dedup insert, the CTE yields no
// rows, the notification insert selects nothing, and RowsAffected is 0. A
// zero CreatedAt is written as NULL so COALESCE stamps both rows with the
// database's clock.
func (r *NotificationRepository) CreateWithDedup(ctx context.Context, n *types.Notification, dedupeKey string) (bool, error) {
	var data []byte
	if n.Data != nil {
		var err error
		data, err = json.Marshal(n.Data)
		if err != nil {
			return false, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal notification data", err)
		}
	}

	tag, err := r.db.Exec(ctx,
		`WITH claimed AS (
		   INSERT INTO notification_dedup (user_id, dedupe_key, created_at)
		   VALUES ($2, $6, COALESCE($7, NOW()))
		   ON CONFLICT (user_id, dedupe_key) DO NOTHING
		   RETURNING 1
		 )
		 INSERT INTO notifications (id, user_id, kind, title, body, data, created_at)
		 SELECT $1, $2, $3, $4, $5, $8, COALESCE($7, NOW())
		 WHERE EXISTS (SELECT 1 FROM claimed)`,
		n.ID,
		n.UserID,
		n.Kind,
		n.Title,
		n.Body,
		dedupeKey,
		nilIfZeroTime(n.CreatedAt),
		data,
	)
	if err != nil {
		// A unique violation can still surface here if two transactions race
		// on snapshots that both predate the winning insert. Same meaning:
		// the occasion is already handled.
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record notification", err)
	}

	return tag.RowsAffected() > 0, nil
}

// DeleteDedupBefore removes dedup ledger entries created before the cutoff.
// Retention only; dedup entries are otherwise immutable. Returns the count
// of deleted rows.
func (r *NotificationRepository) DeleteDedupBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notification_dedup WHERE created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete old dedup entries", err)
	}
	return int(tag.RowsAffected()), nil
}
