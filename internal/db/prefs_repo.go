package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"nudge/internal/types"
)

// PrefsRepository provides data access for the notification_prefs table.
// Rows are created lazily: a user with no stored row gets the default
// preference set, persisted on first access so later mutations have a row
// to target.
type PrefsRepository struct {
	db DBTX
}

// NewPrefsRepository creates a new PrefsRepository backed by the given
// database connection (pool or transaction).
func NewPrefsRepository(db DBTX) *PrefsRepository {
	return &PrefsRepository{db: db}
}

const prefsColumns = `user_id, push_enabled, reminders_enabled, digest_enabled,
	quiet_hours_enabled, quiet_start, quiet_end, timezone,
	reminder_offsets, digest_time, digest_days, updated_at`

// GetOrCreate returns the user's preferences, inserting the default row if
// none exists. The insert uses ON CONFLICT DO NOTHING so two concurrent
// first reads cannot fail; whichever insert loses simply reads the winner's
// (identical default) row.
func (r *PrefsRepository) GetOrCreate(ctx context.Context, userID string) (*types.NotificationPrefs, error) {
	prefs, err := r.get(ctx, userID)
	if err == nil {
		return prefs, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load notification prefs", err)
	}

	defaults := types.DefaultPrefs(userID)
	defaults.UpdatedAt = time.Now().UTC()

	_, err = r.db.Exec(ctx,
		`INSERT INTO notification_prefs (`+prefsColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (user_id) DO NOTHING`,
		defaults.UserID,
		defaults.PushEnabled,
		defaults.RemindersEnabled,
		defaults.DigestEnabled,
		defaults.QuietHoursEnabled,
		defaults.QuietStart,
		defaults.QuietEnd,
		defaults.Timezone,
		defaults.ReminderOffsets,
		defaults.DigestTime,
		defaults.DigestDays,
		defaults.UpdatedAt,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create default notification prefs", err)
	}

	return defaults, nil
}

func (r *PrefsRepository) get(ctx context.Context, userID string) (*types.NotificationPrefs, error) {
	var p types.NotificationPrefs
	err := r.db.QueryRow(ctx,
		`SELECT `+prefsColumns+` FROM notification_prefs WHERE user_id = $1`,
		userID,
	).Scan(
		&p.UserID,
		&p.PushEnabled,
		&p.RemindersEnabled,
		&p.DigestEnabled,
		&p.QuietHoursEnabled,
		&p.QuietStart,
		&p.QuietEnd,
		&p.Timezone,
		&p.ReminderOffsets,
		&p.DigestTime,
		&p.DigestDays,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListDigestEnabled returns the preferences of every user with the digest
// flag on. The digest scheduler filters day-of-week and time-of-day matches
// at the application layer because both depend on the user's timezone.
func (r *PrefsRepository) ListDigestEnabled(ctx context.Context) ([]*types.NotificationPrefs, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+prefsColumns+` FROM notification_prefs WHERE digest_enabled = TRUE`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query digest-enabled prefs", err)
	}
	defer rows.Close()

	var result []*types.NotificationPrefs
	for rows.Next() {
		var p types.NotificationPrefs
		if err := rows.Scan(
			&p.UserID,
			&p.PushEnabled,
			&p.RemindersEnabled,
			&p.DigestEnabled,
			&p.QuietHoursEnabled,
			&p.QuietStart,
			&p.QuietEnd,
			&p.Timezone,
			&p.ReminderOffsets,
			&p.DigestTime,
			&p.DigestDays,
			&p.UpdatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification prefs", err)
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating notification prefs", err)
	}

	return result, nil
}
