package db

import (
	"context"
	"time"

	"nudge/internal/types"
)

// TokenRepository provides data access for the push_tokens table. Tokens are
// deactivated in place when the push vendor reports the device gone and only
// hard-deleted by the retention janitor after a long inactivity window.
type TokenRepository struct {
	db DBTX
}

// NewTokenRepository creates a new TokenRepository backed by the given
// database connection (pool or transaction).
func NewTokenRepository(db DBTX) *TokenRepository {
	return &TokenRepository{db: db}
}

// ListActiveByUser returns the user's active push tokens.
func (r *TokenRepository) ListActiveByUser(ctx context.Context, userID string) ([]types.PushToken, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, token, is_active, last_seen_at, created_at
		 FROM push_tokens
		 WHERE user_id = $1 AND is_active = TRUE`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query push tokens", err)
	}
	defer rows.Close()

	var tokens []types.PushToken
	for rows.Next() {
		var t types.PushToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.IsActive, &t.LastSeenAt, &t.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan push token", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating push tokens", err)
	}

	return tokens, nil
}

// DeactivateByToken marks a single token inactive. Used when the vendor
// classifies the device as no longer registered. Scoped by token value, so
// other tokens belonging to the same user are untouched.
func (r *TokenRepository) DeactivateByToken(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE push_tokens SET is_active = FALSE WHERE token = $1`,
		token,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate push token", err)
	}
	return nil
}

// DeactivateUnseenBefore marks active tokens unseen since the cutoff as
// inactive. Returns the count of rows updated. Idempotent: a second sweep
// with the same cutoff matches nothing.
func (r *TokenRepository) DeactivateUnseenBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE push_tokens SET is_active = FALSE
		 WHERE is_active = TRUE AND last_seen_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate stale push tokens", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteInactiveBefore hard-deletes inactive tokens unseen since the cutoff.
// Returns the count of rows deleted.
func (r *TokenRepository) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM push_tokens
		 WHERE is_active = FALSE AND last_seen_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete inactive push tokens", err)
	}
	return int(tag.RowsAffected()), nil
}
