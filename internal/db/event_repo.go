package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"nudge/internal/types"
)

// EventRepository provides read-only access to the events and event_attendees
// tables. The scheduler never mutates events; it only scans for upcoming
// start times and resolves recipient sets.
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates a new EventRepository backed by the given
// database connection (pool or transaction).
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

// ListStartingBetween returns events whose starts_at falls in [from, to).
// The reminder scheduler calls this once per configured offset with a window
// sized to the trigger cadence.
func (r *EventRepository) ListStartingBetween(ctx context.Context, from, to time.Time) ([]types.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, host_id, title, starts_at, ends_at
		 FROM events
		 WHERE starts_at >= $1 AND starts_at < $2
		 ORDER BY starts_at`,
		from,
		to,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query events in window", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var e types.Event
		if err := rows.Scan(&e.ID, &e.HostID, &e.Title, &e.StartsAt, &e.EndsAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan event", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating events", err)
	}

	return events, nil
}

// ListRecipients returns the reminder recipient set for an event: the host
// plus every attendee with an accepted join status. The UNION de-duplicates
// a host who also appears as an attendee.
//
// SQL:
//
//	SELECT host_id FROM events WHERE id = $1
//	UNION
//	SELECT user_id FROM event_attendees WHERE event_id = $1 AND status = 'accepted'
func (r *EventRepository) ListRecipients(ctx context.Context, eventID string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT host_id FROM events WHERE id = $1
		 UNION
		 SELECT user_id FROM event_attendees WHERE event_id = $1 AND status = $2`,
		eventID,
		types.AttendeeAccepted,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query event recipients", err)
	}
	defer rows.Close()

	var recipients []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan event recipient", err)
		}
		recipients = append(recipients, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating event recipients", err)
	}

	return recipients, nil
}

// UpcomingCounts reports how many events a user hosts and attends (accepted)
// with starts_at in [from, to). Feeds the digest summary body.
func (r *EventRepository) UpcomingCounts(ctx context.Context, userID string, from, to time.Time) (hosted, attending int, err error) {
	err = r.db.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM events
		    WHERE host_id = $1 AND starts_at >= $2 AND starts_at < $3),
		   (SELECT COUNT(*) FROM events e
		    JOIN event_attendees a ON a.event_id = e.id
		    WHERE a.user_id = $1 AND a.status = $4
		    AND e.starts_at >= $2 AND e.starts_at < $3)`,
		userID,
		from,
		to,
		types.AttendeeAccepted,
	).Scan(&hosted, &attending)
	if err != nil {
		return 0, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count upcoming events", err)
	}
	return hosted, attending, nil
}

// NextEventFor returns the user's next hosted-or-attending event starting at
// or after the given time, or nil if there is none.
func (r *EventRepository) NextEventFor(ctx context.Context, userID string, after time.Time) (*types.Event, error) {
	var e types.Event
	err := r.db.QueryRow(ctx,
		`SELECT e.id, e.host_id, e.title, e.starts_at, e.ends_at
		 FROM events e
		 LEFT JOIN event_attendees a ON a.event_id = e.id AND a.user_id = $1 AND a.status = $3
		 WHERE (e.host_id = $1 OR a.user_id IS NOT NULL) AND e.starts_at >= $2
		 ORDER BY e.starts_at
		 LIMIT 1`,
		userID,
		after,
		types.AttendeeAccepted,
	).Scan(&e.ID, &e.HostID, &e.Title, &e.StartsAt, &e.EndsAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query next event", err)
	}
	return &e, nil
}
