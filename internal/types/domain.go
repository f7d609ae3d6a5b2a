// Package types defines the shared domain model for the Nudge notification
// scheduler: leases, delivery dedup entries, notification preferences, push
// tokens, and the read-only event shapes the schedulers consume.
package types

import "time"

// JobLease is one row of the job_leases table. At most one unexpired lease
// exists per JobName; that uniqueness is the only cross-process mutual
// exclusion the schedulers rely on.
type JobLease struct {
	JobName     string    `json:"job_name"`
	OwnerID     string    `json:"owner_id"`
	LockedUntil time.Time `json:"locked_until"`
	AcquiredAt  time.Time `json:"acquired_at"`
}

// DedupEntry is the idempotency ledger row. Its mere existence means the
// (user, occasion) pair has been handled; it carries no other state and is
// never updated.
type DedupEntry struct {
	UserID    string    `json:"user_id"`
	DedupeKey string    `json:"dedupe_key"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is an in-app notification row. Creating it and its DedupEntry
// in one transaction is the commit point of a delivery occasion.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Kind      string         `json:"kind"` // "reminder" or "digest"
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Notification kinds.
const (
	NotificationKindReminder = "reminder"
	NotificationKindDigest   = "digest"
)

// NotificationPrefs holds a user's notification preferences. Rows are created
// lazily with defaults on first read, so a user who never touched settings
// still has well-defined behavior.
type NotificationPrefs struct {
	UserID            string    `json:"user_id"`
	PushEnabled       bool      `json:"push_enabled"`
	RemindersEnabled  bool      `json:"reminders_enabled"`
	DigestEnabled     bool      `json:"digest_enabled"`
	QuietHoursEnabled bool      `json:"quiet_hours_enabled"`
	QuietStart        string    `json:"quiet_start"` // "HH:MM" local wall clock
	QuietEnd          string    `json:"quiet_end"`   // "HH:MM" local wall clock
	Timezone          string    `json:"timezone"`    // IANA identifier
	ReminderOffsets   []int     `json:"reminder_offsets"` // minutes before event start
	DigestTime        string    `json:"digest_time"`      // "HH:MM" local wall clock
	DigestDays        []string  `json:"digest_days"`      // "Mon".."Sun" abbreviations
	UpdatedAt         time.Time `json:"updated_at"`
}

// DefaultPrefs returns the preferences applied when a user has no stored row.
func DefaultPrefs(userID string) *NotificationPrefs {
	return &NotificationPrefs{
		UserID:            userID,
		PushEnabled:       true,
		RemindersEnabled:  true,
		DigestEnabled:     false,
		QuietHoursEnabled: false,
		QuietStart:        "22:00",
		QuietEnd:          "08:00",
		Timezone:          "UTC",
		ReminderOffsets:   []int{30, 120, 1440},
		DigestTime:        "08:00",
		DigestDays:        []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
	}
}

// HasReminderOffset reports whether the given offset (minutes before start)
// is in the user's configured offset list.
func (p *NotificationPrefs) HasReminderOffset(offset int) bool {
	for _, o := range p.ReminderOffsets {
		if o == offset {
			return true
		}
	}
	return false
}

// HasDigestDay reports whether the given day abbreviation ("Mon".."Sun") is
// in the user's digest day set. Comparison is exact; the resolver produces
// the same abbreviations Go's time package does.
func (p *NotificationPrefs) HasDigestDay(day string) bool {
	for _, d := range p.DigestDays {
		if d == day {
			return true
		}
	}
	return false
}

// PushToken is one registered device. Tokens are deactivated (never deleted)
// when the vendor reports the device gone; hard deletion is the retention
// janitor's job.
type PushToken struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Token      string    `json:"token"`
	IsActive   bool      `json:"is_active"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event is the read-only slice of the events table the schedulers consume.
// Host plus accepted attendees form the reminder recipient set.
type Event struct {
	ID       string     `json:"id"`
	HostID   string     `json:"host_id"`
	Title    string     `json:"title"`
	StartsAt time.Time  `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
}

// AttendeeStatus values for event_attendees.status.
const (
	AttendeeAccepted = "accepted"
	AttendeeDeclined = "declined"
	AttendeePending  = "pending"
)
