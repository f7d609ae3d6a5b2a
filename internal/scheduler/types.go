// Package scheduler implements the Nudge notification jobs: the reminder
// pass, the daily-digest pass, and the retention janitor. Jobs are invoked
// externally (HTTP or CLI); the package owns no timer or cron loop. All
// cross-invocation coordination happens through the shared Postgres store,
// via the lease manager and the delivery dedup ledger.
package scheduler

import "time"

// Job names. Each name is leased independently; different jobs may run
// concurrently with each other.
const (
	JobReminders = "reminders"
	JobDigests   = "digests"
	JobRetention = "retention"
)

// Lease skip reasons. Contention (another runner holds the lease) and an
// infrastructure failure under the fail-closed policy both skip the pass,
// but callers must be able to tell an outage from routine contention.
const (
	LeaseReasonHeld           = "lease_held"
	LeaseReasonInfrastructure = "lease_infrastructure"
)

// SkipCounts breaks down per-recipient skips within a scheduler pass. Every
// field is an expected outcome, never an error.
type SkipCounts struct {
	Dedupe     int `json:"dedupe"`
	Prefs      int `json:"prefs,omitempty"`
	QuietHours int `json:"quiet_hours"`
	NoToken    int `json:"no_token"`
	Window     int `json:"window,omitempty"`
	Day        int `json:"day,omitempty"`
}

// ReminderResult aggregates one reminder pass.
type ReminderResult struct {
	// LeaseSkipped is true when the pass did no work because the lease was
	// not acquired; LeaseReason says whether that was contention (expected
	// and frequent under a short trigger cadence) or infrastructure failure.
	LeaseSkipped bool       `json:"lease_skipped,omitempty"`
	LeaseReason  string     `json:"lease_reason,omitempty"`
	Processed    int        `json:"processed"`
	SentInApp    int        `json:"sent_in_app"`
	SentPush     int        `json:"sent_push"`
	Skipped      SkipCounts `json:"skipped"`
	// RecipientErrors counts recipients whose processing failed and was
	// absorbed. A non-zero value does not fail the pass.
	RecipientErrors int `json:"recipient_errors,omitempty"`
}

// DigestResult aggregates one digest pass.
type DigestResult struct {
	LeaseSkipped    bool       `json:"lease_skipped,omitempty"`
	LeaseReason     string     `json:"lease_reason,omitempty"`
	EligibleUsers   int        `json:"eligible_users"`
	SentInApp       int        `json:"sent_in_app"`
	SentPush        int        `json:"sent_push"`
	Skipped         SkipCounts `json:"skipped"`
	RecipientErrors int        `json:"recipient_errors,omitempty"`
}

// RetentionResult aggregates one janitor pass. The three sweeps are
// independent; a failed sweep leaves its counters at the value reached
// before the failure.
type RetentionResult struct {
	TokensDeactivated int `json:"tokens_deactivated"`
	TokensDeleted     int `json:"tokens_deleted"`
	DedupDeleted      int `json:"dedup_deleted"`
	SessionsDeleted   int `json:"sessions_deleted"`
}

// ReminderConfig carries the reminder pass tuning. Cadence is the assumed
// external trigger interval; each offset window is sized to it with
// symmetric half-cadence margin so every event start is captured by exactly
// one run's window. A cadence that does not match the real trigger interval
// silently causes missed or doubled windows, which is why it is explicit
// configuration rather than a baked-in constant.
type ReminderConfig struct {
	Offsets  []int         // minutes before event start
	Cadence  time.Duration // external trigger interval
	LeaseTTL time.Duration
}

// DigestConfig carries the digest pass tuning.
type DigestConfig struct {
	Tolerance time.Duration // max circular distance from the user's digest time
	LookAhead time.Duration // summary window, typically 7 days
	LeaseTTL  time.Duration
}

// RetentionConfig carries the janitor thresholds. TokenDeleteAfter must
// exceed TokenDeactivateAfter so a token is always deactivated before it
// becomes eligible for hard deletion.
type RetentionConfig struct {
	TokenDeactivateAfter time.Duration
	TokenDeleteAfter     time.Duration
	DedupRetention       time.Duration
	SessionGrace         time.Duration
}
