package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"nudge/internal/push"
	"nudge/internal/types"
)

// ReminderEventStore defines the event reads the ReminderScheduler needs.
// Using an interface allows clean testing without database dependencies.
type ReminderEventStore interface {
	// ListStartingBetween returns events whose starts_at falls in [from, to).
	ListStartingBetween(ctx context.Context, from, to time.Time) ([]types.Event, error)

	// ListRecipients returns the host plus accepted attendees, de-duplicated.
	ListRecipients(ctx context.Context, eventID string) ([]string, error)
}

// PrefsStore loads (and lazily creates) a user's notification preferences.
type PrefsStore interface {
	GetOrCreate(ctx context.Context, userID string) (*types.NotificationPrefs, error)
}

// DeliveryStore is the idempotency ledger plus the notification writer. The
// combined CreateWithDedup is the atomic commit point of an occasion.
type DeliveryStore interface {
	// DedupExists is the cheap pre-filter for already-handled occasions.
	DedupExists(ctx context.Context, userID, dedupeKey string) (bool, error)

	// CreateWithDedup atomically writes the notification row and the dedup
	// entry. created=false means the occasion was already handled, whether
	// by an earlier run or a concurrent one.
	CreateWithDedup(ctx context.Context, n *types.Notification, dedupeKey string) (bool, error)
}

// TokenStore lists a user's active device tokens.
type TokenStore interface {
	ListActiveByUser(ctx context.Context, userID string) ([]types.PushToken, error)
}

// PushSender delivers push messages best-effort. Implemented by
// push.Gateway.
type PushSender interface {
	Send(ctx context.Context, messages []push.Message) push.Result
}

// ReminderScheduler finds events entering configured offset windows and
// records at-most-one reminder per (recipient, event, offset). The dedup
// entry is the correctness guarantee; the window sizing only decides which
// run does the work.
type ReminderScheduler struct {
	leases   *LeaseManager
	events   ReminderEventStore
	prefs    PrefsStore
	delivery DeliveryStore
	tokens   TokenStore
	pusher   PushSender
	resolver *TimeResolver
	clock    types.Clock
	metrics  *Metrics
	logger   *slog.Logger
	cfg      ReminderConfig
}

// NewReminderScheduler creates a ReminderScheduler. metrics may be nil; a
// nil logger falls back to slog.Default().
func NewReminderScheduler(
	leases *LeaseManager,
	events ReminderEventStore,
	prefs PrefsStore,
	delivery DeliveryStore,
	tokens TokenStore,
	pusher PushSender,
	resolver *TimeResolver,
	clock types.Clock,
	metrics *Metrics,
	logger *slog.Logger,
	cfg ReminderConfig,
) *ReminderScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderScheduler{
		leases:   leases,
		events:   events,
		prefs:    prefs,
		delivery: delivery,
		tokens:   tokens,
		pusher:   pusher,
		resolver: resolver,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// ReminderDedupeKey builds the occasion key for one (event, recipient,
// offset) tuple. Deterministic: every run of every runner derives the same
// key for the same occasion.
func ReminderDedupeKey(eventID, userID string, offsetMinutes int) string {
	return fmt.Sprintf("reminder:%s:%s:%d", eventID, userID, offsetMinutes)
}

// Run executes one reminder pass.
//
// Flow: acquire the job lease (a blocked lease is a skipped result, not an
// error); for each configured offset, scan the window
// [now+offset-cadence/2, now+offset+cadence/2) for starting events; resolve
// each event's recipient set; per recipient apply dedup, preference, and
// quiet-hours filtering; record the notification + dedup entry atomically;
// push best-effort. Failures local to one recipient are absorbed and
// counted. Only a failure that compromises the whole pass (the event scan
// itself) aborts and surfaces as a job error.
func (s *ReminderScheduler) Run(ctx context.Context) (*ReminderResult, error) {
	started := s.clock.Now()

	lease, err := s.leases.Acquire(ctx, JobReminders, s.cfg.LeaseTTL)
	if err != nil {
		// Lease infrastructure down (fail-closed). The pass does no work,
		// but the result must not look like ordinary contention.
		s.metrics.ObserveRun(JobReminders, OutcomeLeaseSkipped, s.clock.Now().Sub(started))
		return &ReminderResult{LeaseSkipped: true, LeaseReason: LeaseReasonInfrastructure}, nil
	}
	if lease == nil {
		s.metrics.ObserveRun(JobReminders, OutcomeLeaseSkipped, s.clock.Now().Sub(started))
		return &ReminderResult{LeaseSkipped: true, LeaseReason: LeaseReasonHeld}, nil
	}
	defer s.leases.Release(ctx, lease)

	result := &ReminderResult{}
	now := started
	halfWindow := s.cfg.Cadence / 2

	for _, offset := range s.cfg.Offsets {
		center := now.Add(time.Duration(offset) * time.Minute)
		from := center.Add(-halfWindow)
		to := center.Add(halfWindow)

		events, err := s.events.ListStartingBetween(ctx, from, to)
		if err != nil {
			// Cannot enumerate candidates: the whole pass is compromised.
			s.metrics.ObserveRun(JobReminders, OutcomeFailed, s.clock.Now().Sub(started))
			return nil, fmt.Errorf("listing events for offset %d: %w", offset, err)
		}

		for _, event := range events {
			recipients, err := s.events.ListRecipients(ctx, event.ID)
			if err != nil {
				s.logger.ErrorContext(ctx, "failed to resolve reminder recipients",
					"event_id", event.ID,
					"error", err,
				)
				result.RecipientErrors++
				continue
			}

			for _, userID := range recipients {
				result.Processed++
				s.processRecipient(ctx, event, userID, offset, now, result)
			}
		}
	}

	s.logger.InfoContext(ctx, "reminder pass complete",
		"processed", result.Processed,
		"sent_in_app", result.SentInApp,
		"sent_push", result.SentPush,
		"skipped_dedupe", result.Skipped.Dedupe,
		"skipped_prefs", result.Skipped.Prefs,
		"skipped_quiet_hours", result.Skipped.QuietHours,
		"skipped_no_token", result.Skipped.NoToken,
	)
	s.metrics.ObserveRun(JobReminders, OutcomeCompleted, s.clock.Now().Sub(started))
	return result, nil
}

// processRecipient handles one (event, recipient, offset) occasion. All
// failures here are absorbed: one recipient must never abort the rest of
// the pass.
func (s *ReminderScheduler) processRecipient(ctx context.Context, event types.Event, userID string, offset int, now time.Time, result *ReminderResult) {
	key := ReminderDedupeKey(event.ID, userID, offset)

	exists, err := s.delivery.DedupExists(ctx, userID, key)
	if err != nil {
		s.logger.ErrorContext(ctx, "dedup lookup failed",
			"user_id", userID,
			"dedupe_key", key,
			"error", err,
		)
		result.RecipientErrors++
		return
	}
	if exists {
		result.Skipped.Dedupe++
		s.metrics.skip(JobReminders, "dedupe")
		return
	}

	prefs, err := s.prefs.GetOrCreate(ctx, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load notification prefs",
			"user_id", userID,
			"error", err,
		)
		result.RecipientErrors++
		return
	}

	if !prefs.RemindersEnabled || !prefs.HasReminderOffset(offset) {
		result.Skipped.Prefs++
		s.metrics.skip(JobReminders, "prefs")
		return
	}

	notification := &types.Notification{
		ID:     uuid.NewString(),
		UserID: userID,
		Kind:   types.NotificationKindReminder,
		Title:  reminderTitle(offset),
		Body:   fmt.Sprintf("%s starts %s.", event.Title, offsetPhrase(offset)),
		Data: map[string]any{
			"event_id":       event.ID,
			"offset_minutes": offset,
			"starts_at":      event.StartsAt.UTC().Format(time.RFC3339),
		},
		CreatedAt: now,
	}

	created, err := s.delivery.CreateWithDedup(ctx, notification, key)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record reminder notification",
			"user_id", userID,
			"dedupe_key", key,
			"error", err,
		)
		result.RecipientErrors++
		return
	}
	if !created {
		// A concurrent runner won the insert race. Same outcome as the
		// pre-check: already handled.
		result.Skipped.Dedupe++
		s.metrics.skip(JobReminders, "dedupe")
		return
	}

	result.SentInApp++
	s.metrics.sent(types.NotificationKindReminder, "in_app", 1)

	// The occasion is committed. Everything below is best-effort push and
	// must not undo or fail what was recorded.
	s.maybePush(ctx, prefs, notification, now, JobReminders, result)
}

// maybePush evaluates push eligibility and delivers to the recipient's
// active tokens. Shared by the reminder and digest passes: the eligibility
// rules (push toggle, quiet hours, token presence) are identical.
func (s *ReminderScheduler) maybePush(ctx context.Context, prefs *types.NotificationPrefs, n *types.Notification, now time.Time, job string, result *ReminderResult) {
	sent, skipReason := deliverPush(ctx, pushDelivery{
		prefs:    prefs,
		n:        n,
		now:      now,
		resolver: s.resolver,
		tokens:   s.tokens,
		pusher:   s.pusher,
		metrics:  s.metrics,
		logger:   s.logger,
	})
	switch skipReason {
	case "quiet_hours":
		result.Skipped.QuietHours++
		s.metrics.skip(job, "quiet_hours")
	case "no_token":
		result.Skipped.NoToken++
		s.metrics.skip(job, "no_token")
	}
	result.SentPush += sent
}

// pushDelivery bundles what deliverPush needs; both schedulers feed it.
type pushDelivery struct {
	prefs    *types.NotificationPrefs
	n        *types.Notification
	now      time.Time
	resolver *TimeResolver
	tokens   TokenStore
	pusher   PushSender
	metrics  *Metrics
	logger   *slog.Logger
}

// deliverPush applies the push eligibility rules and sends. Returns the
// number of pushes the vendor accepted and a skip reason ("", "prefs",
// "quiet_hours", or "no_token"). Push failures are absorbed here — the
// in-app notification is already committed.
func deliverPush(ctx context.Context, d pushDelivery) (sent int, skipReason string) {
	if !d.prefs.PushEnabled {
		return 0, "prefs"
	}
	if d.resolver.QuietHours(d.prefs, d.now) {
		return 0, "quiet_hours"
	}

	tokens, err := d.tokens.ListActiveByUser(ctx, d.prefs.UserID)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to list push tokens",
			"user_id", d.prefs.UserID,
			"error", err,
		)
		return 0, ""
	}
	if len(tokens) == 0 {
		return 0, "no_token"
	}

	messages := make([]push.Message, 0, len(tokens))
	for _, t := range tokens {
		messages = append(messages, push.Message{
			To:        t.Token,
			Title:     d.n.Title,
			Body:      d.n.Body,
			Data:      d.n.Data,
			ChannelID: d.n.Kind,
		})
	}

	res := d.pusher.Send(ctx, messages)
	d.metrics.sent(d.n.Kind, "push", res.Sent)
	d.metrics.deactivated(res.Deactivated)
	return res.Sent, ""
}

// reminderTitle names the notification by how far out the event is.
func reminderTitle(offsetMinutes int) string {
	if offsetMinutes >= 1440 {
		return "Event tomorrow"
	}
	return "Upcoming event"
}

// offsetPhrase renders the offset for the notification body.
func offsetPhrase(offsetMinutes int) string {
	switch {
	case offsetMinutes >= 1440 && offsetMinutes%1440 == 0:
		days := offsetMinutes / 1440
		if days == 1 {
			return "in 1 day"
		}
		return fmt.Sprintf("in %d days", days)
	case offsetMinutes >= 60 && offsetMinutes%60 == 0:
		hours := offsetMinutes / 60
		if hours == 1 {
			return "in 1 hour"
		}
		return fmt.Sprintf("in %d hours", hours)
	default:
		return fmt.Sprintf("in %d minutes", offsetMinutes)
	}
}
