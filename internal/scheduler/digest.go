package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"nudge/internal/types"
)

// DigestPrefsStore defines the preference reads the DigestScheduler needs.
type DigestPrefsStore interface {
	PrefsStore

	// ListDigestEnabled returns every user with the digest flag on.
	ListDigestEnabled(ctx context.Context) ([]*types.NotificationPrefs, error)
}

// DigestEventStore defines the event reads feeding the digest summary.
type DigestEventStore interface {
	// UpcomingCounts reports hosted and attending event counts in [from, to).
	UpcomingCounts(ctx context.Context, userID string, from, to time.Time) (hosted, attending int, err error)

	// NextEventFor returns the user's next event at or after the given time,
	// or nil when there is none.
	NextEventFor(ctx context.Context, userID string, after time.Time) (*types.Event, error)
}

// DigestScheduler sends each opted-in user one daily digest at their
// configured local time, at most once per local calendar day. The dedupe
// key embeds the user's local date, so a user in Auckland and a user in
// Honolulu each get exactly one digest on *their* today.
type DigestScheduler struct {
	leases   *LeaseManager
	prefs    DigestPrefsStore
	events   DigestEventStore
	delivery DeliveryStore
	tokens   TokenStore
	pusher   PushSender
	resolver *TimeResolver
	clock    types.Clock
	metrics  *Metrics
	logger   *slog.Logger
	cfg      DigestConfig
}

// NewDigestScheduler creates a DigestScheduler. metrics may be nil; a nil
// logger falls back to slog.Default().
func NewDigestScheduler(
	leases *LeaseManager,
	prefs DigestPrefsStore,
	events DigestEventStore,
	delivery DeliveryStore,
	tokens TokenStore,
	pusher PushSender,
	resolver *TimeResolver,
	clock types.Clock,
	metrics *Metrics,
	logger *slog.Logger,
	cfg DigestConfig,
) *DigestScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DigestScheduler{
		leases:   leases,
		prefs:    prefs,
		events:   events,
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

// DigestDedupeKey builds the occasion key for one user's digest on one
// local calendar date.
func DigestDedupeKey(userID, localDateISO string) string {
	return fmt.Sprintf("digest:%s:%s", userID, localDateISO)
}

// digestBodyBudget caps the digest body length. Push payloads get truncated
// by vendors anyway; better to control the cut ourselves.
const digestBodyBudget = 160

// Run executes one digest pass: acquire the lease, walk every digest-enabled
// user, and for each user whose local day and local time-of-day match their
// configuration, record and deliver the digest. Day and window mismatches
// are counted skips, not errors.
func (s *DigestScheduler) Run(ctx context.Context) (*DigestResult, error) {
	started := s.clock.Now()

	lease, err := s.leases.Acquire(ctx, JobDigests, s.cfg.LeaseTTL)
	if err != nil {
		s.metrics.ObserveRun(JobDigests, OutcomeLeaseSkipped, s.clock.Now().Sub(started))
		return &DigestResult{LeaseSkipped: true, LeaseReason: LeaseReasonInfrastructure}, nil
	}
	if lease == nil {
		s.metrics.ObserveRun(JobDigests, OutcomeLeaseSkipped, s.clock.Now().Sub(started))
		return &DigestResult{LeaseSkipped: true, LeaseReason: LeaseReasonHeld}, nil
	}
	defer s.leases.Release(ctx, lease)

	users, err := s.prefs.ListDigestEnabled(ctx)
	if err != nil {
		s.metrics.ObserveRun(JobDigests, OutcomeFailed, s.clock.Now().Sub(started))
		return nil, fmt.Errorf("listing digest-enabled users: %w", err)
	}

	result := &DigestResult{EligibleUsers: len(users)}
	now := started

	for _, prefs := range users {
		s.processUser(ctx, prefs, now, result)
	}

	s.logger.InfoContext(ctx, "digest pass complete",
		"eligible_users", result.EligibleUsers,
		"sent_in_app", result.SentInApp,
		"sent_push", result.SentPush,
		"skipped_day", result.Skipped.Day,
		"skipped_window", result.Skipped.Window,
		"skipped_dedupe", result.Skipped.Dedupe,
	)
	s.metrics.ObserveRun(JobDigests, OutcomeCompleted, s.clock.Now().Sub(started))
	return result, nil
}

// processUser evaluates one user's digest timing and, on a match, records
// and delivers the digest. All per-user failures are absorbed.
func (s *DigestScheduler) processUser(ctx context.Context, prefs *types.NotificationPrefs, now time.Time, result *DigestResult) {
	local := s.resolver.LocalAt(prefs.Timezone, now)

	if !prefs.HasDigestDay(local.DayAbbrev) {
		result.Skipped.Day++
		s.metrics.skip(JobDigests, "day")
		return
	}

	target, err := parseTimeOfDay(prefs.DigestTime)
	if err != nil {
		s.logger.WarnContext(ctx, "invalid digest time, skipping user",
			"user_id", prefs.UserID,
			"digest_time", prefs.DigestTime,
			"error", err,
		)
		result.Skipped.Window++
		s.metrics.skip(JobDigests, "window")
		return
	}
	if minuteDistance(local.MinutesOfDay, target) > int(s.cfg.Tolerance.Minutes()) {
		result.Skipped.Window++
		s.metrics.skip(JobDigests, "window")
		return
	}

	key := DigestDedupeKey(prefs.UserID, local.DateISO)

	exists, err := s.delivery.DedupExists(ctx, prefs.UserID, key)
	if err != nil {
		s.logger.ErrorContext(ctx, "dedup lookup failed",
			"user_id", prefs.UserID,
			"dedupe_key", key,
			"error", err,
		)
		result.RecipientErrors++
		return
	}
	if exists {
		result.Skipped.Dedupe++
		s.metrics.skip(JobDigests, "dedupe")
		return
	}

	body, err := s.buildBody(ctx, prefs.UserID, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build digest body",
			"user_id", prefs.UserID,
			"error", err,
		)
		result.RecipientErrors++
		return
	}

	notification := &types.Notification{
		ID:     uuid.NewString(),
		UserID: prefs.UserID,
		Kind:   types.NotificationKindDigest,
		Title:  "Your daily digest",
		Body:   body,
		Data: map[string]any{
			"local_date": local.DateISO,
		},
		CreatedAt: now,
	}

	created, err := s.delivery.CreateWithDedup(ctx, notification, key)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record digest notification",
			"user_id", prefs.UserID,
			"dedupe_key", key,
			"error", err,
		)
		result.RecipientErrors++
		return
	}
	if !created {
		result.Skipped.Dedupe++
		s.metrics.skip(JobDigests, "dedupe")
		return
	}

	result.SentInApp++
	s.metrics.sent(types.NotificationKindDigest, "in_app", 1)

	sent, skipReason := deliverPush(ctx, pushDelivery{
		prefs:    prefs,
		n:        notification,
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
		s.metrics.skip(JobDigests, "quiet_hours")
	case "no_token":
		result.Skipped.NoToken++
		s.metrics.skip(JobDigests, "no_token")
	}
	result.SentPush += sent
}

// buildBody summarizes the user's upcoming week. Pure function of the query
// results; no state of its own.
func (s *DigestScheduler) buildBody(ctx context.Context, userID string, now time.Time) (string, error) {
	hosted, attending, err := s.events.UpcomingCounts(ctx, userID, now, now.Add(s.cfg.LookAhead))
	if err != nil {
		return "", err
	}

	next, err := s.events.NextEventFor(ctx, userID, now)
	if err != nil {
		return "", err
	}

	body := fmt.Sprintf("Coming up this week: %d hosted, %d attending", hosted, attending)
	if next != nil {
		body += fmt.Sprintf(". Next: %s", next.Title)
	}
	body += "."

	if len(body) > digestBodyBudget {
		// Back the cut off to a rune boundary; a split rune is invalid UTF-8
		// and the TEXT column would reject the whole insert.
		cut := digestBodyBudget - 3
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "..."
	}
	return body, nil
}
