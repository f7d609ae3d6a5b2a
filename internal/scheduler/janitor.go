package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"nudge/internal/types"
)

// JanitorTokenStore defines the token sweeps the janitor performs.
type JanitorTokenStore interface {
	// DeactivateUnseenBefore marks active tokens unseen since cutoff inactive.
	DeactivateUnseenBefore(ctx context.Context, cutoff time.Time) (int, error)

	// DeleteInactiveBefore hard-deletes inactive tokens unseen since cutoff.
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// JanitorDedupStore trims the dedup ledger.
type JanitorDedupStore interface {
	DeleteDedupBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// JanitorSessionStore trims expired sessions.
type JanitorSessionStore interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// RetentionJanitor runs the three retention sweeps. They are independent,
// idempotent bulk conditional writes with no ordering dependency, so they
// run concurrently and without a lease: repeated or overlapping execution
// converges to the same end state.
type RetentionJanitor struct {
	tokens   JanitorTokenStore
	dedup    JanitorDedupStore
	sessions JanitorSessionStore
	clock    types.Clock
	metrics  *Metrics
	logger   *slog.Logger
	cfg      RetentionConfig
}

// NewRetentionJanitor creates a RetentionJanitor. metrics may be nil; a nil
// logger falls back to slog.Default().
func NewRetentionJanitor(
	tokens JanitorTokenStore,
	dedup JanitorDedupStore,
	sessions JanitorSessionStore,
	clock types.Clock,
	metrics *Metrics,
	logger *slog.Logger,
	cfg RetentionConfig,
) *RetentionJanitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionJanitor{
		tokens:   tokens,
		dedup:    dedup,
		sessions: sessions,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// Run executes the three sweeps concurrently. A failed sweep fails the run
// (the job endpoint reports it) but never blocks the other sweeps from
// finishing, and the next invocation simply picks up where the data still
// needs trimming.
func (j *RetentionJanitor) Run(ctx context.Context) (*RetentionResult, error) {
	started := j.clock.Now()
	now := started

	var (
		mu     sync.Mutex
		result RetentionResult
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		deactivated, err := j.tokens.DeactivateUnseenBefore(gctx, now.Add(-j.cfg.TokenDeactivateAfter))
		if err != nil {
			return err
		}
		deleted, err := j.tokens.DeleteInactiveBefore(gctx, now.Add(-j.cfg.TokenDeleteAfter))
		if err != nil {
			return err
		}
		mu.Lock()
		result.TokensDeactivated = deactivated
		result.TokensDeleted = deleted
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		deleted, err := j.dedup.DeleteDedupBefore(gctx, now.Add(-j.cfg.DedupRetention))
		if err != nil {
			return err
		}
		mu.Lock()
		result.DedupDeleted = deleted
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		deleted, err := j.sessions.DeleteExpiredBefore(gctx, now.Add(-j.cfg.SessionGrace))
		if err != nil {
			return err
		}
		mu.Lock()
		result.SessionsDeleted = deleted
		mu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil {
		j.metrics.ObserveRun(JobRetention, OutcomeFailed, j.clock.Now().Sub(started))
		return &result, err
	}

	j.logger.InfoContext(ctx, "retention pass complete",
		"tokens_deactivated", result.TokensDeactivated,
		"tokens_deleted", result.TokensDeleted,
		"dedup_deleted", result.DedupDeleted,
		"sessions_deleted", result.SessionsDeleted,
	)
	j.metrics.ObserveRun(JobRetention, OutcomeCompleted, j.clock.Now().Sub(started))
	return &result, nil
}
