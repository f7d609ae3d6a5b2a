// Package main is the entry point for the nudge API server.
//
// It loads configuration, opens the Postgres pool, wires the scheduler jobs
// behind the HTTP chassis (middleware, routing, health check, metrics), and
// starts listening for requests. Graceful shutdown is handled via OS signal
// interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"nudge/internal/config"
	"nudge/internal/core"
	"nudge/internal/db"
	"nudge/internal/push"
	"nudge/internal/scheduler"
	"nudge/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("nudge API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := newPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	registry := prometheus.NewRegistry()
	metrics := scheduler.NewMetrics(registry)

	srv, err := buildServer(cfg, logger, pool, registry, metrics)
	if err != nil {
		return err
	}
	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// newPool opens and verifies the Postgres connection pool with the tuning
// parameters from configuration.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// buildServer wires the repositories, schedulers, and push gateway into the
// HTTP chassis.
func buildServer(
	cfg *config.Config,
	logger *slog.Logger,
	pool *pgxpool.Pool,
	registry *prometheus.Registry,
	metrics *scheduler.Metrics,
) (*core.Server, error) {
	leaseRepo := db.NewJobLeaseRepository(pool)
	notifRepo := db.NewNotificationRepository(pool)
	prefsRepo := db.NewPrefsRepository(pool)
	tokenRepo := db.NewTokenRepository(pool)
	eventRepo := db.NewEventRepository(pool)
	sessionRepo := db.NewSessionRepository(pool)

	clock := types.RealClock{}
	resolver := scheduler.NewTimeResolver(logger)
	leases := scheduler.NewLeaseManager(leaseRepo, clock, logger, cfg.Jobs.LeaseFailOpen)

	gateway := push.NewGateway(tokenRepo, logger,
		push.WithEndpoint(cfg.Push.Endpoint),
		push.WithHTTPClient(&http.Client{Timeout: cfg.Push.Timeout}),
	)

	reminders := scheduler.NewReminderScheduler(
		leases, eventRepo, prefsRepo, notifRepo, tokenRepo, gateway,
		resolver, clock, metrics, logger,
		scheduler.ReminderConfig{
			Offsets:  cfg.Reminder.Offsets,
			Cadence:  cfg.Reminder.Cadence,
			LeaseTTL: cfg.Reminder.LeaseTTL,
		},
	)

	digests := scheduler.NewDigestScheduler(
		leases, prefsRepo, eventRepo, notifRepo, tokenRepo, gateway,
		resolver, clock, metrics, logger,
		scheduler.DigestConfig{
			Tolerance: cfg.Digest.Tolerance,
			LookAhead: cfg.Digest.LookAhead,
			LeaseTTL:  cfg.Digest.LeaseTTL,
		},
	)

	janitor := scheduler.NewRetentionJanitor(
		tokenRepo, notifRepo, sessionRepo, clock, metrics, logger,
		scheduler.RetentionConfig{
			TokenDeactivateAfter: cfg.Retention.TokenDeactivateAfter,
			TokenDeleteAfter:     cfg.Retention.TokenDeleteAfter,
			DedupRetention:       cfg.Retention.DedupRetention,
			SessionGrace:         cfg.Retention.SessionGrace,
		},
	)

	return core.NewServer(cfg, logger, reminders, digests, janitor, pool, registry)
}

// runHTTPServer starts the server with graceful shutdown on SIGINT/SIGTERM.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("server shutdown complete")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
