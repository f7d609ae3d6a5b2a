// Package main implements the job-runner CLI tool for invoking notification
// jobs directly, bypassing the HTTP job endpoints.
//
// This tool is intended for local development, manual backfilling, and
// operational debugging. It wires the same repositories and schedulers the
// API server uses and invokes the selected job once.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --job=reminders
//	go run ./cmd/tools/job-runner --job=digests --reference-time=2026-01-15T08:00:00Z
//	go run ./cmd/tools/job-runner --dry-run --job=retention
//	go run ./cmd/tools/job-runner --list
//
// The tool reads DATABASE_URL from environment variables (or .env file via
// godotenv). In --dry-run mode, it prints the constructed job descriptor
// without executing. Push delivery is disabled in CLI context; the run
// records in-app notifications and dedup entries only.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"nudge/internal/db"
	"nudge/internal/push"
	"nudge/internal/scheduler"
	"nudge/internal/types"
)

// validJobs is the exhaustive set of job names the runner supports,
// maintained in sync with the constants in internal/scheduler/types.go.
var validJobs = map[string]string{
	scheduler.JobReminders: "Send event reminders for configured offset windows",
	scheduler.JobDigests:   "Send daily digests to users in their local send window",
	scheduler.JobRetention: "Sweep stale push tokens, dedup entries, and expired sessions",
}

// Operational defaults matching the API server's configuration defaults.
// Duplicated here because this tool reads only DATABASE_URL, not the full
// config surface.
const (
	reminderCadence = 15 * time.Minute
	digestTolerance = 15 * time.Minute
	digestLookAhead = 7 * 24 * time.Hour
	leaseTTL        = 10 * time.Minute

	tokenDeactivateAfter = 60 * 24 * time.Hour
	tokenDeleteAfter     = 180 * 24 * time.Hour
	dedupRetention       = 90 * 24 * time.Hour
	sessionGrace         = 7 * 24 * time.Hour
)

// defaultOffsets matches the API server's REMINDER_OFFSETS default.
var defaultOffsets = []int{30, 120, 1440}

// jobDescriptor is the payload printed in --dry-run mode.
type jobDescriptor struct {
	Job           string     `json:"job"`
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

func main() {
	jobFlag := flag.String("job", "", "Job to execute (reminders, digests, retention)")
	refTimeFlag := flag.String("reference-time", "", "Override reference time (RFC3339, e.g., 2026-01-15T08:00:00Z)")
	listFlag := flag.Bool("list", false, "List all available jobs and exit")
	dryRunFlag := flag.Bool("dry-run", false, "Print the job descriptor without executing")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Invoke notification jobs directly, bypassing the HTTP endpoints.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all available jobs.\n")
	}

	flag.Parse()

	if *listFlag {
		printAvailableJobs()
		return
	}

	if *jobFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --job is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	if _, ok := validJobs[*jobFlag]; !ok {
		fmt.Fprintf(os.Stderr, "error: unknown job %q\n\n", *jobFlag)
		printAvailableJobs()
		os.Exit(1)
	}

	var refTime *time.Time
	if *refTimeFlag != "" {
		t, err := time.Parse(time.RFC3339, *refTimeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid --reference-time %q: %v\n", *refTimeFlag, err)
			fmt.Fprintf(os.Stderr, "  expected RFC3339 format, e.g., 2026-01-15T08:00:00Z\n")
			os.Exit(1)
		}
		refTime = &t
	}

	descriptor := jobDescriptor{
		Job:           *jobFlag,
		ReferenceTime: refTime,
	}

	if *dryRunFlag {
		printDescriptor(descriptor)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Load .env file for local development (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file loaded (this is fine in production)", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := executeJob(ctx, descriptor, logger)
	if err != nil {
		logger.Error("job execution failed",
			"job", descriptor.Job,
			"error", err,
		)
		os.Exit(1)
	}

	logger.Info("job execution succeeded",
		"job", descriptor.Job,
		"result", result,
	)
}

// executeJob wires up the database and scheduler dependencies, then invokes
// the selected job once. This mirrors the wiring in cmd/api/main.go minus
// the push gateway: CLI runs never send push.
func executeJob(ctx context.Context, descriptor jobDescriptor, logger *slog.Logger) (any, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("database connection established")

	var clock types.Clock = types.RealClock{}
	if descriptor.ReferenceTime != nil {
		clock = types.FixedClock{T: descriptor.ReferenceTime.UTC()}
		logger.Info("using fixed reference time",
			"reference_time", descriptor.ReferenceTime.UTC().Format(time.RFC3339),
		)
	}

	leaseRepo := db.NewJobLeaseRepository(pool)
	notifRepo := db.NewNotificationRepository(pool)
	prefsRepo := db.NewPrefsRepository(pool)
	tokenRepo := db.NewTokenRepository(pool)
	eventRepo := db.NewEventRepository(pool)
	sessionRepo := db.NewSessionRepository(pool)

	resolver := scheduler.NewTimeResolver(logger)
	leases := scheduler.NewLeaseManager(leaseRepo, clock, logger, false)

	switch descriptor.Job {
	case scheduler.JobReminders:
		s := scheduler.NewReminderScheduler(
			leases, eventRepo, prefsRepo, notifRepo, tokenRepo, noopPushSender{},
			resolver, clock, nil, logger,
			scheduler.ReminderConfig{
				Offsets:  defaultOffsets,
				Cadence:  reminderCadence,
				LeaseTTL: leaseTTL,
			},
		)
		return s.Run(ctx)

	case scheduler.JobDigests:
		s := scheduler.NewDigestScheduler(
			leases, prefsRepo, eventRepo, notifRepo, tokenRepo, noopPushSender{},
			resolver, clock, nil, logger,
			scheduler.DigestConfig{
				Tolerance: digestTolerance,
				LookAhead: digestLookAhead,
				LeaseTTL:  leaseTTL,
			},
		)
		return s.Run(ctx)

	case scheduler.JobRetention:
		j := scheduler.NewRetentionJanitor(
			tokenRepo, notifRepo, sessionRepo, clock, nil, logger,
			scheduler.RetentionConfig{
				TokenDeactivateAfter: tokenDeactivateAfter,
				TokenDeleteAfter:     tokenDeleteAfter,
				DedupRetention:       dedupRetention,
				SessionGrace:         sessionGrace,
			},
		)
		return j.Run(ctx)

	default:
		// Unknown jobs are caught in main() before reaching here.
		return nil, fmt.Errorf("job %q cannot be dispatched", descriptor.Job)
	}
}

// noopPushSender satisfies scheduler.PushSender without contacting the push
// vendor. CLI runs still record in-app notifications and dedup entries.
type noopPushSender struct{}

func (noopPushSender) Send(_ context.Context, messages []push.Message) push.Result {
	return push.Result{Failed: len(messages)}
}

// printAvailableJobs prints all valid jobs and their descriptions to stderr,
// sorted alphabetically.
func printAvailableJobs() {
	fmt.Fprintf(os.Stderr, "Available jobs:\n\n")

	jobs := make([]string, 0, len(validJobs))
	for j := range validJobs {
		jobs = append(jobs, j)
	}
	sort.Strings(jobs)

	maxLen := 0
	for _, j := range jobs {
		if len(j) > maxLen {
			maxLen = len(j)
		}
	}

	for _, j := range jobs {
		fmt.Fprintf(os.Stderr, "  %-*s  %s\n", maxLen, j, validJobs[j])
	}
	fmt.Fprintln(os.Stderr)
}

// printDescriptor marshals the job descriptor to pretty-printed JSON and
// writes it to stdout for inspection or piping.
func printDescriptor(descriptor jobDescriptor) {
	data, err := json.MarshalIndent(descriptor, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to marshal descriptor: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(data))

	if desc, ok := validJobs[descriptor.Job]; ok {
		fmt.Fprintf(os.Stderr, "\nJob: %s\nDescription: %s\n", descriptor.Job, desc)
		if descriptor.ReferenceTime != nil {
			fmt.Fprintf(os.Stderr, "Reference time: %s\n", descriptor.ReferenceTime.Format(time.RFC3339))
		} else {
			fmt.Fprintf(os.Stderr, "Reference time: (current UTC time will be used)\n")
		}
	}
}
