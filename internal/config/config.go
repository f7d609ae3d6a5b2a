// Package config defines the global configuration structure for the nudge
// service. Configuration is loaded once at process startup and is immutable
// thereafter, following 12-Factor principles: code is separated strictly from
// configuration, and any missing required value or invalid format aborts the
// process immediately (fail fast).
package config

import (
	"time"

	"nudge/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the nudge service. It is
// populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"nudge"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server    ServerConfig
	Database  DatabaseConfig
	Jobs      JobsConfig
	Reminder  ReminderConfig
	Digest    DigestConfig
	Retention RetentionConfig
	Push      PushConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// JobsConfig holds settings shared by the internal job endpoints.
type JobsConfig struct {
	// Secret is the shared secret job invokers must present in the
	// X-Job-Secret header. Required outside local.
	Secret SecretString `envconfig:"JOB_SECRET"`

	// LeaseFailOpen, when true, lets a job run without mutual exclusion if
	// the lease table is missing (42P01). Any other lease infrastructure
	// failure always blocks the run.
	LeaseFailOpen bool `envconfig:"JOB_LEASE_FAIL_OPEN" default:"false"`
}

// ReminderConfig holds event reminder pass tuning.
type ReminderConfig struct {
	// Offsets are the minutes-before-start marks a reminder fires at.
	Offsets []int `envconfig:"REMINDER_OFFSETS" default:"30,120,1440"`

	// Cadence is the expected interval between reminder pass invocations.
	// It sizes the match window around each offset, so it must equal the
	// external trigger schedule.
	Cadence time.Duration `envconfig:"REMINDER_CADENCE" default:"15m" validate:"required,min=1m"`

	LeaseTTL time.Duration `envconfig:"REMINDER_LEASE_TTL" default:"10m"`
}

// DigestConfig holds daily digest pass tuning.
type DigestConfig struct {
	// Tolerance is how far a user's local time may sit from their configured
	// digest time and still match. It must cover at least half the trigger
	// cadence or windows between runs go unserved.
	Tolerance time.Duration `envconfig:"DIGEST_TOLERANCE" default:"15m" validate:"required,min=1m"`

	// LookAhead bounds the event horizon summarized in the digest body.
	LookAhead time.Duration `envconfig:"DIGEST_LOOKAHEAD" default:"168h"`

	LeaseTTL time.Duration `envconfig:"DIGEST_LEASE_TTL" default:"10m"`
}

// RetentionConfig holds the janitor's age thresholds.
type RetentionConfig struct {
	TokenDeactivateAfter time.Duration `envconfig:"RETENTION_TOKEN_DEACTIVATE_AFTER" default:"1440h"` // 60 days
	TokenDeleteAfter     time.Duration `envconfig:"RETENTION_TOKEN_DELETE_AFTER" default:"4320h"`     // 180 days
	DedupRetention       time.Duration `envconfig:"RETENTION_DEDUP_KEEP" default:"2160h"`             // 90 days
	SessionGrace         time.Duration `envconfig:"RETENTION_SESSION_GRACE" default:"168h"`           // 7 days
}

// PushConfig holds push vendor settings.
type PushConfig struct {
	Endpoint string        `envconfig:"PUSH_ENDPOINT" default:"https://exp.host/--/api/v2/push/send" validate:"required,url"`
	Timeout  time.Duration `envconfig:"PUSH_TIMEOUT" default:"15s"`
}

// BuildInfo holds build-time metadata injected via ldflags. These values are
// NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
