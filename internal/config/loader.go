// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator, plus cross-field
//     rules validator tags cannot express.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// localEnv is the APP_ENV value for local development; it relaxes the
// JOB_SECRET requirement.
const localEnv = "local"

// LoadConfig loads and validates the service configuration.
//
// A .env file is loaded if present but never overrides variables already in
// the environment. Missing required values or invalid formats return an
// error; callers are expected to abort startup on any error.
func LoadConfig() (*Config, error) {
	// Enforce UTC. All scheduling math is done in UTC; user-local time is
	// derived per user from their timezone preference.
	time.Local = time.UTC

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if err := validateCrossField(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateCrossField enforces rules that span multiple fields or depend on
// the environment.
func validateCrossField(cfg *Config) error {
	if cfg.Environment != localEnv && cfg.Jobs.Secret.Unmask() == "" {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "JOB_SECRET is required outside local environments",
		}
	}

	if len(cfg.Reminder.Offsets) == 0 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "REMINDER_OFFSETS must list at least one offset",
		}
	}
	for _, offset := range cfg.Reminder.Offsets {
		if offset <= 0 {
			return &ConfigError{
				Type:    ErrValidation,
				Message: fmt.Sprintf("REMINDER_OFFSETS entries must be positive minutes, got %d", offset),
			}
		}
	}

	// A tolerance narrower than half the cadence leaves local times that no
	// run ever matches.
	if cfg.Digest.Tolerance < cfg.Reminder.Cadence/2 {
		return &ConfigError{
			Type: ErrValidation,
			Message: fmt.Sprintf("DIGEST_TOLERANCE (%s) must be at least half of REMINDER_CADENCE (%s)",
				cfg.Digest.Tolerance, cfg.Reminder.Cadence),
		}
	}

	if cfg.Retention.TokenDeleteAfter < cfg.Retention.TokenDeactivateAfter {
		return &ConfigError{
			Type: ErrValidation,
			Message: fmt.Sprintf("RETENTION_TOKEN_DELETE_AFTER (%s) must not be shorter than RETENTION_TOKEN_DEACTIVATE_AFTER (%s)",
				cfg.Retention.TokenDeleteAfter, cfg.Retention.TokenDeactivateAfter),
		}
	}

	return nil
}
