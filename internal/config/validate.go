package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateDelivery(&cfg.Delivery)...)
	errs = append(errs, validateRetention(&cfg.Retention)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(cfg *ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: "must be between 1 and 65535",
		})
	}
	if cfg.MaxBodySize < 1024 {
		errs = append(errs, ValidationError{
			Field:   "server.max_body_size",
			Message: "must be at least 1024 bytes",
		})
	}

	return errs
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "must not be empty",
		})
	}
	if cfg.MaxOpenConns < 1 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must be at least 1",
		})
	}
	if cfg.Retry.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.retry.max_retries",
			Message: "must not be negative",
		})
	}
	if cfg.Retry.Multiplier < 1 {
		errs = append(errs, ValidationError{
			Field:   "database.retry.multiplier",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateDelivery(cfg *DeliveryConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Timeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "delivery.timeout",
			Message: "must be positive",
		})
	}
	if cfg.MaxAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "delivery.max_attempts",
			Message: "must be at least 1",
		})
	}
	if cfg.Workers < 1 {
		errs = append(errs, ValidationError{
			Field:   "delivery.workers",
			Message: "must be at least 1",
		})
	}
	if cfg.BackoffBase <= 0 {
		errs = append(errs, ValidationError{
			Field:   "delivery.backoff_base",
			Message: "must be positive",
		})
	}
	if cfg.BackoffFactor < 1 {
		errs = append(errs, ValidationError{
			Field:   "delivery.backoff_factor",
			Message: "must be at least 1",
		})
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		errs = append(errs, ValidationError{
			Field:   "delivery.backoff_cap",
			Message: "must not be below delivery.backoff_base",
		})
	}
	if cfg.BackoffJitter < 0 || cfg.BackoffJitter >= 1 {
		errs = append(errs, ValidationError{
			Field:   "delivery.backoff_jitter",
			Message: "must be in [0, 1)",
		})
	}
	if cfg.SweepInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "delivery.sweep_interval",
			Message: "must be positive",
		})
	}
	if cfg.DispatchInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "delivery.dispatch_interval",
			Message: "must be positive",
		})
	}
	if cfg.ClaimTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "delivery.claim_timeout",
			Message: "must be positive",
		})
	}

	return errs
}

func validateRetention(cfg *RetentionConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return errs
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(cfg.Schedule); err != nil {
		errs = append(errs, ValidationError{
			Field:   "retention.schedule",
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		})
	}
	if cfg.MaxAge <= 0 {
		errs = append(errs, ValidationError{
			Field:   "retention.max_age",
			Message: "must be positive",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: debug, info, warn, error",
		})
	}

	switch cfg.Format {
	case "console", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be console or json",
		})
	}

	return errs
}
