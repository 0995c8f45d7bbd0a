package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError is a validation error for one configuration field.
type FieldError struct {
	// Field is the dotted path to the field (e.g. "providers[0].monthly_cap").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError aggregates every validation failure in a config.
type ValidationError struct {
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate checks the whole configuration and returns a
// ValidationError collecting every violation, or nil when valid.
func Validate(cfg *Config) error {
	var errs []FieldError

	if cfg.Database.Path == "" {
		errs = append(errs, FieldError{"database.path", "database path is required"})
	}

	if len(cfg.Agents) == 0 {
		errs = append(errs, FieldError{"agents", "agent roster cannot be empty"})
	}
	seen := make(map[string]bool, len(cfg.Agents))
	for i, a := range cfg.Agents {
		if a == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("agents[%d]", i),
				Message: "agent id cannot be empty",
			})
			continue
		}
		if seen[a] {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("agents[%d]", i),
				Message: fmt.Sprintf("duplicate agent id %q", a),
			})
		}
		seen[a] = true
	}

	if len(cfg.Providers) == 0 {
		errs = append(errs, FieldError{"providers", "at least one provider is required"})
	}
	names := make(map[string]bool, len(cfg.Providers))
	for i, p := range cfg.Providers {
		errs = append(errs, validateProvider(i, &p, names)...)
	}

	errs = append(errs, validateAdmission(&cfg.Admission)...)

	if cfg.Emergency.Threshold <= 0 || cfg.Emergency.Threshold > 1 {
		errs = append(errs, FieldError{
			Field:   "emergency.threshold",
			Message: fmt.Sprintf("threshold must be in (0, 1], got %g", cfg.Emergency.Threshold),
		})
	}

	errs = append(errs, validateRetention(&cfg.Retention)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateProvider(i int, p *ProviderConfig, names map[string]bool) []FieldError {
	var errs []FieldError
	field := func(name string) string {
		return fmt.Sprintf("providers[%d].%s", i, name)
	}

	if p.Name == "" {
		errs = append(errs, FieldError{field("name"), "provider name is required"})
	} else if names[p.Name] {
		errs = append(errs, FieldError{field("name"), fmt.Sprintf("duplicate provider %q", p.Name)})
	}
	names[p.Name] = true

	if p.MonthlyCap <= 0 {
		errs = append(errs, FieldError{
			Field:   field("monthly_cap"),
			Message: fmt.Sprintf("monthly cap must be positive, got %d", p.MonthlyCap),
		})
	}
	if p.SoftRatio <= 0 || p.SoftRatio > 1 {
		errs = append(errs, FieldError{
			Field:   field("soft_ratio"),
			Message: fmt.Sprintf("soft ratio must be in (0, 1], got %g", p.SoftRatio),
		})
	}
	if p.PerRequestCap <= 0 {
		errs = append(errs, FieldError{
			Field:   field("per_request_cap"),
			Message: fmt.Sprintf("per-request cap must be positive, got %d", p.PerRequestCap),
		})
	}
	if p.DailySlicePercent < 0 || p.DailySlicePercent > 100 {
		errs = append(errs, FieldError{
			Field:   field("daily_slice_percent"),
			Message: fmt.Sprintf("daily slice percent must be in [0, 100], got %g", p.DailySlicePercent),
		})
	}
	if p.HourlySlicePercent < 0 || p.HourlySlicePercent > 100 {
		errs = append(errs, FieldError{
			Field:   field("hourly_slice_percent"),
			Message: fmt.Sprintf("hourly slice percent must be in [0, 100], got %g", p.HourlySlicePercent),
		})
	}
	if p.FallbackThreshold <= 0 || p.FallbackThreshold > 1 {
		errs = append(errs, FieldError{
			Field:   field("fallback_threshold"),
			Message: fmt.Sprintf("fallback threshold must be in (0, 1], got %g", p.FallbackThreshold),
		})
	}
	return errs
}

func validateAdmission(cfg *AdmissionConfig) []FieldError {
	var errs []FieldError
	if cfg.Cooldown < 0 {
		errs = append(errs, FieldError{
			Field:   "admission.cooldown",
			Message: fmt.Sprintf("cooldown cannot be negative, got %s", cfg.Cooldown),
		})
	}
	if cfg.MaxConcurrent <= 0 {
		errs = append(errs, FieldError{
			Field:   "admission.max_concurrent",
			Message: fmt.Sprintf("max concurrent must be positive, got %d", cfg.MaxConcurrent),
		})
	}
	if cfg.AcquireTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "admission.acquire_timeout",
			Message: fmt.Sprintf("acquire timeout must be positive, got %s", cfg.AcquireTimeout),
		})
	}
	return errs
}

func validateRetention(cfg *RetentionConfig) []FieldError {
	var errs []FieldError
	if cfg.Days < 0 {
		errs = append(errs, FieldError{
			Field:   "retention.days",
			Message: fmt.Sprintf("retention days cannot be negative, got %d", cfg.Days),
		})
	}
	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "retention.schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Schedule, err),
			})
		}
	}
	if cfg.ArchiveBeforeDelete && cfg.ArchivePath == "" {
		errs = append(errs, FieldError{
			Field:   "retention.archive_path",
			Message: "archive path is required when archive_before_delete is set",
		})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("unknown log level %q", cfg.Logging.Level),
		})
	}
	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("unknown log format %q", cfg.Logging.Format),
		})
	}
	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.listen_address",
			Message: "listen address is required when metrics are enabled",
		})
	}
	return errs
}
