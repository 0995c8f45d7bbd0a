package config

import "time"

// Config is the root configuration for the governor.
type Config struct {
	// Database configures the usage ledger storage.
	Database DatabaseConfig `yaml:"database"`

	// Agents is the roster of agent identities that share each
	// provider's budget.
	Agents []string `yaml:"agents"`

	// Providers lists the budgeted providers in fallback order: the
	// first entry is the primary, later entries take over when
	// earlier ones approach or exhaust their budget.
	Providers []ProviderConfig `yaml:"providers"`

	// Admission configures the request gate shared by all providers.
	Admission AdmissionConfig `yaml:"admission"`

	// Emergency configures the system-wide throttle.
	Emergency EmergencyConfig `yaml:"emergency"`

	// Retention configures usage-log pruning.
	Retention RetentionConfig `yaml:"retention"`

	// Telemetry configures logging and the metrics endpoint.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DatabaseConfig configures the SQLite ledger.
type DatabaseConfig struct {
	// Path is the ledger database file.
	Path string `yaml:"path"`

	// BusyTimeout is how long writers wait for the file lock.
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often the WAL is checkpointed.
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// ProviderConfig is the per-provider budget configuration.
type ProviderConfig struct {
	// Name identifies the provider (e.g. "anthropic", "openai").
	Name string `yaml:"name"`

	// MonthlyCap is the raw monthly token limit for this provider.
	MonthlyCap int64 `yaml:"monthly_cap"`

	// SoftRatio is the fraction of the raw cap that is actually
	// granted; the rest is headroom against estimate error.
	SoftRatio float64 `yaml:"soft_ratio"`

	// PerRequestCap is the maximum declared size of one request.
	PerRequestCap int64 `yaml:"per_request_cap"`

	// DailySlicePercent and HourlySlicePercent bound one agent's
	// rolling-day and rolling-hour consumption, as percentages of the
	// enforced cap. Zero means an even split across the roster.
	DailySlicePercent  float64 `yaml:"daily_slice_percent"`
	HourlySlicePercent float64 `yaml:"hourly_slice_percent"`

	// FallbackThreshold is the usage fraction at which the fallback
	// coordinator starts steering traffic away from this provider.
	FallbackThreshold float64 `yaml:"fallback_threshold"`
}

// AdmissionConfig configures the admission gate.
type AdmissionConfig struct {
	// Cooldown is the minimum spacing between granted requests from
	// the same agent.
	Cooldown time.Duration `yaml:"cooldown"`

	// MaxConcurrent bounds simultaneous in-flight requests per
	// provider.
	MaxConcurrent int `yaml:"max_concurrent"`

	// AcquireTimeout bounds how long a request waits for a free slot.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// EmergencyConfig configures the system-wide throttle.
type EmergencyConfig struct {
	// Threshold is the fraction of the enforced cap at which the
	// throttle engages.
	Threshold float64 `yaml:"threshold"`

	// AllowAgents stay admissible while the throttle is engaged.
	// Empty by default: an engaged throttle denies everyone.
	AllowAgents []string `yaml:"allow_agents"`
}

// RetentionConfig configures usage-log pruning.
type RetentionConfig struct {
	// Days is how long log entries are kept; 0 disables pruning.
	Days int `yaml:"days"`

	// Schedule is a cron expression for automatic pruning. Empty
	// disables the scheduler.
	Schedule string `yaml:"schedule"`

	// ArchiveBeforeDelete copies entries to the archive database
	// before deletion.
	ArchiveBeforeDelete bool `yaml:"archive_before_delete"`

	// ArchivePath is the archive database file.
	ArchivePath string `yaml:"archive_path"`
}

// TelemetryConfig configures observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled controls whether the metrics server runs.
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the metrics server bind address.
	ListenAddress string `yaml:"listen_address"`

	// Path is the scrape path.
	Path string `yaml:"path"`
}
