package config

import "time"

// Default values for configuration fields.
const (
	// Database defaults
	DefaultDatabasePath       = "data/usage.db"
	DefaultBusyTimeout        = 5 * time.Second
	DefaultCheckpointInterval = 5 * time.Minute

	// Provider defaults
	DefaultSoftRatio          = 0.7
	DefaultPerRequestCap      = int64(1000)
	DefaultDailySlicePercent  = 15.0
	DefaultHourlySlicePercent = 2.0
	DefaultFallbackThreshold  = 0.8

	// Admission defaults
	DefaultCooldown       = 60 * time.Second
	DefaultMaxConcurrent  = 5
	DefaultAcquireTimeout = 2 * time.Second

	// Emergency defaults
	DefaultEmergencyThreshold = 0.98

	// Retention defaults
	DefaultRetentionDays = 90
	DefaultArchivePath   = "data/usage-archive.db"

	// Telemetry defaults
	DefaultLoggingLevel         = "info"
	DefaultLoggingFormat        = "json"
	DefaultMetricsListenAddress = "127.0.0.1:9090"
	DefaultMetricsPath          = "/metrics"
)

// DefaultAgents is the default agent roster.
var DefaultAgents = []string{"imperium", "guardian", "sandbox", "conquest"}

// ApplyDefaults fills zero-valued fields with defaults. It is
// idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	if cfg.Database.Path == "" {
		cfg.Database.Path = DefaultDatabasePath
	}
	if cfg.Database.BusyTimeout == 0 {
		cfg.Database.BusyTimeout = DefaultBusyTimeout
	}
	if cfg.Database.CheckpointInterval == 0 {
		cfg.Database.CheckpointInterval = DefaultCheckpointInterval
	}

	if len(cfg.Agents) == 0 {
		cfg.Agents = append([]string(nil), DefaultAgents...)
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.SoftRatio == 0 {
			p.SoftRatio = DefaultSoftRatio
		}
		if p.PerRequestCap == 0 {
			p.PerRequestCap = DefaultPerRequestCap
		}
		if p.DailySlicePercent == 0 {
			p.DailySlicePercent = DefaultDailySlicePercent
		}
		if p.HourlySlicePercent == 0 {
			p.HourlySlicePercent = DefaultHourlySlicePercent
		}
		if p.FallbackThreshold == 0 {
			p.FallbackThreshold = DefaultFallbackThreshold
		}
	}

	if cfg.Admission.Cooldown == 0 {
		cfg.Admission.Cooldown = DefaultCooldown
	}
	if cfg.Admission.MaxConcurrent == 0 {
		cfg.Admission.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Admission.AcquireTimeout == 0 {
		cfg.Admission.AcquireTimeout = DefaultAcquireTimeout
	}

	if cfg.Emergency.Threshold == 0 {
		cfg.Emergency.Threshold = DefaultEmergencyThreshold
	}

	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = DefaultRetentionDays
	}
	if cfg.Retention.ArchivePath == "" {
		cfg.Retention.ArchivePath = DefaultArchivePath
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.ListenAddress == "" {
		cfg.Telemetry.Metrics.ListenAddress = DefaultMetricsListenAddress
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
}
