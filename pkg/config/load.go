package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads, defaults, and validates the YAML configuration at path.
// Environment variables are not consulted; use LoadWithEnvOverrides
// for that.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithEnvOverrides loads the configuration and applies SATURN_*
// environment overrides on top. Environment variables always win over
// file values. The sequence is: parse YAML, apply defaults, apply env
// overrides, validate.
func LoadWithEnvOverrides(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration invalid after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies SATURN_SECTION_FIELD environment variables.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("SATURN_DATABASE_PATH"); val != "" {
		cfg.Database.Path = val
	}
	if val := os.Getenv("SATURN_DATABASE_BUSY_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Database.BusyTimeout = d
		}
	}

	if val := os.Getenv("SATURN_AGENTS"); val != "" {
		cfg.Agents = splitList(val)
	}

	for i := range cfg.Providers {
		applyProviderEnvOverrides(&cfg.Providers[i])
	}

	if val := os.Getenv("SATURN_ADMISSION_COOLDOWN"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Admission.Cooldown = d
		}
	}
	if val := os.Getenv("SATURN_ADMISSION_MAX_CONCURRENT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Admission.MaxConcurrent = i
		}
	}
	if val := os.Getenv("SATURN_ADMISSION_ACQUIRE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Admission.AcquireTimeout = d
		}
	}

	if val := os.Getenv("SATURN_EMERGENCY_THRESHOLD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Emergency.Threshold = f
		}
	}
	if val := os.Getenv("SATURN_EMERGENCY_ALLOW_AGENTS"); val != "" {
		cfg.Emergency.AllowAgents = splitList(val)
	}

	if val := os.Getenv("SATURN_RETENTION_DAYS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Retention.Days = i
		}
	}
	if val := os.Getenv("SATURN_RETENTION_SCHEDULE"); val != "" {
		cfg.Retention.Schedule = val
	}
	if val := os.Getenv("SATURN_RETENTION_ARCHIVE_PATH"); val != "" {
		cfg.Retention.ArchivePath = val
	}

	if val := os.Getenv("SATURN_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("SATURN_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("SATURN_TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = b
		}
	}
	if val := os.Getenv("SATURN_TELEMETRY_METRICS_LISTEN_ADDRESS"); val != "" {
		cfg.Telemetry.Metrics.ListenAddress = val
	}
}

// applyProviderEnvOverrides applies SATURN_PROVIDERS_<NAME>_<FIELD>
// overrides for one provider, NAME being the uppercase provider name.
func applyProviderEnvOverrides(p *ProviderConfig) {
	prefix := fmt.Sprintf("SATURN_PROVIDERS_%s_", strings.ToUpper(p.Name))

	if val := os.Getenv(prefix + "MONTHLY_CAP"); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			p.MonthlyCap = i
		}
	}
	if val := os.Getenv(prefix + "SOFT_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			p.SoftRatio = f
		}
	}
	if val := os.Getenv(prefix + "PER_REQUEST_CAP"); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			p.PerRequestCap = i
		}
	}
	if val := os.Getenv(prefix + "FALLBACK_THRESHOLD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			p.FallbackThreshold = f
		}
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
