// Package config carries the process configuration for the execution core.
// It is loaded once in cmd and threaded explicitly through the driver; the
// core holds no process-wide mutable state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the execution core. All fields have working
// defaults; the documented WORKFLOW_CORE_* environment variables override
// them.
type Config struct {
	// Timezone is the default IANA timezone for schedules without one.
	Timezone string `env:"WORKFLOW_CORE_TIMEZONE"`

	// Timeout is the end-to-end workflow timeout applied by the driver.
	Timeout time.Duration `env:"WORKFLOW_CORE_TIMEOUT"`

	// ReleaseTimeout bounds one scheduled release.
	ReleaseTimeout time.Duration `env:"WORKFLOW_CORE_RELEASE_TIMEOUT"`

	// MaxJobParallel bounds the job scheduler's worker pool.
	MaxJobParallel int `env:"WORKFLOW_CORE_MAX_JOB_PARALLEL"`

	// StageRetryDelay is the pause between retry attempts of a stage.
	StageRetryDelay time.Duration `env:"WORKFLOW_CORE_STAGE_RETRY_DELAY"`

	// GracePeriod is how long a cancelled subprocess gets between SIGTERM
	// and SIGKILL.
	GracePeriod time.Duration `env:"WORKFLOW_CORE_GRACE_PERIOD"`

	// RegistryPaths are the search paths for workflow definitions.
	RegistryPaths []string `env:"WORKFLOW_CORE_REGISTRY_PATHS"`

	// TraceURL selects the trace sink (console://, file://<path>).
	TraceURL string `env:"WORKFLOW_CORE_TRACE_URL"`

	// AuditURL selects the audit store (sqlite://<path>, file://<dir>).
	AuditURL string `env:"WORKFLOW_CORE_AUDIT_URL"`

	// EnableAudit writes one audit record per release when set.
	EnableAudit bool `env:"WORKFLOW_CORE_ENABLE_AUDIT"`

	// EnableTraceWrite emits tracer events to the configured sink when set.
	EnableTraceWrite bool `env:"WORKFLOW_CORE_ENABLE_TRACE_WRITE"`

	// ScriptDepsAllow lists dependency names virtual-script stages may
	// declare.
	ScriptDepsAllow []string `env:"WORKFLOW_CORE_SCRIPT_DEPS_ALLOW"`

	// LogLevel sets the zerolog level (debug, info, warn, error).
	LogLevel string `env:"WORKFLOW_CORE_LOG_LEVEL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Timezone:         "UTC",
		Timeout:          time.Hour,
		ReleaseTimeout:   10 * time.Minute,
		MaxJobParallel:   2,
		StageRetryDelay:  5 * time.Second,
		GracePeriod:      5 * time.Second,
		RegistryPaths:    []string{"./conf"},
		TraceURL:         "console://",
		AuditURL:         "",
		EnableAudit:      false,
		EnableTraceWrite: true,
		LogLevel:         "info",
	}
}

// Load builds the configuration from defaults, an optional .env file, and
// environment variables, then validates it.
func Load(envFile string) (*Config, error) {
	cfg := Default()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("WORKFLOW_CORE_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("WORKFLOW_CORE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}
	if v := os.Getenv("WORKFLOW_CORE_RELEASE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReleaseTimeout = d
		}
	}
	if v := os.Getenv("WORKFLOW_CORE_MAX_JOB_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxJobParallel = n
		}
	}
	if v := os.Getenv("WORKFLOW_CORE_STAGE_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StageRetryDelay = d
		}
	}
	if v := os.Getenv("WORKFLOW_CORE_GRACE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.GracePeriod = d
		}
	}
	if v := os.Getenv("WORKFLOW_CORE_REGISTRY_PATHS"); v != "" {
		cfg.RegistryPaths = splitList(v)
	}
	if v := os.Getenv("WORKFLOW_CORE_TRACE_URL"); v != "" {
		cfg.TraceURL = v
	}
	if v := os.Getenv("WORKFLOW_CORE_AUDIT_URL"); v != "" {
		cfg.AuditURL = v
	}
	if v := os.Getenv("WORKFLOW_CORE_ENABLE_AUDIT"); v != "" {
		cfg.EnableAudit = parseBool(v)
	}
	if v := os.Getenv("WORKFLOW_CORE_ENABLE_TRACE_WRITE"); v != "" {
		cfg.EnableTraceWrite = parseBool(v)
	}
	if v := os.Getenv("WORKFLOW_CORE_SCRIPT_DEPS_ALLOW"); v != "" {
		cfg.ScriptDepsAllow = splitList(v)
	}
	if v := os.Getenv("WORKFLOW_CORE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate checks the configuration for nonsensical values.
func (c *Config) Validate() error {
	if c.MaxJobParallel < 1 {
		return fmt.Errorf("max job parallel must be >= 1, got %d", c.MaxJobParallel)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("workflow timeout must be positive, got %s", c.Timeout)
	}
	if c.ReleaseTimeout <= 0 {
		return fmt.Errorf("release timeout must be positive, got %s", c.ReleaseTimeout)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("unknown timezone %q: %w", c.Timezone, err)
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}
