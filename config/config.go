// ABOUTME: Engine configuration loaded from TOML with environment-variable overrides.
// ABOUTME: Covers workspace/artifact/stash/event-log paths, timeouts, fail-fast, and fault tolerance.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// FaultToleranceConfig selects the optional fault-tolerance layers wrapped
// around stage executions.
type FaultToleranceConfig struct {
	BulkheadLimit       int    `toml:"bulkhead_limit"`
	BreakerThreshold    int    `toml:"breaker_threshold"`
	BreakerRetryTimeout string `toml:"breaker_retry_timeout"`
	RetryMaxAttempts    int    `toml:"retry_max_attempts"`
	RetryBaseDelay      string `toml:"retry_base_delay"`
	RetryMaxDelay       string `toml:"retry_max_delay"`
}

// Config holds all engine configuration.
type Config struct {
	WorkspaceDir       string `toml:"workspace_dir"`
	ArtifactDir        string `toml:"artifact_dir"`
	StashDir           string `toml:"stash_dir"`
	EventLogDir        string `toml:"event_log_dir"`
	DefaultStepTimeout string `toml:"default_step_timeout"`
	FailFast           *bool  `toml:"fail_fast"`

	FaultTolerance FaultToleranceConfig `toml:"fault_tolerance"`
}

// FailFastOrDefault returns FailFast if set, otherwise true.
func (c Config) FailFastOrDefault() bool {
	if c.FailFast != nil {
		return *c.FailFast
	}
	return true
}

// StepTimeoutOrDefault parses DefaultStepTimeout, returning zero (unbounded)
// when unset or unparsable.
func (c Config) StepTimeoutOrDefault() time.Duration {
	return parseDuration(c.DefaultStepTimeout)
}

// BreakerRetryTimeoutOrDefault parses the breaker retry timeout, defaulting
// to 30 seconds.
func (c FaultToleranceConfig) BreakerRetryTimeoutOrDefault() time.Duration {
	if d := parseDuration(c.BreakerRetryTimeout); d > 0 {
		return d
	}
	return 30 * time.Second
}

// RetryBaseDelayOrDefault parses the retry base delay, defaulting to 500ms.
func (c FaultToleranceConfig) RetryBaseDelayOrDefault() time.Duration {
	if d := parseDuration(c.RetryBaseDelay); d > 0 {
		return d
	}
	return 500 * time.Millisecond
}

// RetryMaxDelayOrDefault parses the retry delay cap, defaulting to 30s.
func (c FaultToleranceConfig) RetryMaxDelayOrDefault() time.Duration {
	if d := parseDuration(c.RetryMaxDelay); d > 0 {
		return d
	}
	return 30 * time.Second
}

// LoadFrom reads configuration from the given TOML file path.
// If the file does not exist, it returns an empty config without error.
// Environment variables always take precedence over file values:
//   - CONVEYOR_WORKSPACE_DIR overrides workspace_dir
//   - CONVEYOR_ARTIFACT_DIR  overrides artifact_dir
//   - CONVEYOR_STASH_DIR     overrides stash_dir
//   - CONVEYOR_EVENT_LOG_DIR overrides event_log_dir
//   - CONVEYOR_STEP_TIMEOUT  overrides default_step_timeout
//   - CONVEYOR_FAIL_FAST     overrides fail_fast
func LoadFrom(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// DefaultConfigPath returns the default path for the conveyor config file.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "conveyor", "config.toml")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONVEYOR_WORKSPACE_DIR"); v != "" {
		cfg.WorkspaceDir = v
	}
	if v := os.Getenv("CONVEYOR_ARTIFACT_DIR"); v != "" {
		cfg.ArtifactDir = v
	}
	if v := os.Getenv("CONVEYOR_STASH_DIR"); v != "" {
		cfg.StashDir = v
	}
	if v := os.Getenv("CONVEYOR_EVENT_LOG_DIR"); v != "" {
		cfg.EventLogDir = v
	}
	if v := os.Getenv("CONVEYOR_STEP_TIMEOUT"); v != "" {
		cfg.DefaultStepTimeout = v
	}
	if v := os.Getenv("CONVEYOR_FAIL_FAST"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.FailFast = &b
		}
	}
}

// Save writes cfg to the given TOML file path, creating parent directories as
// needed. Existing file contents are overwritten.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	if encErr := toml.NewEncoder(f).Encode(cfg); encErr != nil {
		f.Close()
		return encErr
	}
	return f.Close()
}

// parseDuration parses a duration string, returning zero on empty or invalid
// input.
func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
