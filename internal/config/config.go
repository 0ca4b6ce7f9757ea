// Package config provides unified configuration loading for rumormill.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nvandessel/rumormill/internal/constants"
	"github.com/nvandessel/rumormill/internal/storage"
	"gopkg.in/yaml.v3"
)

// Config contains all rumormill configuration settings.
type Config struct {
	// Storage contains connection pool and write queue settings.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Retry contains transient failure retry settings.
	Retry RetryConfig `json:"retry" yaml:"retry"`

	// Service contains delegation service settings.
	Service ServiceConfig `json:"service" yaml:"service"`

	// Escalation contains escalation protocol thresholds.
	Escalation EscalationConfig `json:"escalation" yaml:"escalation"`

	// Decay contains engagement decay job settings.
	Decay DecayConfig `json:"decay" yaml:"decay"`

	// Backup contains snapshot rotation settings.
	Backup BackupConfig `json:"backup" yaml:"backup"`

	// Logging contains settings for operational logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// StorageConfig configures the embedded database layer.
type StorageConfig struct {
	// PoolMax is the maximum number of concurrently open connections.
	PoolMax int `json:"pool_max" yaml:"pool_max"`

	// AcquireTimeout bounds how long a caller waits for a free connection.
	AcquireTimeout time.Duration `json:"acquire_timeout,omitempty" yaml:"acquire_timeout,omitempty"`

	// BusyTimeout is the SQLite busy handler timeout per connection.
	BusyTimeout time.Duration `json:"busy_timeout,omitempty" yaml:"busy_timeout,omitempty"`

	// QueueSize is the capacity of the single-writer queue.
	QueueSize int `json:"queue_size" yaml:"queue_size"`
}

// RetryConfig configures retry behavior for transient database errors.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// BaseDelay is the backoff before the second attempt; it doubles
	// each attempt up to MaxDelay.
	BaseDelay time.Duration `json:"base_delay,omitempty" yaml:"base_delay,omitempty"`

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// ServiceConfig configures the database delegation service and its client.
type ServiceConfig struct {
	// Mode selects execution: "auto" (probe, then fall back to local),
	// "local", or "remote".
	Mode string `json:"mode" yaml:"mode"`

	// ListenAddr is the address the service binds to when serving.
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`

	// RemoteURL is the base URL of the service, e.g. http://localhost:8080.
	// Required when Mode is "remote".
	RemoteURL string `json:"remote_url,omitempty" yaml:"remote_url,omitempty"`

	// RequestTimeout bounds a single remote call.
	RequestTimeout time.Duration `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`

	// HealthTimeout bounds the startup health probe.
	HealthTimeout time.Duration `json:"health_timeout,omitempty" yaml:"health_timeout,omitempty"`

	// RateLimit is the allowed requests per second per client on the
	// service. Zero disables rate limiting.
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`

	// RateBurst is the burst size for the rate limiter.
	RateBurst int `json:"rate_burst,omitempty" yaml:"rate_burst,omitempty"`
}

// EscalationConfig configures the escalation reservation protocol.
type EscalationConfig struct {
	// InitialThreshold is the engagement required for round 1.
	InitialThreshold int64 `json:"initial_threshold" yaml:"initial_threshold"`

	// Interval is the additional engagement, beyond the previous round's
	// reservation point, required for each following round.
	Interval int64 `json:"interval" yaml:"interval"`
}

// DecayConfig configures the periodic engagement decay job.
type DecayConfig struct {
	// Enabled turns the background decay job on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Interval is how often decay runs.
	Interval time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`

	// Factor is the multiplier applied to engagement each cycle.
	// Must be in (0, 1].
	Factor float64 `json:"factor" yaml:"factor"`
}

// BackupConfig configures snapshot rotation.
type BackupConfig struct {
	// Keep is the maximum number of snapshot files to retain.
	Keep int `json:"keep" yaml:"keep"`
}

// LoggingConfig configures rumormill's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "warn", "error",
	// "debug", or "trace". "debug" enables operation logging to
	// .rumormill/operations.jsonl.
	Level string `json:"level" yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			PoolMax:        constants.DefaultPoolMax,
			AcquireTimeout: constants.DefaultAcquireTimeout,
			BusyTimeout:    constants.DefaultBusyTimeout,
			QueueSize:      constants.DefaultQueueSize,
		},
		Retry: RetryConfig{
			MaxAttempts: constants.DefaultRetryAttempts,
			BaseDelay:   constants.DefaultRetryBaseDelay,
			MaxDelay:    constants.DefaultRetryMaxDelay,
		},
		Service: ServiceConfig{
			Mode:           constants.ModeAuto.String(),
			ListenAddr:     constants.DefaultListenAddr,
			RequestTimeout: constants.DefaultRequestTimeout,
			HealthTimeout:  constants.DefaultHealthTimeout,
		},
		Escalation: EscalationConfig{
			InitialThreshold: constants.DefaultInitialThreshold,
			Interval:         constants.DefaultEscalationInterval,
		},
		Decay: DecayConfig{
			Enabled:  false,
			Interval: constants.DefaultDecayInterval,
			Factor:   constants.DefaultDecayFactor,
		},
		Backup: BackupConfig{
			Keep: constants.MaxBackupRotation,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.rumormill/config.yaml -> environment variables
func Load() (*Config, error) {
	config := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".rumormill", "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Storage.PoolMax < 1 {
		return fmt.Errorf("storage.pool_max must be at least 1, got %d", c.Storage.PoolMax)
	}
	if c.Storage.QueueSize < 1 {
		return fmt.Errorf("storage.queue_size must be at least 1, got %d", c.Storage.QueueSize)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}

	if !constants.ExecMode(c.Service.Mode).Valid() {
		return fmt.Errorf("invalid service.mode: %s (valid: auto, local, remote)", c.Service.Mode)
	}
	if c.Service.Mode == constants.ModeRemote.String() && c.Service.RemoteURL == "" {
		return fmt.Errorf("service.mode remote requires service.remote_url")
	}
	if c.Service.RateLimit < 0 {
		return fmt.Errorf("service.rate_limit must be non-negative, got %f", c.Service.RateLimit)
	}

	if c.Escalation.InitialThreshold < 1 {
		return fmt.Errorf("escalation.initial_threshold must be positive, got %d", c.Escalation.InitialThreshold)
	}
	if c.Escalation.Interval < 1 {
		return fmt.Errorf("escalation.interval must be positive, got %d", c.Escalation.Interval)
	}

	if c.Decay.Factor <= 0 || c.Decay.Factor > 1 {
		return fmt.Errorf("decay.factor must be in (0, 1], got %f", c.Decay.Factor)
	}

	if c.Backup.Keep < 1 {
		return fmt.Errorf("backup.keep must be at least 1, got %d", c.Backup.Keep)
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: trace, debug, info, warn, error, or empty for default)", c.Logging.Level)
	}

	return nil
}

// StorageOptions maps the storage and retry sections onto storage.Options.
// Relationship hints, the logger, and the operation log are wired by the
// caller.
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		PoolMax:        c.Storage.PoolMax,
		AcquireTimeout: c.Storage.AcquireTimeout,
		BusyTimeout:    c.Storage.BusyTimeout,
		QueueSize:      c.Storage.QueueSize,
		Retry: storage.RetryPolicy{
			MaxAttempts: c.Retry.MaxAttempts,
			BaseDelay:   c.Retry.BaseDelay,
			MaxDelay:    c.Retry.MaxDelay,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("RUMORMILL_MODE"); v != "" {
		config.Service.Mode = v
	}
	if v := os.Getenv("RUMORMILL_REMOTE_URL"); v != "" {
		config.Service.RemoteURL = v
	}
	if v := os.Getenv("RUMORMILL_LISTEN_ADDR"); v != "" {
		config.Service.ListenAddr = v
	}

	if v := os.Getenv("RUMORMILL_POOL_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Storage.PoolMax = n
		}
	}
	if v := os.Getenv("RUMORMILL_ACQUIRE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Storage.AcquireTimeout = d
		}
	}
	if v := os.Getenv("RUMORMILL_BUSY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Storage.BusyTimeout = d
		}
	}

	if v := os.Getenv("RUMORMILL_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Retry.MaxAttempts = n
		}
	}

	if v := os.Getenv("RUMORMILL_INITIAL_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Escalation.InitialThreshold = n
		}
	}
	if v := os.Getenv("RUMORMILL_ESCALATION_INTERVAL"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Escalation.Interval = n
		}
	}

	if v := os.Getenv("RUMORMILL_DECAY_ENABLED"); v != "" {
		config.Decay.Enabled = v == "true" || v == "1"
	}

	if v := os.Getenv("RUMORMILL_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}
