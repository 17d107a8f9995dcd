package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sync     SyncConfig     `yaml:"sync"`
	Channel  ChannelConfig  `yaml:"channel"`
	Report   ReportConfig   `yaml:"report"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Probe    ProbeConfig    `yaml:"probe"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains settings for the local HTTP surface the UI talks to.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains durable action store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig contains settings for the upstream REST API that queued
// actions are replayed against.
type SyncConfig struct {
	BaseURL   string   `yaml:"base_url"`
	AuthToken string   `yaml:"-"` // env-only, never in YAML
	Timeout   Duration `yaml:"timeout"`
}

// ChannelConfig contains real-time channel settings.
type ChannelConfig struct {
	BaseURL           string   `yaml:"base_url"`
	BackoffFloor      Duration `yaml:"backoff_floor"`
	BackoffCeiling    Duration `yaml:"backoff_ceiling"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
}

// ReportConfig contains error-reporting pipeline settings.
type ReportConfig struct {
	Endpoint    string   `yaml:"endpoint"`
	MaxQueued   int      `yaml:"max_queued"`
	BatchSize   int      `yaml:"batch_size"`
	FlushDelay  Duration `yaml:"flush_delay"`
	MaxRetries  int      `yaml:"max_retries"`
	DedupWindow Duration `yaml:"dedup_window"`
}

// OutboxConfig contains offline action queue settings.
type OutboxConfig struct {
	// MaxAge drops queued actions older than this at drain time.
	// Zero means actions never expire.
	MaxAge Duration `yaml:"max_age"`
}

// ProbeConfig contains connectivity detector settings.
type ProbeConfig struct {
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	// Determine config path
	configPath := getEnv("TETHER_CONFIG_PATH", "config/tether.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	// Load YAML file (file must exist for this function)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            7410,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/tether.db",
		},
		Sync: SyncConfig{
			Timeout: Duration(15 * time.Second),
		},
		Channel: ChannelConfig{
			BackoffFloor:      Duration(1 * time.Second),
			BackoffCeiling:    Duration(30 * time.Second),
			HeartbeatInterval: Duration(25 * time.Second),
		},
		Report: ReportConfig{
			MaxQueued:   50,
			BatchSize:   10,
			FlushDelay:  Duration(5 * time.Second),
			MaxRetries:  3,
			DedupWindow: Duration(60 * time.Second),
		},
		Outbox: OutboxConfig{
			MaxAge: 0,
		},
		Probe: ProbeConfig{
			Interval: Duration(10 * time.Second),
			Timeout:  Duration(5 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file is OK; use defaults
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("TETHER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	applyEnvDuration("TETHER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	applyEnvDuration("TETHER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	applyEnvDuration("TETHER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	if v := os.Getenv("TETHER_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Sync
	if v := os.Getenv("TETHER_SYNC_URL"); v != "" {
		cfg.Sync.BaseURL = v
	}
	if v := os.Getenv("TETHER_AUTH_TOKEN"); v != "" {
		cfg.Sync.AuthToken = v
	}
	applyEnvDuration("TETHER_SYNC_TIMEOUT", &cfg.Sync.Timeout)

	// Channel
	if v := os.Getenv("TETHER_CHANNEL_URL"); v != "" {
		cfg.Channel.BaseURL = v
	}
	applyEnvDuration("TETHER_BACKOFF_FLOOR", &cfg.Channel.BackoffFloor)
	applyEnvDuration("TETHER_BACKOFF_CEILING", &cfg.Channel.BackoffCeiling)
	applyEnvDuration("TETHER_HEARTBEAT_INTERVAL", &cfg.Channel.HeartbeatInterval)

	// Report
	if v := os.Getenv("TETHER_REPORT_ENDPOINT"); v != "" {
		cfg.Report.Endpoint = v
	}
	if v := os.Getenv("TETHER_REPORT_MAX_QUEUED"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Report.MaxQueued = n
		}
	}
	if v := os.Getenv("TETHER_REPORT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Report.BatchSize = n
		}
	}
	applyEnvDuration("TETHER_REPORT_FLUSH_DELAY", &cfg.Report.FlushDelay)
	if v := os.Getenv("TETHER_REPORT_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Report.MaxRetries = n
		}
	}
	applyEnvDuration("TETHER_REPORT_DEDUP_WINDOW", &cfg.Report.DedupWindow)

	// Outbox
	applyEnvDuration("TETHER_OUTBOX_MAX_AGE", &cfg.Outbox.MaxAge)

	// Probe
	applyEnvDuration("TETHER_PROBE_INTERVAL", &cfg.Probe.Interval)
	applyEnvDuration("TETHER_PROBE_TIMEOUT", &cfg.Probe.Timeout)

	// Log
	if v := os.Getenv("TETHER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TETHER_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// applyEnvDuration overrides dst when the env var holds a valid duration.
func applyEnvDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// validate checks that required configuration values are set and sane.
func (c *Config) validate() error {
	if c.Sync.BaseURL == "" {
		return errors.New("sync.base_url (or TETHER_SYNC_URL) is required")
	}
	if c.Channel.BackoffFloor <= 0 {
		return errors.New("channel.backoff_floor must be positive")
	}
	if c.Channel.BackoffCeiling < c.Channel.BackoffFloor {
		return errors.New("channel.backoff_ceiling must be >= channel.backoff_floor")
	}
	if c.Report.MaxQueued <= 0 {
		return errors.New("report.max_queued must be positive")
	}
	if c.Report.BatchSize <= 0 {
		return errors.New("report.batch_size must be positive")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
