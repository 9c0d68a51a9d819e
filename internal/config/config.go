// Package config loads and validates serialwatch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Source modes.
const (
	ModeWeb = "web"
	ModeAPI = "api"
)

// Default URL templates per source mode.
const (
	WebURLTemplate = "https://tsdr.uspto.gov/statusview/sn{serial}"
	APIURLTemplate = "https://tsdr.uspto.gov/ts/cd/casestatus/sn{serial}/content.html"
)

// Backend names for state and sink.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendNone     = "none"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Source   SourceConfig   `mapstructure:"source"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Locator  LocatorConfig  `mapstructure:"locator"`
	Session  SessionConfig  `mapstructure:"session"`
	State    StateConfig    `mapstructure:"state"`
	Sink     SinkConfig     `mapstructure:"sink"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Watch    WatchConfig    `mapstructure:"watch"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SourceConfig describes the registry being crawled.
type SourceConfig struct {
	Mode         string   `mapstructure:"mode"`
	URLTemplate  string   `mapstructure:"url_template"`
	UserAgents   []string `mapstructure:"user_agents"`
	BlockMarkers []string `mapstructure:"block_markers"`
}

// FetcherConfig governs pacing and retries.
type FetcherConfig struct {
	MinDelay         time.Duration `mapstructure:"min_delay"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	BlockedRetries   int           `mapstructure:"blocked_retries"`
	RateLimitBackoff time.Duration `mapstructure:"rate_limit_backoff"`
	TransientBackoff time.Duration `mapstructure:"transient_backoff"`
	BlockedDelay     time.Duration `mapstructure:"blocked_delay"`
}

// LocatorConfig tunes the frontier search.
type LocatorConfig struct {
	InitialStep  int64 `mapstructure:"initial_step"`
	SeedFallback int64 `mapstructure:"seed_fallback"`
}

// SessionConfig controls range selection.
type SessionConfig struct {
	SeedSerial      int64 `mapstructure:"seed_serial"`
	BootstrapWindow int64 `mapstructure:"bootstrap_window"`
	CatchUpCeiling  int64 `mapstructure:"catchup_ceiling"`
	ProgressEvery   int   `mapstructure:"progress_every"`
}

// StateConfig selects the crawl state backend.
type StateConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// SinkConfig selects the record sink backend.
type SinkConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// SQLiteConfig locates the embedded database.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls access to Postgres.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	StateTable      string        `mapstructure:"state_table"`
	RecordsTable    string        `mapstructure:"records_table"`
	SessionsTable   string        `mapstructure:"sessions_table"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// ArchiveConfig enables per-session archive objects in GCS.
type ArchiveConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for session notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the status server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// WatchConfig schedules recurring sessions.
type WatchConfig struct {
	Schedule   string `mapstructure:"schedule"`
	RunOnStart bool   `mapstructure:"run_on_start"`
}

// Load builds a Config from defaults, an optional file, and SERIALWATCH_* env vars.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SERIALWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyModeDefaults(v.IsSet("fetcher.min_delay"), v.IsSet("source.url_template"))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// fetcher.min_delay and source.url_template have no static default; they follow source.mode.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("source.mode", ModeWeb)
	v.SetDefault("fetcher.request_timeout", 20*time.Second)
	v.SetDefault("fetcher.max_retries", 3)
	v.SetDefault("fetcher.blocked_retries", 3)
	v.SetDefault("fetcher.rate_limit_backoff", 5*time.Second)
	v.SetDefault("fetcher.transient_backoff", 2*time.Second)
	v.SetDefault("fetcher.blocked_delay", 2*time.Second)
	v.SetDefault("locator.initial_step", 10000)
	v.SetDefault("locator.seed_fallback", 25)
	v.SetDefault("session.seed_serial", 99530000)
	v.SetDefault("session.bootstrap_window", 200)
	v.SetDefault("session.catchup_ceiling", 2000)
	v.SetDefault("session.progress_every", 10)
	v.SetDefault("state.backend", BackendFile)
	v.SetDefault("state.path", "data/crawl_state.json")
	v.SetDefault("sink.backend", BackendFile)
	v.SetDefault("sink.path", "data/history.json")
	v.SetDefault("sqlite.path", "data/serialwatch.db")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.ensure_schema", true)
	v.SetDefault("archive.prefix", "sessions")
	v.SetDefault("server.port", 8080)
	v.SetDefault("watch.schedule", "@every 30m")
	v.SetDefault("watch.run_on_start", true)
}

func (c *Config) applyModeDefaults(minDelaySet, templateSet bool) {
	if !minDelaySet {
		c.Fetcher.MinDelay = DefaultMinDelay(c.Source.Mode)
	}
	if !templateSet {
		c.Source.URLTemplate = WebURLTemplate
		if c.Source.Mode == ModeAPI {
			c.Source.URLTemplate = APIURLTemplate
		}
	}
}

// DefaultMinDelay is the inter-request delay used when none is configured.
func DefaultMinDelay(mode string) time.Duration {
	if mode == ModeAPI {
		return 250 * time.Millisecond
	}
	return time.Second
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Source.Mode != ModeWeb && c.Source.Mode != ModeAPI {
		return fmt.Errorf("source.mode must be %q or %q", ModeWeb, ModeAPI)
	}
	if !strings.Contains(c.Source.URLTemplate, "{serial}") {
		return fmt.Errorf("source.url_template must contain {serial}")
	}
	if c.Fetcher.MinDelay < 0 {
		return fmt.Errorf("fetcher.min_delay must be >= 0")
	}
	if c.Fetcher.RequestTimeout <= 0 {
		return fmt.Errorf("fetcher.request_timeout must be > 0")
	}
	if c.Fetcher.MaxRetries < 0 || c.Fetcher.BlockedRetries < 0 {
		return fmt.Errorf("fetcher.max_retries and fetcher.blocked_retries must be >= 0")
	}
	if c.Locator.InitialStep <= 0 {
		return fmt.Errorf("locator.initial_step must be > 0")
	}
	if c.Locator.SeedFallback < 0 {
		return fmt.Errorf("locator.seed_fallback must be >= 0")
	}
	if c.Session.SeedSerial <= 0 {
		return fmt.Errorf("session.seed_serial must be > 0")
	}
	if c.Session.BootstrapWindow <= 0 {
		return fmt.Errorf("session.bootstrap_window must be > 0")
	}
	if c.Session.CatchUpCeiling <= 0 {
		return fmt.Errorf("session.catchup_ceiling must be > 0")
	}
	if err := c.validateBackend("state.backend", c.State.Backend, c.State.Path, false); err != nil {
		return err
	}
	if err := c.validateBackend("sink.backend", c.Sink.Backend, c.Sink.Path, true); err != nil {
		return err
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

func (c Config) validateBackend(key, backend, path string, allowNone bool) error {
	switch backend {
	case BackendFile:
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("%s=file requires a path", key)
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLite.Path) == "" {
			return fmt.Errorf("sqlite.path is required when %s=sqlite", key)
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required when %s=postgres", key)
		}
	case BackendMemory:
	case BackendNone:
		if !allowNone {
			return fmt.Errorf("%s cannot be none", key)
		}
	default:
		return fmt.Errorf("%s %q is not supported", key, backend)
	}
	return nil
}
