package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source.Mode != ModeWeb || cfg.Source.URLTemplate != WebURLTemplate {
		t.Fatalf("unexpected source defaults: %+v", cfg.Source)
	}
	if cfg.Fetcher.MinDelay != time.Second {
		t.Fatalf("expected 1s min delay, got %v", cfg.Fetcher.MinDelay)
	}
	if cfg.Fetcher.MaxRetries != 3 || cfg.Fetcher.BlockedRetries != 3 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Fetcher)
	}
	if cfg.Fetcher.RateLimitBackoff != 5*time.Second || cfg.Fetcher.TransientBackoff != 2*time.Second {
		t.Fatalf("unexpected backoff defaults: %+v", cfg.Fetcher)
	}
	if cfg.Session.SeedSerial != 99530000 || cfg.Session.BootstrapWindow != 200 || cfg.Session.CatchUpCeiling != 2000 {
		t.Fatalf("unexpected session defaults: %+v", cfg.Session)
	}
	if cfg.Locator.InitialStep != 10000 || cfg.Locator.SeedFallback != 25 {
		t.Fatalf("unexpected locator defaults: %+v", cfg.Locator)
	}
	if cfg.State.Backend != BackendFile || cfg.Sink.Backend != BackendFile {
		t.Fatalf("unexpected backends: %+v %+v", cfg.State, cfg.Sink)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: true
  level: debug
source:
  mode: api
  user_agents: ["agent-a", "agent-b"]
  block_markers: ["Request Rejected"]
fetcher:
  max_retries: 5
  blocked_delay: 3s
session:
  seed_serial: 99600000
  bootstrap_window: 50
  catchup_ceiling: 500
state:
  backend: sqlite
sink:
  backend: postgres
postgres:
  dsn: postgres://localhost/serialwatch
  records_table: marks
pubsub:
  project_id: proj
  topic_name: sessions
server:
  port: 9090
watch:
  schedule: "*/15 * * * *"
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Source.URLTemplate != APIURLTemplate {
		t.Fatalf("expected api template, got %s", cfg.Source.URLTemplate)
	}
	if cfg.Fetcher.MinDelay != 250*time.Millisecond {
		t.Fatalf("expected api mode delay, got %v", cfg.Fetcher.MinDelay)
	}
	if len(cfg.Source.UserAgents) != 2 || cfg.Source.UserAgents[1] != "agent-b" {
		t.Fatalf("expected user agents to load: %+v", cfg.Source.UserAgents)
	}
	if cfg.Fetcher.MaxRetries != 5 || cfg.Fetcher.BlockedDelay != 3*time.Second {
		t.Fatalf("expected fetcher overrides to apply: %+v", cfg.Fetcher)
	}
	if cfg.Session.CatchUpCeiling != 500 || cfg.Session.SeedSerial != 99600000 {
		t.Fatalf("expected session overrides: %+v", cfg.Session)
	}
	if cfg.Postgres.RecordsTable != "marks" || cfg.Sink.Backend != BackendPostgres {
		t.Fatalf("expected postgres sink: %+v", cfg.Postgres)
	}
	if cfg.Server.Port != 9090 || cfg.Watch.Schedule != "*/15 * * * *" {
		t.Fatalf("expected server/watch overrides")
	}
	if !cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
}

func TestExplicitMinDelayWinsOverMode(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("source:\n  mode: api\nfetcher:\n  min_delay: 0s\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Fetcher.MinDelay != 0 {
		t.Fatalf("expected explicit zero delay, got %v", cfg.Fetcher.MinDelay)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERIALWATCH_SESSION_CATCHUP_CEILING", "750")
	t.Setenv("SERIALWATCH_FETCHER_MIN_DELAY", "2s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.CatchUpCeiling != 750 {
		t.Fatalf("expected env ceiling 750, got %d", cfg.Session.CatchUpCeiling)
	}
	if cfg.Fetcher.MinDelay != 2*time.Second {
		t.Fatalf("expected env min delay 2s, got %v", cfg.Fetcher.MinDelay)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Source.Mode = "ftp" }, "source.mode"},
		{"template without placeholder", func(c *Config) { c.Source.URLTemplate = "https://example.com" }, "source.url_template"},
		{"negative delay", func(c *Config) { c.Fetcher.MinDelay = -time.Second }, "fetcher.min_delay"},
		{"zero timeout", func(c *Config) { c.Fetcher.RequestTimeout = 0 }, "fetcher.request_timeout"},
		{"negative retries", func(c *Config) { c.Fetcher.BlockedRetries = -1 }, "fetcher.max_retries"},
		{"zero step", func(c *Config) { c.Locator.InitialStep = 0 }, "locator.initial_step"},
		{"zero seed", func(c *Config) { c.Session.SeedSerial = 0 }, "session.seed_serial"},
		{"zero window", func(c *Config) { c.Session.BootstrapWindow = 0 }, "session.bootstrap_window"},
		{"zero ceiling", func(c *Config) { c.Session.CatchUpCeiling = 0 }, "session.catchup_ceiling"},
		{"unknown state backend", func(c *Config) { c.State.Backend = "redis" }, "state.backend"},
		{"state cannot be none", func(c *Config) { c.State.Backend = BackendNone }, "state.backend"},
		{"postgres without dsn", func(c *Config) { c.Sink.Backend = BackendPostgres }, "postgres.dsn"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "sessions" }, "pubsub.project_id"},
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
