package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
fetch:
  max_retries: 5
  base_delay: 250ms
  max_delay: 45s
  timeout: 10s
  concurrency: 4
proxy:
  url: http://primary:8080
  fallback_url: http://fallback:8080
jobs:
  workers: 3
  max_units: 50
artifacts:
  backend: memory
  format: markdown
  ttl: 2h
history:
  backend: sqlite
  path: runs.db
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Fetch.MaxRetries != 5 || cfg.Fetch.BaseDelay != 250*time.Millisecond || cfg.Fetch.Concurrency != 4 {
		t.Fatalf("expected fetch overrides to apply: %+v", cfg.Fetch)
	}
	if cfg.Fetch.MaxDelay != 45*time.Second {
		t.Fatalf("expected max_delay override, got %v", cfg.Fetch.MaxDelay)
	}
	if cfg.Fetch.RateLimitDelay != 2*time.Second {
		t.Fatalf("expected default rate limit delay, got %v", cfg.Fetch.RateLimitDelay)
	}
	if cfg.Jobs.Workers != 3 || cfg.Jobs.MaxUnits != 50 || cfg.Jobs.PollInterval != 500*time.Millisecond {
		t.Fatalf("unexpected jobs config: %+v", cfg.Jobs)
	}
	if cfg.Artifacts.Backend != "memory" || cfg.Artifacts.Format != "markdown" || cfg.Artifacts.TTL != 2*time.Hour {
		t.Fatalf("unexpected artifacts config: %+v", cfg.Artifacts)
	}
	if cfg.History.Backend != "sqlite" || cfg.History.Path != "runs.db" {
		t.Fatalf("unexpected history config: %+v", cfg.History)
	}
	if cfg.Logging.Development {
		t.Fatal("expected logging.development=false")
	}
	if cfg.ProxyMode() != "failover" {
		t.Fatalf("expected failover proxy mode, got %s", cfg.ProxyMode())
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Fetch.MaxRetries != 3 || cfg.Fetch.Concurrency != 2 || cfg.Fetch.Timeout != 15*time.Second {
		t.Fatalf("unexpected fetch defaults: %+v", cfg.Fetch)
	}
	if cfg.Fetch.MaxDelay != 2*time.Minute {
		t.Fatalf("expected max_delay default 2m, got %v", cfg.Fetch.MaxDelay)
	}
	if cfg.Artifacts.Backend != "local" || cfg.Artifacts.Format != "epub" || cfg.Artifacts.TTL != time.Hour {
		t.Fatalf("unexpected artifact defaults: %+v", cfg.Artifacts)
	}
	if cfg.Jobs.MaxUnits != 1000 {
		t.Fatalf("expected max_units default 1000, got %d", cfg.Jobs.MaxUnits)
	}
	if cfg.ProxyMode() != "direct" {
		t.Fatalf("expected direct proxy mode, got %s", cfg.ProxyMode())
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid retries", mutate: func(c *Config) { c.Fetch.MaxRetries = 0 }, want: "fetch.max_retries"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Fetch.Concurrency = 0 }, want: "fetch.concurrency"},
		{name: "invalid timeout", mutate: func(c *Config) { c.Fetch.Timeout = 0 }, want: "fetch.timeout"},
		{name: "negative delay", mutate: func(c *Config) { c.Fetch.BaseDelay = -time.Second }, want: "fetch delays"},
		{name: "negative max delay", mutate: func(c *Config) { c.Fetch.MaxDelay = -time.Second }, want: "fetch delays"},
		{
			name: "headless missing max parallel",
			mutate: func(c *Config) {
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
			},
			want: "headless.max_parallel",
		},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "no workers", mutate: func(c *Config) { c.Jobs.Workers = 0 }, want: "jobs.workers"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Artifacts.Backend = "gcs" }, want: "artifacts.bucket"},
		{name: "unknown backend", mutate: func(c *Config) { c.Artifacts.Backend = "s3" }, want: "artifacts.backend"},
		{name: "unknown format", mutate: func(c *Config) { c.Artifacts.Format = "pdf" }, want: "artifacts.format"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.History.Backend = "postgres" }, want: "history.dsn"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.Topic = "done" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
