// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	History   HistoryConfig   `mapstructure:"history"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Sites     SitesConfig     `mapstructure:"sites"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// FetchConfig governs per-unit retries and the page transport.
type FetchConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	RateLimitDelay    time.Duration `mapstructure:"rate_limit_delay"`
	MaxJitter         time.Duration `mapstructure:"max_jitter"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Concurrency       int           `mapstructure:"concurrency"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// ProxyConfig names the primary and fallback proxies. An empty URL means direct.
type ProxyConfig struct {
	URL         string `mapstructure:"url"`
	FallbackURL string `mapstructure:"fallback_url"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	BodyThreshold     int           `mapstructure:"body_threshold"`
}

// JobsConfig controls the job pool and request limits.
type JobsConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueDepth   int           `mapstructure:"queue_depth"`
	MaxUnits     int           `mapstructure:"max_units"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ArtifactsConfig selects where built files live and for how long.
type ArtifactsConfig struct {
	Backend           string        `mapstructure:"backend"`
	Dir               string        `mapstructure:"dir"`
	Bucket            string        `mapstructure:"bucket"`
	Prefix            string        `mapstructure:"prefix"`
	Format            string        `mapstructure:"format"`
	TTL               time.Duration `mapstructure:"ttl"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	CoverMaxDimension int           `mapstructure:"cover_max_dimension"`
}

// HistoryConfig selects the run history backend.
type HistoryConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProgressConfig tunes the lifecycle event hub.
type ProgressConfig struct {
	LogEnabled    bool          `mapstructure:"log_enabled"`
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// SitesConfig points at an optional site table overriding the bundled one.
type SitesConfig struct {
	File string `mapstructure:"file"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHAPTERFORGE")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.base_delay", "5s")
	v.SetDefault("fetch.rate_limit_delay", "2s")
	v.SetDefault("fetch.max_jitter", "2s")
	v.SetDefault("fetch.max_delay", "2m")
	v.SetDefault("fetch.timeout", "15s")
	v.SetDefault("fetch.concurrency", 2)
	v.SetDefault("fetch.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("fetch.requests_per_second", 0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("proxy.url", "")
	v.SetDefault("proxy.fallback_url", "")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.navigation_timeout", "45s")
	v.SetDefault("headless.body_threshold", 2048)
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("jobs.max_units", 1000)
	v.SetDefault("jobs.poll_interval", "500ms")
	v.SetDefault("artifacts.backend", "local")
	v.SetDefault("artifacts.dir", "")
	v.SetDefault("artifacts.prefix", "books")
	v.SetDefault("artifacts.format", "epub")
	v.SetDefault("artifacts.ttl", "1h")
	v.SetDefault("artifacts.sweep_interval", "10m")
	v.SetDefault("artifacts.cover_max_dimension", 1600)
	v.SetDefault("history.backend", "none")
	v.SetDefault("history.path", "chapterforge.db")
	v.SetDefault("history.table", "runs")
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch_size", 64)
	v.SetDefault("progress.flush_interval", "1s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Fetch.MaxRetries <= 0 {
		return fmt.Errorf("fetch.max_retries must be > 0")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.BaseDelay < 0 || c.Fetch.RateLimitDelay < 0 || c.Fetch.MaxJitter < 0 || c.Fetch.MaxDelay < 0 {
		return fmt.Errorf("fetch delays must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be > 0")
	}
	if c.Jobs.MaxUnits <= 0 {
		return fmt.Errorf("jobs.max_units must be > 0")
	}
	if c.Jobs.PollInterval <= 0 {
		return fmt.Errorf("jobs.poll_interval must be > 0")
	}
	switch c.Artifacts.Backend {
	case "local", "memory":
	case "gcs":
		if c.Artifacts.Bucket == "" {
			return fmt.Errorf("artifacts.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("artifacts.backend %q is not one of local, memory, gcs", c.Artifacts.Backend)
	}
	switch c.Artifacts.Format {
	case "epub", "markdown":
	default:
		return fmt.Errorf("artifacts.format %q is not one of epub, markdown", c.Artifacts.Format)
	}
	switch c.History.Backend {
	case "none", "":
	case "sqlite":
		if c.History.Path == "" {
			return fmt.Errorf("history.path must be set for the sqlite backend")
		}
	case "postgres":
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("history.backend %q is not one of none, sqlite, postgres", c.History.Backend)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is configured")
	}
	return nil
}

// ProxyMode labels how the transport reaches the network, for run history.
func (c Config) ProxyMode() string {
	switch {
	case c.Proxy.FallbackURL != "" && c.Proxy.FallbackURL != c.Proxy.URL:
		return "failover"
	case c.Proxy.URL != "" || c.Proxy.FallbackURL != "":
		return "fixed"
	default:
		return "direct"
	}
}
