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
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Indexing IndexingConfig `mapstructure:"indexing"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Sitemap  SitemapConfig  `mapstructure:"sitemap"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Provider is "memory" or "postgres".
	Provider string `mapstructure:"provider"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds the topics used for status events and notifications.
// Leave ProjectID empty to disable publishing.
type PubSubConfig struct {
	ProjectID          string `mapstructure:"project_id"`
	EventsTopic        string `mapstructure:"events_topic"`
	NotificationsTopic string `mapstructure:"notifications_topic"`
}

// IndexingConfig tunes the external API client and dispatch loop.
type IndexingConfig struct {
	Endpoint             string `mapstructure:"endpoint"`
	NotificationType     string `mapstructure:"notification_type"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds"`
	MinAccountIntervalMs int    `mapstructure:"min_account_interval_ms"`
	SubmissionDelayMs    int    `mapstructure:"submission_delay_ms"`
	ProgressEvery        int    `mapstructure:"progress_every"`
}

// RetryConfig configures submission retry behavior.
type RetryConfig struct {
	MaxRetries    int `mapstructure:"max_retries"`
	BackoffBaseMs int `mapstructure:"backoff_base_ms"`
	BackoffCapMs  int `mapstructure:"backoff_cap_ms"`
}

// SitemapConfig configures the sitemap crawler.
type SitemapConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxDepth       int    `mapstructure:"max_depth"`
	ArchiveBucket  string `mapstructure:"archive_bucket"`
	ArchivePrefix  string `mapstructure:"archive_prefix"`
}

// SweeperConfig controls the quota-reset sweeper.
type SweeperConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
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
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("pubsub.events_topic", "indexer-status-events")
	v.SetDefault("pubsub.notifications_topic", "indexer-notifications")
	v.SetDefault("indexing.notification_type", "URL_UPDATED")
	v.SetDefault("indexing.timeout_seconds", 30)
	v.SetDefault("indexing.min_account_interval_ms", 1000)
	v.SetDefault("indexing.submission_delay_ms", 100)
	v.SetDefault("indexing.progress_every", 10)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.backoff_base_ms", 1000)
	v.SetDefault("retry.backoff_cap_ms", 30000)
	v.SetDefault("sitemap.timeout_seconds", 30)
	v.SetDefault("sitemap.max_depth", 3)
	v.SetDefault("sitemap.archive_prefix", "sitemaps")
	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval_seconds", 300)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Storage.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.provider is postgres")
		}
	default:
		return fmt.Errorf("storage.provider must be memory or postgres, got %q", c.Storage.Provider)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Indexing.TimeoutSeconds <= 0 {
		return fmt.Errorf("indexing.timeout_seconds must be > 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Sweeper.Enabled && c.Sweeper.IntervalSeconds <= 0 {
		return fmt.Errorf("sweeper.interval_seconds must be > 0 when sweeper is enabled")
	}
	return nil
}

// IndexingTimeout converts the configured client timeout to a duration.
func (c Config) IndexingTimeout() time.Duration {
	return time.Duration(c.Indexing.TimeoutSeconds) * time.Second
}

// MinAccountInterval converts the per-account spacing to a duration.
func (c Config) MinAccountInterval() time.Duration {
	return time.Duration(c.Indexing.MinAccountIntervalMs) * time.Millisecond
}

// SubmissionDelay converts the inter-submission pause to a duration.
func (c Config) SubmissionDelay() time.Duration {
	return time.Duration(c.Indexing.SubmissionDelayMs) * time.Millisecond
}

// RetryBackoffBase converts the backoff base to a duration.
func (c Config) RetryBackoffBase() time.Duration {
	return time.Duration(c.Retry.BackoffBaseMs) * time.Millisecond
}

// RetryBackoffCap converts the backoff ceiling to a duration.
func (c Config) RetryBackoffCap() time.Duration {
	return time.Duration(c.Retry.BackoffCapMs) * time.Millisecond
}

// SitemapTimeout converts the sitemap fetch timeout to a duration.
func (c Config) SitemapTimeout() time.Duration {
	return time.Duration(c.Sitemap.TimeoutSeconds) * time.Second
}

// SweeperInterval converts the sweep cadence to a duration.
func (c Config) SweeperInterval() time.Duration {
	return time.Duration(c.Sweeper.IntervalSeconds) * time.Second
}
