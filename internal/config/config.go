// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/snapfetch/snapfetch/internal/content"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Render     RenderConfig     `mapstructure:"render"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
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

// FetchConfig configures the plain HTTP fetch transport.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ClassifierConfig tunes the rendering-decision heuristics. The threshold and
// domain list are deliberately configuration, not constants.
type ClassifierConfig struct {
	SmallPageThresholdBytes int      `mapstructure:"small_page_threshold_bytes"`
	RenderDomains           []string `mapstructure:"render_domains"`
}

// RenderConfig bounds the headless rendering subsystem.
type RenderConfig struct {
	JSCapacity        int `mapstructure:"js_capacity"`
	PDFCapacity       int `mapstructure:"pdf_capacity"`
	AcquireWaitMs     int `mapstructure:"acquire_wait_ms"`
	NavTimeoutSeconds int `mapstructure:"nav_timeout_seconds"`
}

// BatchConfig sets batch job defaults applied when a JobSpec omits them.
type BatchConfig struct {
	DefaultConcurrency   int    `mapstructure:"default_concurrency"`
	MaxConcurrency       int    `mapstructure:"max_concurrency"`
	DefaultFormat        string `mapstructure:"default_format"`
	TimeoutPerURLSeconds int    `mapstructure:"timeout_per_url_seconds"`
}

// RedisConfig controls access to the job store backend.
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	JobTTLDays int    `mapstructure:"job_ttl_days"`
}

// StorageConfig selects the raw-content archive backend.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for completion-event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SNAPFETCH")
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
	v.SetDefault("fetch.user_agent", "snapfetch/0.1")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("classifier.small_page_threshold_bytes", 51200)
	v.SetDefault("classifier.render_domains", []string{})
	v.SetDefault("render.js_capacity", 2)
	v.SetDefault("render.pdf_capacity", 1)
	v.SetDefault("render.acquire_wait_ms", 5000)
	v.SetDefault("render.nav_timeout_seconds", 25)
	v.SetDefault("batch.default_concurrency", 4)
	v.SetDefault("batch.max_concurrency", 16)
	v.SetDefault("batch.default_format", string(content.FormatMarkdown))
	v.SetDefault("batch.timeout_per_url_seconds", 30)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.job_ttl_days", 7)
	v.SetDefault("storage.provider", "noop")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Classifier.SmallPageThresholdBytes <= 0 {
		return fmt.Errorf("classifier.small_page_threshold_bytes must be > 0")
	}
	if c.Render.JSCapacity <= 0 || c.Render.PDFCapacity <= 0 {
		return fmt.Errorf("render capacities must be > 0")
	}
	if c.Batch.DefaultConcurrency <= 0 {
		return fmt.Errorf("batch.default_concurrency must be > 0")
	}
	if c.Batch.MaxConcurrency < c.Batch.DefaultConcurrency {
		return fmt.Errorf("batch.max_concurrency must be >= batch.default_concurrency")
	}
	if !content.Format(c.Batch.DefaultFormat).Valid() {
		return fmt.Errorf("batch.default_format %q is not a known format", c.Batch.DefaultFormat)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	return nil
}

// FetchTimeout converts the fetch timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// AcquireWait returns the render permit wait window.
func (c Config) AcquireWait() time.Duration {
	return time.Duration(c.Render.AcquireWaitMs) * time.Millisecond
}

// TimeoutPerURL returns the default per-item timeout for batch jobs.
func (c Config) TimeoutPerURL() time.Duration {
	return time.Duration(c.Batch.TimeoutPerURLSeconds) * time.Second
}
