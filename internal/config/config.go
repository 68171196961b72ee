// Package config loads and validates service configuration from files and
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Catalog store providers.
const (
	CatalogMemory   = "memory"
	CatalogPostgres = "postgres"
)

// Lifecycle event providers.
const (
	EventsNone   = "none"
	EventsPubSub = "pubsub"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Import   ImportConfig   `mapstructure:"import"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	DB       DBConfig       `mapstructure:"db"`
	Webhooks WebhooksConfig `mapstructure:"webhooks"`
	Events   EventsConfig   `mapstructure:"events"`
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

type ImportConfig struct {
	Concurrency      int    `mapstructure:"concurrency"`
	QueueDepth       int    `mapstructure:"queue_depth"`
	SpoolDir         string `mapstructure:"spool_dir"`
	FlushRows        int    `mapstructure:"flush_rows"`
	FlushIntervalMs  int    `mapstructure:"flush_interval_ms"`
	MaxErrors        int    `mapstructure:"max_errors"`
	SubscriberBuffer int    `mapstructure:"subscriber_buffer"`
}

type CatalogConfig struct {
	Provider string `mapstructure:"provider"`
}

type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

type WebhooksConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	Workers       int  `mapstructure:"workers"`
	QueueDepth    int  `mapstructure:"queue_depth"`
	MaxAttempts   int  `mapstructure:"max_attempts"`
	RetryDelayMs  int  `mapstructure:"retry_delay_ms"`
	RatePerMinute int  `mapstructure:"rate_per_minute"`
	TimeoutSec    int  `mapstructure:"timeout_seconds"`
}

type EventsConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load reads configuration from the optional file at path, layered under
// IMPORTD_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IMPORTD")
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
	v.SetDefault("server.timeout_seconds", 30)
	v.SetDefault("logging.development", true)
	v.SetDefault("import.concurrency", 2)
	v.SetDefault("import.queue_depth", 64)
	v.SetDefault("import.spool_dir", "")
	v.SetDefault("import.flush_rows", 500)
	v.SetDefault("import.flush_interval_ms", 200)
	v.SetDefault("import.max_errors", 100)
	v.SetDefault("import.subscriber_buffer", 16)
	v.SetDefault("catalog.provider", CatalogMemory)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("webhooks.enabled", true)
	v.SetDefault("webhooks.workers", 2)
	v.SetDefault("webhooks.queue_depth", 256)
	v.SetDefault("webhooks.max_attempts", 3)
	v.SetDefault("webhooks.retry_delay_ms", 500)
	v.SetDefault("webhooks.rate_per_minute", 60)
	v.SetDefault("webhooks.timeout_seconds", 10)
	v.SetDefault("events.provider", EventsNone)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Import.Concurrency <= 0 {
		return fmt.Errorf("import.concurrency must be > 0")
	}
	if c.Import.QueueDepth <= 0 {
		return fmt.Errorf("import.queue_depth must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Catalog.Provider {
	case CatalogMemory:
	case CatalogPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when catalog.provider is postgres")
		}
	default:
		return fmt.Errorf("catalog.provider must be %q or %q", CatalogMemory, CatalogPostgres)
	}
	switch c.Events.Provider {
	case EventsNone:
	case EventsPubSub:
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic must be set when events.provider is pubsub")
		}
	default:
		return fmt.Errorf("events.provider must be %q or %q", EventsNone, EventsPubSub)
	}
	return nil
}

// FlushInterval converts the flush interval config to a duration.
func (c ImportConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// RequestTimeout converts the server timeout config to a duration.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryDelay converts the webhook retry delay config to a duration.
func (c WebhooksConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// Timeout converts the webhook request timeout config to a duration.
func (c WebhooksConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}
