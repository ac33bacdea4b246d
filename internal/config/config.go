// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package config

import "time"

// Config holds all application configuration loaded from defaults, an
// optional YAML file and environment variables (highest priority).
//
// Loading order (Koanf v2):
//  1. Defaults: built-in sensible defaults for every setting
//  2. Config file: optional config.yaml for persistent settings
//  3. Environment variables: override any setting
//
// Config is immutable after Load() and safe for concurrent read access.
type Config struct {
	Analytics  AnalyticsConfig  `koanf:"analytics"`
	Properties []PropertySeed   `koanf:"properties"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	Retry      RetryConfig      `koanf:"retry"`
	Chunking   ChunkingConfig   `koanf:"chunking"`
	SmartCache SmartCacheConfig `koanf:"smart_cache"`
	Sync       SyncConfig       `koanf:"sync"`
	NATS       NATSConfig       `koanf:"nats"`
	Database   DatabaseConfig   `koanf:"database"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// AnalyticsConfig holds Google Analytics Data API connection settings.
//
// Environment Variables:
//   - ANALYTICS_ENDPOINT: API base URL (default: https://analyticsdata.googleapis.com)
//   - ANALYTICS_ACCESS_TOKEN: OAuth bearer token for the Data API
//   - ANALYTICS_TIMEOUT: per-request timeout (default: 120s)
type AnalyticsConfig struct {
	Endpoint    string        `koanf:"endpoint" validate:"required,url"`
	AccessToken string        `koanf:"access_token"`
	Timeout     time.Duration `koanf:"timeout" validate:"gt=0"`

	// PacingPerSecond smooths outbound requests across all properties so a
	// large fleet does not burst the upstream. Independent of the per-property
	// hourly budget.
	PacingPerSecond float64 `koanf:"pacing_per_second" validate:"gt=0"`
	PacingBurst     int     `koanf:"pacing_burst" validate:"gte=1"`
}

// PropertySeed declares one analytics property in the config file. Seeds are
// upserted into the store at startup; properties absent from the seed list
// are deactivated, never deleted.
type PropertySeed struct {
	ID               string        `koanf:"id" validate:"required"`
	Name             string        `koanf:"name" validate:"required"`
	AccountName      string        `koanf:"account_name"`
	SyncFrequency    time.Duration `koanf:"sync_frequency"`
	RateLimitPerHour int           `koanf:"rate_limit_per_hour"`
}

// RateLimitConfig bounds outbound API usage per property.
type RateLimitConfig struct {
	// PerHour is the default hourly request budget for a property; a seed
	// may override it per property.
	PerHour int `koanf:"per_hour" validate:"gte=1"`
}

// RetryConfig controls transient-failure retries for property fetches.
// Delays is consumed positionally: attempt N waits Delays[N-1] before
// retrying, and the last entry repeats if attempts exceed the list.
type RetryConfig struct {
	MaxAttempts int             `koanf:"max_attempts" validate:"gte=1"`
	Delays      []time.Duration `koanf:"delays" validate:"min=1"`
}

// ChunkingConfig controls batch splitting for large property fleets.
type ChunkingConfig struct {
	PropertiesPerChunk int `koanf:"properties_per_chunk" validate:"gte=1"`
	ChunkThreshold     int `koanf:"chunk_threshold" validate:"gte=1"`
}

// SmartCacheConfig drives time-of-day cache freshness for the aggregate
// read path: shorter TTLs during business hours when dashboards are watched,
// longer TTLs overnight. All TTLs are clamped to [MinDuration, MaxDuration].
type SmartCacheConfig struct {
	MinDuration      time.Duration `koanf:"min_duration" validate:"gt=0"`
	MaxDuration      time.Duration `koanf:"max_duration" validate:"gt=0"`
	PeakFreshness    time.Duration `koanf:"peak_hours_freshness" validate:"gt=0"`
	OffPeakFreshness time.Duration `koanf:"off_peak_freshness" validate:"gt=0"`
	PeakHoursStart   int           `koanf:"peak_hours_start" validate:"gte=0,lte=23"`
	PeakHoursEnd     int           `koanf:"peak_hours_end" validate:"gte=0,lte=24"`
	RateLimitPerHour int           `koanf:"rate_limit_per_hour" validate:"gte=1"`
	Path             string        `koanf:"path"`
}

// SyncConfig holds periodic synchronization settings.
type SyncConfig struct {
	Interval         time.Duration `koanf:"interval" validate:"gt=0"`
	Days             int           `koanf:"days" validate:"gte=1,lte=3650"`
	OnlyNeeded       bool          `koanf:"only_needed"`
	RealtimeEnabled  bool          `koanf:"realtime_enabled"`
	RealtimeInterval time.Duration `koanf:"realtime_interval" validate:"gt=0"`

	// DefaultFrequency applies to seeds that do not declare their own
	// sync_frequency.
	DefaultFrequency time.Duration `koanf:"default_frequency" validate:"gt=0"`
}

// NATSConfig holds task-queue settings. With EmbeddedServer enabled the
// binary runs its own JetStream-enabled NATS server and needs no external
// broker.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	DurableName    string `koanf:"durable_name"`
	QueueGroup     string `koanf:"queue_group"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"gte=0"`
}

// ServerConfig holds the ops HTTP server settings (health, metrics and the
// aggregate read API).
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}
