// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/metricbridge/config.yaml",
	"/etc/metricbridge/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config
// file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. These are applied
// first, then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Analytics: AnalyticsConfig{
			Endpoint:        "https://analyticsdata.googleapis.com",
			AccessToken:     "",
			Timeout:         120 * time.Second,
			PacingPerSecond: 10,
			PacingBurst:     5,
		},
		RateLimit: RateLimitConfig{
			PerHour: 50,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Delays:      []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		},
		Chunking: ChunkingConfig{
			PropertiesPerChunk: 100,
			ChunkThreshold:     100,
		},
		SmartCache: SmartCacheConfig{
			MinDuration:      10 * time.Minute,
			MaxDuration:      60 * time.Minute,
			PeakFreshness:    15 * time.Minute,
			OffPeakFreshness: 60 * time.Minute,
			PeakHoursStart:   9,
			PeakHoursEnd:     17,
			RateLimitPerHour: 120,
			Path:             "/data/metricbridge/cache",
		},
		Sync: SyncConfig{
			Interval:         time.Hour,
			Days:             365,
			OnlyNeeded:       true,
			RealtimeEnabled:  true,
			RealtimeInterval: 2 * time.Minute,
			DefaultFrequency: time.Hour,
		},
		NATS: NATSConfig{
			Enabled:        true,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/metricbridge/nats",
			DurableName:    "sync-workers",
			QueueGroup:     "sync-workers",
		},
		Database: DatabaseConfig{
			Path:      "/data/metricbridge/metricbridge.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = runtime.NumCPU()
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8480,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if present)
//  3. Environment variables: override any setting
//
// Precedence: ENV > file > defaults. The returned Config has already
// passed Validate().
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// Transform environment variable names to koanf paths:
	// ANALYTICS_ACCESS_TOKEN -> analytics.access_token
	// SYNC_DAYS -> sync.days
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process list fields that arrive as comma-separated env strings
	if err := processListFields(k); err != nil {
		return nil, fmt.Errorf("failed to process list fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	applySeedDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// listConfigPaths defines which config paths should be parsed as
// comma-separated lists when set via environment variables.
var listConfigPaths = []string{
	"retry.delays",
}

// processListFields converts comma-separated string values to slices for
// known list fields. Env vars come in as strings but the config expects
// slices; YAML values already arrive as slices and are left alone.
func processListFields(k *koanf.Koanf) error {
	for _, path := range listConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// applySeedDefaults fills per-property settings that the seed list left
// unset from the fleet-wide defaults.
func applySeedDefaults(cfg *Config) {
	for i := range cfg.Properties {
		if cfg.Properties[i].SyncFrequency <= 0 {
			cfg.Properties[i].SyncFrequency = cfg.Sync.DefaultFrequency
		}
		if cfg.Properties[i].RateLimitPerHour <= 0 {
			cfg.Properties[i].RateLimitPerHour = cfg.RateLimit.PerHour
		}
	}
}

// envTransformFunc transforms environment variable names to koanf config
// paths. Unmapped variables are dropped so unrelated environment noise
// cannot leak into the configuration.
//
// Examples:
//   - ANALYTICS_ACCESS_TOKEN -> analytics.access_token
//   - RATE_LIMIT_PER_HOUR -> rate_limit.per_hour
//   - DUCKDB_PATH -> database.path
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Analytics Data API mappings
		"analytics_endpoint":     "analytics.endpoint",
		"analytics_access_token": "analytics.access_token",
		"analytics_timeout":      "analytics.timeout",
		"analytics_pacing":       "analytics.pacing_per_second",
		"analytics_pacing_burst": "analytics.pacing_burst",

		// Rate limit mappings
		"rate_limit_per_hour": "rate_limit.per_hour",

		// Retry mappings
		"retry_max_attempts": "retry.max_attempts",
		"retry_delays":       "retry.delays",

		// Chunking mappings
		"properties_per_chunk": "chunking.properties_per_chunk",
		"chunk_threshold":      "chunking.chunk_threshold",

		// Smart cache mappings
		"cache_min_duration":        "smart_cache.min_duration",
		"cache_max_duration":        "smart_cache.max_duration",
		"cache_peak_freshness":      "smart_cache.peak_hours_freshness",
		"cache_off_peak_freshness":  "smart_cache.off_peak_freshness",
		"cache_peak_hours_start":    "smart_cache.peak_hours_start",
		"cache_peak_hours_end":      "smart_cache.peak_hours_end",
		"cache_rate_limit_per_hour": "smart_cache.rate_limit_per_hour",
		"cache_path":                "smart_cache.path",

		// Sync mappings
		"sync_interval":          "sync.interval",
		"sync_days":              "sync.days",
		"sync_only_needed":       "sync.only_needed",
		"sync_realtime_enabled":  "sync.realtime_enabled",
		"sync_realtime_interval": "sync.realtime_interval",
		"sync_default_frequency": "sync.default_frequency",

		// NATS mappings
		"nats_enabled":      "nats.enabled",
		"nats_url":          "nats.url",
		"nats_embedded":     "nats.embedded_server",
		"nats_store_dir":    "nats.store_dir",
		"nats_durable_name": "nats.durable_name",
		"nats_queue_group":  "nats.queue_group",

		// Database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Server mappings
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if path, ok := envMappings[key]; ok {
		return path
	}
	return ""
}
