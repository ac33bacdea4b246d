// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Sync runs and per-property outcomes
// - Fetch errors by class and retry attempts
// - Per-property rate-limit deferrals
// - Circuit breaker state
// - Aggregate result cache efficiency
// - Store query performance (DuckDB)

var (
	// Sync Run Metrics
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total number of sync runs by result",
		},
		[]string{"result"}, // "completed", "failed", "skipped"
	)

	SyncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_run_duration_seconds",
			Help:    "Duration of complete sync runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	SyncPropertyOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_property_outcomes_total",
			Help: "Total per-property sync outcomes",
		},
		[]string{"status"}, // "synced", "deferred", "failed"
	)

	SyncRowsUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_rows_upserted_total",
			Help: "Total daily metric rows written by sync runs",
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last fully successful sync run",
		},
	)

	// Fetch Metrics
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_requests_total",
			Help: "Total analytics API requests by kind",
		},
		[]string{"kind"}, // "report", "realtime"
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_duration_seconds",
			Help:    "Analytics API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_errors_total",
			Help: "Total analytics API fetch errors by class",
		},
		[]string{"class"}, // "transient", "permanent", "quota"
	)

	RetryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fetch_retry_attempts_total",
			Help: "Total retry attempts after transient fetch failures",
		},
	)

	RateLimitDeferrals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_deferrals_total",
			Help: "Total property syncs deferred by the hourly rate limit",
		},
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Aggregate Cache Metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aggregate_cache_hits_total",
			Help: "Total aggregate result cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aggregate_cache_misses_total",
			Help: "Total aggregate result cache misses",
		},
	)

	// Realtime Metrics
	RealtimeActiveUsers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_active_users",
			Help: "Last observed realtime active users per property",
		},
		[]string{"property"},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// Queue Metrics
	QueueTasksEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_sync_tasks_enqueued_total",
			Help: "Total sync tasks published to the task queue",
		},
	)

	QueueTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_sync_tasks_processed_total",
			Help: "Total sync tasks consumed from the task queue by result",
		},
		[]string{"result"}, // "completed", "failed", "malformed"
	)
)

// ObserveDBQuery records the duration of a database operation and counts
// the error if one occurred.
func ObserveDBQuery(operation, table string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// ObserveFetch records the duration of an analytics API request.
func ObserveFetch(kind string, start time.Time) {
	FetchRequestsTotal.WithLabelValues(kind).Inc()
	FetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
