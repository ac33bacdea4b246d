// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

// Package cache provides the in-memory and on-disk caching primitives used
// by the engine: sliding-window counters backing the per-property rate
// limiter, the time-of-day freshness policy, and the BadgerDB-backed
// aggregate result cache.
package cache
