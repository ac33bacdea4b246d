// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

// Package sync implements the property synchronization engine: the
// analytics API client, retry policy, chunked batch orchestration,
// per-property rate limiting and realtime snapshot refresh.
//
// The orchestrator is the only writer of daily metric rows. A run walks
// the property fleet in chunks, fetches each property's daily report
// under its hourly budget, and records a per-property outcome (synced,
// deferred or failed). One slow or broken property never aborts the run.
package sync
