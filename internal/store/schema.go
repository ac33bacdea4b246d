// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package store

import "fmt"

// initialize creates the schema if it does not exist. Statements are
// idempotent so startup after upgrade is safe.
func (s *Store) initialize() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS properties (
			id VARCHAR PRIMARY KEY,
			name VARCHAR NOT NULL,
			account_name VARCHAR,
			active BOOLEAN NOT NULL DEFAULT true,
			sync_frequency_seconds BIGINT NOT NULL,
			rate_limit_per_hour INTEGER NOT NULL,
			last_synced_at TIMESTAMP
		)`,

		// One row per property per day; re-syncs overwrite in place.
		`CREATE TABLE IF NOT EXISTS daily_metrics (
			property_id VARCHAR NOT NULL,
			day DATE NOT NULL,
			sessions BIGINT NOT NULL DEFAULT 0,
			active_users BIGINT NOT NULL DEFAULT 0,
			new_users BIGINT NOT NULL DEFAULT 0,
			pageviews BIGINT NOT NULL DEFAULT 0,
			avg_session_duration DOUBLE NOT NULL DEFAULT 0,
			bounce_rate DOUBLE NOT NULL DEFAULT 0,
			PRIMARY KEY (property_id, day)
		)`,

		// Latest realtime snapshot per property, overwritten each refresh.
		`CREATE TABLE IF NOT EXISTS realtime_snapshots (
			property_id VARCHAR PRIMARY KEY,
			active_users BIGINT NOT NULL DEFAULT 0,
			pageviews BIGINT NOT NULL DEFAULT 0,
			fetched_at TIMESTAMP NOT NULL
		)`,

		// Finished sync runs, read-only history for operators.
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id VARCHAR PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			range_start DATE NOT NULL,
			range_end DATE NOT NULL,
			only_needed BOOLEAN NOT NULL,
			success_count INTEGER NOT NULL,
			fail_count INTEGER NOT NULL,
			deferred_count INTEGER NOT NULL,
			total_properties INTEGER NOT NULL,
			success_rate VARCHAR NOT NULL,
			outcomes JSON
		)`,

		`CREATE INDEX IF NOT EXISTS idx_daily_metrics_day ON daily_metrics(day)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
