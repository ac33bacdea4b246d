// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/metricbridge/metricbridge/internal/metrics"
	"github.com/metricbridge/metricbridge/internal/models"
)

// UpsertDailyMetrics writes one row per (property, day), replacing any
// previous values for the same key. Re-syncing an already-stored day is
// idempotent: the newest fetch wins.
func (s *Store) UpsertDailyMetrics(ctx context.Context, rows []models.DailyMetrics) error {
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()
	start := time.Now()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		metrics.ObserveDBQuery("upsert", "daily_metrics", start, err)
		return fmt.Errorf("begin daily metrics transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_metrics (property_id, day, sessions, active_users, new_users, pageviews, avg_session_duration, bounce_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (property_id, day) DO UPDATE SET
			sessions = excluded.sessions,
			active_users = excluded.active_users,
			new_users = excluded.new_users,
			pageviews = excluded.pageviews,
			avg_session_duration = excluded.avg_session_duration,
			bounce_rate = excluded.bounce_rate`)
	if err != nil {
		metrics.ObserveDBQuery("upsert", "daily_metrics", start, err)
		return fmt.Errorf("prepare daily metrics upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.PropertyID, row.Day.UTC(),
			row.Sessions, row.ActiveUsers, row.NewUsers, row.Pageviews,
			row.AvgSessionDuration, row.BounceRate)
		if err != nil {
			metrics.ObserveDBQuery("upsert", "daily_metrics", start, err)
			return fmt.Errorf("upsert daily metrics for %s/%s: %w",
				row.PropertyID, row.Day.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.ObserveDBQuery("upsert", "daily_metrics", start, err)
		return fmt.Errorf("commit daily metrics: %w", err)
	}

	metrics.ObserveDBQuery("upsert", "daily_metrics", start, nil)
	return nil
}

// ListDailyMetrics returns stored rows for one property inside a range,
// ordered by day.
func (s *Store) ListDailyMetrics(ctx context.Context, propertyID string, rng models.DateRange) ([]models.DailyMetrics, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	start := time.Now()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT property_id, day, sessions, active_users, new_users, pageviews, avg_session_duration, bounce_rate
		FROM daily_metrics
		WHERE property_id = ? AND day >= ? AND day <= ?
		ORDER BY day`, propertyID, rng.Start.UTC(), rng.End.UTC())
	metrics.ObserveDBQuery("list", "daily_metrics", start, err)
	if err != nil {
		return nil, fmt.Errorf("list daily metrics: %w", err)
	}
	defer rows.Close()

	var out []models.DailyMetrics
	for rows.Next() {
		var m models.DailyMetrics
		if err := rows.Scan(&m.PropertyID, &m.Day, &m.Sessions, &m.ActiveUsers, &m.NewUsers,
			&m.Pageviews, &m.AvgSessionDuration, &m.BounceRate); err != nil {
			return nil, fmt.Errorf("scan daily metrics: %w", err)
		}
		m.Day = m.Day.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertRealtimeSnapshot replaces the latest realtime reading for a
// property. Only the most recent snapshot is kept.
func (s *Store) UpsertRealtimeSnapshot(ctx context.Context, snapshot *models.RealtimeSnapshot) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	start := time.Now()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO realtime_snapshots (property_id, active_users, pageviews, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (property_id) DO UPDATE SET
			active_users = excluded.active_users,
			pageviews = excluded.pageviews,
			fetched_at = excluded.fetched_at`,
		snapshot.PropertyID, snapshot.ActiveUsers, snapshot.Pageviews, snapshot.FetchedAt.UTC())
	metrics.ObserveDBQuery("upsert", "realtime_snapshots", start, err)
	if err != nil {
		return fmt.Errorf("upsert realtime snapshot for %s: %w", snapshot.PropertyID, err)
	}
	return nil
}

// ListRealtimeSnapshots returns the latest snapshot of every property that
// has one, ordered by property id.
func (s *Store) ListRealtimeSnapshots(ctx context.Context) ([]models.RealtimeSnapshot, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	start := time.Now()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT property_id, active_users, pageviews, fetched_at
		FROM realtime_snapshots ORDER BY property_id`)
	metrics.ObserveDBQuery("list", "realtime_snapshots", start, err)
	if err != nil {
		return nil, fmt.Errorf("list realtime snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.RealtimeSnapshot
	for rows.Next() {
		var snap models.RealtimeSnapshot
		if err := rows.Scan(&snap.PropertyID, &snap.ActiveUsers, &snap.Pageviews, &snap.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan realtime snapshot: %w", err)
		}
		snap.FetchedAt = snap.FetchedAt.UTC()
		out = append(out, snap)
	}
	return out, rows.Err()
}

// PruneBefore removes daily rows older than the cutoff day. Returns the
// number of rows removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	start := time.Now()

	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM daily_metrics WHERE day < ?`, models.Day(cutoff))
	metrics.ObserveDBQuery("prune", "daily_metrics", start, err)
	if err != nil {
		return 0, fmt.Errorf("prune daily metrics: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return removed, nil
}
