// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package store

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/metricbridge/metricbridge/internal/metrics"
	"github.com/metricbridge/metricbridge/internal/models"
)

// RecordSyncRun persists a finalized run, per-property outcomes included.
// Runs are append-only history; nothing updates them after insert.
func (s *Store) RecordSyncRun(ctx context.Context, run *models.SyncRun) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	start := time.Now()

	outcomes, err := json.Marshal(run.Outcomes)
	if err != nil {
		return fmt.Errorf("marshal run outcomes: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO sync_runs (id, started_at, finished_at, range_start, range_end, only_needed,
			success_count, fail_count, deferred_count, total_properties, success_rate, outcomes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Range.Start.UTC(), run.Range.End.UTC(), run.OnlyNeeded,
		run.SuccessCount, run.FailCount, run.DeferredCount,
		run.TotalProperties, run.SuccessRate, string(outcomes))
	metrics.ObserveDBQuery("insert", "sync_runs", start, err)
	if err != nil {
		return fmt.Errorf("record sync run %s: %w", run.ID, err)
	}
	return nil
}

// ListRecentRuns returns the newest finished runs, most recent first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()
	start := time.Now()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, started_at, finished_at, range_start, range_end, only_needed,
			success_count, fail_count, deferred_count, total_properties, success_rate, outcomes
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	metrics.ObserveDBQuery("list", "sync_runs", start, err)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var out []models.SyncRun
	for rows.Next() {
		var (
			run      models.SyncRun
			id       string
			outcomes string
		)
		if err := rows.Scan(&id, &run.StartedAt, &run.FinishedAt,
			&run.Range.Start, &run.Range.End, &run.OnlyNeeded,
			&run.SuccessCount, &run.FailCount, &run.DeferredCount,
			&run.TotalProperties, &run.SuccessRate, &outcomes); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		run.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse run id %q: %w", id, err)
		}
		if outcomes != "" {
			if err := json.Unmarshal([]byte(outcomes), &run.Outcomes); err != nil {
				return nil, fmt.Errorf("unmarshal run outcomes: %w", err)
			}
		}
		run.StartedAt = run.StartedAt.UTC()
		run.FinishedAt = run.FinishedAt.UTC()
		run.Range.Start = run.Range.Start.UTC()
		run.Range.End = run.Range.End.UTC()
		out = append(out, run)
	}
	return out, rows.Err()
}
