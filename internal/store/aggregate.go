// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/metricbridge/metricbridge/internal/metrics"
	"github.com/metricbridge/metricbridge/internal/models"
)

// Aggregate computes range totals over stored daily rows. Counters are
// summed; rate-style metrics (see models.AveragedMetrics) are averaged.
// The result reports the range actually backed by data: when stored days
// do not fully cover the request the caller gets Partial=true rather than
// silently fabricated zeros.
//
// An empty propertyIDs slice aggregates over the whole fleet. Metric
// names are validated against the known set before touching SQL; column
// names are never taken from caller input.
func (s *Store) Aggregate(ctx context.Context, propertyIDs []string, rng models.DateRange, metricNames []string) (*models.AggregateResult, error) {
	if len(metricNames) == 0 {
		metricNames = models.AllMetrics
	}
	for _, name := range metricNames {
		if !models.IsKnownMetric(name) {
			return nil, fmt.Errorf("unknown metric %q", name)
		}
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()
	start := time.Now()

	selects := make([]string, 0, len(metricNames)+3)
	for _, name := range metricNames {
		if models.AveragedMetrics[name] {
			selects = append(selects, fmt.Sprintf("AVG(%s)", name))
		} else {
			selects = append(selects, fmt.Sprintf("SUM(%s)", name))
		}
	}
	selects = append(selects, "MIN(day)", "MAX(day)", "COUNT(DISTINCT day)")

	query := fmt.Sprintf(`SELECT %s FROM daily_metrics WHERE day >= ? AND day <= ?`,
		strings.Join(selects, ", "))
	args := []any{rng.Start.UTC(), rng.End.UTC()}

	if len(propertyIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(propertyIDs)), ",")
		query += fmt.Sprintf(" AND property_id IN (%s)", placeholders)
		for _, id := range propertyIDs {
			args = append(args, id)
		}
	}

	values := make([]sql.NullFloat64, len(metricNames))
	var (
		minDay, maxDay sql.NullTime
		dayCount       int64
	)
	dest := make([]any, 0, len(values)+3)
	for i := range values {
		dest = append(dest, &values[i])
	}
	dest = append(dest, &minDay, &maxDay, &dayCount)

	err := s.conn.QueryRowContext(ctx, query, args...).Scan(dest...)
	metrics.ObserveDBQuery("aggregate", "daily_metrics", start, err)
	if err != nil {
		return nil, fmt.Errorf("aggregate daily metrics: %w", err)
	}

	result := &models.AggregateResult{
		Metrics: make(map[string]float64, len(metricNames)),
	}
	for i, name := range metricNames {
		if values[i].Valid {
			result.Metrics[name] = values[i].Float64
		} else {
			result.Metrics[name] = 0
		}
	}

	if !minDay.Valid || !maxDay.Valid {
		// No stored rows intersect the request at all.
		result.Partial = true
		return result, nil
	}

	result.CoveredRange = models.DateRange{
		Start: models.Day(minDay.Time),
		End:   models.Day(maxDay.Time),
	}
	// Partial when the data does not span the requested edges, or days are
	// missing inside the span.
	if !result.CoveredRange.Contains(rng) || int(dayCount) < rng.Days() {
		result.Partial = true
	}
	return result, nil
}
