// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package sync

import (
	"context"

	"github.com/metricbridge/metricbridge/internal/logging"
	"github.com/metricbridge/metricbridge/internal/metrics"
)

// RefreshRealtime fetches the realtime metric set for every active
// property and upserts one snapshot row each. Realtime fetches pay the
// same hourly budget as daily syncs; properties without remaining budget
// are skipped silently and picked up on a later tick. No retries: the
// next refresh is minutes away.
func (o *Orchestrator) RefreshRealtime(ctx context.Context) error {
	properties, err := o.store.ListActiveProperties(ctx)
	if err != nil {
		return err
	}

	refreshed := 0
	for _, prop := range properties {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		limit := prop.RateLimitPerHour
		if limit <= 0 {
			limit = o.rateLimit.PerHour
		}
		if !o.limiter.Allow(prop.ID, limit) {
			logging.Debug().Str("property", prop.ID).Msg("Realtime refresh skipped by rate limit")
			continue
		}

		snapshot, err := o.fetcher.FetchRealtime(ctx, prop.ID)
		if err != nil {
			logging.Warn().Err(err).Str("property", prop.ID).Msg("Realtime fetch failed")
			metrics.FetchErrors.WithLabelValues(errorClass(err)).Inc()
			continue
		}

		if err := o.store.UpsertRealtimeSnapshot(ctx, snapshot); err != nil {
			logging.Err(err).Str("property", prop.ID).Msg("Failed to store realtime snapshot")
			continue
		}

		metrics.RealtimeActiveUsers.WithLabelValues(prop.ID).Set(float64(snapshot.ActiveUsers))
		refreshed++
	}

	logging.Debug().Int("refreshed", refreshed).Int("properties", len(properties)).Msg("Realtime refresh finished")
	return nil
}
