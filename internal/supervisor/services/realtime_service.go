// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package services

import (
	"context"
	"errors"
	"time"

	"github.com/metricbridge/metricbridge/internal/logging"
	syncengine "github.com/metricbridge/metricbridge/internal/sync"
)

// RealtimeService refreshes realtime snapshots on a short cadence.
type RealtimeService struct {
	engine   *syncengine.Engine
	interval time.Duration
}

// NewRealtimeService builds the realtime refresh loop.
func NewRealtimeService(engine *syncengine.Engine, interval time.Duration) *RealtimeService {
	return &RealtimeService{engine: engine, interval: interval}
}

// Serve implements suture.Service.
func (s *RealtimeService) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", s.interval).Msg("Realtime refresher started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.engine.RefreshRealtime(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error().Err(err).Msg("Realtime refresh failed")
			}
		}
	}
}

// String implements fmt.Stringer for suture log messages.
func (s *RealtimeService) String() string {
	return "realtime-refresher"
}
