// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

// Package services contains the suture.Service adapters that run the
// engine's long-lived loops under supervision.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/metricbridge/metricbridge/internal/logging"
	syncengine "github.com/metricbridge/metricbridge/internal/sync"
)

// SchedulerService triggers periodic sync runs. With a queue attached to
// the engine, runs are enqueued for queue workers; otherwise they execute
// in-process.
type SchedulerService struct {
	engine     *syncengine.Engine
	interval   time.Duration
	days       int
	onlyNeeded bool
	async      bool
}

// NewSchedulerService builds the periodic sync trigger.
func NewSchedulerService(engine *syncengine.Engine, interval time.Duration, days int, onlyNeeded, async bool) *SchedulerService {
	return &SchedulerService{
		engine:     engine,
		interval:   interval,
		days:       days,
		onlyNeeded: onlyNeeded,
		async:      async,
	}
}

// Serve implements suture.Service. Fires one sync at startup, then on
// every interval tick until the context is canceled.
func (s *SchedulerService) Serve(ctx context.Context) error {
	logging.Info().
		Dur("interval", s.interval).
		Int("days", s.days).
		Bool("only_needed", s.onlyNeeded).
		Msg("Sync scheduler started")

	s.trigger(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

// trigger fires one sync. Failures are logged, never returned: a failed
// run must not crash the scheduler out of its cadence.
func (s *SchedulerService) trigger(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.engine.Sync(ctx, s.days, s.onlyNeeded, s.async)
	if err != nil && !errors.Is(err, syncengine.ErrRunInProgress) && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Scheduled sync failed")
	}
}

// String implements fmt.Stringer for suture log messages.
func (s *SchedulerService) String() string {
	return "sync-scheduler"
}
