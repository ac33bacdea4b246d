// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package sync

import (
	"context"
	"errors"

	"github.com/metricbridge/metricbridge/internal/logging"
	"github.com/metricbridge/metricbridge/internal/models"
)

// TaskEnqueuer hands a sync request to the task queue for asynchronous
// execution by a queue worker.
type TaskEnqueuer interface {
	EnqueueSync(ctx context.Context, days int, onlyNeeded bool) error
}

// Engine is the invocation surface for sync operations: synchronous runs,
// queued (asynchronous) dispatch and realtime refresh. Callers are the
// scheduler services, the queue worker and the CLI one-shot mode.
type Engine struct {
	orch  *Orchestrator
	queue TaskEnqueuer // optional
}

// NewEngine builds the engine facade over an orchestrator.
func NewEngine(orch *Orchestrator) *Engine {
	return &Engine{orch: orch}
}

// SetQueue attaches a task enqueuer enabling async dispatch.
func (e *Engine) SetQueue(q TaskEnqueuer) { e.queue = q }

// Sync runs a sync over the trailing days. With async set (and a queue
// attached) the request is enqueued and the returned run is nil; the
// actual run executes on a queue worker. Without a queue, async requests
// degrade to synchronous execution with a warning.
func (e *Engine) Sync(ctx context.Context, days int, onlyNeeded, async bool) (*models.SyncRun, error) {
	if async {
		if e.queue != nil {
			return nil, e.queue.EnqueueSync(ctx, days, onlyNeeded)
		}
		logging.Warn().Msg("Async sync requested without a task queue, running synchronously")
	}

	run, err := e.orch.Run(ctx, days, onlyNeeded)
	if errors.Is(err, ErrRunInProgress) {
		logging.Warn().Msg("Sync request skipped: another run is in progress")
	}
	return run, err
}

// RefreshRealtime refreshes realtime snapshots for all active properties.
func (e *Engine) RefreshRealtime(ctx context.Context) error {
	return e.orch.RefreshRealtime(ctx)
}
