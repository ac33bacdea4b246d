// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package services

import (
	"context"

	"github.com/metricbridge/metricbridge/internal/queue"
	syncengine "github.com/metricbridge/metricbridge/internal/sync"
)

// QueueWorkerService consumes durable sync tasks and executes them
// synchronously on the engine.
type QueueWorkerService struct {
	queue  *queue.Queue
	engine *syncengine.Engine
}

// NewQueueWorkerService builds the task-consuming worker.
func NewQueueWorkerService(q *queue.Queue, engine *syncengine.Engine) *QueueWorkerService {
	return &QueueWorkerService{queue: q, engine: engine}
}

// Serve implements suture.Service. Blocks consuming tasks until the
// context is canceled.
func (s *QueueWorkerService) Serve(ctx context.Context) error {
	return s.queue.ConsumeTasks(ctx, func(ctx context.Context, task queue.SyncTask) error {
		// ErrRunInProgress propagates as a failure so the task is nak'd
		// and redelivered once the current run releases the lock.
		_, err := s.engine.Sync(ctx, task.Days, task.OnlyNeeded, false)
		return err
	})
}

// String implements fmt.Stringer for suture log messages.
func (s *QueueWorkerService) String() string {
	return "queue-worker"
}
