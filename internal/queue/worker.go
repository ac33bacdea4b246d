// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package queue

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/metricbridge/metricbridge/internal/logging"
	"github.com/metricbridge/metricbridge/internal/metrics"
)

// TaskHandler executes one sync task. A nil return acknowledges the
// task; an error leaves it for redelivery.
type TaskHandler func(ctx context.Context, task SyncTask) error

// ackWait must exceed the longest plausible sync run so an in-flight
// task is not redelivered to a second worker mid-run.
const ackWait = 30 * time.Minute

// ConsumeTasks binds a durable queue-group consumer to the task subject
// and processes tasks with the handler until the context is canceled.
// Multiple instances sharing the durable name split the work; each task
// is delivered to exactly one of them.
func (q *Queue) ConsumeTasks(ctx context.Context, handler TaskHandler) error {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       q.cfg.DurableName,
		FilterSubject: SubjectTasks,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    3,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", q.cfg.DurableName, err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handleTask(ctx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("start task consumer: %w", err)
	}
	defer cons.Stop()

	logging.Info().Str("durable", q.cfg.DurableName).Msg("Sync task worker started")
	<-ctx.Done()
	return ctx.Err()
}

func (q *Queue) handleTask(ctx context.Context, msg jetstream.Msg, handler TaskHandler) {
	var task SyncTask
	if err := json.Unmarshal(msg.Data(), &task); err != nil {
		// Malformed payloads can never succeed; terminate instead of
		// cycling through redeliveries.
		logging.Error().Err(err).Msg("Dropping malformed sync task")
		metrics.QueueTasksProcessed.WithLabelValues("malformed").Inc()
		_ = msg.Term()
		return
	}

	logging.Info().
		Str("task_id", task.ID.String()).
		Int("days", task.Days).
		Bool("only_needed", task.OnlyNeeded).
		Msg("Processing sync task")

	if err := handler(ctx, task); err != nil {
		logging.Error().Err(err).Str("task_id", task.ID.String()).Msg("Sync task failed")
		metrics.QueueTasksProcessed.WithLabelValues("failed").Inc()
		_ = msg.Nak()
		return
	}

	metrics.QueueTasksProcessed.WithLabelValues("completed").Inc()
	if err := msg.Ack(); err != nil {
		logging.Warn().Err(err).Str("task_id", task.ID.String()).Msg("Task ack failed")
	}
}
