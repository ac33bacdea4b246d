// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

// Package queue provides durable sync task distribution over NATS
// JetStream. Manual sync requests and failure reports flow through one
// stream; workers consume tasks via a durable queue-group consumer so a
// restart never loses an accepted request.
package queue

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/metricbridge/metricbridge/internal/config"
	"github.com/metricbridge/metricbridge/internal/logging"
	"github.com/metricbridge/metricbridge/internal/metrics"
	"github.com/metricbridge/metricbridge/internal/models"
)

const (
	// StreamName holds both sync tasks and failure reports.
	StreamName = "SYNC"

	// SubjectTasks carries enqueued sync requests.
	SubjectTasks = "metricbridge.sync.tasks"

	// SubjectFailures carries failure reports for external notifiers.
	SubjectFailures = "metricbridge.sync.failures"

	subjectWildcard = "metricbridge.sync.>"
)

// SyncTask is a durable request for one sync run.
type SyncTask struct {
	ID          uuid.UUID `json:"id"`
	Days        int       `json:"days"`
	OnlyNeeded  bool      `json:"only_needed"`
	RequestedAt time.Time `json:"requested_at"`
}

// Queue wraps the NATS connection and JetStream context.
type Queue struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg config.NATSConfig
}

// Connect dials NATS and ensures the sync stream exists. The returned
// Queue satisfies both the task enqueuer and the failure report
// publisher used by the sync engine.
func Connect(ctx context.Context, cfg config.NATSConfig) (*Queue, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("metricbridge"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	q := &Queue{nc: nc, js: js, cfg: cfg}
	if err := q.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

// ensureStream creates or updates the sync stream. Idempotent across
// restarts.
func (q *Queue) ensureStream(ctx context.Context) error {
	streamCfg := jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectWildcard},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    24 * time.Hour,
		Discard:   jetstream.DiscardOld,
	}

	if _, err := q.js.Stream(ctx, StreamName); err == nil {
		if _, err := q.js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream %s: %w", StreamName, err)
		}
		return nil
	}
	if _, err := q.js.CreateStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// EnqueueSync publishes a durable sync request. The publish is
// acknowledged by JetStream before returning, so an accepted request
// survives a process restart.
func (q *Queue) EnqueueSync(ctx context.Context, days int, onlyNeeded bool) error {
	task := SyncTask{
		ID:          uuid.New(),
		Days:        days,
		OnlyNeeded:  onlyNeeded,
		RequestedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal sync task: %w", err)
	}

	if _, err := q.js.Publish(ctx, SubjectTasks, payload); err != nil {
		return fmt.Errorf("publish sync task: %w", err)
	}

	metrics.QueueTasksEnqueued.Inc()
	logging.Info().
		Str("task_id", task.ID.String()).
		Int("days", days).
		Bool("only_needed", onlyNeeded).
		Msg("Sync task enqueued")
	return nil
}

// PublishFailureReport emits a finished run's failure summary for
// external notifiers. Best effort from the run's point of view; the
// caller logs but does not fail the run on error.
func (q *Queue) PublishFailureReport(ctx context.Context, report *models.FailureReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal failure report: %w", err)
	}
	if _, err := q.js.Publish(ctx, SubjectFailures, payload); err != nil {
		return fmt.Errorf("publish failure report: %w", err)
	}
	logging.Warn().
		Str("run_id", report.RunID.String()).
		Int("failed", report.FailCount).
		Str("success_rate", report.SuccessRate).
		Msg("Failure report published")
	return nil
}

// Close drains the connection so acknowledged work is flushed.
func (q *Queue) Close() {
	if q.nc != nil && !q.nc.IsClosed() {
		if err := q.nc.Drain(); err != nil {
			logging.Warn().Err(err).Msg("NATS drain failed")
			q.nc.Close()
		}
	}
}
