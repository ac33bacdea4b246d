// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package sync

import (
	"context"
	"sync"
	"time"

	"github.com/metricbridge/metricbridge/internal/config"
	"github.com/metricbridge/metricbridge/internal/logging"
	"github.com/metricbridge/metricbridge/internal/metrics"
	"github.com/metricbridge/metricbridge/internal/models"
)

// Store is the persistence surface the orchestrator needs. Implemented by
// the DuckDB store; tests substitute fakes.
type Store interface {
	ListActiveProperties(ctx context.Context) ([]models.Property, error)
	ListPropertiesNeedingSync(ctx context.Context, now time.Time) ([]models.Property, error)
	UpsertDailyMetrics(ctx context.Context, rows []models.DailyMetrics) error
	MarkSynced(ctx context.Context, propertyID string, at time.Time) error
	UpsertRealtimeSnapshot(ctx context.Context, snapshot *models.RealtimeSnapshot) error
	RecordSyncRun(ctx context.Context, run *models.SyncRun) error
}

// Limiter grants or denies per-property request budget.
type Limiter interface {
	Allow(key string, limit int) bool
}

// ReportPublisher delivers failure reports to the external notifier.
type ReportPublisher interface {
	PublishFailureReport(ctx context.Context, report *models.FailureReport) error
}

// Orchestrator drives sync runs over the property fleet: selection,
// chunking, per-property fetch with retry, rate limiting, partial-failure
// accounting and run persistence.
type Orchestrator struct {
	store     Store
	fetcher   Fetcher
	limiter   Limiter
	retry     *RetryPolicy
	publisher ReportPublisher // optional

	chunking  config.ChunkingConfig
	rateLimit config.RateLimitConfig

	// onDataChanged is called after a run that wrote rows, so the read
	// path can drop stale cached aggregates. Optional.
	onDataChanged func()

	// runMu serializes runs: at most one executes at a time, concurrent
	// requests fail fast with ErrRunInProgress.
	runMu sync.Mutex

	now func() time.Time
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(store Store, fetcher Fetcher, limiter Limiter, retry *RetryPolicy, chunking config.ChunkingConfig, rateLimit config.RateLimitConfig) *Orchestrator {
	return &Orchestrator{
		store:     store,
		fetcher:   fetcher,
		limiter:   limiter,
		retry:     retry,
		chunking:  chunking,
		rateLimit: rateLimit,
		now:       time.Now,
	}
}

// SetPublisher attaches a failure-report publisher.
func (o *Orchestrator) SetPublisher(p ReportPublisher) { o.publisher = p }

// SetDataChangedHook attaches a callback invoked after a run writes rows.
func (o *Orchestrator) SetDataChangedHook(fn func()) { o.onDataChanged = fn }

// Run executes one sync over the trailing number of days. With onlyNeeded
// set, only properties due per their sync frequency are attempted;
// otherwise the whole active fleet is.
//
// Partial-failure semantics: every selected property gets an outcome
// (synced, deferred or failed) and a failed property never aborts the run.
// Cancellation is honored between chunks; in-flight properties finish,
// queued chunks are abandoned.
//
// Returns ErrRunInProgress without side effects when another run holds the
// lock.
func (o *Orchestrator) Run(ctx context.Context, days int, onlyNeeded bool) (*models.SyncRun, error) {
	if !o.runMu.TryLock() {
		metrics.SyncRunsTotal.WithLabelValues("skipped").Inc()
		return nil, ErrRunInProgress
	}
	defer o.runMu.Unlock()

	startedAt := o.now()
	rng := models.TrailingDays(startedAt, days)
	run := models.NewSyncRun(rng, onlyNeeded, startedAt)

	properties, err := o.selectProperties(ctx, onlyNeeded)
	if err != nil {
		metrics.SyncRunsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	logging.Info().Str("run_id", run.ID.String()).Int("properties", len(properties)).Int("days", days).Bool("only_needed", onlyNeeded).Msg("Sync run started")

	chunks := Chunk(properties, o.chunking.ChunkThreshold, o.chunking.PropertiesPerChunk)

	rowsWritten := 0
	for i, chunk := range chunks {
		// Cancellation between chunks abandons the rest of the fleet;
		// properties already processed keep their outcomes.
		if ctx.Err() != nil {
			logging.Warn().Str("run_id", run.ID.String()).Int("chunks_done", i).Int("chunks_total", len(chunks)).Msg("Sync run canceled, abandoning queued chunks")
			break
		}

		outcomes, rows := o.processChunk(ctx, chunk, rng)
		run.Outcomes = append(run.Outcomes, outcomes...)
		rowsWritten += rows
	}

	run.Finalize(o.now())
	o.recordRun(ctx, run, rowsWritten)

	if rowsWritten > 0 && o.onDataChanged != nil {
		o.onDataChanged()
	}
	if report := run.FailureReport(); report != nil && o.publisher != nil {
		if err := o.publisher.PublishFailureReport(ctx, report); err != nil {
			logging.Err(err).Str("run_id", run.ID.String()).Msg("Failed to publish failure report")
		}
	}

	return run, nil
}

// selectProperties picks the run's working set.
func (o *Orchestrator) selectProperties(ctx context.Context, onlyNeeded bool) ([]models.Property, error) {
	if onlyNeeded {
		return o.store.ListPropertiesNeedingSync(ctx, o.now())
	}
	return o.store.ListActiveProperties(ctx)
}

// processChunk syncs every property of one chunk concurrently. The worker
// fan-out is bounded by the chunk size itself, which the chunker caps at
// properties_per_chunk. Outcomes are returned in chunk order regardless of
// completion order.
func (o *Orchestrator) processChunk(ctx context.Context, chunk []models.Property, rng models.DateRange) ([]models.PropertyOutcome, int) {
	outcomes := make([]models.PropertyOutcome, len(chunk))
	rowCounts := make([]int, len(chunk))

	var wg sync.WaitGroup
	for i := range chunk {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			outcomes[idx], rowCounts[idx] = o.syncProperty(ctx, chunk[idx], rng)
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range rowCounts {
		total += n
	}
	return outcomes, total
}

// syncProperty fetches and stores one property's daily metrics, producing
// its outcome for the run.
func (o *Orchestrator) syncProperty(ctx context.Context, prop models.Property, rng models.DateRange) (models.PropertyOutcome, int) {
	limit := prop.RateLimitPerHour
	if limit <= 0 {
		limit = o.rateLimit.PerHour
	}

	// Budget denial is flow control, not failure: the property is
	// deferred to a later run and no error surfaces.
	if !o.limiter.Allow(prop.ID, limit) {
		logging.Debug().Str("property", prop.ID).Int("limit", limit).Msg("Property deferred by rate limit")
		metrics.RateLimitDeferrals.Inc()
		metrics.SyncPropertyOutcomes.WithLabelValues(models.OutcomeDeferred).Inc()
		return models.PropertyOutcome{PropertyID: prop.ID, Status: models.OutcomeDeferred}, 0
	}

	var rows []models.DailyMetrics
	err := o.retry.Do(ctx, "fetch_daily", func() error {
		var ferr error
		rows, ferr = o.fetcher.FetchDaily(ctx, prop.ID, rng)
		return ferr
	})
	if err == nil {
		err = o.storeRows(ctx, prop.ID, rows)
	}

	if err != nil {
		logging.Err(err).Str("property", prop.ID).Msg("Property sync failed")
		metrics.FetchErrors.WithLabelValues(errorClass(err)).Inc()
		metrics.SyncPropertyOutcomes.WithLabelValues(models.OutcomeFailed).Inc()

		outcome := models.PropertyOutcome{
			PropertyID: prop.ID,
			Status:     models.OutcomeFailed,
			Error:      err.Error(),
		}
		if ra := quotaRetryAfter(err); ra != nil {
			secs := int(ra.Seconds())
			outcome.RetryAfterSeconds = &secs
		}
		return outcome, 0
	}

	metrics.SyncPropertyOutcomes.WithLabelValues(models.OutcomeSynced).Inc()
	metrics.SyncRowsUpserted.Add(float64(len(rows)))
	return models.PropertyOutcome{PropertyID: prop.ID, Status: models.OutcomeSynced, Rows: len(rows)}, len(rows)
}

// storeRows upserts the fetched rows and stamps the property as synced.
func (o *Orchestrator) storeRows(ctx context.Context, propertyID string, rows []models.DailyMetrics) error {
	if len(rows) > 0 {
		if err := o.store.UpsertDailyMetrics(ctx, rows); err != nil {
			return err
		}
	}
	return o.store.MarkSynced(ctx, propertyID, o.now())
}

// recordRun persists the finished run and updates run-level metrics.
// Persistence failures are logged, not fatal: the data rows are already
// committed.
func (o *Orchestrator) recordRun(ctx context.Context, run *models.SyncRun, rowsWritten int) {
	duration := run.FinishedAt.Sub(run.StartedAt)
	metrics.SyncRunDuration.Observe(duration.Seconds())
	metrics.SyncRunsTotal.WithLabelValues("completed").Inc()
	if run.FailCount == 0 {
		metrics.SyncLastSuccess.Set(float64(run.FinishedAt.Unix()))
	}

	logging.Info().
		Str("run_id", run.ID.String()).
		Int("success", run.SuccessCount).
		Int("failed", run.FailCount).
		Int("deferred", run.DeferredCount).
		Int("total", run.TotalProperties).
		Str("success_rate", run.SuccessRate).
		Int("rows", rowsWritten).
		Dur("duration", duration).
		Msg("Sync run finished")

	if err := o.store.RecordSyncRun(ctx, run); err != nil {
		logging.Err(err).Str("run_id", run.ID.String()).Msg("Failed to record sync run")
	}
}
