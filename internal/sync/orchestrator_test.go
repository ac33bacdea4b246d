// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/metricbridge/metricbridge/internal/config"
	"github.com/metricbridge/metricbridge/internal/models"
)

// fakeStore is an in-memory Store for orchestrator tests.
type fakeStore struct {
	mu         sync.Mutex
	properties []models.Property
	upserted   map[string][]models.DailyMetrics
	synced     map[string]time.Time
	snapshots  map[string]*models.RealtimeSnapshot
	runs       []*models.SyncRun
}

func newFakeStore(props ...models.Property) *fakeStore {
	return &fakeStore{
		properties: props,
		upserted:   make(map[string][]models.DailyMetrics),
		synced:     make(map[string]time.Time),
		snapshots:  make(map[string]*models.RealtimeSnapshot),
	}
}

func (s *fakeStore) ListActiveProperties(ctx context.Context) ([]models.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Property, 0, len(s.properties))
	for _, p := range s.properties {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) ListPropertiesNeedingSync(ctx context.Context, now time.Time) ([]models.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Property, 0, len(s.properties))
	for _, p := range s.properties {
		if p.NeedsSync(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertDailyMetrics(ctx context.Context, rows []models.DailyMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.upserted[row.PropertyID] = append(s.upserted[row.PropertyID], row)
	}
	return nil
}

func (s *fakeStore) MarkSynced(ctx context.Context, propertyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced[propertyID] = at
	return nil
}

func (s *fakeStore) UpsertRealtimeSnapshot(ctx context.Context, snapshot *models.RealtimeSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.PropertyID] = snapshot
	return nil
}

func (s *fakeStore) RecordSyncRun(ctx context.Context, run *models.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

// fakeFetcher returns canned rows and errors per property.
type fakeFetcher struct {
	mu      sync.Mutex
	rows    map[string][]models.DailyMetrics
	errs    map[string]error
	fetches map[string]int
	onFetch func(propertyID string)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		rows:    make(map[string][]models.DailyMetrics),
		errs:    make(map[string]error),
		fetches: make(map[string]int),
	}
}

func (f *fakeFetcher) FetchDaily(ctx context.Context, propertyID string, rng models.DateRange) ([]models.DailyMetrics, error) {
	f.mu.Lock()
	f.fetches[propertyID]++
	hook := f.onFetch
	rows, err := f.rows[propertyID], f.errs[propertyID]
	f.mu.Unlock()

	if hook != nil {
		hook(propertyID)
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (f *fakeFetcher) FetchRealtime(ctx context.Context, propertyID string) (*models.RealtimeSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[propertyID]++
	if err := f.errs[propertyID]; err != nil {
		return nil, err
	}
	return &models.RealtimeSnapshot{PropertyID: propertyID, ActiveUsers: 7, Pageviews: 21, FetchedAt: time.Now()}, nil
}

func (f *fakeFetcher) fetchCount(propertyID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[propertyID]
}

// allowAll grants every request; denyList denies specific keys.
type fakeLimiter struct {
	mu   sync.Mutex
	deny map[string]bool
}

func (l *fakeLimiter) Allow(key string, limit int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.deny[key]
}

type fakePublisher struct {
	mu      sync.Mutex
	reports []*models.FailureReport
}

func (p *fakePublisher) PublishFailureReport(ctx context.Context, report *models.FailureReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, report)
	return nil
}

func testOrchestrator(store *fakeStore, fetcher Fetcher, limiter Limiter) *Orchestrator {
	retry := NewRetryPolicy(config.RetryConfig{MaxAttempts: 3, Delays: []time.Duration{time.Millisecond}})
	retry.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return NewOrchestrator(
		store, fetcher, limiter, retry,
		config.ChunkingConfig{PropertiesPerChunk: 100, ChunkThreshold: 100},
		config.RateLimitConfig{PerHour: 50},
	)
}

func dailyRow(propertyID string, day time.Time) models.DailyMetrics {
	return models.DailyMetrics{PropertyID: propertyID, Day: day, Sessions: 10, ActiveUsers: 5, Pageviews: 30}
}

func checkOutcome(t *testing.T, run *models.SyncRun, propertyID, wantStatus string) {
	t.Helper()
	for _, o := range run.Outcomes {
		if o.PropertyID == propertyID {
			if o.Status != wantStatus {
				t.Errorf("outcome for %s = %s, want %s", propertyID, o.Status, wantStatus)
			}
			return
		}
	}
	t.Errorf("no outcome recorded for %s", propertyID)
}

func TestRunPartialFailure(t *testing.T) {
	// Ten properties, one of them permanently broken: the run completes,
	// nine are synced and the failure is isolated.
	props := makeProperties(10)
	store := newFakeStore(props...)
	fetcher := newFakeFetcher()
	day := models.Day(time.Now())
	for _, p := range props {
		fetcher.rows[p.ID] = []models.DailyMetrics{dailyRow(p.ID, day)}
	}
	broken := props[3].ID
	fetcher.errs[broken] = &PermanentError{Err: errors.New("property not found")}

	orch := testOrchestrator(store, fetcher, &fakeLimiter{})
	publisher := &fakePublisher{}
	orch.SetPublisher(publisher)

	run, err := orch.Run(context.Background(), 30, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if run.SuccessCount != 9 {
		t.Errorf("success_count = %d, want 9", run.SuccessCount)
	}
	if run.FailCount != 1 {
		t.Errorf("fail_count = %d, want 1", run.FailCount)
	}
	if run.TotalProperties != 10 {
		t.Errorf("total_properties = %d, want 10", run.TotalProperties)
	}
	if run.SuccessRate != "90%" {
		t.Errorf("success_rate = %q, want \"90%%\"", run.SuccessRate)
	}
	checkOutcome(t, run, broken, models.OutcomeFailed)

	// The nine healthy properties have rows and a sync stamp; the broken
	// one has neither.
	for _, p := range props {
		if p.ID == broken {
			if len(store.upserted[p.ID]) != 0 {
				t.Errorf("broken property %s has %d rows upserted, want 0", p.ID, len(store.upserted[p.ID]))
			}
			if _, ok := store.synced[p.ID]; ok {
				t.Errorf("broken property %s was marked synced", p.ID)
			}
			continue
		}
		if len(store.upserted[p.ID]) != 1 {
			t.Errorf("property %s has %d rows upserted, want 1", p.ID, len(store.upserted[p.ID]))
		}
		if _, ok := store.synced[p.ID]; !ok {
			t.Errorf("property %s was not marked synced", p.ID)
		}
	}

	// A run with failures publishes exactly one failure report.
	if len(publisher.reports) != 1 {
		t.Fatalf("published %d failure reports, want 1", len(publisher.reports))
	}
	report := publisher.reports[0]
	if report.FailCount != 1 || report.SuccessCount != 9 || report.SuccessRate != "90%" {
		t.Errorf("failure report = %+v, want fail=1 success=9 rate=90%%", report)
	}
}

func TestRunAllHealthyPublishesNoReport(t *testing.T) {
	props := makeProperties(3)
	store := newFakeStore(props...)
	fetcher := newFakeFetcher()
	orch := testOrchestrator(store, fetcher, &fakeLimiter{})
	publisher := &fakePublisher{}
	orch.SetPublisher(publisher)

	run, err := orch.Run(context.Background(), 7, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.SuccessRate != "100%" {
		t.Errorf("success_rate = %q, want \"100%%\"", run.SuccessRate)
	}
	if len(publisher.reports) != 0 {
		t.Errorf("published %d reports, want 0", len(publisher.reports))
	}
}

func TestRunRateLimitDefersWithoutError(t *testing.T) {
	props := makeProperties(3)
	store := newFakeStore(props...)
	fetcher := newFakeFetcher()
	limiter := &fakeLimiter{deny: map[string]bool{props[1].ID: true}}

	orch := testOrchestrator(store, fetcher, limiter)
	run, err := orch.Run(context.Background(), 7, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	checkOutcome(t, run, props[1].ID, models.OutcomeDeferred)
	if run.DeferredCount != 1 {
		t.Errorf("deferred_count = %d, want 1", run.DeferredCount)
	}
	// Deferred properties are not attempted, and do not drag the rate down
	if fetcher.fetchCount(props[1].ID) != 0 {
		t.Errorf("deferred property was fetched %d times, want 0", fetcher.fetchCount(props[1].ID))
	}
	if run.SuccessRate != "100%" {
		t.Errorf("success_rate = %q, want \"100%%\" (deferred is not failure)", run.SuccessRate)
	}
}

func TestRunOnlyNeededSelection(t *testing.T) {
	now := time.Now()
	recent := now.Add(-5 * time.Minute)
	stale := now.Add(-2 * time.Hour)

	props := []models.Property{
		{ID: "fresh", Active: true, SyncFrequency: time.Hour, LastSyncedAt: &recent},
		{ID: "stale", Active: true, SyncFrequency: time.Hour, LastSyncedAt: &stale},
		{ID: "never", Active: true, SyncFrequency: time.Hour},
		{ID: "disabled", Active: false, SyncFrequency: time.Hour},
	}
	store := newFakeStore(props...)
	fetcher := newFakeFetcher()

	orch := testOrchestrator(store, fetcher, &fakeLimiter{})
	run, err := orch.Run(context.Background(), 7, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if run.TotalProperties != 2 {
		t.Fatalf("total_properties = %d, want 2 (stale + never)", run.TotalProperties)
	}
	checkOutcome(t, run, "stale", models.OutcomeSynced)
	checkOutcome(t, run, "never", models.OutcomeSynced)
	if fetcher.fetchCount("fresh") != 0 {
		t.Error("recently synced property must not be fetched in only-needed mode")
	}
	if fetcher.fetchCount("disabled") != 0 {
		t.Error("inactive property must never be fetched")
	}
}

func TestRunSerialization(t *testing.T) {
	store := newFakeStore(makeProperties(1)...)
	orch := testOrchestrator(store, newFakeFetcher(), &fakeLimiter{})

	// Simulate an in-flight run holding the lock.
	orch.runMu.Lock()
	_, err := orch.Run(context.Background(), 7, false)
	orch.runMu.Unlock()

	if !errors.Is(err, ErrRunInProgress) {
		t.Errorf("Run with lock held = %v, want ErrRunInProgress", err)
	}

	// The lock is free again: the next run proceeds.
	if _, err := orch.Run(context.Background(), 7, false); err != nil {
		t.Errorf("Run after release = %v, want nil", err)
	}
}

func TestRunCancellationAbandonsQueuedChunks(t *testing.T) {
	// 250 properties with chunk size 100: cancel during the first chunk
	// and verify later chunks never start.
	props := makeProperties(250)
	store := newFakeStore(props...)
	fetcher := newFakeFetcher()

	ctx, cancel := context.WithCancel(context.Background())
	fetcher.onFetch = func(string) { cancel() }

	orch := testOrchestrator(store, fetcher, &fakeLimiter{})
	run, err := orch.Run(ctx, 7, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if run.TotalProperties != 100 {
		t.Errorf("total_properties = %d, want 100 (only the first chunk ran)", run.TotalProperties)
	}
	for i := 100; i < 250; i++ {
		id := fmt.Sprintf("prop-%03d", i)
		if fetcher.fetchCount(id) != 0 {
			t.Fatalf("property %s in an abandoned chunk was fetched", id)
		}
	}
}

func TestRunRecordsQuotaRetryAfter(t *testing.T) {
	props := makeProperties(1)
	store := newFakeStore(props...)
	fetcher := newFakeFetcher()
	retryAfter := 90 * time.Second
	fetcher.errs[props[0].ID] = &QuotaExceededError{PropertyID: props[0].ID, RetryAfter: &retryAfter}

	orch := testOrchestrator(store, fetcher, &fakeLimiter{})
	run, err := orch.Run(context.Background(), 7, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Quota errors are transient, so the full retry budget is spent first.
	if got := fetcher.fetchCount(props[0].ID); got != 3 {
		t.Errorf("fetch attempts = %d, want 3", got)
	}
	checkOutcome(t, run, props[0].ID, models.OutcomeFailed)
	outcome := run.Outcomes[0]
	if outcome.RetryAfterSeconds == nil || *outcome.RetryAfterSeconds != 90 {
		t.Errorf("retry_after_seconds = %v, want 90", outcome.RetryAfterSeconds)
	}
}

func TestRunPersistsSyncRun(t *testing.T) {
	store := newFakeStore(makeProperties(2)...)
	orch := testOrchestrator(store, newFakeFetcher(), &fakeLimiter{})

	run, err := orch.Run(context.Background(), 7, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.runs) != 1 {
		t.Fatalf("recorded %d runs, want 1", len(store.runs))
	}
	if store.runs[0].ID != run.ID {
		t.Error("recorded run does not match the returned run")
	}
	if store.runs[0].FinishedAt.IsZero() {
		t.Error("recorded run has no finish time")
	}
}

func TestRunDataChangedHook(t *testing.T) {
	props := makeProperties(1)
	store := newFakeStore(props...)
	fetcher := newFakeFetcher()
	fetcher.rows[props[0].ID] = []models.DailyMetrics{dailyRow(props[0].ID, models.Day(time.Now()))}

	orch := testOrchestrator(store, fetcher, &fakeLimiter{})
	invalidated := 0
	orch.SetDataChangedHook(func() { invalidated++ })

	if _, err := orch.Run(context.Background(), 7, false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if invalidated != 1 {
		t.Errorf("data-changed hook fired %d times, want 1", invalidated)
	}

	// A run that writes nothing must not invalidate.
	fetcher.rows[props[0].ID] = nil
	if _, err := orch.Run(context.Background(), 7, false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if invalidated != 1 {
		t.Errorf("data-changed hook fired %d times after empty run, want still 1", invalidated)
	}
}

func TestRefreshRealtime(t *testing.T) {
	props := makeProperties(3)
	store := newFakeStore(props...)
	fetcher := newFakeFetcher()
	fetcher.errs[props[2].ID] = &TransientError{Err: errors.New("blip")}
	limiter := &fakeLimiter{deny: map[string]bool{props[1].ID: true}}

	orch := testOrchestrator(store, fetcher, limiter)
	if err := orch.RefreshRealtime(context.Background()); err != nil {
		t.Fatalf("RefreshRealtime: %v", err)
	}

	if _, ok := store.snapshots[props[0].ID]; !ok {
		t.Error("healthy property has no snapshot")
	}
	// Rate-limited property is skipped silently, without a fetch
	if fetcher.fetchCount(props[1].ID) != 0 {
		t.Error("rate-limited property was fetched during realtime refresh")
	}
	// Failed fetches are logged, not retried, and leave no snapshot
	if _, ok := store.snapshots[props[2].ID]; ok {
		t.Error("failed property should have no snapshot")
	}
	if fetcher.fetchCount(props[2].ID) != 1 {
		t.Errorf("failed property fetched %d times, want 1 (no retry)", fetcher.fetchCount(props[2].ID))
	}
}
