// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/metricbridge/metricbridge/internal/config"
	"github.com/metricbridge/metricbridge/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "test.duckdb"),
		MaxMemory: "256MB",
		Threads:   2,
	})
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedTestFleet(t *testing.T, s *Store) {
	t.Helper()
	err := s.SeedProperties(context.Background(), []config.PropertySeed{
		{ID: "prop-1", Name: "Site One", AccountName: "acme", SyncFrequency: time.Hour, RateLimitPerHour: 50},
		{ID: "prop-2", Name: "Site Two", AccountName: "acme", SyncFrequency: 30 * time.Minute, RateLimitPerHour: 25},
	})
	if err != nil {
		t.Fatalf("seed properties: %v", err)
	}
}

func TestSeedAndListProperties(t *testing.T) {
	s := newTestStore(t)
	seedTestFleet(t, s)

	props, err := s.ListActiveProperties(context.Background())
	if err != nil {
		t.Fatalf("ListActiveProperties: %v", err)
	}
	if len(props) != 2 {
		t.Fatalf("got %d properties, want 2", len(props))
	}
	if props[0].ID != "prop-1" || props[1].ID != "prop-2" {
		t.Errorf("properties out of order: %s, %s", props[0].ID, props[1].ID)
	}
	if props[0].SyncFrequency != time.Hour {
		t.Errorf("sync_frequency = %s, want 1h", props[0].SyncFrequency)
	}
	if props[1].RateLimitPerHour != 25 {
		t.Errorf("rate_limit_per_hour = %d, want 25", props[1].RateLimitPerHour)
	}
	if props[0].LastSyncedAt != nil {
		t.Error("never-synced property must have nil last_synced_at")
	}
}

func TestSeedDeactivatesUnseeded(t *testing.T) {
	s := newTestStore(t)
	seedTestFleet(t, s)

	// Re-seed with only prop-1; prop-2 should be deactivated, not deleted.
	err := s.SeedProperties(context.Background(), []config.PropertySeed{
		{ID: "prop-1", Name: "Site One Renamed", SyncFrequency: time.Hour, RateLimitPerHour: 50},
	})
	if err != nil {
		t.Fatalf("re-seed: %v", err)
	}

	props, err := s.ListActiveProperties(context.Background())
	if err != nil {
		t.Fatalf("ListActiveProperties: %v", err)
	}
	if len(props) != 1 {
		t.Fatalf("got %d active properties, want 1", len(props))
	}
	if props[0].Name != "Site One Renamed" {
		t.Errorf("name = %q, want the re-seeded name", props[0].Name)
	}
}

func TestListPropertiesNeedingSync(t *testing.T) {
	s := newTestStore(t)
	seedTestFleet(t, s)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	// prop-1 synced recently (not due); prop-2 synced long ago (due).
	if err := s.MarkSynced(ctx, "prop-1", now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	if err := s.MarkSynced(ctx, "prop-2", now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	due, err := s.ListPropertiesNeedingSync(ctx, now)
	if err != nil {
		t.Fatalf("ListPropertiesNeedingSync: %v", err)
	}
	if len(due) != 1 || due[0].ID != "prop-2" {
		t.Fatalf("due = %+v, want only prop-2", due)
	}

	// A never-synced property is always due.
	err = s.SeedProperties(ctx, []config.PropertySeed{
		{ID: "prop-1", Name: "Site One", SyncFrequency: time.Hour, RateLimitPerHour: 50},
		{ID: "prop-2", Name: "Site Two", SyncFrequency: 30 * time.Minute, RateLimitPerHour: 25},
		{ID: "prop-3", Name: "Site Three", SyncFrequency: time.Hour, RateLimitPerHour: 50},
	})
	if err != nil {
		t.Fatalf("re-seed: %v", err)
	}
	due, err = s.ListPropertiesNeedingSync(ctx, now)
	if err != nil {
		t.Fatalf("ListPropertiesNeedingSync: %v", err)
	}
	ids := make(map[string]bool)
	for _, p := range due {
		ids[p.ID] = true
	}
	if !ids["prop-3"] {
		t.Error("never-synced prop-3 must be due")
	}
	if ids["prop-1"] {
		t.Error("recently synced prop-1 must not be due")
	}
}

func TestUpsertDailyMetricsIdempotent(t *testing.T) {
	s := newTestStore(t)
	seedTestFleet(t, s)
	ctx := context.Background()
	day := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)

	first := []models.DailyMetrics{
		{PropertyID: "prop-1", Day: day, Sessions: 100, ActiveUsers: 60, Pageviews: 250, AvgSessionDuration: 90, BounceRate: 0.5},
	}
	if err := s.UpsertDailyMetrics(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Re-sync the same day with corrected numbers; second write wins.
	second := []models.DailyMetrics{
		{PropertyID: "prop-1", Day: day, Sessions: 110, ActiveUsers: 65, Pageviews: 260, AvgSessionDuration: 92, BounceRate: 0.45},
	}
	if err := s.UpsertDailyMetrics(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	rng := models.DateRange{Start: day, End: day}
	rows, err := s.ListDailyMetrics(ctx, "prop-1", rng)
	if err != nil {
		t.Fatalf("ListDailyMetrics: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1 (upsert must not duplicate)", len(rows))
	}
	if rows[0].Sessions != 110 || rows[0].BounceRate != 0.45 {
		t.Errorf("row = %+v, want the second write's values", rows[0])
	}
}

func TestAggregateSumsAndAverages(t *testing.T) {
	s := newTestStore(t)
	seedTestFleet(t, s)
	ctx := context.Background()
	day1 := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	err := s.UpsertDailyMetrics(ctx, []models.DailyMetrics{
		{PropertyID: "prop-1", Day: day1, Sessions: 100, ActiveUsers: 60, NewUsers: 10, Pageviews: 200, AvgSessionDuration: 80, BounceRate: 0.4},
		{PropertyID: "prop-1", Day: day2, Sessions: 50, ActiveUsers: 30, NewUsers: 5, Pageviews: 100, AvgSessionDuration: 120, BounceRate: 0.6},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rng := models.DateRange{Start: day1, End: day2}
	result, err := s.Aggregate(ctx, []string{"prop-1"}, rng, models.AllMetrics)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	if result.Metrics[models.MetricSessions] != 150 {
		t.Errorf("sessions = %v, want summed 150", result.Metrics[models.MetricSessions])
	}
	if result.Metrics[models.MetricPageviews] != 300 {
		t.Errorf("pageviews = %v, want summed 300", result.Metrics[models.MetricPageviews])
	}
	if result.Metrics[models.MetricAvgSessionDuration] != 100 {
		t.Errorf("avg_session_duration = %v, want averaged 100", result.Metrics[models.MetricAvgSessionDuration])
	}
	if result.Metrics[models.MetricBounceRate] != 0.5 {
		t.Errorf("bounce_rate = %v, want averaged 0.5", result.Metrics[models.MetricBounceRate])
	}
	if result.Partial {
		t.Error("fully covered range must not be partial")
	}
	if !result.CoveredRange.Start.Equal(day1) || !result.CoveredRange.End.Equal(day2) {
		t.Errorf("covered = %+v, want %s..%s", result.CoveredRange, day1, day2)
	}
}

func TestAggregatePartialCoverage(t *testing.T) {
	s := newTestStore(t)
	seedTestFleet(t, s)
	ctx := context.Background()
	day := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)

	err := s.UpsertDailyMetrics(ctx, []models.DailyMetrics{
		{PropertyID: "prop-1", Day: day, Sessions: 100},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Request a week but only one stored day intersects it.
	rng := models.DateRange{Start: day.AddDate(0, 0, -3), End: day.AddDate(0, 0, 3)}
	result, err := s.Aggregate(ctx, nil, rng, []string{models.MetricSessions})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !result.Partial {
		t.Error("one stored day out of seven must report partial coverage")
	}
	if !result.CoveredRange.Start.Equal(day) || !result.CoveredRange.End.Equal(day) {
		t.Errorf("covered = %+v, want the single stored day", result.CoveredRange)
	}
	if result.Metrics[models.MetricSessions] != 100 {
		t.Errorf("sessions = %v, want 100", result.Metrics[models.MetricSessions])
	}

	// A range with no stored rows at all is partial with zero metrics.
	empty, err := s.Aggregate(ctx, nil, models.DateRange{
		Start: day.AddDate(0, 1, 0), End: day.AddDate(0, 1, 2),
	}, []string{models.MetricSessions})
	if err != nil {
		t.Fatalf("Aggregate empty: %v", err)
	}
	if !empty.Partial {
		t.Error("empty range must be partial")
	}
	if empty.Metrics[models.MetricSessions] != 0 {
		t.Errorf("sessions = %v, want 0 for empty range", empty.Metrics[models.MetricSessions])
	}
}

func TestAggregateRejectsUnknownMetric(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Aggregate(context.Background(), nil, models.DateRange{
		Start: time.Now(), End: time.Now(),
	}, []string{"sessions; DROP TABLE daily_metrics"})
	if err == nil {
		t.Fatal("unknown metric name must be rejected")
	}
}

func TestRealtimeSnapshotLatestWins(t *testing.T) {
	s := newTestStore(t)
	seedTestFleet(t, s)
	ctx := context.Background()

	first := &models.RealtimeSnapshot{PropertyID: "prop-1", ActiveUsers: 10, Pageviews: 40, FetchedAt: time.Now().Add(-2 * time.Minute)}
	if err := s.UpsertRealtimeSnapshot(ctx, first); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	second := &models.RealtimeSnapshot{PropertyID: "prop-1", ActiveUsers: 14, Pageviews: 55, FetchedAt: time.Now()}
	if err := s.UpsertRealtimeSnapshot(ctx, second); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}

	snaps, err := s.ListRealtimeSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListRealtimeSnapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1 per property", len(snaps))
	}
	if snaps[0].ActiveUsers != 14 || snaps[0].Pageviews != 55 {
		t.Errorf("snapshot = %+v, want the latest reading", snaps[0])
	}
}

func TestPruneBefore(t *testing.T) {
	s := newTestStore(t)
	seedTestFleet(t, s)
	ctx := context.Background()
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	err := s.UpsertDailyMetrics(ctx, []models.DailyMetrics{
		{PropertyID: "prop-1", Day: old, Sessions: 1},
		{PropertyID: "prop-1", Day: recent, Sessions: 2},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	removed, err := s.PruneBefore(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	rows, err := s.ListDailyMetrics(ctx, "prop-1", models.DateRange{Start: old, End: recent})
	if err != nil {
		t.Fatalf("ListDailyMetrics: %v", err)
	}
	if len(rows) != 1 || !rows[0].Day.Equal(recent) {
		t.Errorf("rows = %+v, want only the recent day", rows)
	}
}

func TestSyncRunRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)

	run := models.NewSyncRun(models.DateRange{
		Start: time.Date(2026, 8, 13, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC),
	}, true, started)
	retryAfter := 90
	run.Outcomes = []models.PropertyOutcome{
		{PropertyID: "prop-1", Status: models.OutcomeSynced, Rows: 7},
		{PropertyID: "prop-2", Status: models.OutcomeFailed, Error: "quota exceeded", RetryAfterSeconds: &retryAfter},
		{PropertyID: "prop-3", Status: models.OutcomeDeferred},
	}
	run.Finalize(started.Add(42 * time.Second))

	if err := s.RecordSyncRun(ctx, run); err != nil {
		t.Fatalf("RecordSyncRun: %v", err)
	}

	runs, err := s.ListRecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	got := runs[0]
	if got.ID != run.ID {
		t.Errorf("id = %s, want %s", got.ID, run.ID)
	}
	if got.SuccessCount != 1 || got.FailCount != 1 || got.DeferredCount != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/1/1", got.SuccessCount, got.FailCount, got.DeferredCount)
	}
	if got.SuccessRate != "50%" {
		t.Errorf("success_rate = %q, want 50%%", got.SuccessRate)
	}
	if len(got.Outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(got.Outcomes))
	}
	if got.Outcomes[1].RetryAfterSeconds == nil || *got.Outcomes[1].RetryAfterSeconds != 90 {
		t.Errorf("retry_after_seconds = %v, want 90", got.Outcomes[1].RetryAfterSeconds)
	}
	if !got.OnlyNeeded {
		t.Error("only_needed flag lost in roundtrip")
	}
}
