// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package models

import (
	"testing"
	"time"
)

func TestNeedsSync(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Minute)
	stale := now.Add(-2 * time.Hour)

	cases := []struct {
		name string
		prop Property
		want bool
	}{
		{"never synced", Property{Active: true, SyncFrequency: time.Hour}, true},
		{"recently synced", Property{Active: true, SyncFrequency: time.Hour, LastSyncedAt: &recent}, false},
		{"overdue", Property{Active: true, SyncFrequency: time.Hour, LastSyncedAt: &stale}, true},
		{"exactly at frequency", Property{Active: true, SyncFrequency: 2 * time.Hour, LastSyncedAt: &stale}, true},
		{"inactive never due", Property{Active: false, SyncFrequency: time.Hour}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.prop.NeedsSync(now); got != tc.want {
				t.Errorf("NeedsSync = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTrailingDays(t *testing.T) {
	now := time.Date(2026, 8, 20, 15, 30, 0, 0, time.UTC)
	rng := TrailingDays(now, 7)

	if !rng.End.Equal(time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %s, want today at midnight UTC", rng.End)
	}
	if !rng.Start.Equal(time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %s, want 6 days before end", rng.Start)
	}
	if rng.Days() != 7 {
		t.Errorf("days = %d, want 7", rng.Days())
	}
}

func TestDateRangeContains(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC) }
	outer := DateRange{Start: day(1), End: day(31)}

	if !outer.Contains(DateRange{Start: day(10), End: day(20)}) {
		t.Error("inner range must be contained")
	}
	if !outer.Contains(outer) {
		t.Error("range must contain itself")
	}
	if outer.Contains(DateRange{Start: day(10), End: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)}) {
		t.Error("range extending past the end must not be contained")
	}
}

func TestFinalizeCountsAndRate(t *testing.T) {
	started := time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)
	run := NewSyncRun(DateRange{}, false, started)
	run.Outcomes = []PropertyOutcome{
		{PropertyID: "a", Status: OutcomeSynced},
		{PropertyID: "b", Status: OutcomeSynced},
		{PropertyID: "c", Status: OutcomeFailed},
		{PropertyID: "d", Status: OutcomeDeferred},
	}
	run.Finalize(started.Add(time.Minute))

	if run.SuccessCount != 2 || run.FailCount != 1 || run.DeferredCount != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", run.SuccessCount, run.FailCount, run.DeferredCount)
	}
	if run.TotalProperties != 4 {
		t.Errorf("total = %d, want 4", run.TotalProperties)
	}
	// Deferred properties were never attempted, so 2 of 3 attempted = 67%.
	if run.SuccessRate != "67%" {
		t.Errorf("success_rate = %q, want 67%%", run.SuccessRate)
	}
}

func TestSuccessRateAllDeferred(t *testing.T) {
	run := NewSyncRun(DateRange{}, true, time.Now())
	run.Outcomes = []PropertyOutcome{
		{PropertyID: "a", Status: OutcomeDeferred},
		{PropertyID: "b", Status: OutcomeDeferred},
	}
	run.Finalize(time.Now())

	if run.SuccessRate != "100%" {
		t.Errorf("success_rate = %q, want 100%% when nothing was attempted", run.SuccessRate)
	}
}

func TestFailureReportOnlyOnFailures(t *testing.T) {
	run := NewSyncRun(DateRange{}, false, time.Now())
	run.Outcomes = []PropertyOutcome{{PropertyID: "a", Status: OutcomeSynced}}
	run.Finalize(time.Now())
	if run.FailureReport() != nil {
		t.Error("clean run must not produce a failure report")
	}

	run.Outcomes = append(run.Outcomes, PropertyOutcome{PropertyID: "b", Status: OutcomeFailed, Error: "boom"})
	run.Finalize(time.Now())
	report := run.FailureReport()
	if report == nil {
		t.Fatal("failed run must produce a failure report")
	}
	if report.FailCount != 1 || report.SuccessCount != 1 || report.TotalProperties != 2 {
		t.Errorf("report = %+v, want 1 failed / 1 synced / 2 total", report)
	}
	if report.SuccessRate != "50%" {
		t.Errorf("success_rate = %q, want 50%%", report.SuccessRate)
	}
}

func TestDayNormalizesToUTCMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	in := time.Date(2026, 8, 20, 2, 30, 0, 0, loc) // 2026-08-19 21:30 UTC
	got := Day(in)
	want := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Day = %s, want %s", got, want)
	}
}
