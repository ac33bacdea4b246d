// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

// Package models defines the core domain types shared across the engine:
// properties, daily metric rows, sync runs and aggregate query results.
package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Metric names accepted by the aggregation read path. They match the
// daily_metrics column names one to one.
const (
	MetricSessions           = "sessions"
	MetricActiveUsers        = "active_users"
	MetricNewUsers           = "new_users"
	MetricPageviews          = "pageviews"
	MetricAvgSessionDuration = "avg_session_duration"
	MetricBounceRate         = "bounce_rate"
)

// AllMetrics lists every metric tracked per property per day, in storage
// column order.
var AllMetrics = []string{
	MetricSessions,
	MetricActiveUsers,
	MetricNewUsers,
	MetricPageviews,
	MetricAvgSessionDuration,
	MetricBounceRate,
}

// AveragedMetrics are aggregated with AVG instead of SUM because summing a
// rate or a per-session duration across days is meaningless.
var AveragedMetrics = map[string]bool{
	MetricAvgSessionDuration: true,
	MetricBounceRate:         true,
}

// IsKnownMetric reports whether name is a metric the store can aggregate.
func IsKnownMetric(name string) bool {
	for _, m := range AllMetrics {
		if m == name {
			return true
		}
	}
	return false
}

// Property represents one external analytics data source (a GA4 property).
// last_synced_at is mutated only by the sync orchestrator on successful
// fetch; properties are soft-disabled via Active, never hard-deleted while
// historical rows exist.
type Property struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	AccountName      string        `json:"account_name,omitempty"`
	Active           bool          `json:"active"`
	SyncFrequency    time.Duration `json:"sync_frequency"`
	RateLimitPerHour int           `json:"rate_limit_per_hour"`
	LastSyncedAt     *time.Time    `json:"last_synced_at,omitempty"`
}

// NeedsSync reports whether the property is due for a sync at the given
// instant: never synced, or last synced longer ago than its sync frequency.
func (p *Property) NeedsSync(now time.Time) bool {
	if !p.Active {
		return false
	}
	if p.LastSyncedAt == nil {
		return true
	}
	return now.Sub(*p.LastSyncedAt) >= p.SyncFrequency
}

// DailyMetrics is one property, one calendar day, the fixed metric set.
// Unique per (PropertyID, Day); re-fetching the same day overwrites.
type DailyMetrics struct {
	PropertyID         string    `json:"property_id"`
	Day                time.Time `json:"day"`
	Sessions           int64     `json:"sessions"`
	ActiveUsers        int64     `json:"active_users"`
	NewUsers           int64     `json:"new_users"`
	Pageviews          int64     `json:"pageviews"`
	AvgSessionDuration float64   `json:"avg_session_duration"`
	BounceRate         float64   `json:"bounce_rate"`
}

// RealtimeSnapshot is the narrow realtime metric set refreshed every couple
// of minutes, one row per property (latest wins).
type RealtimeSnapshot struct {
	PropertyID  string    `json:"property_id"`
	ActiveUsers int64     `json:"active_users"`
	Pageviews   int64     `json:"pageviews"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// DateRange is an inclusive calendar-day range.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns the number of calendar days covered by the range.
func (r DateRange) Days() int {
	if r.End.Before(r.Start) {
		return 0
	}
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Contains reports whether other lies entirely within r.
func (r DateRange) Contains(other DateRange) bool {
	return !other.Start.Before(r.Start) && !other.End.After(r.End)
}

// IsZero reports whether the range is unset.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Day truncates t to UTC midnight. All Day values in DailyMetrics and
// DateRange are normalized with this.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// TrailingDays builds the inclusive range of the last n days ending today.
func TrailingDays(now time.Time, n int) DateRange {
	end := Day(now)
	return DateRange{Start: end.AddDate(0, 0, -(n - 1)), End: end}
}

// Outcome status values for a single property within a sync run.
const (
	OutcomeSynced   = "synced"
	OutcomeDeferred = "deferred"
	OutcomeFailed   = "failed"
)

// PropertyOutcome records what happened to one property during a run.
type PropertyOutcome struct {
	PropertyID string `json:"property_id"`
	Status     string `json:"status"`
	Rows       int    `json:"rows,omitempty"`
	Error      string `json:"error,omitempty"`

	// RetryAfterSeconds carries the server-suggested backoff when the
	// failure was quota-related. Optional; not every quota error has one.
	RetryAfterSeconds *int `json:"retry_after_seconds,omitempty"`
}

// SyncRun is one invocation of the orchestrator. Owned exclusively by the
// orchestrator until Finalize; read-only afterward.
type SyncRun struct {
	ID              uuid.UUID         `json:"id"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	Range           DateRange         `json:"range"`
	OnlyNeeded      bool              `json:"only_needed"`
	Outcomes        []PropertyOutcome `json:"outcomes"`
	SuccessCount    int               `json:"success_count"`
	FailCount       int               `json:"fail_count"`
	DeferredCount   int               `json:"deferred_count"`
	TotalProperties int               `json:"total_properties"`
	SuccessRate     string            `json:"success_rate"`
}

// NewSyncRun starts a run record for the given request.
func NewSyncRun(rng DateRange, onlyNeeded bool, startedAt time.Time) *SyncRun {
	return &SyncRun{
		ID:         uuid.New(),
		StartedAt:  startedAt,
		Range:      rng,
		OnlyNeeded: onlyNeeded,
	}
}

// Finalize computes the aggregate counters from the recorded outcomes and
// stamps the finish time. Deferred properties count toward the total but
// not toward the success rate, since nothing was attempted for them.
func (r *SyncRun) Finalize(finishedAt time.Time) {
	r.FinishedAt = finishedAt
	r.SuccessCount, r.FailCount, r.DeferredCount = 0, 0, 0
	for _, o := range r.Outcomes {
		switch o.Status {
		case OutcomeSynced:
			r.SuccessCount++
		case OutcomeFailed:
			r.FailCount++
		case OutcomeDeferred:
			r.DeferredCount++
		}
	}
	r.TotalProperties = len(r.Outcomes)
	r.SuccessRate = successRate(r.SuccessCount, r.FailCount)
}

// successRate renders the integer-percent string consumed verbatim by the
// failure notifier, e.g. "90%".
func successRate(success, fail int) string {
	attempted := success + fail
	if attempted == 0 {
		return "100%"
	}
	pct := int(math.Round(100 * float64(success) / float64(attempted)))
	return fmt.Sprintf("%d%%", pct)
}

// FailureReport is emitted when a run finishes with at least one failed
// property. The external notifier renders it essentially unchanged.
type FailureReport struct {
	RunID           uuid.UUID `json:"run_id"`
	FailCount       int       `json:"fail_count"`
	SuccessCount    int       `json:"success_count"`
	TotalProperties int       `json:"total_properties"`
	SuccessRate     string    `json:"success_rate"`
	FinishedAt      time.Time `json:"finished_at"`
}

// FailureReport builds the report for a finalized run, or nil when the run
// had no failures.
func (r *SyncRun) FailureReport() *FailureReport {
	if r.FailCount == 0 {
		return nil
	}
	return &FailureReport{
		RunID:           r.ID,
		FailCount:       r.FailCount,
		SuccessCount:    r.SuccessCount,
		TotalProperties: r.TotalProperties,
		SuccessRate:     r.SuccessRate,
		FinishedAt:      r.FinishedAt,
	}
}

// AggregateResult is the answer to an aggregate query, computed purely from
// stored daily rows. CoveredRange is the range actually backed by data;
// Partial is set when it differs from the requested range instead of
// silently fabricating zeros.
type AggregateResult struct {
	Metrics      map[string]float64 `json:"metrics"`
	CoveredRange DateRange          `json:"covered_range"`
	Partial      bool               `json:"partial,omitempty"`
}
