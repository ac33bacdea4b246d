// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package cache

import "time"

// FreshnessPolicy computes time-of-day-dependent cache TTLs for the
// aggregate read path. During peak hours dashboards are actively watched,
// so cached results expire quickly; off-peak they are allowed to live
// longer. The policy is pure: same inputs, same answer.
type FreshnessPolicy struct {
	min      time.Duration
	max      time.Duration
	peak     time.Duration
	offPeak  time.Duration
	peakFrom int // inclusive hour
	peakTo   int // exclusive hour
}

// NewFreshnessPolicy builds a policy. The peak window is [peakFrom, peakTo)
// in local hours; both TTLs are clamped to [min, max] at evaluation time.
func NewFreshnessPolicy(min, max, peak, offPeak time.Duration, peakFrom, peakTo int) *FreshnessPolicy {
	return &FreshnessPolicy{
		min:      min,
		max:      max,
		peak:     peak,
		offPeak:  offPeak,
		peakFrom: peakFrom,
		peakTo:   peakTo,
	}
}

// TTLFor returns the cache TTL to apply for a result produced at the given
// instant.
func (p *FreshnessPolicy) TTLFor(now time.Time) time.Duration {
	ttl := p.offPeak
	if p.inPeak(now.Hour()) {
		ttl = p.peak
	}
	return p.clamp(ttl)
}

// inPeak reports whether the given hour falls in the peak window.
func (p *FreshnessPolicy) inPeak(hour int) bool {
	return hour >= p.peakFrom && hour < p.peakTo
}

// clamp bounds a TTL to the configured [min, max] interval.
func (p *FreshnessPolicy) clamp(ttl time.Duration) time.Duration {
	if ttl < p.min {
		return p.min
	}
	if ttl > p.max {
		return p.max
	}
	return ttl
}
