// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package cache

import (
	"sync"
	"time"
)

// SlidingWindowCounter implements a memory-efficient sliding window counter.
// It divides time into buckets and sums them to get the count within the
// window.
//
// This is useful for:
//   - Rate limiting (e.g., API requests per property per hour)
//   - Real-time counters without database queries
//
// Complexity:
//   - Increment: O(1)
//   - Count: O(k) where k = number of buckets
//   - Memory: O(k) per counter
type SlidingWindowCounter struct {
	mu         sync.Mutex
	buckets    []int64       // circular buffer of bucket counts
	bucketSize time.Duration // duration of each bucket
	windowSize time.Duration // total window duration
	numBuckets int           // number of buckets
	current    int           // current bucket index
	lastUpdate time.Time     // last update time
	now        func() time.Time
}

// NewSlidingWindowCounter creates a new sliding window counter.
// The window is divided into the specified number of buckets.
//
// Example: NewSlidingWindowCounter(time.Hour, 60) creates a 1-hour window
// with 1-minute buckets.
func NewSlidingWindowCounter(windowSize time.Duration, numBuckets int) *SlidingWindowCounter {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	if windowSize <= 0 {
		windowSize = time.Hour
	}

	sw := &SlidingWindowCounter{
		buckets:    make([]int64, numBuckets),
		bucketSize: windowSize / time.Duration(numBuckets),
		windowSize: windowSize,
		numBuckets: numBuckets,
		now:        time.Now,
	}
	sw.lastUpdate = sw.now()
	return sw
}

// Increment adds delta to the current bucket.
func (sw *SlidingWindowCounter) Increment(delta int64) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.advance()
	sw.buckets[sw.current] += delta
}

// Count returns the sum of all buckets in the window.
func (sw *SlidingWindowCounter) Count() int64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.advance()

	var total int64
	for _, count := range sw.buckets {
		total += count
	}
	return total
}

// TryAcquire atomically increments the counter if the current count is
// below limit. Returns false without consuming budget when the window is
// already full. Check and increment happen under one lock acquisition so
// concurrent callers cannot jointly exceed the limit.
func (sw *SlidingWindowCounter) TryAcquire(limit int64) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.advance()

	var total int64
	for _, count := range sw.buckets {
		total += count
	}
	if total >= limit {
		return false
	}
	sw.buckets[sw.current]++
	return true
}

// Reset clears all buckets.
func (sw *SlidingWindowCounter) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	for i := range sw.buckets {
		sw.buckets[i] = 0
	}
	sw.current = 0
	sw.lastUpdate = sw.now()
}

// setClock replaces the time source. Test hook; must be called before any
// concurrent use.
func (sw *SlidingWindowCounter) setClock(now func() time.Time) {
	sw.now = now
	sw.lastUpdate = now()
}

// advance moves the window forward based on elapsed time.
// Must be called with lock held.
func (sw *SlidingWindowCounter) advance() {
	now := sw.now()
	elapsed := now.Sub(sw.lastUpdate)

	bucketsElapsed := int(elapsed / sw.bucketSize)
	if bucketsElapsed <= 0 {
		return
	}

	if bucketsElapsed >= sw.numBuckets {
		// Entire window has elapsed, clear all
		for i := range sw.buckets {
			sw.buckets[i] = 0
		}
		sw.current = 0
	} else {
		// Clear only the elapsed buckets
		for i := 0; i < bucketsElapsed; i++ {
			sw.current = (sw.current + 1) % sw.numBuckets
			sw.buckets[sw.current] = 0
		}
	}

	sw.lastUpdate = now
}

// rateLimiterBuckets is the bucket resolution for per-property hourly
// windows: 1-minute granularity keeps the rolling-window error small
// relative to a 50/hour budget.
const rateLimiterBuckets = 60

// RateLimiter tracks per-property request counts over a sliding hourly
// window. A denial is flow control, not an error: the caller records the
// property as deferred and moves on.
//
// Example usage:
//
//	rl := NewRateLimiter(time.Hour)
//	if rl.Allow("prop-123", 50) {
//	    // budget consumed, proceed with the fetch
//	}
type RateLimiter struct {
	mu         sync.Mutex
	counters   map[string]*SlidingWindowCounter
	windowSize time.Duration
	now        func() time.Time
}

// NewRateLimiter creates a rate limiter with the given window size.
func NewRateLimiter(windowSize time.Duration) *RateLimiter {
	if windowSize <= 0 {
		windowSize = time.Hour
	}
	return &RateLimiter{
		counters:   make(map[string]*SlidingWindowCounter),
		windowSize: windowSize,
		now:        time.Now,
	}
}

// Allow reports whether the key has remaining budget and, if so, consumes
// one unit. Check-and-increment is atomic per key.
func (rl *RateLimiter) Allow(key string, limit int) bool {
	if limit <= 0 {
		return false
	}
	return rl.counter(key).TryAcquire(int64(limit))
}

// Count returns the number of units consumed by the key within the window.
func (rl *RateLimiter) Count(key string) int64 {
	rl.mu.Lock()
	counter, exists := rl.counters[key]
	rl.mu.Unlock()

	if !exists {
		return 0
	}
	return counter.Count()
}

// Reset clears the counter for the given key.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.counters, key)
}

// CleanupInactive removes counters with no counts left in the window.
// Returns the number of counters removed.
func (rl *RateLimiter) CleanupInactive() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, counter := range rl.counters {
		if counter.Count() == 0 {
			delete(rl.counters, key)
			removed++
		}
	}
	return removed
}

// SetClock replaces the time source for the limiter and all future
// counters. Test hook; must be called before any concurrent use.
func (rl *RateLimiter) SetClock(now func() time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.now = now
	for _, counter := range rl.counters {
		counter.setClock(now)
	}
}

// counter returns the counter for key, creating it on first use.
func (rl *RateLimiter) counter(key string) *SlidingWindowCounter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	counter, exists := rl.counters[key]
	if !exists {
		counter = NewSlidingWindowCounter(rl.windowSize, rateLimiterBuckets)
		counter.setClock(rl.now)
		rl.counters[key] = counter
	}
	return counter
}
