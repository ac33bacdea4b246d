// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/metricbridge/metricbridge/internal/logging"
	"github.com/metricbridge/metricbridge/internal/metrics"
	"github.com/metricbridge/metricbridge/internal/models"
)

// BreakerFetcher wraps a Fetcher with a circuit breaker so a dead or
// degraded upstream API stops consuming retry budget for every property in
// the fleet. Rejections while the circuit is open are transient: the
// property fails this run and is retried on the next one.
//
// The breaker uses real time (via sony/gobreaker) for its interval and
// timeout calculations. The timing governs recovery, not data integrity;
// unit tests exercise the wrapped fetcher directly.
type BreakerFetcher struct {
	inner Fetcher
	cb    *gobreaker.CircuitBreaker[any]
}

// NewBreakerFetcher wraps fetcher with a circuit breaker.
// Configuration:
//   - Max 3 concurrent requests in half-open state
//   - 1 minute measurement window
//   - 2 minute timeout before attempting recovery
//   - Opens after 60% failure rate with minimum 10 requests
func NewBreakerFetcher(fetcher Fetcher) *BreakerFetcher {
	metrics.CircuitBreakerState.Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "analytics-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6

			if shouldTrip {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}

			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("from", stateToString(from)).Str("to", stateToString(to)).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.Set(stateToFloat(to))
		},

		// Permanent errors describe the request, not upstream health;
		// they must not push the breaker toward open.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var perm *PermanentError
			return errors.As(err, &perm)
		},
	})

	return &BreakerFetcher{inner: fetcher, cb: cb}
}

// FetchDaily delegates to the wrapped fetcher with breaker protection.
func (b *BreakerFetcher) FetchDaily(ctx context.Context, propertyID string, rng models.DateRange) ([]models.DailyMetrics, error) {
	return castResult[[]models.DailyMetrics](b.execute(func() (any, error) {
		return b.inner.FetchDaily(ctx, propertyID, rng)
	}))
}

// FetchRealtime delegates to the wrapped fetcher with breaker protection.
func (b *BreakerFetcher) FetchRealtime(ctx context.Context, propertyID string) (*models.RealtimeSnapshot, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.FetchRealtime(ctx, propertyID)
	})
	if err != nil {
		return nil, err
	}
	snapshot, ok := result.(*models.RealtimeSnapshot)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return snapshot, nil
}

// execute wraps an API call with circuit breaker protection, translating
// breaker rejections into transient errors.
func (b *BreakerFetcher) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
			return nil, &TransientError{Err: err}
		}
		return nil, err
	}
	return result, nil
}

// castResult safely type-casts the circuit breaker result with error
// checking.
func castResult[T any](result any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// stateToFloat converts circuit breaker state to a numeric value for
// metrics.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to a string for logging.
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
