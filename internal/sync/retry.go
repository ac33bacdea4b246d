// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/metricbridge/metricbridge/internal/config"
	"github.com/metricbridge/metricbridge/internal/logging"
	"github.com/metricbridge/metricbridge/internal/metrics"
)

// RetryPolicy retries transient fetch failures with the configured delay
// schedule. Delays are consumed positionally (attempt 1 waits delays[0]
// before attempt 2, and so on); the last delay repeats if attempts exceed
// the list. Permanent errors abort immediately.
type RetryPolicy struct {
	maxAttempts int
	delays      []time.Duration

	// sleep waits for d or until the context is canceled. Replaced in
	// tests to keep retry timing deterministic.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds a policy from configuration.
func NewRetryPolicy(cfg config.RetryConfig) *RetryPolicy {
	return &RetryPolicy{
		maxAttempts: cfg.MaxAttempts,
		delays:      cfg.Delays,
		sleep:       sleepCtx,
	}
}

// Do executes fn up to maxAttempts times. The context is checked before
// every attempt and during backoff waits; cancellation returns the context
// error immediately.
func (p *RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	var err error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}

		if attempt < p.maxAttempts {
			delay := p.delayFor(attempt)
			logging.Warn().Err(err).Str("operation", op).Int("attempt", attempt).Int("max_attempts", p.maxAttempts).Dur("delay", delay).Msg("Retry attempt")
			metrics.RetryAttempts.Inc()
			if werr := p.sleep(ctx, delay); werr != nil {
				return werr
			}
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}

// delayFor returns the wait before the attempt following the given one.
func (p *RetryPolicy) delayFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(p.delays) {
		idx = len(p.delays) - 1
	}
	return p.delays[idx]
}

// sleepCtx is a cancellable wait.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
