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
)

// ErrRunInProgress is returned when a sync run is requested while another
// run holds the run lock. At most one run executes at a time.
var ErrRunInProgress = errors.New("sync run already in progress")

// TransientError marks a fetch failure that is worth retrying: network
// errors, timeouts, 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient fetch error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a fetch failure that retrying cannot fix: bad
// credentials, malformed requests, unknown properties.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent fetch error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// QuotaExceededError reports that the upstream rejected a request for
// quota reasons. Quota exhaustion is temporary, so it is retryable; the
// optional RetryAfter hint is surfaced in the property outcome.
type QuotaExceededError struct {
	PropertyID string
	RetryAfter *time.Duration
}

func (e *QuotaExceededError) Error() string {
	if e.RetryAfter != nil {
		return fmt.Sprintf("quota exceeded for property %s (retry after %s)", e.PropertyID, *e.RetryAfter)
	}
	return fmt.Sprintf("quota exceeded for property %s", e.PropertyID)
}

// IsRetryable reports whether a fetch error should be retried. Permanent
// errors and context cancellation are final; everything else (transient,
// quota, unclassified network failures) gets another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *PermanentError
	return !errors.As(err, &perm)
}

// errorClass buckets an error for the fetch_errors_total metric.
func errorClass(err error) string {
	var quota *QuotaExceededError
	if errors.As(err, &quota) {
		return "quota"
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return "permanent"
	}
	return "transient"
}

// quotaRetryAfter extracts the upstream retry-after hint, if the error
// chain contains one.
func quotaRetryAfter(err error) *time.Duration {
	var quota *QuotaExceededError
	if errors.As(err, &quota) {
		return quota.RetryAfter
	}
	return nil
}
