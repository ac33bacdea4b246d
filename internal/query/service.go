// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

// Package query is the read-path facade. It answers aggregate questions
// from stored daily rows through a freshness-aware result cache; the
// external analytics API is never consulted here.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/metricbridge/metricbridge/internal/cache"
	"github.com/metricbridge/metricbridge/internal/logging"
	"github.com/metricbridge/metricbridge/internal/metrics"
	"github.com/metricbridge/metricbridge/internal/models"
)

// Aggregator answers aggregate queries from stored rows.
type Aggregator interface {
	Aggregate(ctx context.Context, propertyIDs []string, rng models.DateRange, metricNames []string) (*models.AggregateResult, error)
}

// Service caches aggregate results with TTLs chosen per query time by
// the freshness policy.
type Service struct {
	store  Aggregator
	cache  *cache.ResultCache
	policy *cache.FreshnessPolicy
	now    func() time.Time
}

// NewService builds the read-path facade.
func NewService(store Aggregator, resultCache *cache.ResultCache, policy *cache.FreshnessPolicy) *Service {
	return &Service{
		store:  store,
		cache:  resultCache,
		policy: policy,
		now:    time.Now,
	}
}

// Aggregate returns range totals for the given properties and metrics,
// serving from cache when a fresh entry exists. Identical queries share
// one cache entry regardless of argument order.
func (s *Service) Aggregate(ctx context.Context, propertyIDs []string, rng models.DateRange, metricNames []string) (*models.AggregateResult, error) {
	key := cacheKey(propertyIDs, rng, metricNames)

	var cached models.AggregateResult
	err := s.cache.Get(key, &cached)
	if err == nil {
		metrics.CacheHits.Inc()
		return &cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		// A broken cache must not take down the read path.
		logging.Warn().Err(err).Msg("Result cache read failed, querying store")
	}
	metrics.CacheMisses.Inc()

	result, err := s.store.Aggregate(ctx, propertyIDs, rng, metricNames)
	if err != nil {
		return nil, fmt.Errorf("aggregate query: %w", err)
	}

	ttl := s.policy.TTLFor(s.now())
	if err := s.cache.Set(key, result, ttl); err != nil {
		logging.Warn().Err(err).Msg("Result cache write failed")
	}
	return result, nil
}

// InvalidateAll drops every cached result. Wired to the sync engine's
// data-changed hook so aggregates never outlive fresh rows.
func (s *Service) InvalidateAll() {
	if err := s.cache.InvalidateAll(); err != nil {
		logging.Warn().Err(err).Msg("Result cache invalidation failed")
		return
	}
	logging.Debug().Msg("Result cache invalidated after data change")
}

// cacheKey renders a canonical key: inputs are sorted and joined so the
// same logical query always maps to the same entry.
func cacheKey(propertyIDs []string, rng models.DateRange, metricNames []string) string {
	props := append([]string(nil), propertyIDs...)
	sort.Strings(props)

	names := append([]string(nil), metricNames...)
	sort.Strings(names)

	return fmt.Sprintf("%s|%s|%s|%s",
		strings.Join(props, ","),
		rng.Start.UTC().Format("2006-01-02"),
		rng.End.UTC().Format("2006-01-02"),
		strings.Join(names, ","))
}
