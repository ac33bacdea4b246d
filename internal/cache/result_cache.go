// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/metricbridge/metricbridge/internal/logging"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Key prefix for aggregate results in BadgerDB storage
const aggregateKeyPrefix = "aggregate:"

// ResultCache is a BadgerDB-backed cache for aggregate query results.
// Entries carry individual TTLs chosen by the FreshnessPolicy at write
// time; Badger expires them without a sweeper. Results survive restarts,
// which matters because a cold cache after deploy would otherwise hammer
// the store with the whole dashboard working set at once.
type ResultCache struct {
	db *badger.DB
}

// OpenResultCache opens (or creates) the cache database at the given path.
func OpenResultCache(path string) (*ResultCache, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = badgerLogger{}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open result cache at %s: %w", path, err)
	}
	return &ResultCache{db: db}, nil
}

// NewResultCache wraps an already-open Badger database. Useful for tests
// with in-memory databases.
func NewResultCache(db *badger.DB) *ResultCache {
	return &ResultCache{db: db}
}

// Get retrieves the cached value for key and unmarshals it into out.
// Returns ErrCacheMiss when the key is absent or has expired.
func (c *ResultCache) Get(key string, out any) error {
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(aggregateKeyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cached result: %w", err)
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	return err
}

// Set stores value under key with the given TTL.
func (c *ResultCache) Set(key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cached result: %w", err)
	}

	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(aggregateKeyPrefix+key), data).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

// Invalidate removes the cached value for key. Absent keys are not errors.
func (c *ResultCache) Invalidate(key string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(aggregateKeyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// InvalidateAll drops every cached aggregate result. Called after a sync
// run writes new rows so stale aggregates never outlive fresh data.
func (c *ResultCache) InvalidateAll() error {
	return c.db.DropPrefix([]byte(aggregateKeyPrefix))
}

// RunGC runs one round of Badger value-log garbage collection. Callers
// should invoke this periodically; badger.ErrNoRewrite is normal and
// swallowed.
func (c *ResultCache) RunGC() error {
	err := c.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Close closes the underlying database.
func (c *ResultCache) Close() error {
	return c.db.Close()
}

// badgerLogger routes Badger's internal logging through zerolog. Badger is
// chatty at INFO so its info output is demoted to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logging.Error().Str("component", "result_cache").Msgf(format, args...)
}

func (badgerLogger) Warningf(format string, args ...any) {
	logging.Warn().Str("component", "result_cache").Msgf(format, args...)
}

func (badgerLogger) Infof(format string, args ...any) {
	logging.Debug().Str("component", "result_cache").Msgf(format, args...)
}

func (badgerLogger) Debugf(format string, args ...any) {
	logging.Debug().Str("component", "result_cache").Msgf(format, args...)
}
