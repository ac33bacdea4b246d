// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/metricbridge/metricbridge/internal/config"
	"github.com/metricbridge/metricbridge/internal/logging"
	"github.com/metricbridge/metricbridge/internal/metrics"
	"github.com/metricbridge/metricbridge/internal/models"
)

// SeedProperties reconciles the stored fleet with the configured seed
// list: seeds are upserted by identifier, and properties no longer seeded
// are deactivated. Nothing is ever hard-deleted; historical rows must
// survive fleet changes.
func (s *Store) SeedProperties(ctx context.Context, seeds []config.PropertySeed) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	start := time.Now()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, seed := range seeds {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO properties (id, name, account_name, active, sync_frequency_seconds, rate_limit_per_hour)
			VALUES (?, ?, ?, true, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				account_name = excluded.account_name,
				active = true,
				sync_frequency_seconds = excluded.sync_frequency_seconds,
				rate_limit_per_hour = excluded.rate_limit_per_hour`,
			seed.ID, seed.Name, seed.AccountName,
			int64(seed.SyncFrequency.Seconds()), seed.RateLimitPerHour)
		if err != nil {
			metrics.ObserveDBQuery("seed", "properties", start, err)
			return fmt.Errorf("upsert property %s: %w", seed.ID, err)
		}
	}

	// Deactivate everything not in the seed list.
	if len(seeds) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seeds)), ",")
		args := make([]any, len(seeds))
		for i, seed := range seeds {
			args[i] = seed.ID
		}
		query := fmt.Sprintf(`UPDATE properties SET active = false WHERE id NOT IN (%s)`, placeholders)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			metrics.ObserveDBQuery("seed", "properties", start, err)
			return fmt.Errorf("deactivate unseeded properties: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.ObserveDBQuery("seed", "properties", start, err)
		return fmt.Errorf("commit seed transaction: %w", err)
	}

	metrics.ObserveDBQuery("seed", "properties", start, nil)
	logging.Info().Int("properties", len(seeds)).Msg("Property fleet seeded")
	return nil
}

const propertyColumns = `id, name, account_name, active, sync_frequency_seconds, rate_limit_per_hour, last_synced_at`

// ListActiveProperties returns every active property ordered by id.
func (s *Store) ListActiveProperties(ctx context.Context) ([]models.Property, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	start := time.Now()

	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE active ORDER BY id`)
	metrics.ObserveDBQuery("list_active", "properties", start, err)
	if err != nil {
		return nil, fmt.Errorf("list active properties: %w", err)
	}
	defer rows.Close()

	return scanProperties(rows)
}

// ListPropertiesNeedingSync returns active properties that are due at the
// given instant: never synced, or last synced longer ago than their sync
// frequency. Ordered by id for deterministic chunking.
func (s *Store) ListPropertiesNeedingSync(ctx context.Context, now time.Time) ([]models.Property, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	start := time.Now()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+propertyColumns+`
		FROM properties
		WHERE active
		  AND (last_synced_at IS NULL
		       OR last_synced_at <= ? - to_seconds(sync_frequency_seconds))
		ORDER BY id`, now.UTC())
	metrics.ObserveDBQuery("list_needing_sync", "properties", start, err)
	if err != nil {
		return nil, fmt.Errorf("list properties needing sync: %w", err)
	}
	defer rows.Close()

	return scanProperties(rows)
}

// MarkSynced stamps a property's last successful sync time.
func (s *Store) MarkSynced(ctx context.Context, propertyID string, at time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	start := time.Now()

	_, err := s.conn.ExecContext(ctx,
		`UPDATE properties SET last_synced_at = ? WHERE id = ?`, at.UTC(), propertyID)
	metrics.ObserveDBQuery("mark_synced", "properties", start, err)
	if err != nil {
		return fmt.Errorf("mark property %s synced: %w", propertyID, err)
	}
	return nil
}

// Deactivate soft-disables a property. Its historical rows stay queryable.
func (s *Store) Deactivate(ctx context.Context, propertyID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	start := time.Now()

	_, err := s.conn.ExecContext(ctx,
		`UPDATE properties SET active = false WHERE id = ?`, propertyID)
	metrics.ObserveDBQuery("deactivate", "properties", start, err)
	if err != nil {
		return fmt.Errorf("deactivate property %s: %w", propertyID, err)
	}
	return nil
}

// scanProperties reads property rows into models.
func scanProperties(rows *sql.Rows) ([]models.Property, error) {
	var out []models.Property
	for rows.Next() {
		var (
			p           models.Property
			accountName sql.NullString
			freqSeconds int64
			lastSynced  sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.Name, &accountName, &p.Active, &freqSeconds, &p.RateLimitPerHour, &lastSynced); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		p.AccountName = accountName.String
		p.SyncFrequency = time.Duration(freqSeconds) * time.Second
		if lastSynced.Valid {
			t := lastSynced.Time.UTC()
			p.LastSyncedAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
