// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that the configuration is complete and internally
// consistent. Struct-tag rules cover ranges and required fields;
// cross-field rules are checked by hand.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return describeValidationError(err)
	}

	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateSmartCache(); err != nil {
		return err
	}
	if err := c.validateProperties(); err != nil {
		return err
	}
	return c.validateNATS()
}

// validateRetry rejects non-positive retry delays. The delay list is
// consumed positionally so every entry must be usable as a wait.
func (c *Config) validateRetry() error {
	for i, d := range c.Retry.Delays {
		if d <= 0 {
			return fmt.Errorf("retry.delays[%d] must be positive, got %s", i, d)
		}
	}
	return nil
}

// validateSmartCache enforces the freshness window ordering rules.
func (c *Config) validateSmartCache() error {
	sc := c.SmartCache
	if sc.MinDuration > sc.MaxDuration {
		return fmt.Errorf("smart_cache.min_duration (%s) must not exceed max_duration (%s)",
			sc.MinDuration, sc.MaxDuration)
	}
	if sc.PeakHoursStart >= sc.PeakHoursEnd {
		return fmt.Errorf("smart_cache.peak_hours_start (%d) must be before peak_hours_end (%d)",
			sc.PeakHoursStart, sc.PeakHoursEnd)
	}
	return nil
}

// validateProperties rejects duplicate property identifiers in the seed
// list; the store keys daily rows by property id.
func (c *Config) validateProperties() error {
	seen := make(map[string]bool, len(c.Properties))
	for _, p := range c.Properties {
		if seen[p.ID] {
			return fmt.Errorf("properties: duplicate id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// validateNATS checks task-queue settings (only when enabled).
func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.enabled=true")
	}
	if !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		return fmt.Errorf("nats.url must use nats:// or tls:// scheme, got %q", c.NATS.URL)
	}
	if c.NATS.EmbeddedServer && c.NATS.StoreDir == "" {
		return fmt.Errorf("nats.store_dir is required when nats.embedded_server=true")
	}
	return nil
}

// describeValidationError rewrites validator's struct-path errors into the
// koanf path form operators see in config files.
func describeValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return fmt.Errorf("invalid value for %s (rule %q): %v",
		strings.ToLower(fe.StructNamespace()), fe.Tag(), fe.Value())
}
