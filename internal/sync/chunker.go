// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package sync

import "github.com/metricbridge/metricbridge/internal/models"

// Chunk splits properties into order-preserving batches. Fleets at or
// below threshold stay in a single chunk; larger fleets are split into
// ceil(n/size) chunks of at most size properties each. Chunks never
// overlap and their concatenation equals the input. Deterministic: same
// input, same chunks.
func Chunk(properties []models.Property, threshold, size int) [][]models.Property {
	if len(properties) == 0 {
		return nil
	}
	if size <= 0 || len(properties) <= threshold {
		return [][]models.Property{properties}
	}

	chunks := make([][]models.Property, 0, (len(properties)+size-1)/size)
	for start := 0; start < len(properties); start += size {
		end := start + size
		if end > len(properties) {
			end = len(properties)
		}
		chunks = append(chunks, properties[start:end])
	}
	return chunks
}
