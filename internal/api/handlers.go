// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/metricbridge/metricbridge/internal/logging"
	"github.com/metricbridge/metricbridge/internal/models"
)

const dateLayout = "2006-01-02"

// healthLive answers liveness probes. Always OK while the process runs.
func (router *Router) healthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// healthReady answers readiness probes by pinging the store.
func (router *Router) healthReady(w http.ResponseWriter, r *http.Request) {
	if err := router.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// aggregate serves GET /api/v1/aggregate?from=&to=&properties=&metrics=.
// properties and metrics are comma-separated; both default to "all".
func (router *Router) aggregate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := time.Parse(dateLayout, q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or missing from date (want YYYY-MM-DD)")
		return
	}
	to, err := time.Parse(dateLayout, q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or missing to date (want YYYY-MM-DD)")
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to date precedes from date")
		return
	}

	var propertyIDs []string
	if raw := q.Get("properties"); raw != "" {
		propertyIDs = splitList(raw)
	}
	metricNames := models.AllMetrics
	if raw := q.Get("metrics"); raw != "" {
		metricNames = splitList(raw)
		for _, name := range metricNames {
			if !models.IsKnownMetric(name) {
				writeError(w, http.StatusBadRequest, "unknown metric: "+name)
				return
			}
		}
	}

	rng := models.DateRange{Start: models.Day(from), End: models.Day(to)}
	result, err := router.aggregator.Aggregate(r.Context(), propertyIDs, rng, metricNames)
	if err != nil {
		logging.Error().Err(err).Msg("Aggregate query failed")
		writeError(w, http.StatusInternalServerError, "aggregate query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// properties serves GET /api/v1/properties.
func (router *Router) properties(w http.ResponseWriter, r *http.Request) {
	props, err := router.store.ListActiveProperties(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Property listing failed")
		writeError(w, http.StatusInternalServerError, "property listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"properties": props, "count": len(props)})
}

// runs serves GET /api/v1/runs?limit=.
func (router *Router) runs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	runs, err := router.store.ListRecentRuns(r.Context(), limit)
	if err != nil {
		logging.Error().Err(err).Msg("Run listing failed")
		writeError(w, http.StatusInternalServerError, "run listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// realtime serves GET /api/v1/realtime.
func (router *Router) realtime(w http.ResponseWriter, r *http.Request) {
	snaps, err := router.store.ListRealtimeSnapshots(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Realtime listing failed")
		writeError(w, http.StatusInternalServerError, "realtime listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps, "count": len(snaps)})
}

// syncRequest is the POST /api/v1/sync body. All fields optional.
type syncRequest struct {
	Days       *int  `json:"days,omitempty"`
	OnlyNeeded *bool `json:"only_needed,omitempty"`
	Async      bool  `json:"async,omitempty"`
}

// triggerSync serves POST /api/v1/sync. Async requests are accepted and
// queued; synchronous requests block until the run finishes and return it.
func (router *Router) triggerSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	days := router.defaults.Days
	if req.Days != nil {
		if *req.Days <= 0 {
			writeError(w, http.StatusBadRequest, "days must be positive")
			return
		}
		days = *req.Days
	}
	onlyNeeded := router.defaults.OnlyNeeded
	if req.OnlyNeeded != nil {
		onlyNeeded = *req.OnlyNeeded
	}

	run, err := router.syncer.Sync(r.Context(), days, onlyNeeded, req.Async)
	if err != nil {
		logging.Error().Err(err).Msg("Manual sync failed")
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if run == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn().Err(err).Msg("Response encoding failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
