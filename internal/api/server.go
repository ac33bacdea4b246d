// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

// Package api provides the ops HTTP surface: health and readiness probes,
// Prometheus metrics, the aggregate read path and a manual sync trigger.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/metricbridge/metricbridge/internal/config"
	"github.com/metricbridge/metricbridge/internal/models"
)

// Aggregator answers aggregate queries (the cached read path).
type Aggregator interface {
	Aggregate(ctx context.Context, propertyIDs []string, rng models.DateRange, metricNames []string) (*models.AggregateResult, error)
}

// StoreReader is the read-only store surface the handlers need.
type StoreReader interface {
	Ping(ctx context.Context) error
	ListActiveProperties(ctx context.Context) ([]models.Property, error)
	ListRecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
	ListRealtimeSnapshots(ctx context.Context) ([]models.RealtimeSnapshot, error)
}

// Syncer triggers sync runs.
type Syncer interface {
	Sync(ctx context.Context, days int, onlyNeeded, async bool) (*models.SyncRun, error)
}

// Router wires handlers to their dependencies.
type Router struct {
	store      StoreReader
	aggregator Aggregator
	syncer     Syncer
	defaults   config.SyncConfig
}

// NewRouter builds the ops router.
func NewRouter(store StoreReader, aggregator Aggregator, syncer Syncer, defaults config.SyncConfig) *Router {
	return &Router{store: store, aggregator: aggregator, syncer: syncer, defaults: defaults}
}

// Handler assembles the chi route tree.
func (router *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/healthz", router.healthLive)
	r.Get("/readyz", router.healthReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/aggregate", router.aggregate)
		r.Get("/properties", router.properties)
		r.Get("/runs", router.runs)
		r.Get("/realtime", router.realtime)
		r.Post("/sync", router.triggerSync)
	})

	return r
}

// NewServer wraps the router in an http.Server with sane timeouts.
func NewServer(router *Router, cfg config.ServerConfig) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Timeout,
		WriteTimeout:      cfg.Timeout,
		IdleTimeout:       2 * time.Minute,
	}
}
