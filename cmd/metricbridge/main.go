// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

// Command metricbridge runs the property sync and aggregation engine.
//
// Default mode starts the supervised server: periodic sync scheduler,
// realtime refresher, optional queue worker and the ops HTTP endpoints.
// With -sync-now the binary performs a single sync run and exits, which
// suits cron-style deployments.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/metricbridge/metricbridge/internal/api"
	"github.com/metricbridge/metricbridge/internal/cache"
	"github.com/metricbridge/metricbridge/internal/config"
	"github.com/metricbridge/metricbridge/internal/logging"
	"github.com/metricbridge/metricbridge/internal/query"
	"github.com/metricbridge/metricbridge/internal/queue"
	"github.com/metricbridge/metricbridge/internal/store"
	"github.com/metricbridge/metricbridge/internal/supervisor"
	"github.com/metricbridge/metricbridge/internal/supervisor/services"
	syncengine "github.com/metricbridge/metricbridge/internal/sync"
)

var version = "dev"

func main() {
	var (
		syncNow     = flag.Bool("sync-now", false, "run one sync and exit")
		days        = flag.Int("days", 0, "trailing days to sync (default from config)")
		onlyNeeded  = flag.Bool("only-needed", false, "sync only properties that are due")
		enqueue     = flag.Bool("queue", false, "with -sync-now, enqueue the run instead of executing it")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("metricbridge", version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("version", version).Msg("MetricBridge starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *syncNow, *days, *onlyNeeded, *enqueue); err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("MetricBridge exited with error")
	}
	logging.Info().Msg("MetricBridge stopped")
}

func run(ctx context.Context, cfg *config.Config, syncNow bool, days int, onlyNeeded, enqueue bool) error {
	if days <= 0 {
		days = cfg.Sync.Days
	}

	db, err := store.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	if err := db.SeedProperties(ctx, cfg.Properties); err != nil {
		return fmt.Errorf("seed properties: %w", err)
	}

	// Fetch path: GA4 client behind the circuit breaker.
	fetcher := syncengine.NewBreakerFetcher(syncengine.NewGA4Client(cfg.Analytics))
	limiter := cache.NewRateLimiter(time.Hour)
	retry := syncengine.NewRetryPolicy(cfg.Retry)

	orch := syncengine.NewOrchestrator(db, fetcher, limiter, retry, cfg.Chunking, cfg.RateLimit)
	engine := syncengine.NewEngine(orch)

	// Read path: freshness-aware result cache over the store.
	resultCache, err := cache.OpenResultCache(cfg.SmartCache.Path)
	if err != nil {
		return fmt.Errorf("open result cache: %w", err)
	}
	defer resultCache.Close()

	policy := cache.NewFreshnessPolicy(
		cfg.SmartCache.MinDuration, cfg.SmartCache.MaxDuration,
		cfg.SmartCache.PeakFreshness, cfg.SmartCache.OffPeakFreshness,
		cfg.SmartCache.PeakHoursStart, cfg.SmartCache.PeakHoursEnd,
	)
	querySvc := query.NewService(db, resultCache, policy)
	orch.SetDataChangedHook(querySvc.InvalidateAll)

	// Task queue, optionally with an embedded broker.
	var taskQueue *queue.Queue
	if cfg.NATS.Enabled {
		url := cfg.NATS.URL
		if cfg.NATS.EmbeddedServer {
			embedded, err := queue.StartEmbedded(cfg.NATS.StoreDir)
			if err != nil {
				return fmt.Errorf("start embedded NATS: %w", err)
			}
			defer func() { _ = embedded.Shutdown(context.Background()) }()
			url = embedded.ClientURL()
		}

		natsCfg := cfg.NATS
		natsCfg.URL = url
		taskQueue, err = queue.Connect(ctx, natsCfg)
		if err != nil {
			return fmt.Errorf("connect task queue: %w", err)
		}
		defer taskQueue.Close()

		orch.SetPublisher(taskQueue)
		engine.SetQueue(taskQueue)
	}

	if syncNow {
		return runOnce(ctx, engine, days, onlyNeeded, enqueue)
	}
	return runServer(ctx, cfg, db, engine, querySvc, taskQueue, days)
}

// runOnce performs (or enqueues) a single sync run and exits.
func runOnce(ctx context.Context, engine *syncengine.Engine, days int, onlyNeeded, enqueue bool) error {
	run, err := engine.Sync(ctx, days, onlyNeeded, enqueue)
	if err != nil {
		return err
	}
	if run == nil {
		logging.Info().Msg("Sync request enqueued")
		return nil
	}
	logging.Info().
		Str("run_id", run.ID.String()).
		Int("synced", run.SuccessCount).
		Int("failed", run.FailCount).
		Int("deferred", run.DeferredCount).
		Str("success_rate", run.SuccessRate).
		Msg("Sync run finished")
	return nil
}

// runServer starts the supervised long-running mode.
func runServer(ctx context.Context, cfg *config.Config, db *store.Store, engine *syncengine.Engine,
	querySvc *query.Service, taskQueue *queue.Queue, days int) error {

	slogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	tree := supervisor.NewTree(slogger, supervisor.DefaultTreeConfig())

	// Scheduled runs go through the queue when one is attached, so a
	// restart mid-run never loses the request.
	async := taskQueue != nil
	tree.AddSyncService(services.NewSchedulerService(engine, cfg.Sync.Interval, days, cfg.Sync.OnlyNeeded, async))

	if cfg.Sync.RealtimeEnabled {
		tree.AddSyncService(services.NewRealtimeService(engine, cfg.Sync.RealtimeInterval))
	}
	if taskQueue != nil {
		tree.AddSyncService(services.NewQueueWorkerService(taskQueue, engine))
	}

	router := api.NewRouter(db, querySvc, engine, cfg.Sync)
	tree.AddAPIService(services.NewOpsServerService(api.NewServer(router, cfg.Server)))

	err := tree.Serve(ctx)
	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}
