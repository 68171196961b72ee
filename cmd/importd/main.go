// Package main wires together the catalog import service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/acme/catalog-importer/internal/api"
	"github.com/acme/catalog-importer/internal/catalog"
	"github.com/acme/catalog-importer/internal/clock/system"
	"github.com/acme/catalog-importer/internal/config"
	"github.com/acme/catalog-importer/internal/importer"
	"github.com/acme/catalog-importer/internal/logging"
	"github.com/acme/catalog-importer/internal/metrics"
	"github.com/acme/catalog-importer/internal/progress"
	"github.com/acme/catalog-importer/internal/progress/sinks"
	memorypublisher "github.com/acme/catalog-importer/internal/publisher/memory"
	pubsubpublisher "github.com/acme/catalog-importer/internal/publisher/pubsub"
	"github.com/acme/catalog-importer/internal/task"
	"github.com/acme/catalog-importer/internal/webhook"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	httpMetrics, err := metrics.New(registry)
	if err != nil {
		logger.Fatal("register http metrics failed", zap.Error(err))
	}
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		logger.Fatal("register progress metrics failed", zap.Error(err))
	}

	var broadcaster *progress.Broadcaster
	tasks := task.NewMemStore(task.WithListener(listenerFunc(func(snap task.Snapshot) {
		broadcaster.OnTaskUpdate(snap)
	})))
	broadcaster = progress.NewBroadcaster(tasks,
		progress.WithSubscriberBuffer(cfg.Import.SubscriberBuffer),
		progress.WithSinks(promSink, sinks.NewLogSink(logger.Named("progress"))),
		progress.WithLogger(logger.Named("broadcaster")),
	)
	errSink := task.NewErrorSink(cfg.Import.MaxErrors)

	var catalogStore catalog.Store
	var webhookRegistry webhook.Registry
	switch cfg.Catalog.Provider {
	case config.CatalogPostgres:
		store, pool, err := catalog.NewPostgresStore(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Fatal("connect catalog store failed", zap.Error(err))
		}
		defer pool.Close()
		catalogStore = store
		hooks, hookPool, err := webhook.NewPostgresRegistry(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Fatal("connect webhook registry failed", zap.Error(err))
		}
		defer hookPool.Close()
		webhookRegistry = hooks
	default:
		catalogStore = catalog.NewMemStore()
		webhookRegistry = webhook.NewMemRegistry()
	}

	var notifier importer.EventNotifier
	var tester api.WebhookTester
	var hookDispatcher *webhook.Dispatcher
	if cfg.Webhooks.Enabled {
		hookDispatcher = webhook.NewDispatcher(webhookRegistry, nil, webhook.DispatcherConfig{
			QueueDepth:    cfg.Webhooks.QueueDepth,
			Workers:       cfg.Webhooks.Workers,
			MaxAttempts:   cfg.Webhooks.MaxAttempts,
			RetryDelay:    cfg.Webhooks.RetryDelay(),
			RatePerMinute: cfg.Webhooks.RatePerMinute,
			Timeout:       cfg.Webhooks.Timeout(),
		}, logger.Named("webhooks"))
		hookDispatcher.Start(ctx)
		notifier = hookDispatcher
		tester = hookDispatcher
	}

	var lifecycle importer.Publisher
	switch cfg.Events.Provider {
	case config.EventsPubSub:
		pub, client, err := pubsubpublisher.Connect(ctx, cfg.Events.ProjectID, cfg.Events.Topic)
		if err != nil {
			logger.Fatal("connect pubsub failed", zap.Error(err))
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("close pubsub client failed", zap.Error(closeErr))
			}
		}()
		lifecycle = pub
	default:
		lifecycle = memorypublisher.New()
	}

	spoolDir := cfg.Import.SpoolDir
	if spoolDir == "" {
		spoolDir, err = os.MkdirTemp("", "importd-spool-")
		if err != nil {
			logger.Fatal("create spool dir failed", zap.Error(err))
		}
		defer os.RemoveAll(spoolDir)
	}

	queue := importer.NewQueue(cfg.Import.QueueDepth)
	coordinator := importer.NewCoordinator(tasks, queue, spoolDir, logger.Named("coordinator"))
	worker := importer.NewWorker(
		queue, tasks, errSink, catalogStore,
		lifecycle, notifier, system.New(),
		importer.Config{
			FlushRows:     cfg.Import.FlushRows,
			FlushInterval: cfg.Import.FlushInterval(),
		},
		logger.Named("worker"),
	)
	pool := importer.NewPool(worker, cfg.Import.Concurrency, logger.Named("pool"))
	pool.Start(ctx)

	apiServer := api.NewServer(api.Options{
		Coordinator: coordinator,
		Tasks:       tasks,
		Errors:      errSink,
		Broadcaster: broadcaster,
		Catalog:     catalogStore,
		Webhooks:    webhookRegistry,
		Notifier:    notifier,
		Tester:      tester,
		HTTPMetrics: httpMetrics,
		Registry:    registry,
		Logger:      logger.Named("api"),
		Config:      cfg,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	pool.Wait()
	if hookDispatcher != nil {
		hookDispatcher.Wait()
	}
	logger.Info("shutdown complete")
}

type listenerFunc func(task.Snapshot)

func (f listenerFunc) OnTaskUpdate(snap task.Snapshot) { f(snap) }
