package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/acme/catalog-importer/internal/catalog"
	"github.com/acme/catalog-importer/internal/config"
	"github.com/acme/catalog-importer/internal/importer"
	"github.com/acme/catalog-importer/internal/metrics"
	"github.com/acme/catalog-importer/internal/progress"
	"github.com/acme/catalog-importer/internal/task"
	"github.com/acme/catalog-importer/internal/webhook"
)

type listenerFunc func(task.Snapshot)

func (f listenerFunc) OnTaskUpdate(snap task.Snapshot) { f(snap) }

type testEnv struct {
	tasks   *task.MemStore
	catalog *catalog.MemStore
	hooks   *webhook.MemRegistry
	server  *Server
	http    *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)
	if mutate != nil {
		mutate(&cfg)
	}

	var broadcaster *progress.Broadcaster
	tasks := task.NewMemStore(task.WithListener(listenerFunc(func(snap task.Snapshot) {
		broadcaster.OnTaskUpdate(snap)
	})))
	broadcaster = progress.NewBroadcaster(tasks, progress.WithSubscriberBuffer(64))

	sink := task.NewErrorSink(cfg.Import.MaxErrors)
	cat := catalog.NewMemStore()
	hooks := webhook.NewMemRegistry()
	tester := webhook.NewDispatcher(hooks, nil, webhook.DispatcherConfig{MaxAttempts: 1}, nil)
	queue := importer.NewQueue(cfg.Import.QueueDepth)
	coordinator := importer.NewCoordinator(tasks, queue, t.TempDir(), nil)
	worker := importer.NewWorker(queue, tasks, sink, cat, nil, nil, nil, importer.Config{FlushRows: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	pool := importer.NewPool(worker, cfg.Import.Concurrency, nil)
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Wait()
	})

	registry := prometheus.NewRegistry()
	httpMetrics, err := metrics.New(registry)
	require.NoError(t, err)

	server := NewServer(Options{
		Coordinator: coordinator,
		Tasks:       tasks,
		Errors:      sink,
		Broadcaster: broadcaster,
		Catalog:     cat,
		Webhooks:    hooks,
		Tester:      tester,
		HTTPMetrics: httpMetrics,
		Registry:    registry,
		Config:      cfg,
	})

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		tasks:   tasks,
		catalog: cat,
		hooks:   hooks,
		server:  server,
		http:    srv,
	}
}
