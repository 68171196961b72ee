package importer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/acme/catalog-importer/internal/catalog"
	memorypublisher "github.com/acme/catalog-importer/internal/publisher/memory"
	"github.com/acme/catalog-importer/internal/task"
)

type stubClock struct {
	now time.Time
}

func (c stubClock) Now() time.Time { return c.now }

type errReader struct {
	err error
}

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// conflictCatalog rejects configured SKUs and delegates the rest.
type conflictCatalog struct {
	*catalog.MemStore
	rejected string
}

func (c *conflictCatalog) Apply(ctx context.Context, cmd catalog.Command) error {
	if cmd.SKU == c.rejected {
		return catalog.ErrConflict
	}
	return c.MemStore.Apply(ctx, cmd)
}

type recordingPublisher struct {
	mu       sync.Mutex
	events   []string
	payloads []any
}

func (p *recordingPublisher) Publish(_ context.Context, event string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.payloads = append(p.payloads, payload)
	return "msg-1", nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(event string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type workerEnv struct {
	tasks   *task.MemStore
	sink    *task.ErrorSink
	catalog catalog.Store
	pub     *recordingPublisher
	events  *recordingNotifier
	worker  *Worker
}

func newWorkerEnv(t *testing.T, cat catalog.Store) *workerEnv {
	t.Helper()
	env := &workerEnv{
		tasks:   task.NewMemStore(),
		sink:    task.NewErrorSink(10),
		catalog: cat,
		pub:     &recordingPublisher{},
		events:  &recordingNotifier{},
	}
	if env.catalog == nil {
		env.catalog = catalog.NewMemStore()
	}
	cfg := Config{FlushRows: 1, FlushInterval: time.Hour}
	env.worker = NewWorker(
		NewQueue(4), env.tasks, env.sink, env.catalog,
		env.pub, env.events, stubClock{now: time.Unix(1700000000, 0).UTC()},
		cfg, nil,
	)
	return env
}

func (e *workerEnv) newTask(t *testing.T) uuid.UUID {
	t.Helper()
	created, err := e.tasks.Create(context.Background())
	require.NoError(t, err)
	return created.ID
}

func TestRunTaskCompletesWithRowFailures(t *testing.T) {
	t.Parallel()

	env := newWorkerEnv(t, nil)
	id := env.newTask(t)
	data := "sku,name,price\nA-1,Alpha,1.50\n,NoSku,2.00\nC-3,Gamma,3.25\n"

	env.worker.RunTask(context.Background(), id, strings.NewReader(data), 3)

	snap, err := env.tasks.Snapshot(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, snap.Status)
	require.Equal(t, int64(3), snap.Processed)
	require.Equal(t, int64(1), snap.Errors)
	require.Equal(t, int64(3), snap.Total)

	_, total, err := env.catalog.List(context.Background(), catalog.Filters{}, catalog.Page{})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)

	recs, errTotal := env.sink.List(id, 0)
	require.Equal(t, int64(1), errTotal)
	require.Equal(t, "missing sku or name", recs[0].Message)
}

func TestRunTaskFatalReadError(t *testing.T) {
	t.Parallel()

	env := newWorkerEnv(t, nil)
	id := env.newTask(t)
	head := "sku,name\nA-1,Alpha\nB-2,Beta\nC-3,Gamma\nD-4,Delta\nE-5,Epsilon\n"
	src := io.MultiReader(strings.NewReader(head), errReader{err: errors.New("disk gone")})

	env.worker.RunTask(context.Background(), id, src, 10)

	snap, err := env.tasks.Snapshot(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, snap.Status)
	require.Equal(t, int64(5), snap.Processed)
	require.Equal(t, int64(10), snap.Total)
	require.Contains(t, snap.Message, "read row")
	require.Contains(t, env.events.all(), EventImportFailed)
	require.Equal(t, []string{EventImportFailed}, env.pub.published())
}

func TestRunTaskCatalogConflictStaysRowLevel(t *testing.T) {
	t.Parallel()

	cat := &conflictCatalog{MemStore: catalog.NewMemStore(), rejected: "DUP-1"}
	env := newWorkerEnv(t, cat)
	id := env.newTask(t)
	data := "sku,name\nOK-1,Fine\nDUP-1,Clash\n"

	env.worker.RunTask(context.Background(), id, strings.NewReader(data), 2)

	snap, err := env.tasks.Snapshot(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, snap.Status)
	require.Equal(t, int64(2), snap.Processed)
	require.Equal(t, int64(1), snap.Errors)

	recs, _ := env.sink.List(id, 0)
	require.Len(t, recs, 1)
	require.Equal(t, catalog.ErrConflict.Error(), recs[0].Message)
	require.Equal(t, "DUP-1", recs[0].Fields["sku"])
}

func TestRunTaskMalformedRowIsRecovered(t *testing.T) {
	t.Parallel()

	env := newWorkerEnv(t, nil)
	id := env.newTask(t)
	data := "sku,name\nA-1,Alpha\nB-2,\"Be\"ta\nC-3,Gamma\n"

	env.worker.RunTask(context.Background(), id, strings.NewReader(data), 3)

	snap, err := env.tasks.Snapshot(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, snap.Status)
	require.Equal(t, int64(3), snap.Processed)
	require.Equal(t, int64(1), snap.Errors)
}

func TestRunTaskFixesUnknownTotalAtCompletion(t *testing.T) {
	t.Parallel()

	env := newWorkerEnv(t, nil)
	id := env.newTask(t)
	data := "sku,name\nA-1,Alpha\nB-2,Beta\n"

	env.worker.RunTask(context.Background(), id, strings.NewReader(data), RowCountUnknown)

	snap, err := env.tasks.Snapshot(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, snap.Status)
	require.Equal(t, int64(2), snap.Total)
}

func TestRunTaskEmptyInputCompletes(t *testing.T) {
	t.Parallel()

	env := newWorkerEnv(t, nil)
	id := env.newTask(t)

	env.worker.RunTask(context.Background(), id, strings.NewReader(""), RowCountUnknown)

	snap, err := env.tasks.Snapshot(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, snap.Status)
	require.Zero(t, snap.Processed)
	require.Zero(t, snap.Total)
}

func TestRunTaskPublishesLifecycleEvent(t *testing.T) {
	t.Parallel()

	env := newWorkerEnv(t, nil)
	id := env.newTask(t)

	env.worker.RunTask(context.Background(), id, strings.NewReader("sku,name\nA-1,Alpha\n"), 1)

	// The event name reaches the publisher so consumers can route on it.
	require.Equal(t, []string{EventImportCompleted}, env.pub.published())
	payload, ok := env.pub.payloads[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, string(task.StatusCompleted), payload["status"])
	require.Equal(t, id.String(), payload["task_id"])
	require.Contains(t, env.events.all(), EventImportCompleted)
}

func TestRunTaskPublishesThroughMemoryPublisher(t *testing.T) {
	t.Parallel()

	pub := memorypublisher.New()
	tasks := task.NewMemStore()
	worker := NewWorker(
		NewQueue(1), tasks, task.NewErrorSink(10), catalog.NewMemStore(),
		pub, nil, nil, Config{FlushRows: 1}, nil,
	)
	created, err := tasks.Create(context.Background())
	require.NoError(t, err)

	worker.RunTask(context.Background(), created.ID, strings.NewReader("sku,name\nA-1,Alpha\n"), 1)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, EventImportCompleted, msgs[0].Event)
}

func TestWorkerProcessItemRemovesSpoolFile(t *testing.T) {
	t.Parallel()

	env := newWorkerEnv(t, nil)
	id := env.newTask(t)
	path := filepath.Join(t.TempDir(), "spool.csv")
	require.NoError(t, os.WriteFile(path, []byte("sku,name\nA-1,Alpha\n"), 0o600))

	env.worker.processItem(context.Background(), Item{TaskID: id, Path: path, RowCount: 1})

	snap, err := env.tasks.Snapshot(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, snap.Status)
	require.NoFileExists(t, path)
}

func TestWorkerProcessItemMissingSpoolFails(t *testing.T) {
	t.Parallel()

	env := newWorkerEnv(t, nil)
	id := env.newTask(t)

	env.worker.processItem(context.Background(), Item{
		TaskID:   id,
		Path:     filepath.Join(t.TempDir(), "missing.csv"),
		RowCount: 1,
	})

	snap, err := env.tasks.Snapshot(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, snap.Status)
	require.Equal(t, "input unreadable", snap.Message)
}

func TestWorkerRunDrainsQueue(t *testing.T) {
	t.Parallel()

	env := newWorkerEnv(t, nil)
	id := env.newTask(t)
	path := filepath.Join(t.TempDir(), "spool.csv")
	require.NoError(t, os.WriteFile(path, []byte("sku,name\nA-1,Alpha\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := NewPool(env.worker, 2, nil)
	pool.Start(ctx)

	require.NoError(t, env.worker.queue.Enqueue(ctx, Item{TaskID: id, Path: path, RowCount: 1}))

	require.Eventually(t, func() bool {
		snap, err := env.tasks.Snapshot(context.Background(), id)
		return err == nil && snap.Status == task.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	pool.Wait()
}
