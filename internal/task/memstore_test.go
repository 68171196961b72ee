package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type recordingListener struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (l *recordingListener) OnTaskUpdate(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snaps = append(l.snaps, snap)
}

func (l *recordingListener) Snapshots() []Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Snapshot, len(l.snaps))
	copy(out, l.snaps)
	return out
}

func TestMemStoreCreateStartsQueued(t *testing.T) {
	t.Parallel()

	store := NewMemStore()
	created, err := store.Create(context.Background())
	require.NoError(t, err)

	snap, err := store.Snapshot(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, snap.Status)
	require.Equal(t, int64(0), snap.Processed)
	require.Equal(t, TotalUnknown, snap.Total)
}

func TestMemStoreTransitionOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemStore()
	created, err := store.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Transition(ctx, created.ID, StatusRunning))
	require.ErrorIs(t, store.Transition(ctx, created.ID, StatusQueued), ErrInvalidTransition)
	require.ErrorIs(t, store.Transition(ctx, created.ID, StatusRunning), ErrInvalidTransition)
	require.NoError(t, store.Transition(ctx, created.ID, StatusCompleted))

	// Terminal state is immutable.
	require.ErrorIs(t, store.Transition(ctx, created.ID, StatusRunning), ErrInvalidTransition)
	require.ErrorIs(t, store.Fail(ctx, created.ID, "late failure"), ErrInvalidTransition)

	snap, err := store.Snapshot(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, snap.Status)
}

func TestMemStoreFailRecordsMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemStore()
	created, err := store.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Fail(ctx, created.ID, "input unreadable"))
	snap, err := store.Snapshot(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, snap.Status)
	require.Equal(t, "input unreadable", snap.Message)
}

func TestMemStoreAdvanceAccumulates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemStore()
	created, err := store.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Advance(ctx, created.ID, 3, 1))
	require.NoError(t, store.Advance(ctx, created.ID, 2, 0))

	snap, err := store.Snapshot(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, int64(5), snap.Processed)
	require.Equal(t, int64(1), snap.Errors)
}

func TestMemStoreSetTotalOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemStore()
	created, err := store.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, store.SetTotal(ctx, created.ID, 10))
	// Re-setting the same value is idempotent.
	require.NoError(t, store.SetTotal(ctx, created.ID, 10))
	require.ErrorIs(t, store.SetTotal(ctx, created.ID, 11), ErrTotalAlreadySet)

	snap, err := store.Snapshot(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), snap.Total)
}

func TestMemStoreUnknownTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemStore()
	_, err := store.Snapshot(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.Advance(ctx, uuid.New(), 1, 0), ErrNotFound)
	require.ErrorIs(t, store.Transition(ctx, uuid.New(), StatusRunning), ErrNotFound)
}

func TestMemStoreListenerSeesMonotonicProgress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	listener := &recordingListener{}
	store := NewMemStore(WithListener(listener), WithClock(&fakeClock{now: time.Unix(1000, 0)}))
	created, err := store.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Transition(ctx, created.ID, StatusRunning))
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Advance(ctx, created.ID, 2, 0))
	}
	require.NoError(t, store.Transition(ctx, created.ID, StatusCompleted))

	snaps := listener.Snapshots()
	require.NotEmpty(t, snaps)
	var last int64
	for _, snap := range snaps {
		require.GreaterOrEqual(t, snap.Processed, last)
		last = snap.Processed
	}
	final := snaps[len(snaps)-1]
	require.Equal(t, StatusCompleted, final.Status)
	require.Equal(t, int64(10), final.Processed)
}

func TestMemStoreConcurrentReadersDuringWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemStore()
	created, err := store.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Transition(ctx, created.ID, StatusRunning))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = store.Advance(ctx, created.ID, 1, 0)
		}
		_ = store.Transition(ctx, created.ID, StatusCompleted)
	}()

	var last int64
	for {
		snap, err := store.Snapshot(ctx, created.ID)
		require.NoError(t, err)
		require.GreaterOrEqual(t, snap.Processed, last)
		last = snap.Processed
		if snap.Status.Terminal() {
			break
		}
	}
	<-done

	snap, err := store.Snapshot(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, int64(200), snap.Processed)
}
