package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/catalog-importer/internal/clock/system"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// MemStore is the in-memory Store implementation. Each task owns its own
// state cell with its own lock, so unrelated imports never serialize on a
// shared mutex; the outer map lock is held only for lookups.
type MemStore struct {
	mu       sync.RWMutex
	tasks    map[uuid.UUID]*taskState
	clock    Clock
	listener UpdateListener
}

type taskState struct {
	mu sync.Mutex
	t  Task
}

// MemStoreOption configures a MemStore.
type MemStoreOption func(*MemStore)

// WithListener registers an UpdateListener notified after every mutation.
func WithListener(l UpdateListener) MemStoreOption {
	return func(s *MemStore) { s.listener = l }
}

// WithClock overrides the time source.
func WithClock(c Clock) MemStoreOption {
	return func(s *MemStore) { s.clock = c }
}

// NewMemStore constructs a MemStore.
func NewMemStore(opts ...MemStoreOption) *MemStore {
	s := &MemStore{
		tasks: make(map[uuid.UUID]*taskState),
		clock: system.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create allocates a queued task with a fresh identity.
func (s *MemStore) Create(_ context.Context) (Task, error) {
	now := s.clock.Now()
	t := Task{
		ID:        uuid.New(),
		Status:    StatusQueued,
		Total:     TotalUnknown,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.tasks[t.ID] = &taskState{t: t}
	s.mu.Unlock()
	s.notify(snapshotOf(t))
	return t, nil
}

// Transition moves the task to a new status, enforcing monotonic ordering.
func (s *MemStore) Transition(_ context.Context, id uuid.UUID, status Status) error {
	return s.transition(id, status, "")
}

// Fail moves the task to the failed terminal state with a reason.
func (s *MemStore) Fail(_ context.Context, id uuid.UUID, message string) error {
	return s.transition(id, StatusFailed, message)
}

func (s *MemStore) transition(id uuid.UUID, status Status, message string) error {
	st, err := s.lookup(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	cur := st.t.Status
	if cur.Terminal() || status.rank() <= cur.rank() {
		st.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, status)
	}
	st.t.Status = status
	if message != "" {
		st.t.Message = message
	}
	st.t.UpdatedAt = s.clock.Now()
	snap := snapshotOf(st.t)
	st.mu.Unlock()
	s.notify(snap)
	return nil
}

// Advance atomically adds deltas to the processed and error counters.
func (s *MemStore) Advance(_ context.Context, id uuid.UUID, processed, errs int64) error {
	st, err := s.lookup(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.t.Processed += processed
	st.t.Errors += errs
	st.t.UpdatedAt = s.clock.Now()
	snap := snapshotOf(st.t)
	st.mu.Unlock()
	s.notify(snap)
	return nil
}

// SetTotal records the input size exactly once. Setting the same value again
// is a no-op; setting a different value fails with ErrTotalAlreadySet.
func (s *MemStore) SetTotal(_ context.Context, id uuid.UUID, total int64) error {
	st, err := s.lookup(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	if st.t.Total != TotalUnknown {
		already := st.t.Total
		st.mu.Unlock()
		if already == total {
			return nil
		}
		return fmt.Errorf("%w: have %d, got %d", ErrTotalAlreadySet, already, total)
	}
	st.t.Total = total
	st.t.UpdatedAt = s.clock.Now()
	snap := snapshotOf(st.t)
	st.mu.Unlock()
	s.notify(snap)
	return nil
}

// Snapshot returns the current state of the task or ErrNotFound.
func (s *MemStore) Snapshot(_ context.Context, id uuid.UUID) (Snapshot, error) {
	st, err := s.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return snapshotOf(st.t), nil
}

func (s *MemStore) lookup(id uuid.UUID) (*taskState, error) {
	s.mu.RLock()
	st, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}

func (s *MemStore) notify(snap Snapshot) {
	if s.listener != nil {
		s.listener.OnTaskUpdate(snap)
	}
}

func snapshotOf(t Task) Snapshot {
	return Snapshot{
		TaskID:    t.ID,
		Status:    t.Status,
		Processed: t.Processed,
		Errors:    t.Errors,
		Total:     t.Total,
		Message:   t.Message,
		UpdatedAt: t.UpdatedAt,
	}
}
