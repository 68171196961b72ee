package progress

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/catalog-importer/internal/task"
)

const defaultSubscriberBuffer = 16

// Broadcaster distributes task updates to any number of per-task
// subscribers. Each subscriber owns a bounded queue; when a slow consumer
// falls behind, the oldest queued snapshot is dropped so the stream always
// converges on the latest state. Terminal snapshots are always delivered
// before the subscription channel closes.
//
// Broadcaster implements task.UpdateListener, so wiring it into the task
// store is enough to make every mutation visible downstream.
type Broadcaster struct {
	store  task.Store
	sinks  []Sink
	buffer int
	logger *zap.Logger

	mu   sync.Mutex
	subs map[uuid.UUID]map[*subscriber]struct{}
}

type subscriber struct {
	ch chan task.Snapshot
}

// Subscription is one live progress stream. The Updates channel closes after
// the terminal snapshot is delivered or Cancel is called.
type Subscription struct {
	ch     chan task.Snapshot
	cancel func()
}

// Updates returns the snapshot stream.
func (s *Subscription) Updates() <-chan task.Snapshot { return s.ch }

// Cancel detaches the subscription. Safe to call more than once and after
// the stream has already closed.
func (s *Subscription) Cancel() { s.cancel() }

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithSinks registers sinks receiving every snapshot.
func WithSinks(sinks ...Sink) BroadcasterOption {
	return func(b *Broadcaster) { b.sinks = append(b.sinks, sinks...) }
}

// WithSubscriberBuffer sets the per-subscriber queue depth.
func WithSubscriberBuffer(n int) BroadcasterOption {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBroadcaster constructs a Broadcaster reading initial snapshots from
// store.
func NewBroadcaster(store task.Store, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		store:  store,
		buffer: defaultSubscriberBuffer,
		logger: zap.NewNop(),
		subs:   make(map[uuid.UUID]map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe attaches a new subscriber to the task. The current snapshot is
// always the first delivery, so a consumer never starts blind; if the task is
// already terminal the stream closes right after that single snapshot.
// Unknown tasks yield task.ErrNotFound.
func (b *Broadcaster) Subscribe(ctx context.Context, taskID uuid.UUID) (*Subscription, error) {
	// Holding the lock across the read pins the snapshot against concurrent
	// updates: nothing can slip between the initial state and registration.
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, err := b.store.Snapshot(ctx, taskID)
	if err != nil {
		return nil, err
	}

	sub := &subscriber{ch: make(chan task.Snapshot, b.buffer)}
	sub.ch <- snap
	if snap.Status.Terminal() {
		close(sub.ch)
		return &Subscription{ch: sub.ch, cancel: func() {}}, nil
	}

	set, ok := b.subs[taskID]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.subs[taskID] = set
	}
	set[sub] = struct{}{}

	cancel := func() { b.detach(taskID, sub) }
	return &Subscription{ch: sub.ch, cancel: cancel}, nil
}

// OnTaskUpdate implements task.UpdateListener. It never blocks the caller:
// slow subscribers lose their oldest queued snapshot instead.
func (b *Broadcaster) OnTaskUpdate(snap task.Snapshot) {
	for _, sink := range b.sinks {
		sink.Consume(snap)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[snap.TaskID]
	if !ok {
		return
	}
	for sub := range set {
		sub.push(snap)
		if snap.Status.Terminal() {
			close(sub.ch)
		}
	}
	if snap.Status.Terminal() {
		delete(b.subs, snap.TaskID)
	}
}

// SubscriberCount reports the live subscribers for a task.
func (b *Broadcaster) SubscriberCount(taskID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[taskID])
}

func (b *Broadcaster) detach(taskID uuid.UUID, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[taskID]
	if !ok {
		return
	}
	if _, live := set[sub]; !live {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, taskID)
	}
	close(sub.ch)
}

// push delivers snap, evicting the oldest queued snapshot when the buffer is
// full. Only the broadcaster goroutine holding the lock ever sends, so the
// drain-then-send pair cannot race another producer.
func (s *subscriber) push(snap task.Snapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}
