package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Item is one accepted upload, ready to run.
type Item struct {
	TaskID uuid.UUID
	// Path is the spool file holding the raw CSV bytes.
	Path string
	// RowCount is the number of data rows counted during spooling, or
	// RowCountUnknown when counting failed.
	RowCount int64
}

// RowCountUnknown marks an item whose input size could not be determined.
const RowCountUnknown int64 = -1

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan Item
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan Item, capacity)}
}

// Enqueue pushes an item into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item Item) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// TryEnqueue pushes an item without blocking. It reports false when the
// queue is at capacity.
func (q *Queue) TryEnqueue(item Item) bool {
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (Item, error) {
	select {
	case <-ctx.Done():
		return Item{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return Item{}, errors.New("queue closed")
		}
		return item, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
