// Package task defines the import task lifecycle model and its stores.
package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an import task.
type Status string

// Task status values. Transitions are monotonic: queued -> running ->
// completed|failed. Terminal states are never left.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// TotalUnknown is the sentinel for a task whose input size has not been
// determined yet. Consumers must treat percentage-complete as undefined
// while Total holds this value.
const TotalUnknown int64 = -1

var (
	// ErrNotFound signals that the requested task does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition signals a status change that would violate the
	// monotonic lifecycle ordering.
	ErrInvalidTransition = errors.New("invalid task status transition")
	// ErrTotalAlreadySet signals an attempt to change an already known total.
	ErrTotalAlreadySet = errors.New("task total already set")
)

// Task is the authoritative record for one bulk import.
type Task struct {
	ID        uuid.UUID
	Status    Status
	Processed int64
	Errors    int64
	Total     int64
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot is an immutable point-in-time read of a task. Wire encodings are
// the API layer's concern.
type Snapshot struct {
	TaskID    uuid.UUID
	Status    Status
	Processed int64
	Errors    int64
	// Total is TotalUnknown until the input size is determined.
	Total     int64
	Message   string
	UpdatedAt time.Time
}

// Store is the single source of truth for task state. All mutations to one
// task must come from its owning worker; reads may run concurrently and may
// observe slightly stale values.
type Store interface {
	// Create allocates a queued task with a fresh identity.
	Create(ctx context.Context) (Task, error)
	// Transition moves the task to a new status, enforcing monotonic ordering.
	Transition(ctx context.Context, id uuid.UUID, status Status) error
	// Fail moves the task to the failed terminal state with a reason.
	Fail(ctx context.Context, id uuid.UUID, message string) error
	// Advance atomically adds deltas to the processed and error counters.
	Advance(ctx context.Context, id uuid.UUID, processed, errs int64) error
	// SetTotal records the input size exactly once.
	SetTotal(ctx context.Context, id uuid.UUID, total int64) error
	// Snapshot returns the current state of the task or ErrNotFound.
	Snapshot(ctx context.Context, id uuid.UUID) (Snapshot, error)
}

// UpdateListener receives a snapshot after every task mutation. It must not
// block; the progress broadcaster implements it.
type UpdateListener interface {
	OnTaskUpdate(snap Snapshot)
}
