package task

import (
	"sync"

	"github.com/google/uuid"
)

const defaultErrorCap = 100

// ErrorRecord captures one failed input row.
type ErrorRecord struct {
	// Seq orders records within a task, starting at 1.
	Seq int64 `json:"seq"`
	// Fields holds the originating row's raw field mapping.
	Fields map[string]string `json:"fields"`
	// Message is the human-readable failure reason.
	Message string `json:"message"`
}

// ErrorSink is a bounded, append-only store of per-row failures. Each task
// keeps at most cap records (oldest evicted first) plus an exact running
// total, so counts stay accurate even after eviction.
type ErrorSink struct {
	mu     sync.RWMutex
	byTask map[uuid.UUID]*errorRing
	cap    int
}

type errorRing struct {
	records []ErrorRecord // ring buffer, len == cap once full
	next    int           // write position
	total   int64
}

// NewErrorSink constructs an ErrorSink with the given per-task retention cap.
func NewErrorSink(capacity int) *ErrorSink {
	if capacity <= 0 {
		capacity = defaultErrorCap
	}
	return &ErrorSink{
		byTask: make(map[uuid.UUID]*errorRing),
		cap:    capacity,
	}
}

// Record appends a failure for the task, assigning the next sequence number
// and evicting the oldest retained record once the cap is exceeded.
func (s *ErrorSink) Record(taskID uuid.UUID, fields map[string]string, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring, ok := s.byTask[taskID]
	if !ok {
		ring = &errorRing{records: make([]ErrorRecord, 0, s.cap)}
		s.byTask[taskID] = ring
	}
	ring.total++
	rec := ErrorRecord{Seq: ring.total, Fields: fields, Message: message}
	if len(ring.records) < s.cap {
		ring.records = append(ring.records, rec)
		return
	}
	ring.records[ring.next] = rec
	ring.next = (ring.next + 1) % s.cap
}

// List returns up to limit of the most recently retained records, ordered by
// sequence number, plus the true total failure count. An unknown task yields
// an empty result: a reader may race ahead of the first recorded failure.
func (s *ErrorSink) List(taskID uuid.UUID, limit int) ([]ErrorRecord, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring, ok := s.byTask[taskID]
	if !ok {
		return nil, 0
	}
	n := len(ring.records)
	ordered := make([]ErrorRecord, 0, n)
	// Oldest retained record sits at the write position once the ring is full.
	for i := 0; i < n; i++ {
		ordered = append(ordered, ring.records[(ring.next+i)%n])
	}
	if limit > 0 && limit < len(ordered) {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered, ring.total
}
