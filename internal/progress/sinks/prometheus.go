package sinks

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/acme/catalog-importer/internal/task"
)

// PrometheusSink exports import progress via Prometheus. It owns all
// collectors for task lifecycle counts and row throughput.
type PrometheusSink struct {
	tasksStarted   prometheus.Counter
	tasksCompleted *prometheus.CounterVec
	tasksRunning   prometheus.Gauge
	rowsProcessed  prometheus.Counter
	rowErrors      prometheus.Counter

	tracker *taskTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importer_tasks_started_total",
			Help: "Total import tasks accepted.",
		}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importer_tasks_finished_total",
			Help: "Total import tasks reaching a terminal state, partitioned by result.",
		}, []string{"result"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "importer_tasks_running",
			Help: "Current number of running import tasks.",
		}),
		rowsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importer_rows_processed_total",
			Help: "Total input rows attempted across all imports.",
		}),
		rowErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importer_row_errors_total",
			Help: "Total input rows rejected across all imports.",
		}),
		tracker: newTaskTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksStarted,
		s.tasksCompleted,
		s.tasksRunning,
		s.rowsProcessed,
		s.rowErrors,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the snapshot. Snapshots carry
// cumulative counters, so the tracker converts them to deltas per task.
func (s *PrometheusSink) Consume(snap task.Snapshot) {
	delta, first, entered, left := s.tracker.observe(snap)
	if first {
		s.tasksStarted.Inc()
	}
	if entered {
		s.tasksRunning.Inc()
	}
	if left {
		s.tasksRunning.Dec()
	}
	if snap.Status.Terminal() {
		s.tasksCompleted.WithLabelValues(string(snap.Status)).Inc()
	}
	if delta.processed > 0 {
		s.rowsProcessed.Add(float64(delta.processed))
	}
	if delta.errors > 0 {
		s.rowErrors.Add(float64(delta.errors))
	}
}

type counts struct {
	processed int64
	errors    int64
}

// taskTracker remembers the last observed cumulative counters and status per
// task so monotone Prometheus counters see only increments. Terminal tasks
// are forgotten immediately to keep the map bounded.
type taskTracker struct {
	mu     sync.Mutex
	last   map[uuid.UUID]counts
	status map[uuid.UUID]task.Status
}

func newTaskTracker() *taskTracker {
	return &taskTracker{
		last:   make(map[uuid.UUID]counts),
		status: make(map[uuid.UUID]task.Status),
	}
}

func (t *taskTracker) observe(snap task.Snapshot) (delta counts, first, entered, left bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, seen := t.last[snap.TaskID]
	first = !seen
	delta = counts{
		processed: snap.Processed - prev.processed,
		errors:    snap.Errors - prev.errors,
	}

	prevStatus := t.status[snap.TaskID]
	entered = snap.Status == task.StatusRunning && prevStatus != task.StatusRunning
	left = snap.Status.Terminal() && prevStatus == task.StatusRunning

	if snap.Status.Terminal() {
		delete(t.last, snap.TaskID)
		delete(t.status, snap.TaskID)
		return delta, first, entered, left
	}
	t.last[snap.TaskID] = counts{processed: snap.Processed, errors: snap.Errors}
	t.status[snap.TaskID] = snap.Status
	return delta, first, entered, left
}
