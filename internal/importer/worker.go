package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/catalog-importer/internal/catalog"
	"github.com/acme/catalog-importer/internal/clock/system"
	"github.com/acme/catalog-importer/internal/task"
)

// Publisher pushes lifecycle events to an event backend. The event name
// travels with the message so consumers can route without decoding the
// payload.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// EventNotifier fans an event out to registered webhooks. Implementations
// must not block the caller.
type EventNotifier interface {
	Notify(event string, payload map[string]any)
}

// Lifecycle event names emitted at terminal transitions.
const (
	EventImportCompleted = "import.completed"
	EventImportFailed    = "import.failed"
)

// Config controls Worker behavior.
type Config struct {
	// FlushRows caps how many rows accumulate before a counter flush.
	FlushRows int
	// FlushInterval caps how long counters stay unflushed. Together with
	// FlushRows it bounds the update rate toward the task store; the final
	// flush before the terminal transition is always exact.
	FlushInterval time.Duration
}

// Worker drives accepted uploads to a terminal task state. Exactly one
// worker ever owns a given task, so all counter mutations for that task are
// single-writer.
type Worker struct {
	queue   *Queue
	tasks   task.Store
	errs    *task.ErrorSink
	catalog catalog.Store
	pub     Publisher
	events  EventNotifier
	clock   task.Clock
	cfg     Config
	logger  *zap.Logger
}

// NewWorker constructs a Worker.
func NewWorker(
	queue *Queue,
	tasks task.Store,
	errs *task.ErrorSink,
	cat catalog.Store,
	pub Publisher,
	events EventNotifier,
	clock task.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.FlushRows <= 0 {
		cfg.FlushRows = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 200 * time.Millisecond
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   queue,
		tasks:   tasks,
		errs:    errs,
		catalog: cat,
		pub:     pub,
		events:  events,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.processItem(ctx, item)
	}
}

func (w *Worker) processItem(ctx context.Context, item Item) {
	logger := w.logger.With(zap.String("task_id", item.TaskID.String()))
	src, err := os.Open(item.Path)
	if err != nil {
		logger.Error("open spool file failed", zap.Error(err))
		if failErr := w.tasks.Fail(ctx, item.TaskID, "input unreadable"); failErr != nil {
			logger.Error("fail transition failed", zap.Error(failErr))
		}
		return
	}
	w.RunTask(ctx, item.TaskID, src, item.RowCount)
	if err := src.Close(); err != nil {
		logger.Warn("close spool file failed", zap.Error(err))
	}
	if err := os.Remove(item.Path); err != nil {
		logger.Warn("remove spool file failed", zap.Error(err))
	}
}

// RunTask drives one task from queued to a terminal state, streaming rows
// from src. Row-level failures are absorbed into the error sink; only an
// unreadable input stream is fatal to the task. Rows already applied to the
// catalog are never rolled back.
func (w *Worker) RunTask(ctx context.Context, taskID uuid.UUID, src io.Reader, rowCount int64) {
	logger := w.logger.With(zap.String("task_id", taskID.String()))
	if err := w.tasks.Transition(ctx, taskID, task.StatusRunning); err != nil {
		logger.Error("running transition failed", zap.Error(err))
		return
	}
	if rowCount >= 0 {
		if err := w.tasks.SetTotal(ctx, taskID, rowCount); err != nil {
			logger.Error("set total failed", zap.Error(err))
		}
	}

	processed, errCount, fatal := w.consume(ctx, taskID, src)

	if fatal != nil {
		logger.Warn("import failed",
			zap.Int64("processed", processed),
			zap.Int64("errors", errCount),
			zap.Error(fatal),
		)
		if err := w.tasks.Fail(ctx, taskID, fatal.Error()); err != nil {
			logger.Error("fail transition failed", zap.Error(err))
		}
		w.announce(ctx, taskID, EventImportFailed, task.StatusFailed, processed, errCount)
		return
	}

	if rowCount < 0 {
		// The input size was unknowable upfront; the exhausted stream fixes it.
		if err := w.tasks.SetTotal(ctx, taskID, processed); err != nil {
			logger.Error("set total failed", zap.Error(err))
		}
	}
	if err := w.tasks.Transition(ctx, taskID, task.StatusCompleted); err != nil {
		logger.Error("completed transition failed", zap.Error(err))
		return
	}
	logger.Info("import completed",
		zap.Int64("processed", processed),
		zap.Int64("errors", errCount),
	)
	w.announce(ctx, taskID, EventImportCompleted, task.StatusCompleted, processed, errCount)
}

// consume reads rows incrementally so memory stays bounded for arbitrarily
// large uploads. It returns the exact attempted-row and failure counts and a
// non-nil fatal error only when the stream itself became unreadable.
func (w *Worker) consume(ctx context.Context, taskID uuid.UUID, src io.Reader) (int64, int64, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("read header: %w", err)
	}
	header = NormalizeHeader(header)

	var processed, errCount int64
	var sentProcessed, sentErrs int64
	lastFlush := w.clock.Now()

	flush := func() {
		dp, de := processed-sentProcessed, errCount-sentErrs
		if dp == 0 && de == 0 {
			return
		}
		if err := w.tasks.Advance(ctx, taskID, dp, de); err != nil {
			w.logger.Error("advance failed", zap.String("task_id", taskID.String()), zap.Error(err))
			return
		}
		sentProcessed, sentErrs = processed, errCount
		lastFlush = w.clock.Now()
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			// The reader recovers past malformed rows; treat them as row-level.
			w.errs.Record(taskID, map[string]string{"line": strconv.Itoa(parseErr.Line)}, parseErr.Error())
			processed++
			errCount++
			continue
		}
		if err != nil {
			flush()
			return processed, errCount, fmt.Errorf("read row: %w", err)
		}

		cmd, rowErr := ParseRow(header, record)
		switch {
		case rowErr != nil:
			w.errs.Record(taskID, rowErr.Fields, rowErr.Reason)
			errCount++
		default:
			if applyErr := w.catalog.Apply(ctx, cmd); applyErr != nil {
				// Catalog conflicts and other apply errors stay row-level.
				w.errs.Record(taskID, recordFields(header, record), applyErr.Error())
				errCount++
			}
		}
		processed++

		if processed-sentProcessed >= int64(w.cfg.FlushRows) ||
			w.clock.Now().Sub(lastFlush) >= w.cfg.FlushInterval {
			flush()
		}
	}
	flush()
	return processed, errCount, nil
}

func (w *Worker) announce(
	ctx context.Context,
	taskID uuid.UUID,
	event string,
	status task.Status,
	processed, errCount int64,
) {
	payload := map[string]any{
		"task_id":   taskID.String(),
		"status":    string(status),
		"processed": processed,
		"errors":    errCount,
		"timestamp": w.clock.Now().Format(time.RFC3339),
	}
	if w.events != nil {
		w.events.Notify(event, payload)
	}
	if w.pub == nil {
		return
	}
	if _, err := w.pub.Publish(ctx, event, payload); err != nil {
		w.logger.Warn("lifecycle publish failed",
			zap.String("task_id", taskID.String()),
			zap.Error(err),
		)
	}
}
