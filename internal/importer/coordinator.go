package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/acme/catalog-importer/internal/task"
)

// ErrQueueFull signals that the worker queue rejected an accepted upload.
var ErrQueueFull = errors.New("import queue full")

const spoolCopyBuffer = 1 << 20

// Coordinator accepts uploads and hands them to the worker pool. Accept
// never blocks on a busy pool: the upload is spooled to disk, a queued task
// handle is returned immediately, and a full queue is an explicit failure
// rather than a stalled request.
type Coordinator struct {
	tasks    task.Store
	queue    *Queue
	spoolDir string
	logger   *zap.Logger
}

// NewCoordinator constructs a Coordinator spooling into dir.
func NewCoordinator(tasks task.Store, queue *Queue, dir string, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{tasks: tasks, queue: queue, spoolDir: dir, logger: logger}
}

// Accept registers a new import task and spools the upload body to disk.
// The returned task is already queued; callers poll or subscribe for
// progress using its ID.
func (c *Coordinator) Accept(ctx context.Context, src io.Reader) (task.Task, error) {
	t, err := c.tasks.Create(ctx)
	if err != nil {
		return task.Task{}, fmt.Errorf("create task: %w", err)
	}
	logger := c.logger.With(zap.String("task_id", t.ID.String()))

	path, rowCount, err := c.spool(src)
	if err != nil {
		logger.Error("spool upload failed", zap.Error(err))
		if failErr := c.tasks.Fail(ctx, t.ID, "upload could not be stored"); failErr != nil {
			logger.Error("fail transition failed", zap.Error(failErr))
		}
		return t, fmt.Errorf("spool upload: %w", err)
	}

	if !c.queue.TryEnqueue(Item{TaskID: t.ID, Path: path, RowCount: rowCount}) {
		logger.Warn("import queue full, rejecting upload")
		if removeErr := os.Remove(path); removeErr != nil {
			logger.Warn("remove spool file failed", zap.Error(removeErr))
		}
		if failErr := c.tasks.Fail(ctx, t.ID, "import queue full"); failErr != nil {
			logger.Error("fail transition failed", zap.Error(failErr))
		}
		return t, ErrQueueFull
	}
	logger.Info("upload accepted", zap.Int64("row_count", rowCount))
	return t, nil
}

// spool streams src to a temp file in fixed-size chunks so memory stays flat
// for arbitrarily large uploads, then counts data rows in a second pass over
// the local file. The count is best effort: when the file cannot be walked
// as CSV the worker fixes the total at completion instead.
func (c *Coordinator) spool(src io.Reader) (string, int64, error) {
	f, err := os.CreateTemp(c.spoolDir, "import-*.csv")
	if err != nil {
		return "", 0, fmt.Errorf("create spool file: %w", err)
	}
	path := f.Name()

	if _, err := io.CopyBuffer(f, src, make([]byte, spoolCopyBuffer)); err != nil {
		f.Close()
		os.Remove(path)
		return "", 0, fmt.Errorf("write spool file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("close spool file: %w", err)
	}
	return path, countRows(path), nil
}

// countRows walks the spooled file and counts records behind the header.
// Recoverable parse errors still count as rows, matching what the worker
// will attempt; anything worse yields RowCountUnknown.
func countRows(path string) int64 {
	f, err := os.Open(path)
	if err != nil {
		return RowCountUnknown
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var rows int64
	sawHeader := false
	for {
		_, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows
		}
		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			return RowCountUnknown
		}
		if !sawHeader {
			sawHeader = true
			continue
		}
		rows++
	}
}
