package sinks

import (
	"go.uber.org/zap"

	"github.com/acme/catalog-importer/internal/task"
)

// LogSink emits structured logs for every task snapshot. Useful during
// development or audits where a metrics backend is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the snapshot using structured fields.
func (s *LogSink) Consume(snap task.Snapshot) {
	s.logger.Info("task progress",
		zap.String("task_id", snap.TaskID.String()),
		zap.String("status", string(snap.Status)),
		zap.Int64("processed", snap.Processed),
		zap.Int64("errors", snap.Errors),
		zap.Int64("total", snap.Total),
	)
}
