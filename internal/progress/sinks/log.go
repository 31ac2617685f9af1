// Package sinks provides Sink implementations for the status hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/seoforge/url-indexer/internal/progress"
)

// LogSink emits structured logs for status deltas. Useful in development and
// as a durable trace when no broker is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("status delta",
			zap.String("job_id", evt.JobID),
			zap.String("owner_id", evt.OwnerID),
			zap.String("stage", string(evt.Stage)),
			zap.String("url", evt.URL),
			zap.String("status", evt.Status),
			zap.Int("processed", evt.Processed),
			zap.Int("succeeded", evt.Succeeded),
			zap.Int("failed", evt.Failed),
			zap.Int("total", evt.Total),
			zap.Float64("percent", evt.Percent),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
