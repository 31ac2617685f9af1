package sinks

import (
	"context"

	"github.com/seoforge/url-indexer/internal/progress"
	"github.com/seoforge/url-indexer/internal/telemetry"
)

// MetricsSink feeds status deltas into the service's Prometheus collectors.
type MetricsSink struct{}

// NewMetricsSink initializes the collectors and returns the sink.
func NewMetricsSink() *MetricsSink {
	telemetry.Init()
	return &MetricsSink{}
}

// Consume updates counters from the batch. Safe for concurrent use.
func (s *MetricsSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageSubmissionDone:
			telemetry.IncSubmission(evt.Status)
		case progress.StageJobCompleted:
			telemetry.IncJob("completed")
		case progress.StageJobPaused:
			telemetry.IncJob("paused")
		case progress.StageJobFailed:
			telemetry.IncJob("failed")
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *MetricsSink) Close(context.Context) error {
	return nil
}
