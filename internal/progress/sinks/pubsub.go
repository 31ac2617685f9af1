package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/seoforge/url-indexer/internal/progress"
)

// PubSubSink publishes status deltas to a Pub/Sub topic so downstream
// consumers (dashboards, webhooks) can follow job progress without polling.
type PubSubSink struct {
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSubSink wraps an existing topic handle. The caller owns the client;
// the sink stops the topic's publish goroutines on Close.
func NewPubSubSink(topic *pubsub.Topic, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSink{topic: topic, logger: logger}
}

// Consume publishes each event as a JSON message with routing attributes.
// Publish results are awaited so delivery failures surface to the hub.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	results := make([]*pubsub.PublishResult, 0, len(batch))
	for _, evt := range batch {
		data, err := json.Marshal(evt)
		if err != nil {
			s.logger.Warn("skipping unmarshalable status event", zap.Error(err))
			continue
		}
		results = append(results, s.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"owner_id": evt.OwnerID,
				"job_id":   evt.JobID,
				"stage":    string(evt.Stage),
			},
		}))
	}
	var firstErr error
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publish status event: %w", err)
		}
	}
	return firstErr
}

// Close flushes and stops the topic's publisher.
func (s *PubSubSink) Close(context.Context) error {
	s.topic.Stop()
	return nil
}
