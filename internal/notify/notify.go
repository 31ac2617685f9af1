// Package notify delivers user-facing alerts raised by the pipeline.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/seoforge/url-indexer/internal/indexer"
)

// LogNotifier writes notifications to the structured log. The fallback when
// no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier wires a zap logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the notification at a level matching its severity.
func (n *LogNotifier) Notify(_ context.Context, note indexer.Notification) error {
	fields := []zap.Field{
		zap.String("owner_id", note.OwnerID),
		zap.String("severity", note.Severity),
		zap.String("title", note.Title),
		zap.String("message", note.Message),
	}
	if note.ExpiresAt != nil {
		fields = append(fields, zap.Time("expires_at", *note.ExpiresAt))
	}
	switch note.Severity {
	case "warning", "error":
		n.logger.Warn("user notification", fields...)
	default:
		n.logger.Info("user notification", fields...)
	}
	return nil
}

// PubSubNotifier publishes notifications to a topic consumed by the
// user-facing notification service.
type PubSubNotifier struct {
	topic *pubsub.Topic
}

// NewPubSubNotifier wraps an existing topic handle. The caller owns the
// client lifecycle.
func NewPubSubNotifier(topic *pubsub.Topic) *PubSubNotifier {
	return &PubSubNotifier{topic: topic}
}

// Notify publishes the notification as JSON and waits for the server ack.
func (n *PubSubNotifier) Notify(ctx context.Context, note indexer.Notification) error {
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	result := n.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"owner_id": note.OwnerID,
			"severity": note.Severity,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
