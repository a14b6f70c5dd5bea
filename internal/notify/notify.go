// Package notify announces verified uploads so downstream consumers can
// react without polling the lifecycle store.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// Message is one completion announcement.
type Message struct {
	BookID string `json:"book_id"`
	Object string `json:"object"`
}

// Provider publishes completion messages.
type Provider interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// PubSubProvider implements Provider on a Google Cloud Pub/Sub topic.
type PubSubProvider struct {
	Client *pubsub.Client
	Topic  *pubsub.Topic
}

// NewPubSubProvider creates a Pub/Sub client and verifies the topic
// exists. Authentication comes from Application Default Credentials.
func NewPubSubProvider(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSubProvider, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("Failed to close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("Failed to close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}

	return &PubSubProvider{Client: client, Topic: topic}, nil
}

// Publish sends one message and waits for the server acknowledgment, so a
// reported success means the announcement is durable.
func (p *PubSubProvider) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	result := p.Topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"book_id": msg.BookID},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification for %s: %w", msg.BookID, err)
	}
	return nil
}

// Close flushes pending publishes and releases the client.
func (p *PubSubProvider) Close() error {
	p.Topic.Stop()
	return p.Client.Close()
}

// NoOpProvider logs announcements instead of sending them.
type NoOpProvider struct {
	Logger *zap.Logger
}

func (p *NoOpProvider) Publish(_ context.Context, msg Message) error {
	if p.Logger != nil {
		p.Logger.Info("NoOp notification",
			zap.String("book_id", msg.BookID),
			zap.String("object", msg.Object),
		)
	}
	return nil
}

func (p *NoOpProvider) Close() error { return nil }
