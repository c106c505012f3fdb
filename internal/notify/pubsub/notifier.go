// Package pubsub implements the notify.Notifier interface for Google Cloud
// Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/openlegis/lexarc/internal/logging"
	"github.com/openlegis/lexarc/internal/notify"
)

// Notifier sends publish notifications to a Pub/Sub topic.
type Notifier struct {
	Client *pubsub.Client
	Topic  *pubsub.Topic
}

// New creates a Pub/Sub client and verifies the topic exists. It
// authenticates using Google Cloud's Application Default Credentials.
func New(ctx context.Context, projectID, topicID string) (*Notifier, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logging.L.Warn("Failed to close pubsub client after topic existence check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to check for topic existence: %w", err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logging.L.Warn("Failed to close pubsub client after topic existence check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic '%s' does not exist in project '%s'", topicID, projectID)
	}

	return &Notifier{Client: client, Topic: topic}, nil
}

// Notify sends the message to the topic. This is fire-and-forget: the
// Pub/Sub client handles batching and retries in the background.
func (n *Notifier) Notify(ctx context.Context, msg notify.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	// The returned result is ignored; the send is asynchronous.
	_ = n.Topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"source": msg.Source},
	})
	return nil
}

// Close stops the topic's publisher and closes the underlying client.
func (n *Notifier) Close() error {
	n.Topic.Stop()
	if err := n.Client.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub client: %w", err)
	}
	return nil
}
