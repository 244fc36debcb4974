// Package pubsub announces processed links on a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/link-publisher/internal/notify"
	"github.com/JakeFAU/link-publisher/internal/pipeline"
)

// Notifier publishes one JSON event per processed link.
type Notifier struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	owned  bool
}

// New wraps an existing client and topic id.
func New(client *pubsub.Client, topicID string) (*Notifier, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	if topicID == "" {
		return nil, errors.New("topic is required")
	}
	return &Notifier{client: client, topic: client.Topic(topicID)}, nil
}

// Open dials Pub/Sub with application default credentials and checks that
// the topic exists.
func Open(ctx context.Context, projectID, topicID string) (*Notifier, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	n, err := New(client, topicID)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	exists, err := n.topic.Exists(ctx)
	if err != nil || !exists {
		_ = client.Close()
		if err == nil {
			err = fmt.Errorf("topic %q does not exist", topicID)
		}
		return nil, fmt.Errorf("check pubsub topic: %w", err)
	}
	n.owned = true
	return n, nil
}

// Notify publishes the event for res and waits for the server id.
func (n *Notifier) Notify(ctx context.Context, res pipeline.ItemResult) error {
	data, err := json.Marshal(notify.NewEvent(res))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id":  res.RunID,
			"url":     res.URL,
			"success": fmt.Sprint(res.Success),
		},
	}
	if _, err := n.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close flushes pending messages and releases the client when Open created it.
func (n *Notifier) Close() error {
	n.topic.Stop()
	if !n.owned {
		return nil
	}
	if err := n.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
