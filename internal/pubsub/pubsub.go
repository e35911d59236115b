// Package pubsub wraps topic publishing for job completion and webhook
// forwarding events.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub"
)

// Publisher publishes messages to a single topic. Tests substitute a fake;
// the production implementation wraps the Pub/Sub API client.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// TopicPublisher is the Pub/Sub backed Publisher.
type TopicPublisher struct {
	client *gcppubsub.Client
	topic  *gcppubsub.Topic
}

// NewTopicPublisher creates a publisher bound to one topic in the given project.
func NewTopicPublisher(ctx context.Context, projectID, topicID string) (*TopicPublisher, error) {
	client, err := gcppubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &TopicPublisher{client: client, topic: client.Topic(topicID)}, nil
}

// Publish sends one message and waits for the server-assigned message ID.
func (p *TopicPublisher) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	result := p.topic.Publish(ctx, &gcppubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.topic.ID(), err)
	}
	return id, nil
}

// Close stops the topic's publish goroutines and releases the client.
func (p *TopicPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}

// PublishJSON marshals v and publishes it as the message payload.
func PublishJSON(ctx context.Context, p Publisher, v any, attrs map[string]string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal pubsub payload: %w", err)
	}
	return p.Publish(ctx, data, attrs)
}
