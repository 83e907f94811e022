package messaging

import (
	"context"
)

// Message is one delivery.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler processes a delivered message.
type Handler func(ctx context.Context, msg Message)

// Publisher sends messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Bus is a publish/subscribe transport.
type Bus interface {
	Publisher
	// Subscribe registers h for topics matching filter. Filters use MQTT
	// wildcard syntax.
	Subscribe(filter string, h Handler) error
	Close() error
}

// QoSPublisher can raise the delivery level of a single message above the
// topic's default.
type QoSPublisher interface {
	PublishQoS(ctx context.Context, topic string, qos byte, payload []byte) error
}

// PublishAtLeastOnce publishes payload with QoS 1 when p supports it.
func PublishAtLeastOnce(ctx context.Context, p Publisher, topic string, payload []byte) error {
	if q, ok := p.(QoSPublisher); ok {
		return q.PublishQoS(ctx, topic, 1, payload)
	}
	return p.Publish(ctx, topic, payload)
}

// PublishJSON encodes v and publishes it.
func PublishJSON(ctx context.Context, p Publisher, topic string, v any) error {
	return p.Publish(ctx, topic, Encode(v))
}
