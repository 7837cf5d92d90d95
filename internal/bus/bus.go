// Package bus abstracts the durable at-least-once hand-off between
// pipeline stages. Messages may be delivered more than once; every
// consumer must be a no-op past its first successful effect.
package bus

import "context"

// Message is one delivery. ID is unique per publish, not per logical
// event; dedupe keys live in the payload.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Publisher publishes messages to a named topic.
type Publisher interface {
	// Publish blocks until the message is durably accepted.
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) error

	// Close releases publisher resources.
	Close() error
}

// Handler processes one delivery. Returning an error nacks the message
// and the bus redelivers it later.
type Handler func(ctx context.Context, msg *Message) error

// Consumer runs handlers against subscribed topics.
type Consumer interface {
	// Subscribe registers a handler for a topic. Must be called before
	// Start.
	Subscribe(topic string, h Handler)

	// Start begins delivering messages. It does not block.
	Start(ctx context.Context) error

	// Stop stops delivery and waits for in-flight handlers.
	Stop(ctx context.Context) error
}
