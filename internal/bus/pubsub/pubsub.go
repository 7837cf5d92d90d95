// Package pubsub implements the bus over Google Cloud Pub/Sub, the
// durable transport between pipeline stages in production.
package pubsub

import (
	"context"
	"fmt"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub"

	"github.com/dvloznov/receipt-pipeline/internal/bus"
)

// Bus wraps a Pub/Sub client as bus.Publisher and bus.Consumer.
// Subscriptions are expected to exist; this code does not provision
// infrastructure.
type Bus struct {
	client *gcppubsub.Client

	mu     sync.Mutex
	topics map[string]*gcppubsub.Topic

	// subscriptionID maps a topic name to its subscription ID. Topics
	// without an entry use "<topic>-sub".
	subscriptionID map[string]string

	handlers map[string]bus.Handler
	cancels  []context.CancelFunc
	wg       sync.WaitGroup
}

// New connects to Pub/Sub in the given project.
func New(ctx context.Context, projectID string, subscriptionID map[string]string) (*Bus, error) {
	client, err := gcppubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub: create client: %w", err)
	}
	if subscriptionID == nil {
		subscriptionID = make(map[string]string)
	}
	return &Bus{
		client:         client,
		topics:         make(map[string]*gcppubsub.Topic),
		subscriptionID: subscriptionID,
		handlers:       make(map[string]bus.Handler),
	}, nil
}

func (b *Bus) topic(name string) *gcppubsub.Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = b.client.Topic(name)
		b.topics[name] = t
	}
	return t
}

// Publish implements bus.Publisher. It blocks until the server
// confirms the publish.
func (b *Bus) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) error {
	result := b.topic(topic).Publish(ctx, &gcppubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("pubsub: publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe implements bus.Consumer.
func (b *Bus) Subscribe(topic string, h bus.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h
}

// Start implements bus.Consumer. Each subscription gets its own
// receive loop; handler errors nack the message so Pub/Sub redelivers.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, h := range b.handlers {
		subID, ok := b.subscriptionID[topic]
		if !ok {
			subID = topic + "-sub"
		}
		sub := b.client.Subscription(subID)

		recvCtx, cancel := context.WithCancel(ctx)
		b.cancels = append(b.cancels, cancel)

		handler := h
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			_ = sub.Receive(recvCtx, func(ctx context.Context, m *gcppubsub.Message) {
				msg := &bus.Message{
					ID:         m.ID,
					Data:       m.Data,
					Attributes: m.Attributes,
				}
				if err := handler(ctx, msg); err != nil {
					m.Nack()
					return
				}
				m.Ack()
			})
		}()
	}
	return nil
}

// Stop implements bus.Consumer.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements bus.Publisher. Stops pending publishes and closes
// the client.
func (b *Bus) Close() error {
	b.mu.Lock()
	for _, t := range b.topics {
		t.Stop()
	}
	b.mu.Unlock()
	return b.client.Close()
}

var _ bus.Publisher = (*Bus)(nil)
var _ bus.Consumer = (*Bus)(nil)
