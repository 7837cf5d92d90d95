// Package memory is an in-memory bus implementation. It uses Go
// channels for delivery and is safe for concurrent use. Handler errors
// cause redelivery with per-message backoff, so consumers see the same
// at-least-once contract as the Pub/Sub implementation. Suitable for
// single-process deployments and testing.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/receipt-pipeline/internal/bus"
)

type delivery struct {
	msg      *bus.Message
	topic    string
	attempts int
}

// Bus implements bus.Publisher and bus.Consumer over channels.
type Bus struct {
	mu         sync.RWMutex
	topics     map[string]chan *delivery
	handlers   map[string]bus.Handler
	bufferSize int
	maxRetries int
	closeChan  chan struct{}
	wg         sync.WaitGroup
	closed     bool
}

// New creates an in-memory bus. bufferSize bounds each topic channel;
// maxRetries bounds redeliveries of a failing message.
func New(bufferSize, maxRetries int) *Bus {
	return &Bus{
		topics:     make(map[string]chan *delivery),
		handlers:   make(map[string]bus.Handler),
		bufferSize: bufferSize,
		maxRetries: maxRetries,
		closeChan:  make(chan struct{}),
	}
}

func (b *Bus) channel(topic string) chan *delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.topics[topic]
	if !ok {
		ch = make(chan *delivery, b.bufferSize)
		b.topics[topic] = ch
	}
	return ch
}

// Publish implements bus.Publisher.
func (b *Bus) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("memory bus: closed")
	}
	b.mu.RUnlock()

	d := &delivery{
		topic: topic,
		msg: &bus.Message{
			ID:         uuid.NewString(),
			Data:       data,
			Attributes: attrs,
		},
	}

	select {
	case b.channel(topic) <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closeChan:
		return fmt.Errorf("memory bus: closed")
	}
}

// Subscribe implements bus.Consumer.
func (b *Bus) Subscribe(topic string, h bus.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h
}

// Start implements bus.Consumer. One worker per subscribed topic.
// Takes the write lock: topics without a prior publish get their
// channel created here.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("memory bus: closed")
	}

	for topic, h := range b.handlers {
		ch := b.topics[topic]
		if ch == nil {
			ch = make(chan *delivery, b.bufferSize)
			b.topics[topic] = ch
		}
		b.wg.Add(1)
		go b.worker(ctx, ch, h)
	}
	return nil
}

func (b *Bus) worker(ctx context.Context, ch chan *delivery, h bus.Handler) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.closeChan:
			return
		case d := <-ch:
			if d == nil {
				return
			}
			if err := h(ctx, d.msg); err != nil {
				b.redeliver(ctx, ch, d)
			}
		}
	}
}

// redeliver re-enqueues a nacked delivery with backoff growing per
// attempt, up to maxRetries.
func (b *Bus) redeliver(ctx context.Context, ch chan *delivery, d *delivery) {
	d.attempts++
	if d.attempts > b.maxRetries {
		return
	}
	backoff := time.Duration(d.attempts) * 10 * time.Millisecond
	time.AfterFunc(backoff, func() {
		select {
		case ch <- d:
		case <-b.closeChan:
		case <-ctx.Done():
		}
	})
}

// Stop implements bus.Consumer.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeChan)
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

// Close implements bus.Publisher.
func (b *Bus) Close() error {
	return b.Stop(context.Background())
}

var _ bus.Publisher = (*Bus)(nil)
var _ bus.Consumer = (*Bus)(nil)
