// Package memory provides an in-process bus.Bus backed by per-topic queues.
//
// It is intended for single-binary deployments and tests. Delivery is
// exactly-once within the process and nothing survives a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/katia/pkg/bus"
)

type queue struct {
	items []bus.Envelope
	// signal has capacity 1 and is poked on every publish.
	signal chan struct{}
}

// Bus is an in-process bus. The zero value is not usable; call [New].
type Bus struct {
	mu     sync.Mutex
	topics map[string]*queue
	done   chan struct{}
	once   sync.Once
}

// New returns an empty in-process bus.
func New() *Bus {
	return &Bus{
		topics: make(map[string]*queue),
		done:   make(chan struct{}),
	}
}

// queueFor returns the queue of topic, creating it if needed.
// Must be called with b.mu held.
func (b *Bus) queueFor(topic string) *queue {
	q, ok := b.topics[topic]
	if !ok {
		q = &queue{signal: make(chan struct{}, 1)}
		b.topics[topic] = q
	}
	return q
}

// Provision creates empty queues for topics.
func (b *Bus) Provision(_ context.Context, topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		b.queueFor(t)
	}
	return nil
}

// Publish appends env to topic.
func (b *Bus) Publish(_ context.Context, topic string, env bus.Envelope) error {
	if b.closed() {
		return bus.ErrClosed
	}
	b.mu.Lock()
	q := b.queueFor(topic)
	q.items = append(q.items, env)
	b.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Poll waits up to timeout for the next envelope on topic.
func (b *Bus) Poll(ctx context.Context, topic string, timeout time.Duration) (bus.Envelope, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if b.closed() {
			return bus.Envelope{}, bus.ErrClosed
		}
		b.mu.Lock()
		q := b.queueFor(topic)
		if len(q.items) > 0 {
			env := q.items[0]
			q.items[0] = bus.Envelope{}
			q.items = q.items[1:]
			b.mu.Unlock()
			return env, nil
		}
		b.mu.Unlock()

		if deadline == nil {
			return bus.Envelope{}, bus.ErrEmpty
		}
		select {
		case <-ctx.Done():
			return bus.Envelope{}, ctx.Err()
		case <-b.done:
			return bus.Envelope{}, bus.ErrClosed
		case <-deadline:
			return bus.Envelope{}, bus.ErrEmpty
		case <-q.signal:
		}
	}
}

// Len returns the number of undelivered envelopes on topic.
func (b *Bus) Len(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.topics[topic]; ok {
		return len(q.items)
	}
	return 0
}

// Ping returns [bus.ErrClosed] after Close and nil otherwise.
func (b *Bus) Ping(context.Context) error {
	if b.closed() {
		return bus.ErrClosed
	}
	return nil
}

// Close wakes all pollers and rejects further operations.
func (b *Bus) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}

func (b *Bus) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

var (
	_ bus.Bus         = (*Bus)(nil)
	_ bus.Provisioner = (*Bus)(nil)
)
