// Package mock provides a test double for the bus.Bus interface.
//
// Bus records every Publish call and serves Poll from per-topic queues that
// the test fills with Enqueue. An empty queue yields bus.ErrEmpty after the
// requested timeout (or immediately when the timeout is not positive).
//
// Example:
//
//	b := mock.New()
//	b.Enqueue("topic", bus.Envelope{Source: bus.SourceBrain, Message: "hi"})
//	env, err := b.Poll(ctx, "topic", time.Millisecond)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/katia/pkg/bus"
)

// PublishCall records a single invocation of Publish.
type PublishCall struct {
	Topic    string
	Envelope bus.Envelope
}

// Bus is a mock implementation of bus.Bus.
type Bus struct {
	mu     sync.Mutex
	queues map[string][]bus.Envelope

	// PublishErr, if non-nil, is returned by Publish. The call is still recorded.
	PublishErr error

	// PollErr, if non-nil, is returned by Poll instead of reading the queue.
	PollErr error

	// PingErr is returned by Ping.
	PingErr error

	// OnPoll, if set, is invoked at the start of every Poll with the topic.
	// It runs without the mock's lock held, so it may call Enqueue.
	OnPoll func(topic string)

	// PublishCalls records every invocation of Publish in order.
	PublishCalls []PublishCall

	// PollCalls records the topic of every invocation of Poll in order.
	PollCalls []string

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// New returns an empty mock bus.
func New() *Bus {
	return &Bus{queues: make(map[string][]bus.Envelope)}
}

// Enqueue appends envs to topic's queue.
func (b *Bus) Enqueue(topic string, envs ...bus.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queues == nil {
		b.queues = make(map[string][]bus.Envelope)
	}
	b.queues[topic] = append(b.queues[topic], envs...)
}

// Published returns the envelopes published to topic, in order.
func (b *Bus) Published(topic string) []bus.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []bus.Envelope
	for _, c := range b.PublishCalls {
		if c.Topic == topic {
			out = append(out, c.Envelope)
		}
	}
	return out
}

// Pending returns the number of unread envelopes queued on topic.
func (b *Bus) Pending(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[topic])
}

// Publish records the call and returns PublishErr.
func (b *Bus) Publish(_ context.Context, topic string, env bus.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.PublishCalls = append(b.PublishCalls, PublishCall{Topic: topic, Envelope: env})
	return b.PublishErr
}

// Poll records the call and pops the next queued envelope for topic.
func (b *Bus) Poll(ctx context.Context, topic string, timeout time.Duration) (bus.Envelope, error) {
	if hook := b.hook(); hook != nil {
		hook(topic)
	}

	b.mu.Lock()
	b.PollCalls = append(b.PollCalls, topic)
	if b.PollErr != nil {
		err := b.PollErr
		b.mu.Unlock()
		return bus.Envelope{}, err
	}
	if q := b.queues[topic]; len(q) > 0 {
		env := q[0]
		b.queues[topic] = q[1:]
		b.mu.Unlock()
		return env, nil
	}
	b.mu.Unlock()

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return bus.Envelope{}, ctx.Err()
		case <-timer.C:
		}
	}
	return bus.Envelope{}, bus.ErrEmpty
}

// Ping returns PingErr.
func (b *Bus) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.PingErr
}

// Close records the call.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CloseCallCount++
	return nil
}

// Reset clears all recorded calls and queues.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues = make(map[string][]bus.Envelope)
	b.PublishCalls = nil
	b.PollCalls = nil
	b.CloseCallCount = 0
}

func (b *Bus) hook() func(string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.OnPoll
}

var _ bus.Bus = (*Bus)(nil)
