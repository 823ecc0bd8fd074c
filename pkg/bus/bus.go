// Package bus defines the message bus the three katia workers coordinate over.
//
// The bus is a durable, per-topic channel with at-least-once delivery and no
// ordering guarantee across topics. Every value exchanged on it is an
// [Envelope]. Implementations live in sub-packages (bus/redis, bus/memory) and
// a recording double lives in bus/mock.
//
// Poll is tolerant of empty topics: [ErrEmpty] means "nothing to do this
// tick" and is never an anomaly. Callers that only care about usable
// envelopes should use [Receive], which logs anomalies and swallows them.
package bus

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmpty is returned by Poll when no message arrived before the timeout.
	ErrEmpty = errors.New("bus: no message available")

	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("bus: closed")

	// ErrMalformed is returned by Poll when a message could not be decoded into
	// an [Envelope]. The offending message is acknowledged so it is not
	// redelivered.
	ErrMalformed = errors.New("bus: malformed envelope")
)

// Bus is the abstraction over a publish/subscribe transport.
//
// Implementations must be safe for concurrent use. Each topic is expected to
// have a single consuming loop.
type Bus interface {
	// Publish appends env to topic. The returned error is non-nil only when the
	// transport refused the message.
	Publish(ctx context.Context, topic string, env Envelope) error

	// Poll waits up to timeout for the next envelope on topic. It returns
	// [ErrEmpty] when nothing arrived in time, [ErrMalformed] (wrapped) for an
	// undecodable message, and the context error if ctx is cancelled.
	Poll(ctx context.Context, topic string, timeout time.Duration) (Envelope, error)

	// Ping reports whether the transport is reachable.
	Ping(ctx context.Context) error

	// Close releases transport resources. Calling Close more than once is safe.
	Close() error
}

// Provisioner is implemented by buses that need topics to exist before use.
type Provisioner interface {
	// Provision creates topics that do not yet exist. Existing topics are
	// left untouched.
	Provision(ctx context.Context, topics ...string) error
}
