// Package redis provides a bus.Bus backed by Redis Streams.
//
// Every topic maps to one stream key. Consumers read through a consumer group
// named after the session, so a restarted worker resumes where the group left
// off and messages are delivered at least once. A delivered entry stays
// pending until the same bus polls its topic again, which means the caller
// is done with it, or until [Bus.Close]. Entries left pending by a crashed
// worker are delivered again on the next start. Undecodable entries are
// acknowledged right away.
//
// Streams and groups are created lazily on first use with
// XGROUP CREATE ... MKSTREAM starting at ID 0, so envelopes published before
// the consumer started are not lost.
//
// Typical usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	b := redis.New(client, sess.ID, redis.WithKeyPrefix("katia:"))
//	defer b.Close()
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/katia/pkg/bus"
)

const (
	// payloadField is the stream entry field holding the encoded envelope.
	payloadField = "data"

	defaultConsumer = "katia"
	defaultMaxLen   = 10000

	closeAckTimeout = 2 * time.Second
)

// Option is a functional option for [New].
type Option func(*Bus)

// WithKeyPrefix prepends prefix to every stream key.
func WithKeyPrefix(prefix string) Option {
	return func(b *Bus) { b.prefix = prefix }
}

// WithConsumer sets the consumer name inside the group. Defaults to "katia".
func WithConsumer(name string) Option {
	return func(b *Bus) { b.consumer = name }
}

// WithMaxLen caps every stream at approximately n entries. Zero disables
// trimming.
func WithMaxLen(n int64) Option {
	return func(b *Bus) { b.maxLen = n }
}

// Bus is a Redis Streams transport.
type Bus struct {
	client   goredis.UniversalClient
	group    string
	consumer string
	prefix   string
	maxLen   int64

	mu sync.Mutex
	// ready tracks streams whose consumer group is known to exist.
	ready map[string]bool
	// recovered tracks streams whose pending entries have been re-read.
	recovered map[string]bool
	// inflight holds the ID of the last entry delivered per stream, not yet
	// acknowledged.
	inflight map[string]string

	closeOnce sync.Once
	closeErr  error
}

// New returns a bus that reads through the consumer group named group.
// The bus takes ownership of client and closes it in [Bus.Close].
func New(client goredis.UniversalClient, group string, opts ...Option) *Bus {
	b := &Bus{
		client:    client,
		group:     group,
		consumer:  defaultConsumer,
		maxLen:    defaultMaxLen,
		ready:     make(map[string]bool),
		recovered: make(map[string]bool),
		inflight:  make(map[string]string),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bus) key(topic string) string {
	return b.prefix + topic
}

// Provision creates the stream and consumer group of every topic.
func (b *Bus) Provision(ctx context.Context, topics ...string) error {
	for _, t := range topics {
		if err := b.ensureGroup(ctx, b.key(t)); err != nil {
			return err
		}
	}
	return nil
}

// ensureGroup creates the consumer group for key if it was not seen before.
func (b *Bus) ensureGroup(ctx context.Context, key string) error {
	b.mu.Lock()
	ok := b.ready[key]
	b.mu.Unlock()
	if ok {
		return nil
	}

	err := b.client.XGroupCreateMkStream(ctx, key, b.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis bus: create group %q on %q: %w", b.group, key, err)
	}

	b.mu.Lock()
	b.ready[key] = true
	b.mu.Unlock()
	return nil
}

// Publish appends env to the stream of topic.
func (b *Bus) Publish(ctx context.Context, topic string, env bus.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	args := &goredis.XAddArgs{
		Stream: b.key(topic),
		Values: map[string]any{payloadField: data},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		if errors.Is(err, goredis.ErrClosed) {
			return bus.ErrClosed
		}
		return fmt.Errorf("redis bus: publish to %q: %w", topic, err)
	}
	return nil
}

// Poll acknowledges the entry it returned last for topic and reads the next
// one for this consumer group. Entries that a previous run read but never
// acknowledged are delivered first.
func (b *Bus) Poll(ctx context.Context, topic string, timeout time.Duration) (bus.Envelope, error) {
	key := b.key(topic)
	if err := b.ensureGroup(ctx, key); err != nil {
		return bus.Envelope{}, err
	}
	if err := b.ack(ctx, key); err != nil {
		return bus.Envelope{}, err
	}

	if msg, ok := b.recoverPending(ctx, key); ok {
		return b.deliver(ctx, key, msg)
	}

	block := timeout
	if block <= 0 {
		// A negative Block omits the BLOCK argument entirely.
		block = -1
	}
	streams, err := b.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    b.group,
		Consumer: b.consumer,
		Streams:  []string{key, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		return bus.Envelope{}, bus.ErrEmpty
	case ctx.Err() != nil:
		return bus.Envelope{}, ctx.Err()
	case errors.Is(err, goredis.ErrClosed):
		return bus.Envelope{}, bus.ErrClosed
	case err != nil:
		return bus.Envelope{}, fmt.Errorf("redis bus: poll %q: %w", topic, err)
	}

	for _, s := range streams {
		if len(s.Messages) > 0 {
			return b.deliver(ctx, key, s.Messages[0])
		}
	}
	return bus.Envelope{}, bus.ErrEmpty
}

// recoverPending returns one entry from this consumer's pending list the
// first time key is polled. Once the pending list is exhausted the stream is
// marked recovered and only new entries are read.
func (b *Bus) recoverPending(ctx context.Context, key string) (goredis.XMessage, bool) {
	b.mu.Lock()
	done := b.recovered[key]
	b.mu.Unlock()
	if done {
		return goredis.XMessage{}, false
	}

	streams, err := b.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    b.group,
		Consumer: b.consumer,
		Streams:  []string{key, "0"},
		Count:    1,
		Block:    -1,
	}).Result()
	if err == nil {
		for _, s := range streams {
			if len(s.Messages) > 0 {
				return s.Messages[0], true
			}
		}
	} else if !errors.Is(err, goredis.Nil) {
		slog.Debug("redis bus: pending recovery skipped", "stream", key, "err", err)
	}

	b.mu.Lock()
	b.recovered[key] = true
	b.mu.Unlock()
	return goredis.XMessage{}, false
}

// deliver decodes msg and records it as in flight. An undecodable entry is
// acknowledged at once.
func (b *Bus) deliver(ctx context.Context, key string, msg goredis.XMessage) (bus.Envelope, error) {
	env, err := decodeMessage(msg)
	if err != nil {
		if ackErr := b.client.XAck(ctx, key, b.group, msg.ID).Err(); ackErr != nil {
			slog.Warn("redis bus: ack failed", "stream", key, "id", msg.ID, "err", ackErr)
		}
		return bus.Envelope{}, fmt.Errorf("redis bus: entry %s on %q: %w", msg.ID, key, err)
	}
	b.mu.Lock()
	b.inflight[key] = msg.ID
	b.mu.Unlock()
	return env, nil
}

// ack acknowledges the in-flight entry of key, if any. On failure the entry
// stays in flight and is acknowledged by a later call.
func (b *Bus) ack(ctx context.Context, key string) error {
	b.mu.Lock()
	id, ok := b.inflight[key]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	if err := b.client.XAck(ctx, key, b.group, id).Err(); err != nil {
		if errors.Is(err, goredis.ErrClosed) {
			return bus.ErrClosed
		}
		return fmt.Errorf("redis bus: ack %s on %q: %w", id, key, err)
	}
	b.mu.Lock()
	if b.inflight[key] == id {
		delete(b.inflight, key)
	}
	b.mu.Unlock()
	return nil
}

func decodeMessage(msg goredis.XMessage) (bus.Envelope, error) {
	raw, ok := msg.Values[payloadField]
	if !ok {
		return bus.Envelope{}, fmt.Errorf("%w: missing %q field", bus.ErrMalformed, payloadField)
	}
	switch v := raw.(type) {
	case string:
		return bus.Decode([]byte(v))
	case []byte:
		return bus.Decode(v)
	default:
		return bus.Envelope{}, fmt.Errorf("%w: unexpected payload type %T", bus.ErrMalformed, raw)
	}
}

// Ping checks that Redis is reachable.
func (b *Bus) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis bus: ping: %w", err)
	}
	return nil
}

// Close acknowledges the entries still in flight and closes the underlying
// client. Subsequent calls return the first result.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeAckTimeout)
		defer cancel()

		b.mu.Lock()
		keys := slices.Collect(maps.Keys(b.inflight))
		b.mu.Unlock()
		for _, key := range keys {
			if err := b.ack(ctx, key); err != nil {
				slog.Warn("redis bus: entry left pending", "stream", key, "err", err)
			}
		}
		b.closeErr = b.client.Close()
	})
	return b.closeErr
}

var (
	_ bus.Bus         = (*Bus)(nil)
	_ bus.Provisioner = (*Bus)(nil)
)
