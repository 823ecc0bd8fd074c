package bus

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Receive polls topic once and reports whether a usable envelope arrived.
//
// Empty polls and context cancellation are silent. Any other error is logged
// at warn level and swallowed so that the calling loop never terminates on a
// bus hiccup.
func Receive(ctx context.Context, b Bus, topic string, timeout time.Duration) (Envelope, bool) {
	env, err := b.Poll(ctx, topic, timeout)
	switch {
	case err == nil:
		return env, true
	case errors.Is(err, ErrEmpty), ctx.Err() != nil:
		return Envelope{}, false
	case errors.Is(err, ErrMalformed):
		slog.Warn("dropping malformed envelope", "topic", topic, "err", err)
	default:
		slog.Error("error while consuming bus message", "topic", topic, "err", err)
	}
	return Envelope{}, false
}

// ReceiveFrom is like [Receive] but additionally drops envelopes whose source
// is not want.
func ReceiveFrom(ctx context.Context, b Bus, topic string, timeout time.Duration, want Source) (Envelope, bool) {
	env, ok := Receive(ctx, b, topic, timeout)
	if !ok {
		return Envelope{}, false
	}
	if env.Source != want {
		slog.Debug("ignoring envelope from unexpected source",
			"topic", topic,
			"source", env.Source,
			"want", want,
		)
		return Envelope{}, false
	}
	return env, true
}
