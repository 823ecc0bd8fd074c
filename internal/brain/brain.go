// Package brain implements the interpreter worker. It keeps the dialogue
// history, turns every forwarded transcript into one completion request and
// sends the reply (or an apology) to the voice.
package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/katia/internal/observe"
	"github.com/MrWong99/katia/internal/session"
	"github.com/MrWong99/katia/pkg/bus"
	"github.com/MrWong99/katia/pkg/provider/llm"
	"github.com/MrWong99/katia/pkg/provider/translate"
	"github.com/MrWong99/katia/pkg/types"
)

// ErrNoCompleter is returned by [New] when no LLM provider is given.
var ErrNoCompleter = errors.New("brain: llm provider is required")

var errEmptyCompletion = errors.New("brain: empty completion")

// Config holds the brain settings.
type Config struct {
	Session session.Session
	Persona Persona

	// PollTimeout bounds each poll of the inbox.
	PollTimeout time.Duration

	// MaxHistoryTokens trims the oldest turns once exceeded. It is capped
	// by the model's context window; zero disables trimming for models that
	// report none.
	MaxHistoryTokens int

	Temperature float64
	MaxTokens   int
}

// Option configures a [Brain].
type Option func(*Brain)

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Brain) { b.metrics = m }
}

// WithHeartbeat sets a function called on every loop iteration.
func WithHeartbeat(beat func()) Option {
	return func(b *Brain) { b.beat = beat }
}

// Brain is the interpreter worker.
type Brain struct {
	bus        bus.Bus
	llm        llm.Provider
	translator translate.Provider
	cfg        Config
	metrics    *observe.Metrics
	beat       func()

	prepareOnce sync.Once
	history     *History
	apology     string
}

// New creates a brain. translator may be nil only when the persona speaks
// English.
func New(b bus.Bus, completer llm.Provider, translator translate.Provider, cfg Config, opts ...Option) (*Brain, error) {
	if b == nil {
		return nil, errors.New("brain: bus must not be nil")
	}
	if completer == nil {
		return nil, ErrNoCompleter
	}
	if translator == nil && !translate.IsEnglish(cfg.Persona.Language) {
		return nil, fmt.Errorf("brain: translator required for language %q", cfg.Persona.Language)
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 500 * time.Millisecond
	}
	cfg.MaxHistoryTokens = historyBudget(cfg, completer.Capabilities())
	br := &Brain{
		bus:        b,
		llm:        completer,
		translator: translator,
		cfg:        cfg,
		beat:       func() {},
	}
	for _, o := range opts {
		o(br)
	}
	if br.metrics == nil {
		br.metrics = observe.DefaultMetrics()
	}
	return br, nil
}

// historyBudget caps the configured history budget so that the history plus
// the reply still fit the model's context window.
func historyBudget(cfg Config, caps types.ModelCapabilities) int {
	if caps.ContextWindow <= 0 {
		return cfg.MaxHistoryTokens
	}
	reply := cfg.MaxTokens
	if reply <= 0 {
		reply = caps.MaxOutputTokens
	}
	limit := max(caps.ContextWindow-reply, 1)
	if cfg.MaxHistoryTokens <= 0 || cfg.MaxHistoryTokens > limit {
		return limit
	}
	return cfg.MaxHistoryTokens
}

// History returns the dialogue history, building the system prompt first if
// that has not happened yet.
func (b *Brain) History(ctx context.Context) *History {
	b.prepare(ctx)
	return b.history
}

// prepare builds the system prompt and the localized apology exactly once.
// A failed translation falls back to English.
func (b *Brain) prepare(ctx context.Context) {
	b.prepareOnce.Do(func() {
		log := observe.Logger(ctx)
		prompt, err := BuildInitialPrompt(ctx, b.translator, b.cfg.Persona)
		if err != nil {
			log.Warn("falling back to english system prompt", "err", err)
			prompt = englishPrompt(b.cfg.Persona)
		}
		b.history = NewHistory(prompt)
		b.apology = b.localize(ctx, ApologyMessage)
		log.Debug("system prompt ready", "prompt", prompt)
	})
}

func (b *Brain) localize(ctx context.Context, text string) string {
	if b.translator == nil {
		return text
	}
	out, err := translate.Localize(ctx, b.translator, text, b.cfg.Persona.Language)
	if err != nil {
		observe.Logger(ctx).Warn("translation failed, using english", "text", text, "err", err)
		return text
	}
	return out
}

// AnnounceReady builds the system prompt if needed and tells the voice that
// the assistant is ready.
func (b *Brain) AnnounceReady(ctx context.Context) error {
	b.prepare(ctx)
	msg := b.localize(ctx, ReadyMessage)
	if err := b.bus.Publish(ctx, b.cfg.Session.Topics.VoiceInbox, bus.Envelope{Source: bus.SourceBrain, Message: msg}); err != nil {
		return fmt.Errorf("brain: announce ready: %w", err)
	}
	return nil
}

// OnTranscript runs one exchange for text and publishes the reply to the
// voice. When the completion fails the history is restored to what it was
// before the call, so turns dropped to fit the budget come back, and the
// apology is published instead. The published
// message is returned. Completion errors never escape.
func (b *Brain) OnTranscript(ctx context.Context, text string) string {
	b.prepare(ctx)
	ctx, span := observe.StartSpan(ctx, "brain.OnTranscript",
		trace.WithAttributes(attribute.Int("history.len", b.history.Len())),
	)
	defer span.End()
	log := observe.Logger(ctx)

	// A failed exchange restores the dialogue as it was, trimmed turns included.
	snapshot := b.history.Messages()
	user := types.Message{Role: types.RoleUser, Content: text}
	if removed, err := b.history.Trim(b.llm.CountTokens, b.cfg.MaxHistoryTokens, user); err != nil {
		log.Warn("history trimming failed", "err", err)
	} else if removed > 0 {
		log.Debug("trimmed dialogue history", "removed", removed)
	}

	b.history.Append(types.RoleUser, text)

	start := time.Now()
	reply, err := b.complete(ctx)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		b.history.Restore(snapshot)
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		b.metrics.RecordCompletion(ctx, observe.StatusFailed, elapsed)
		b.metrics.RecordProviderRequest(ctx, "llm", "complete", observe.StatusFailed)
		b.metrics.RecordProviderError(ctx, "llm", "complete")
		b.metrics.RecordApology(ctx)
		log.Error("completion failed, sending apology", "err", err)
		reply = b.apology
	} else {
		b.history.Append(types.RoleAssistant, reply)
		b.metrics.RecordCompletion(ctx, observe.StatusOK, elapsed)
		b.metrics.RecordProviderRequest(ctx, "llm", "complete", observe.StatusOK)
	}

	topic := b.cfg.Session.Topics.VoiceInbox
	if err := b.bus.Publish(ctx, topic, bus.Envelope{Source: bus.SourceBrain, Message: reply}); err != nil {
		log.Error("failed to publish reply", "topic", topic, "err", err)
	}
	return reply
}

func (b *Brain) complete(ctx context.Context) (string, error) {
	resp, err := b.llm.Complete(ctx, llm.CompletionRequest{
		Messages:    b.history.Messages(),
		Temperature: b.cfg.Temperature,
		MaxTokens:   b.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", errEmptyCompletion
	}
	return resp.Content, nil
}

// Run announces readiness and then answers every transcript the listener
// forwards until ctx is cancelled. Envelopes from other sources are dropped.
func (b *Brain) Run(ctx context.Context) error {
	ctx = observe.WithWorker(ctx, "brain", b.cfg.Session.ID)
	log := observe.Logger(ctx)
	log.Info("brain started", "assistant", b.cfg.Persona.Name, "language", b.cfg.Persona.Language)

	if err := b.AnnounceReady(ctx); err != nil {
		log.Error("failed to announce readiness", "err", err)
	}

	inbox := b.cfg.Session.Topics.BrainInbox
	for ctx.Err() == nil {
		b.beat()
		env, ok := bus.ReceiveFrom(ctx, b.bus, inbox, b.cfg.PollTimeout, bus.SourceListener)
		if !ok {
			continue
		}
		b.OnTranscript(ctx, env.Message)
	}
	return nil
}
