// Package listener implements the ear of the assistant: it turns microphone
// audio into transcripts and decides, for each one, whether to forward it to
// the brain, to ask the voice to stop, or to drop it.
//
// The listener never looks at the voice's state directly. It learns when
// playback starts and stops from the speaking/idle notices the voice
// publishes on the session's idle-notice topic.
package listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/katia/internal/observe"
	"github.com/MrWong99/katia/internal/session"
	"github.com/MrWong99/katia/internal/transcript/phonetic"
	"github.com/MrWong99/katia/pkg/audio"
	"github.com/MrWong99/katia/pkg/audio/segment"
	"github.com/MrWong99/katia/pkg/bus"
	"github.com/MrWong99/katia/pkg/provider/stt"
	"github.com/MrWong99/katia/pkg/provider/vad"
	"github.com/MrWong99/katia/pkg/types"
)

// StopMessage is the payload of every stop request.
const StopMessage = "Stop speaking"

// Config holds the listener settings.
type Config struct {
	Session session.Session

	// Language is passed to the recognizer (BCP 47, e.g. "es-ES").
	Language string

	// PollTimeout bounds each poll of the idle-notice topic.
	PollTimeout time.Duration

	Gate GateConfig
}

// Capture bundles the audio input chain.
type Capture struct {
	Source    audio.Source
	VAD       vad.Engine
	VADConfig vad.Config
	Segment   segment.Config
}

// Option configures a [Listener].
type Option func(*Listener)

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Listener) { l.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Listener) { l.now = now }
}

// WithMatcher enables phonetic wake-name matching.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(l *Listener) { l.matcher = m }
}

// WithHeartbeat sets a function called on every iteration of the notice loop.
func WithHeartbeat(beat func()) Option {
	return func(l *Listener) { l.beat = beat }
}

// Listener is the recognizer worker.
type Listener struct {
	bus     bus.Bus
	stt     stt.Provider
	capture Capture
	cfg     Config

	gate    *Gate
	metrics *observe.Metrics
	matcher *phonetic.Matcher
	now     func() time.Time
	beat    func()
}

// New creates a listener. The gate's idle clock starts now.
func New(b bus.Bus, recognizer stt.Provider, capture Capture, cfg Config, opts ...Option) (*Listener, error) {
	if b == nil {
		return nil, errors.New("listener: bus must not be nil")
	}
	if recognizer == nil {
		return nil, errors.New("listener: stt provider must not be nil")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 500 * time.Millisecond
	}
	l := &Listener{
		bus:     b,
		stt:     recognizer,
		capture: capture,
		cfg:     cfg,
		now:     time.Now,
		beat:    func() {},
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	l.gate = NewGate(cfg.Gate, l.matcher, l.now)
	return l, nil
}

// Gate exposes the turn-taking state.
func (l *Listener) Gate() *Gate { return l.gate }

// OnUtterance evaluates u and publishes the resulting envelope, if any.
// Publish failures are logged; the decision is returned either way.
func (l *Listener) OnUtterance(ctx context.Context, u types.Utterance) Decision {
	d, best := l.gate.Evaluate(u)
	l.metrics.RecordUtterance(ctx, d.String())

	var topic string
	var env bus.Envelope
	switch d {
	case Stop:
		topic = l.cfg.Session.Topics.VoiceStopper
		env = bus.Envelope{Source: bus.SourceListener, Message: StopMessage}
	case Forward:
		topic = l.cfg.Session.Topics.BrainInbox
		env = bus.Envelope{Source: bus.SourceListener, Message: best}
	default:
		observe.Logger(ctx).Debug("utterance ignored", "text", best)
		return d
	}

	if err := l.bus.Publish(ctx, topic, env); err != nil {
		observe.Logger(ctx).Error("failed to publish utterance", "topic", topic, "decision", d, "err", err)
		return d
	}
	observe.Logger(ctx).Info("utterance published", "topic", topic, "decision", d, "text", best)
	return d
}

// OnVoiceIdle records t as the moment the voice stopped speaking.
func (l *Listener) OnVoiceIdle(t time.Time) {
	l.gate.SetVoiceIdle(t)
}

// HandleClip recognizes one phrase and passes the utterance on. Unintelligible
// audio is dropped silently; other recognition failures are logged.
func (l *Listener) HandleClip(ctx context.Context, clip audio.Clip) {
	start := l.now()
	u, err := l.stt.Recognize(ctx, clip, l.cfg.Language)
	l.metrics.RecognitionDuration.Record(ctx, l.now().Sub(start).Seconds())
	status := observe.StatusOK
	if err != nil && !errors.Is(err, stt.ErrUnknownValue) {
		status = observe.StatusFailed
	}
	l.metrics.RecordProviderRequest(ctx, "stt", "recognize", status)
	switch {
	case errors.Is(err, stt.ErrUnknownValue):
		observe.Logger(ctx).Debug("speech not recognized", "duration", clip.Duration())
		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		l.metrics.RecordProviderError(ctx, "stt", "recognize")
		observe.Logger(ctx).Error("recognition failed", "err", err)
		return
	}
	l.OnUtterance(ctx, u)
}

// Run consumes voice notices and microphone audio until ctx is cancelled.
// It returns an error only when the capture chain cannot start or the audio
// stream ends on its own.
func (l *Listener) Run(ctx context.Context) error {
	ctx = observe.WithWorker(ctx, "listener", l.cfg.Session.ID)
	observe.Logger(ctx).Info("listener started",
		"language", l.cfg.Language,
		"wake_names", l.cfg.Gate.WakeNames,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.watchNotices(ctx) })
	g.Go(func() error { return l.listen(ctx) })
	return g.Wait()
}

func (l *Listener) watchNotices(ctx context.Context) error {
	topic := l.cfg.Session.Topics.VoiceIdleNotice
	for ctx.Err() == nil {
		l.beat()
		env, ok := bus.Receive(ctx, l.bus, topic, l.cfg.PollTimeout)
		if !ok {
			continue
		}
		if err := l.gate.ObserveNotice(env); err != nil {
			observe.Logger(ctx).Warn("unparsable idle notice, using current time", "message", env.Message, "err", err)
		}
	}
	return nil
}

func (l *Listener) listen(ctx context.Context) error {
	c := l.capture
	if c.Source == nil || c.VAD == nil {
		return errors.New("listener: capture source and vad engine are required")
	}
	sess, err := c.VAD.NewSession(c.VADConfig)
	if err != nil {
		return fmt.Errorf("listener: vad session: %w", err)
	}
	defer sess.Close()

	seg, err := segment.New(sess, c.Segment)
	if err != nil {
		return fmt.Errorf("listener: %w", err)
	}
	frames, err := c.Source.Frames(ctx)
	if err != nil {
		return fmt.Errorf("listener: open capture: %w", err)
	}

	for clip := range seg.Run(ctx, frames) {
		l.HandleClip(ctx, clip)
	}
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("listener: capture stream ended")
}
