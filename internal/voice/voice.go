// Package voice implements the speaker worker: it synthesizes every reply the
// brain sends, plays it, and lets the listener cut playback short.
//
// The worker is a two-state machine. While Idle it waits for replies and
// discards stale stop signals. While Speaking it polls the stopper topic once
// per tick. Every transition is announced on the idle-notice topic: a
// speaking edge when playback starts and an idle edge, stamped with the
// moment playback actually ended, when it stops.
package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/katia/internal/observe"
	"github.com/MrWong99/katia/internal/session"
	"github.com/MrWong99/katia/pkg/audio"
	"github.com/MrWong99/katia/pkg/bus"
	"github.com/MrWong99/katia/pkg/provider/translate"
	"github.com/MrWong99/katia/pkg/provider/tts"
	"github.com/MrWong99/katia/pkg/types"
)

// WelcomeMessage is spoken once at startup, before any reply.
const WelcomeMessage = "Hi! Let me configure some things. Once all is ready I will call you!"

// maxDrain bounds how many stale stop signals are discarded per idle
// iteration.
const maxDrain = 32

// noticeTimeout bounds the final idle notice published after ctx is done.
const noticeTimeout = 2 * time.Second

// Config holds the voice settings.
type Config struct {
	Session session.Session

	// Language is the BCP 47 tag of the spoken text.
	Language string

	Voice types.VoiceProfile

	// Tick is the stopper poll interval while speaking. Defaults to 100ms.
	Tick time.Duration

	// PollTimeout bounds each poll of the inbox. Defaults to 500ms.
	PollTimeout time.Duration

	// TempDir holds synthesized audio files. Empty uses os.TempDir.
	TempDir string
}

// Option configures a [Voice].
type Option func(*Voice)

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(v *Voice) { v.metrics = m }
}

// WithClock replaces time.Now for the edge timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *Voice) { v.now = now }
}

// WithHeartbeat sets a function called on every loop iteration and every
// playback tick.
func WithHeartbeat(beat func()) Option {
	return func(v *Voice) { v.beat = beat }
}

// WithTranslator localizes the welcome line for non-English sessions.
func WithTranslator(t translate.Provider) Option {
	return func(v *Voice) { v.translator = t }
}

// Voice is the speaker worker. Its methods must be called from a single
// goroutine; [Voice.Run] does so.
type Voice struct {
	bus        bus.Bus
	tts        tts.Provider
	player     audio.Player
	translator translate.Provider
	cfg        Config
	metrics    *observe.Metrics
	now        func() time.Time
	beat       func()

	welcomed bool
	playing  bool
}

// New creates a voice worker.
func New(b bus.Bus, synth tts.Provider, player audio.Player, cfg Config, opts ...Option) (*Voice, error) {
	switch {
	case b == nil:
		return nil, errors.New("voice: bus must not be nil")
	case synth == nil:
		return nil, errors.New("voice: tts provider must not be nil")
	case player == nil:
		return nil, errors.New("voice: player must not be nil")
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 100 * time.Millisecond
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 500 * time.Millisecond
	}
	if cfg.Voice.Language == "" {
		cfg.Voice.Language = cfg.Language
	}
	v := &Voice{
		bus:    b,
		tts:    synth,
		player: player,
		cfg:    cfg,
		now:    time.Now,
		beat:   func() {},
	}
	for _, o := range opts {
		o(v)
	}
	if v.metrics == nil {
		v.metrics = observe.DefaultMetrics()
	}
	return v, nil
}

// Playing reports whether the worker is in the Speaking state.
func (v *Voice) Playing() bool { return v.playing }

// OnStartup speaks the welcome line. Only the first call has any effect.
func (v *Voice) OnStartup(ctx context.Context) {
	if v.welcomed {
		return
	}
	v.welcomed = true

	msg := WelcomeMessage
	if v.translator != nil {
		out, err := translate.Localize(ctx, v.translator, msg, v.cfg.Language)
		if err != nil {
			observe.Logger(ctx).Warn("translation failed, using english", "err", err)
		} else {
			msg = out
		}
	}
	v.OnReply(ctx, msg)
}

// OnReply synthesizes text and plays it until it finishes, a stop signal from
// the listener arrives, or ctx is done. It reports whether playback was cut
// short by a stop signal.
//
// When synthesis yields no audio the reply counts as spoken: only the idle
// notice is published. A synthesis error is logged and nothing is published.
func (v *Voice) OnReply(ctx context.Context, text string) bool {
	ctx, span := observe.StartSpan(ctx, "voice.OnReply",
		trace.WithAttributes(attribute.Int("reply.length", len(text))),
	)
	defer span.End()
	log := observe.Logger(ctx)

	start := time.Now()
	rc, err := v.tts.Synthesize(ctx, text, v.cfg.Voice)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		v.metrics.RecordSynthesis(ctx, observe.StatusFailed, elapsed)
		v.metrics.RecordProviderRequest(ctx, "tts", "synthesize", observe.StatusFailed)
		v.metrics.RecordProviderError(ctx, "tts", "synthesize")
		log.Error("error trying to speak", "err", err)
		return false
	}
	v.metrics.RecordSynthesis(ctx, observe.StatusOK, elapsed)
	v.metrics.RecordProviderRequest(ctx, "tts", "synthesize", observe.StatusOK)

	if rc == nil {
		log.Debug("no audio for reply", "text", text)
		v.publishIdle(ctx, v.now())
		return false
	}

	path, err := v.writeTemp(rc, tts.ExtensionOf(v.tts, rc))
	if err != nil {
		log.Error("failed to store synthesized audio", "err", err)
		v.publishIdle(ctx, v.now())
		return false
	}
	defer os.Remove(path)

	if err := v.player.Load(path); err != nil {
		log.Error("failed to load audio", "path", path, "err", err)
		v.publishIdle(ctx, v.now())
		return false
	}
	// The listener must see the speaking edge before any audio comes out.
	v.publish(ctx, bus.Envelope{Source: bus.SourceVoice, Message: bus.FormatTime(v.now()), Event: bus.EventSpeaking})
	if err := v.player.Play(); err != nil {
		log.Error("failed to start playback", "err", err)
		v.publishIdle(ctx, v.now())
		return false
	}
	v.playing = true

	interrupted := v.waitPlayback(ctx)
	stoppedAt := v.now()
	v.playing = false
	if interrupted {
		v.metrics.RecordInterruption(ctx)
		span.SetAttributes(attribute.Bool("reply.interrupted", true))
	}
	v.publishIdle(ctx, stoppedAt)
	return interrupted
}

// waitPlayback polls the player and the stopper topic once per tick until
// playback ends. Stop is called at most once.
func (v *Voice) waitPlayback(ctx context.Context) bool {
	ticker := time.NewTicker(v.cfg.Tick)
	defer ticker.Stop()
	stopper := v.cfg.Session.Topics.VoiceStopper

	for v.player.IsBusy() {
		v.beat()
		if _, ok := bus.ReceiveFrom(ctx, v.bus, stopper, 0, bus.SourceListener); ok {
			observe.Logger(ctx).Debug("stop speaking because the listener asked to")
			v.stop(ctx)
			return true
		}
		select {
		case <-ctx.Done():
			v.stop(ctx)
			return false
		case <-ticker.C:
		}
	}
	return false
}

func (v *Voice) stop(ctx context.Context) {
	if err := v.player.Stop(); err != nil {
		observe.Logger(ctx).Error("failed to stop playback", "err", err)
	}
}

// DrainStops discards stop signals that arrived while nothing was playing and
// returns how many were dropped.
func (v *Voice) DrainStops(ctx context.Context) int {
	stopper := v.cfg.Session.Topics.VoiceStopper
	n := 0
	for n < maxDrain {
		if _, ok := bus.Receive(ctx, v.bus, stopper, 0); !ok {
			break
		}
		n++
	}
	if n > 0 {
		observe.Logger(ctx).Debug("discarded stale stop signals", "count", n)
	}
	return n
}

func (v *Voice) writeTemp(rc io.ReadCloser, ext string) (string, error) {
	defer rc.Close()
	f, err := os.CreateTemp(v.cfg.TempDir, "katia-reply-*."+ext)
	if err != nil {
		return "", fmt.Errorf("voice: create temp file: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("voice: write audio: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("voice: close audio file: %w", err)
	}
	return f.Name(), nil
}

func (v *Voice) publishIdle(ctx context.Context, at time.Time) {
	v.publish(ctx, bus.Envelope{Source: bus.SourceVoice, Message: bus.FormatTime(at), Event: bus.EventIdle})
}

func (v *Voice) publish(ctx context.Context, env bus.Envelope) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), noticeTimeout)
		defer cancel()
	}
	topic := v.cfg.Session.Topics.VoiceIdleNotice
	if err := v.bus.Publish(ctx, topic, env); err != nil {
		observe.Logger(ctx).Error("failed to publish notice", "topic", topic, "event", env.Event, "err", err)
	}
}

// Run speaks the welcome line and then plays every reply from the brain until
// ctx is cancelled.
func (v *Voice) Run(ctx context.Context) error {
	ctx = observe.WithWorker(ctx, "voice", v.cfg.Session.ID)
	observe.Logger(ctx).Info("voice started",
		"voice_id", v.cfg.Voice.ID,
		"engine", v.cfg.Voice.Engine,
		"language", v.cfg.Language,
	)

	v.DrainStops(ctx)
	v.OnStartup(ctx)
	inbox := v.cfg.Session.Topics.VoiceInbox
	for ctx.Err() == nil {
		v.beat()
		v.DrainStops(ctx)
		env, ok := bus.ReceiveFrom(ctx, v.bus, inbox, v.cfg.PollTimeout, bus.SourceBrain)
		if !ok {
			continue
		}
		v.OnReply(ctx, env.Message)
	}
	return nil
}
