// Package app wires all katia subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the bus and
// the three workers, Run executes them together with the health/metrics
// server, and Shutdown tears everything down in order.
//
// Providers are built by the caller (usually main.go, via the config
// registry) and handed over in a [Providers] value. For testing, pass mocks
// and inject observability via functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/katia/internal/brain"
	"github.com/MrWong99/katia/internal/config"
	"github.com/MrWong99/katia/internal/health"
	"github.com/MrWong99/katia/internal/listener"
	"github.com/MrWong99/katia/internal/observe"
	"github.com/MrWong99/katia/internal/session"
	"github.com/MrWong99/katia/internal/transcript/phonetic"
	"github.com/MrWong99/katia/internal/voice"
	"github.com/MrWong99/katia/pkg/audio"
	"github.com/MrWong99/katia/pkg/audio/segment"
	"github.com/MrWong99/katia/pkg/bus"
	"github.com/MrWong99/katia/pkg/provider/llm"
	"github.com/MrWong99/katia/pkg/provider/stt"
	"github.com/MrWong99/katia/pkg/provider/translate"
	"github.com/MrWong99/katia/pkg/provider/tts"
	"github.com/MrWong99/katia/pkg/provider/vad"
	"github.com/MrWong99/katia/pkg/types"
)

// Worker names, used for heartbeats, logs and metrics.
const (
	WorkerListener = "listener"
	WorkerBrain    = "brain"
	WorkerVoice    = "voice"
)

// staleAfter is how long a worker may go without a heartbeat before /readyz
// reports it.
const staleAfter = 30 * time.Second

// Providers holds one interface value per external collaborator. Populated by
// main.go via the config registry.
type Providers struct {
	Bus       bus.Bus
	LLM       llm.Provider
	STT       stt.Provider
	TTS       tts.Provider
	Translate translate.Provider
	VAD       vad.Engine
	Capture   audio.Source
	Player    audio.Player
}

// App owns all subsystem lifetimes of one assistant session.
type App struct {
	cfg       *config.Config
	providers *Providers
	session   session.Session

	bus        bus.Bus
	metrics    *observe.Metrics
	metricsH   http.Handler
	heartbeats *health.Heartbeats
	manager    *SessionManager
	server     *http.Server

	listener *listener.Listener
	brain    *brain.Brain
	voice    *voice.Voice

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithSession uses sess instead of a fresh session.
func WithSession(sess session.Session) Option {
	return func(a *App) { a.session = sess }
}

// WithMetrics injects the metrics recorder instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring the bus and the three workers together. It
// provisions the session topics on buses that support it. Missing providers
// are configuration errors and are reported together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if err := checkProviders(providers); err != nil {
		return nil, err
	}
	if a.session.ID == "" {
		a.session = session.New(cfg.Assistant.Name)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.bus = observe.InstrumentBus(providers.Bus, a.metrics)
	a.closers = append(a.closers, providers.Bus.Close)

	if p, ok := a.bus.(bus.Provisioner); ok {
		if err := p.Provision(ctx, a.session.Topics.All()...); err != nil {
			return nil, fmt.Errorf("app: provision topics: %w", err)
		}
	}

	a.heartbeats = health.NewHeartbeats(WorkerListener, WorkerBrain, WorkerVoice)

	if err := a.initListener(); err != nil {
		return nil, err
	}
	if err := a.initBrain(); err != nil {
		return nil, err
	}
	if err := a.initVoice(); err != nil {
		return nil, err
	}

	a.manager = NewSessionManager(a.session, a.metrics,
		Worker{Name: WorkerListener, Run: a.listener.Run},
		Worker{Name: WorkerBrain, Run: a.brain.Run},
		Worker{Name: WorkerVoice, Run: a.voice.Run},
	)

	if cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return a, nil
}

func checkProviders(p *Providers) error {
	if p == nil {
		return errors.New("app: providers must not be nil")
	}
	var errs []error
	if p.LLM == nil {
		errs = append(errs, brain.ErrNoCompleter)
	}
	for _, c := range []struct {
		name    string
		missing bool
	}{
		{"bus", p.Bus == nil},
		{"stt", p.STT == nil},
		{"tts", p.TTS == nil},
		{"vad", p.VAD == nil},
		{"capture", p.Capture == nil},
		{"player", p.Player == nil},
	} {
		if c.missing {
			errs = append(errs, fmt.Errorf("app: %s provider is not configured", c.name))
		}
	}
	return errors.Join(errs...)
}

func (a *App) initListener() error {
	lc := a.cfg.Listener
	seg := segment.DefaultConfig()
	if lc.PauseThreshold > 0 {
		seg.PauseThreshold = lc.PauseThreshold
	}
	if lc.PhraseThreshold > 0 {
		seg.PhraseThreshold = lc.PhraseThreshold
	}
	if lc.NonSpeakingDuration > 0 {
		seg.NonSpeakingDuration = lc.NonSpeakingDuration
	}

	capture := listener.Capture{
		Source: a.providers.Capture,
		VAD:    a.providers.VAD,
		VADConfig: vad.Config{
			SampleRate:       seg.Format.SampleRate,
			FrameSizeMs:      int(seg.FrameSize / time.Millisecond),
			EnergyThreshold:  lc.EnergyThreshold,
			DynamicThreshold: lc.DynamicEnergyThreshold,
		},
		Segment: seg,
	}

	opts := []listener.Option{
		listener.WithMetrics(a.metrics),
		listener.WithHeartbeat(func() { a.heartbeats.Beat(WorkerListener) }),
	}
	if lc.PhoneticWakeNames {
		opts = append(opts, listener.WithMatcher(phonetic.New()))
	}

	l, err := listener.New(a.bus, a.providers.STT, capture, listener.Config{
		Session:     a.session,
		Language:    a.cfg.Assistant.Language,
		PollTimeout: lc.PollTimeout,
		Gate: listener.GateConfig{
			WakeNames:      a.cfg.Assistant.WakeNames,
			FillerWords:    lc.FillerWords,
			StopSentences:  lc.StopSentences,
			ContinueWindow: lc.ContinueWindow,
			Debounce:       lc.Debounce,
		},
	}, opts...)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.listener = l
	return nil
}

func (a *App) initBrain() error {
	as := a.cfg.Assistant
	b, err := brain.New(a.bus, a.providers.LLM, a.providers.Translate, brain.Config{
		Session: a.session,
		Persona: brain.Persona{
			Name:             as.Name,
			Adjectives:       as.Adjectives,
			ExtraDescription: as.ExtraDescription,
			Language:         as.Language,
		},
		PollTimeout:      a.cfg.Brain.PollTimeout,
		MaxHistoryTokens: a.cfg.Brain.MaxHistoryTokens,
		Temperature:      a.cfg.Brain.Temperature,
		MaxTokens:        a.cfg.Brain.MaxTokens,
	},
		brain.WithMetrics(a.metrics),
		brain.WithHeartbeat(func() { a.heartbeats.Beat(WorkerBrain) }),
	)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.brain = b
	return nil
}

func (a *App) initVoice() error {
	vc := a.cfg.Voice
	opts := []voice.Option{
		voice.WithMetrics(a.metrics),
		voice.WithHeartbeat(func() { a.heartbeats.Beat(WorkerVoice) }),
	}
	if a.providers.Translate != nil {
		opts = append(opts, voice.WithTranslator(a.providers.Translate))
	}
	v, err := voice.New(a.bus, a.providers.TTS, a.providers.Player, voice.Config{
		Session:  a.session,
		Language: a.cfg.Assistant.Language,
		Voice: types.VoiceProfile{
			ID:       vc.VoiceID,
			Engine:   vc.Engine,
			Language: a.cfg.Assistant.Language,
		},
		Tick:        vc.Tick,
		PollTimeout: vc.PollTimeout,
		TempDir:     vc.TempDir,
	}, opts...)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.voice = v
	return nil
}

// Session returns the session the workers talk over.
func (a *App) Session() session.Session { return a.session }

// Handler returns the health and metrics HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(
		health.PingChecker("bus", a.bus),
		a.heartbeats.Checker(staleAfter),
	).Register(mux)
	if a.metricsH != nil {
		mux.Handle("GET /metrics", a.metricsH)
	}
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the workers and the HTTP server and blocks until ctx is
// cancelled or a worker fails. Cancellation is not an error.
func (a *App) Run(ctx context.Context) error {
	if err := a.manager.Start(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	if a.server != nil {
		go func() {
			slog.Info("health server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("health server error", "err", err)
			}
		}()
	}

	slog.Info("app running",
		"session_id", a.session.ID,
		"assistant", a.cfg.Assistant.Name,
		"language", a.cfg.Assistant.Language,
	)
	return a.manager.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the workers, then the HTTP server, then runs the closers in
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.manager.IsActive() {
			if err := a.manager.Stop(ctx); err != nil {
				slog.Warn("worker stop error", "err", err)
			}
		}
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("health server shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			if ctx.Err() != nil {
				shutdownErr = ctx.Err()
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
