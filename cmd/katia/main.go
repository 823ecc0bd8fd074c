// Command katia is the main entry point for the Katia voice assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/katia/internal/app"
	"github.com/MrWong99/katia/internal/config"
	"github.com/MrWong99/katia/internal/observe"
	"github.com/MrWong99/katia/internal/resilience"
	"github.com/MrWong99/katia/internal/session"
	"github.com/MrWong99/katia/pkg/audio"
	audioexec "github.com/MrWong99/katia/pkg/audio/exec"
	"github.com/MrWong99/katia/pkg/bus"
	"github.com/MrWong99/katia/pkg/bus/memory"
	"github.com/MrWong99/katia/pkg/bus/redis"
	"github.com/MrWong99/katia/pkg/provider/llm"
	"github.com/MrWong99/katia/pkg/provider/llm/anyllm"
	"github.com/MrWong99/katia/pkg/provider/llm/openai"
	"github.com/MrWong99/katia/pkg/provider/stt"
	"github.com/MrWong99/katia/pkg/provider/stt/deepgram"
	"github.com/MrWong99/katia/pkg/provider/stt/whisper"
	"github.com/MrWong99/katia/pkg/provider/translate"
	"github.com/MrWong99/katia/pkg/provider/translate/llmtranslate"
	"github.com/MrWong99/katia/pkg/provider/tts"
	"github.com/MrWong99/katia/pkg/provider/tts/coqui"
	"github.com/MrWong99/katia/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/katia/pkg/provider/tts/polly"
	"github.com/MrWong99/katia/pkg/provider/vad"
	"github.com/MrWong99/katia/pkg/provider/vad/energy"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional, env vars are always applied)")
	owner := flag.String("owner", "Katia User", "human-readable owner of the session")
	sessionID := flag.String("session", "", "reuse an existing session id instead of generating one")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.LoadWithEnv(*configPath, os.LookupEnv)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "katia: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "katia: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("katia starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "katia", ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Session ───────────────────────────────────────────────────────────────
	sess := session.New(*owner)
	if *sessionID != "" {
		sess = session.FromID(*owner, *sessionID)
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg, cfg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg, sess)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, sess)

	application, err := app.New(ctx, cfg, providers,
		app.WithSession(sess),
		app.WithMetrics(tel.Metrics),
		app.WithMetricsHandler(tel.Handler),
	)
	if err != nil {
		if providers.Bus != nil {
			_ = providers.Bus.Close()
		}
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("assistant ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry, cfg *config.Config) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization", ""); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if secs := entry.OptionInt("timeout_seconds", 0); secs > 0 {
			opts = append(opts, openai.WithTimeout(time.Duration(secs)*time.Second))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// openai has a native client; the remaining backends go through any-llm.
	// Local servers (ollama, llamacpp, llamafile) only need base_url.
	for _, backend := range anyllm.Backends() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if n := entry.OptionInt("alternatives", 0); n > 0 {
			opts = append(opts, deepgram.WithAlternatives(n))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if rms := entry.OptionFloat("rms_threshold", 0); rms > 0 {
			opts = append(opts, whisper.WithRMSThreshold(rms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("polly", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []polly.Option{polly.WithProfile(entry.OptionString("profile", cfg.Voice.Profile))}
		if region := entry.OptionString("region", ""); region != "" {
			opts = append(opts, polly.WithRegion(region))
		}
		if entry.BaseURL != "" {
			opts = append(opts, polly.WithEndpoint(entry.BaseURL))
		}
		if secret := entry.OptionString("secret_access_key", ""); entry.APIKey != "" && secret != "" {
			opts = append(opts, polly.WithCredentials(
				credentials.NewStaticCredentialsProvider(entry.APIKey, secret, entry.OptionString("session_token", "")),
			))
		}
		return polly.New(ctx, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.OptionString("output_format", ""); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := entry.OptionString("voice_id", ""); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.OptionString("api_mode", ""); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if secs := entry.OptionInt("timeout_seconds", 0); secs > 0 {
			opts = append(opts, coqui.WithTimeout(time.Duration(secs)*time.Second))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Translate ─────────────────────────────────────────────────────────────

	reg.RegisterTranslate("llm", func(entry config.ProviderEntry, completer llm.Provider) (translate.Provider, error) {
		if completer == nil {
			return nil, errors.New("translate llm: no llm provider configured")
		}
		var opts []llmtranslate.Option
		if temp := entry.OptionFloat("temperature", -1); temp >= 0 {
			opts = append(opts, llmtranslate.WithTemperature(temp))
		}
		return llmtranslate.New(completer, opts...), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	reg.RegisterCapture("arecord", func(entry config.ProviderEntry) (audio.Source, error) {
		return audioexec.NewRecorder(recorderOptions(entry)...), nil
	})
	reg.RegisterCapture("command", func(entry config.ProviderEntry) (audio.Source, error) {
		name := entry.OptionString("command", "")
		if name == "" {
			return nil, errors.New("capture command: options.command is required")
		}
		opts := append(recorderOptions(entry), audioexec.WithRecordCommand(name, optStrings(entry.Options, "args")...))
		return audioexec.NewRecorder(opts...), nil
	})

	reg.RegisterPlayer("ffplay", func(config.ProviderEntry) (audio.Player, error) {
		return audioexec.NewPlayer(), nil
	})
	reg.RegisterPlayer("mpg123", func(config.ProviderEntry) (audio.Player, error) {
		return audioexec.NewMPG123(), nil
	})
	reg.RegisterPlayer("command", func(entry config.ProviderEntry) (audio.Player, error) {
		name := entry.OptionString("command", "")
		if name == "" {
			return nil, errors.New("player command: options.command is required")
		}
		return audioexec.NewPlayer(audioexec.WithPlayCommand(name, optStrings(entry.Options, "args")...)), nil
	})

	// ── Bus ───────────────────────────────────────────────────────────────────

	reg.RegisterBus("redis", func(bc config.BusConfig, group string) (bus.Bus, error) {
		client := goredis.NewClient(&goredis.Options{
			Addr:     bc.Addr,
			Password: bc.Password,
			DB:       bc.DB,
		})
		return redis.New(client, group,
			redis.WithKeyPrefix(bc.KeyPrefix),
			redis.WithMaxLen(bc.MaxLen),
		), nil
	})
	reg.RegisterBus("memory", func(config.BusConfig, string) (bus.Bus, error) {
		return memory.New(), nil
	})

	// Debug log of all registered providers.
	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

func recorderOptions(entry config.ProviderEntry) []audioexec.RecorderOption {
	var opts []audioexec.RecorderOption
	if device := entry.OptionString("device", ""); device != "" {
		opts = append(opts, audioexec.WithDevice(device))
	}
	if rate := entry.OptionInt("sample_rate", 0); rate > 0 {
		opts = append(opts, audioexec.WithFormat(audio.Format{SampleRate: rate, Channels: 1}))
	}
	if ms := entry.OptionInt("chunk_ms", 0); ms > 0 {
		opts = append(opts, audioexec.WithChunk(time.Duration(ms)*time.Millisecond))
	}
	return opts
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// Fallback entries wrap the primary LLM and TTS providers.
func buildProviders(cfg *config.Config, reg *config.Registry, sess session.Session) (*app.Providers, error) {
	ps := &app.Providers{}
	pc := cfg.Providers

	llmProvider, err := reg.CreateLLM(pc.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", pc.LLM.Name, err)
	}
	if len(pc.LLMFallbacks) > 0 {
		fb := resilience.NewLLMFallback(llmProvider, pc.LLM.Name, resilience.FallbackConfig{})
		for _, entry := range pc.LLMFallbacks {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			fb.AddFallback(entry.Name, p)
			slog.Info("fallback registered", "kind", "llm", "name", entry.Name)
		}
		llmProvider = fb
	}
	ps.LLM = llmProvider
	slog.Info("provider created", "kind", "llm", "name", pc.LLM.Name, "model", pc.LLM.Model)

	if ps.STT, err = reg.CreateSTT(pc.STT); err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", pc.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", pc.STT.Name)

	ttsProvider, err := reg.CreateTTS(pc.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", pc.TTS.Name, err)
	}
	if len(pc.TTSFallbacks) > 0 {
		fb := resilience.NewTTSFallback(ttsProvider, pc.TTS.Name, resilience.FallbackConfig{})
		for _, entry := range pc.TTSFallbacks {
			p, err := reg.CreateTTS(entry)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
			}
			fb.AddFallback(entry.Name, p)
			slog.Info("fallback registered", "kind", "tts", "name", entry.Name)
		}
		ttsProvider = fb
	}
	ps.TTS = ttsProvider
	slog.Info("provider created", "kind", "tts", "name", pc.TTS.Name)

	if name := pc.Translate.Name; name != "" {
		if ps.Translate, err = reg.CreateTranslate(pc.Translate, ps.LLM); err != nil {
			return nil, fmt.Errorf("create translate provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "translate", "name", name)
	}

	if ps.VAD, err = reg.CreateVAD(pc.VAD); err != nil {
		return nil, fmt.Errorf("create vad provider %q: %w", pc.VAD.Name, err)
	}
	if ps.Capture, err = reg.CreateCapture(pc.Capture); err != nil {
		return nil, fmt.Errorf("create capture provider %q: %w", pc.Capture.Name, err)
	}
	if ps.Player, err = reg.CreatePlayer(pc.Player); err != nil {
		return nil, fmt.Errorf("create player provider %q: %w", pc.Player.Name, err)
	}
	slog.Info("audio chain created", "vad", pc.VAD.Name, "capture", pc.Capture.Name, "player", pc.Player.Name)

	// The bus is created last so an earlier failure never leaks a connection.
	if ps.Bus, err = reg.CreateBus(cfg.Bus, sess.ID); err != nil {
		return nil, fmt.Errorf("create bus %q: %w", cfg.Bus.Name, err)
	}
	slog.Info("bus created", "name", cfg.Bus.Name, "addr", cfg.Bus.Addr, "group", sess.ID)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, sess session.Session) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Katia, startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Assistant", cfg.Assistant.Name)
	printField("Language", cfg.Assistant.Language)
	printField("Owner", sess.Owner)
	printField("Session", sess.ID)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Voice.VoiceID)
	printProvider("Translate", cfg.Providers.Translate.Name, "")
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Capture", cfg.Providers.Capture.Name, "")
	printProvider("Player", cfg.Providers.Player.Name, "")
	printProvider("Bus", cfg.Bus.Name, cfg.Bus.Addr)
	fmt.Printf("║  Fallbacks       : %-19s ║\n", fmt.Sprintf("llm=%d tts=%d", len(cfg.Providers.LLMFallbacks), len(cfg.Providers.TTSFallbacks)))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printField(kind, value)
}

func printField(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optStrings extracts a string list from a provider Options map[string]any.
// Non-string elements are skipped.
func optStrings(opts map[string]any, key string) []string {
	raw, ok := opts[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
