package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":       {"deepgram", "whisper"},
	"tts":       {"polly", "elevenlabs", "coqui"},
	"translate": {"llm"},
	"vad":       {"energy"},
	"capture":   {"arecord", "command"},
	"player":    {"ffplay", "mpg123", "command"},
	"bus":       {"redis", "memory"},
}

// localLLMProviders run without an API key.
var localLLMProviders = []string{"ollama", "llamacpp", "llamafile"}

// ErrMissingOpenAIKey is reported when the openai provider has no key.
var ErrMissingOpenAIKey = errors.New("Missing OPENAI_KEY for interpreter. This env value is mandatory") //nolint:staticcheck // message is user facing

// Load reads the YAML configuration file at path, applies defaults and
// returns a validated [Config]. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, nil)
}

// LoadWithEnv is [Load] with the environment overlay applied between
// decoding and defaulting. lookup is usually [os.LookupEnv]; nil skips the
// overlay. An empty path starts from an empty file.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	var r io.Reader = strings.NewReader("")
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	cfg, err := decode(r)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if lookup != nil {
		if err := ApplyEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Assistant
	if strings.TrimSpace(cfg.Assistant.Name) == "" {
		errs = append(errs, errors.New("assistant.name is required"))
	}
	if _, err := language.Parse(cfg.Assistant.Language); err != nil {
		errs = append(errs, fmt.Errorf("assistant.language %q is not a valid BCP 47 tag: %w", cfg.Assistant.Language, err))
	}
	for i, n := range cfg.Assistant.WakeNames {
		if strings.TrimSpace(n) == "" {
			errs = append(errs, fmt.Errorf("assistant.wake_names[%d] is empty", i))
		}
	}
	if len(cfg.Assistant.WakeNames) == 0 {
		slog.Warn("assistant.wake_names is empty; the assistant can only be addressed inside the continuation window")
	}

	// Listener timing
	l := cfg.Listener
	for _, d := range []struct {
		name string
		v    int64
	}{
		{"listener.continue_window", int64(l.ContinueWindow)},
		{"listener.debounce", int64(l.Debounce)},
		{"listener.pause_threshold", int64(l.PauseThreshold)},
		{"listener.phrase_threshold", int64(l.PhraseThreshold)},
		{"listener.non_speaking_duration", int64(l.NonSpeakingDuration)},
		{"listener.poll_timeout", int64(l.PollTimeout)},
		{"brain.poll_timeout", int64(cfg.Brain.PollTimeout)},
		{"voice.tick", int64(cfg.Voice.Tick)},
		{"voice.poll_timeout", int64(cfg.Voice.PollTimeout)},
	} {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if l.Debounce > 0 && l.ContinueWindow > 0 && l.Debounce >= l.ContinueWindow {
		errs = append(errs, fmt.Errorf("listener.debounce %s must be shorter than listener.continue_window %s", l.Debounce, l.ContinueWindow))
	}
	if l.EnergyThreshold < 0 {
		errs = append(errs, fmt.Errorf("listener.energy_threshold %.2f must not be negative", l.EnergyThreshold))
	}
	if cfg.Brain.MaxHistoryTokens < 0 {
		errs = append(errs, errors.New("brain.max_history_tokens must not be negative"))
	}

	// LLM credentials
	errs = append(errs, validateLLM("providers.llm", cfg.Providers.LLM)...)
	for i, fb := range cfg.Providers.LLMFallbacks {
		errs = append(errs, validateLLM(fmt.Sprintf("providers.llm_fallbacks[%d]", i), fb)...)
	}

	if cfg.Bus.Name == "redis" && cfg.Bus.Addr == "" {
		errs = append(errs, errors.New("bus.addr is required for the redis bus"))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("translate", cfg.Providers.Translate.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("capture", cfg.Providers.Capture.Name)
	validateProviderName("player", cfg.Providers.Player.Name)
	validateProviderName("bus", cfg.Bus.Name)
	for _, fb := range cfg.Providers.TTSFallbacks {
		validateProviderName("tts", fb.Name)
	}

	return errors.Join(errs...)
}

func validateLLM(field string, e ProviderEntry) []error {
	switch {
	case e.Name == "":
		return []error{fmt.Errorf("%s.name is required", field)}
	case e.APIKey != "" || slices.Contains(localLLMProviders, e.Name):
		return nil
	case e.Name == "openai":
		slog.Error(ErrMissingOpenAIKey.Error())
		return []error{ErrMissingOpenAIKey}
	default:
		return []error{fmt.Errorf("%s.api_key is required for %q", field, e.Name)}
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
