// Package config provides the configuration schema, loader, environment
// overlay and provider registry for katia.
//
// A [Config] is built once at startup (file, then defaults, then environment)
// and handed to every worker by value; nothing mutates it afterwards.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for katia.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Assistant AssistantConfig `yaml:"assistant"`
	Listener  ListenerConfig  `yaml:"listener"`
	Brain     BrainConfig     `yaml:"brain"`
	Voice     VoiceConfig     `yaml:"voice"`
	Bus       BusConfig       `yaml:"bus"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds the health/metrics endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health and metrics server
	// (e.g., ":8080"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AssistantConfig describes who the assistant is.
type AssistantConfig struct {
	// Name is the assistant's display name used in the system prompt.
	Name string `yaml:"name"`

	// Adjectives describe the assistant's personality in the system prompt.
	Adjectives []string `yaml:"adjectives"`

	// WakeNames are the lower-case names that address the assistant.
	WakeNames []string `yaml:"wake_names"`

	// Language is the BCP 47 tag used for recognition and speech
	// (e.g., "es-ES").
	Language string `yaml:"language"`

	// ExtraDescription is appended verbatim to the English system prompt.
	ExtraDescription string `yaml:"extra_description"`
}

// ListenerConfig tunes the turn-taking gate and phrase capture.
type ListenerConfig struct {
	// FillerWords are removed from an utterance before the stop check.
	FillerWords []string `yaml:"filler_words"`

	// StopSentences are removed from an utterance before the stop check.
	StopSentences []string `yaml:"stop_sentences"`

	// ContinueWindow is the upper bound after the last idle notice during
	// which the assistant is addressed without a wake-name.
	ContinueWindow time.Duration `yaml:"continue_window"`

	// Debounce is the lower bound of the same window.
	Debounce time.Duration `yaml:"debounce"`

	// PhoneticWakeNames additionally matches wake-names phonetically.
	PhoneticWakeNames bool `yaml:"phonetic_wake_names"`

	// EnergyThreshold is the initial RMS level above which audio is speech.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// DynamicEnergyThreshold keeps adapting the threshold during silence.
	DynamicEnergyThreshold bool `yaml:"dynamic_energy_threshold"`

	// PauseThreshold is the silence that ends a phrase.
	PauseThreshold time.Duration `yaml:"pause_threshold"`

	// PhraseThreshold is the minimum speech that counts as a phrase.
	PhraseThreshold time.Duration `yaml:"phrase_threshold"`

	// NonSpeakingDuration is the silence kept on both sides of a phrase.
	NonSpeakingDuration time.Duration `yaml:"non_speaking_duration"`

	// PollTimeout bounds every idle-notice poll.
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// BrainConfig tunes dialogue generation.
type BrainConfig struct {
	// MaxHistoryTokens trims the oldest turns once exceeded. Zero disables
	// trimming.
	MaxHistoryTokens int `yaml:"max_history_tokens"`

	// Temperature is passed to the completion request. Zero uses the
	// provider default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps each reply. Zero uses the provider default.
	MaxTokens int `yaml:"max_tokens"`

	// PollTimeout bounds every inbox poll.
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// VoiceConfig selects the synthesis voice and playback behaviour.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier (e.g., "Lucia").
	VoiceID string `yaml:"voice_id"`

	// Engine selects the provider engine (e.g., "neural").
	Engine string `yaml:"engine"`

	// Profile is the credentials profile used by cloud TTS providers.
	Profile string `yaml:"profile"`

	// Tick is the stopper poll interval while speaking.
	Tick time.Duration `yaml:"tick"`

	// PollTimeout bounds every inbox poll.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// TempDir holds synthesised audio files. Empty uses os.TempDir.
	TempDir string `yaml:"temp_dir"`
}

// BusConfig selects the message bus transport.
type BusConfig struct {
	// Name is "redis" or "memory".
	Name string `yaml:"name"`

	// Addr is the Redis address (host:port).
	Addr string `yaml:"addr"`

	// Password authenticates against Redis.
	Password string `yaml:"password"`

	// DB selects the Redis database.
	DB int `yaml:"db"`

	// KeyPrefix is prepended to every stream key.
	KeyPrefix string `yaml:"key_prefix"`

	// MaxLen caps every stream at approximately this many entries.
	MaxLen int64 `yaml:"max_len"`
}

// ProvidersConfig declares which provider implementation to use for each
// external collaborator. Each field selects a named provider registered in
// the [Registry].
type ProvidersConfig struct {
	LLM       ProviderEntry `yaml:"llm"`
	STT       ProviderEntry `yaml:"stt"`
	TTS       ProviderEntry `yaml:"tts"`
	Translate ProviderEntry `yaml:"translate"`
	VAD       ProviderEntry `yaml:"vad"`
	Capture   ProviderEntry `yaml:"capture"`
	Player    ProviderEntry `yaml:"player"`

	// LLMFallbacks are tried in order when the primary LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// TTSFallbacks are tried in order when the primary TTS fails.
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// OptionString returns the string option key, or def when absent.
func (e ProviderEntry) OptionString(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// OptionFloat returns the numeric option key, or def when absent.
func (e ProviderEntry) OptionFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// OptionInt returns the integer option key, or def when absent.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
