package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment keys understood by [ApplyEnv].
const (
	EnvMainName         = "KATIA_MAIN_NAME"
	EnvAdjectives       = "KATIA_ADJECTIVES"
	EnvValidNames       = "KATIA_VALID_NAMES"
	EnvLanguage         = "KATIA_LANGUAGE"
	EnvExtraDescription = "KATIA_EXTRA_DESCRIPTION"
	EnvStopperWords     = "RECOGNIZER_STOPPER_EXTRA_WORDS"
	EnvStopperSentences = "RECOGNIZER_STOPPER_SENTENCES"
	EnvContinueWindow   = "RECOGNIZER_CONTINUE_CONVERSATION_DELAY_IN_SECONDS"
	EnvDebounce         = "RECOGNIZER_GAP_CONTINUE_CONVERSATION_IN_SECONDS"
	EnvEnergyThreshold  = "RECOGNIZER_ENERGY_THRESHOLD"
	EnvDynamicEnergy    = "RECOGNIZER_DYNAMIC_ENERGY_THRESHOLD"
	EnvPauseThreshold   = "RECOGNIZER_PAUSE_THRESHOLD"
	EnvPhraseThreshold  = "RECOGNIZER_PHRASE_THRESHOLD"
	EnvNonSpeaking      = "RECOGNIZER_NON_SPEAKING_DURATION"
	EnvAWSProfile       = "AWS_PROFILE_NAME"
	EnvAWSVoice         = "AWS_VOICE_NAME"
	EnvAWSEngine        = "AWS_ENGINE"
	EnvOpenAIKey        = "OPENAI_KEY"
	EnvOpenAIModel      = "OPENAI_MODEL"
	EnvRedisAddr        = "KATIA_REDIS_ADDR"
)

// ApplyEnv overlays environment values onto cfg. lookup is usually
// os.LookupEnv. Set keys win over the file; unparseable values are joined
// into the returned error.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			items, err := ParseList(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = items
		}
	}
	seconds := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = time.Duration(f * float64(time.Second))
		}
	}

	str(EnvMainName, &cfg.Assistant.Name)
	list(EnvAdjectives, &cfg.Assistant.Adjectives)
	list(EnvValidNames, &cfg.Assistant.WakeNames)
	str(EnvLanguage, &cfg.Assistant.Language)
	str(EnvExtraDescription, &cfg.Assistant.ExtraDescription)

	list(EnvStopperWords, &cfg.Listener.FillerWords)
	list(EnvStopperSentences, &cfg.Listener.StopSentences)
	seconds(EnvContinueWindow, &cfg.Listener.ContinueWindow)
	seconds(EnvDebounce, &cfg.Listener.Debounce)
	if v, ok := lookup(EnvEnergyThreshold); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s: %w", EnvEnergyThreshold, err))
		} else {
			cfg.Listener.EnergyThreshold = f
		}
	}
	if v, ok := lookup(EnvDynamicEnergy); ok && v != "" {
		cfg.Listener.DynamicEnergyThreshold = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	seconds(EnvPauseThreshold, &cfg.Listener.PauseThreshold)
	seconds(EnvPhraseThreshold, &cfg.Listener.PhraseThreshold)
	seconds(EnvNonSpeaking, &cfg.Listener.NonSpeakingDuration)

	str(EnvAWSProfile, &cfg.Voice.Profile)
	str(EnvAWSVoice, &cfg.Voice.VoiceID)
	str(EnvAWSEngine, &cfg.Voice.Engine)

	if v, ok := lookup(EnvOpenAIKey); ok && v != "" {
		if cfg.Providers.LLM.Name == "" {
			cfg.Providers.LLM.Name = "openai"
		}
		if cfg.Providers.LLM.Name == "openai" {
			cfg.Providers.LLM.APIKey = v
		}
	}
	if cfg.Providers.LLM.Name == "" || cfg.Providers.LLM.Name == "openai" {
		str(EnvOpenAIModel, &cfg.Providers.LLM.Model)
	}

	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		cfg.Bus.Addr = v
		if cfg.Bus.Name == "" {
			cfg.Bus.Name = "redis"
		}
	}

	return errors.Join(errs...)
}

// ParseList parses a list value given either as a bracketed literal
// (['a', "b"], also with parentheses) or as a comma-separated string
// (a, b). Bracketed values are decoded as a YAML flow sequence. Empty items
// are dropped.
func ParseList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	switch s[0] {
	case '[':
	case '(':
		if !strings.HasSuffix(s, ")") {
			return nil, fmt.Errorf("unterminated list %q", s)
		}
		s = "[" + s[1:len(s)-1] + "]"
	default:
		var out []string
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}

	var items []string
	if err := yaml.Unmarshal([]byte(s), &items); err != nil {
		return nil, fmt.Errorf("list %q: %w", s, err)
	}
	var out []string
	for _, it := range items {
		if it != "" {
			out = append(out, it)
		}
	}
	return out, nil
}
