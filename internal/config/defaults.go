package config

import (
	"strings"
	"time"
)

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultName                = "Katia"
	DefaultLanguage            = "en-US"
	DefaultContinueWindow      = 30 * time.Second
	DefaultDebounce            = 3 * time.Second
	DefaultEnergyThreshold     = 1
	DefaultPauseThreshold      = 400 * time.Millisecond
	DefaultPhraseThreshold     = 800 * time.Millisecond
	DefaultNonSpeakingDuration = 200 * time.Millisecond
	DefaultPollTimeout         = 500 * time.Millisecond
	DefaultTick                = 100 * time.Millisecond
	DefaultVoiceID             = "Lucia"
	DefaultEngine              = "neural"
	DefaultProfile             = "adminuser"
	DefaultRedisAddr           = "localhost:6379"
	DefaultStreamMaxLen        = 10000
	DefaultLLMModel            = "gpt-4o-mini"
)

// ApplyDefaults fills every unset field of cfg with its default. Wake-names
// default to the lower-cased assistant name and are always stored lower-case.
func ApplyDefaults(cfg *Config) {
	setString(&cfg.Server.ListenAddr, DefaultListenAddr)
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Assistant
	setString(&a.Name, DefaultName)
	setString(&a.Language, DefaultLanguage)
	if len(a.WakeNames) == 0 {
		a.WakeNames = []string{a.Name}
	}
	a.WakeNames = lowerAll(a.WakeNames)

	l := &cfg.Listener
	l.FillerWords = lowerAll(l.FillerWords)
	l.StopSentences = lowerAll(l.StopSentences)
	setDuration(&l.ContinueWindow, DefaultContinueWindow)
	setDuration(&l.Debounce, DefaultDebounce)
	if l.EnergyThreshold == 0 {
		l.EnergyThreshold = DefaultEnergyThreshold
	}
	setDuration(&l.PauseThreshold, DefaultPauseThreshold)
	setDuration(&l.PhraseThreshold, DefaultPhraseThreshold)
	setDuration(&l.NonSpeakingDuration, DefaultNonSpeakingDuration)
	setDuration(&l.PollTimeout, DefaultPollTimeout)

	setDuration(&cfg.Brain.PollTimeout, DefaultPollTimeout)

	v := &cfg.Voice
	setString(&v.VoiceID, DefaultVoiceID)
	setString(&v.Engine, DefaultEngine)
	setString(&v.Profile, DefaultProfile)
	setDuration(&v.Tick, DefaultTick)
	setDuration(&v.PollTimeout, DefaultPollTimeout)

	b := &cfg.Bus
	setString(&b.Name, "redis")
	if b.Name == "redis" {
		setString(&b.Addr, DefaultRedisAddr)
	}
	if b.MaxLen == 0 {
		b.MaxLen = DefaultStreamMaxLen
	}

	p := &cfg.Providers
	setString(&p.LLM.Name, "openai")
	if p.LLM.Name == "openai" {
		setString(&p.LLM.Model, DefaultLLMModel)
	}
	setString(&p.STT.Name, "whisper")
	setString(&p.TTS.Name, "polly")
	setString(&p.Translate.Name, "llm")
	setString(&p.VAD.Name, "energy")
	setString(&p.Capture.Name, "arecord")
	setString(&p.Player.Name, "ffplay")
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}

func lowerAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}
