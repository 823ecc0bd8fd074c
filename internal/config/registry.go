package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/katia/pkg/audio"
	"github.com/MrWong99/katia/pkg/bus"
	"github.com/MrWong99/katia/pkg/provider/llm"
	"github.com/MrWong99/katia/pkg/provider/stt"
	"github.com/MrWong99/katia/pkg/provider/translate"
	"github.com/MrWong99/katia/pkg/provider/tts"
	"github.com/MrWong99/katia/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// TranslateFactory builds a translation provider. completer is the already
// constructed LLM, for translators that reuse it.
type TranslateFactory func(entry ProviderEntry, completer llm.Provider) (translate.Provider, error)

// BusFactory builds a bus whose consumer group is group.
type BusFactory func(cfg BusConfig, group string) (bus.Bus, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	llm       map[string]func(ProviderEntry) (llm.Provider, error)
	stt       map[string]func(ProviderEntry) (stt.Provider, error)
	tts       map[string]func(ProviderEntry) (tts.Provider, error)
	translate map[string]TranslateFactory
	vad       map[string]func(ProviderEntry) (vad.Engine, error)
	capture   map[string]func(ProviderEntry) (audio.Source, error)
	player    map[string]func(ProviderEntry) (audio.Player, error)
	bus       map[string]BusFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:       make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt:       make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts:       make(map[string]func(ProviderEntry) (tts.Provider, error)),
		translate: make(map[string]TranslateFactory),
		vad:       make(map[string]func(ProviderEntry) (vad.Engine, error)),
		capture:   make(map[string]func(ProviderEntry) (audio.Source, error)),
		player:    make(map[string]func(ProviderEntry) (audio.Player, error)),
		bus:       make(map[string]BusFactory),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterTranslate registers a translation provider factory under name.
func (r *Registry) RegisterTranslate(name string, factory TranslateFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translate[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterCapture registers a microphone source factory under name.
func (r *Registry) RegisterCapture(name string, factory func(ProviderEntry) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterPlayer registers an audio player factory under name.
func (r *Registry) RegisterPlayer(name string, factory func(ProviderEntry) (audio.Player, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.player[name] = factory
}

// RegisterBus registers a bus factory under name.
func (r *Registry) RegisterBus(name string, factory BusFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bus[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranslate instantiates a translation provider, handing completer to
// the factory.
func (r *Registry) CreateTranslate(entry ProviderEntry, completer llm.Provider) (translate.Provider, error) {
	r.mu.RLock()
	factory, ok := r.translate[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: translate/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, completer)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCapture instantiates a microphone source using the factory registered under entry.Name.
func (r *Registry) CreateCapture(entry ProviderEntry) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.capture[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreatePlayer instantiates an audio player using the factory registered under entry.Name.
func (r *Registry) CreatePlayer(entry ProviderEntry) (audio.Player, error) {
	r.mu.RLock()
	factory, ok := r.player[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: player/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateBus instantiates the bus selected by cfg.Name.
func (r *Registry) CreateBus(cfg BusConfig, group string) (bus.Bus, error) {
	r.mu.RLock()
	factory, ok := r.bus[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: bus/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg, group)
}
