// Package energy implements a vad.Engine that classifies frames by their RMS
// amplitude against an energy threshold.
//
// The threshold can be calibrated from ambient noise and, when
// Config.DynamicThreshold is set, keeps following the noise floor during
// silence. The adjustment is an exponential moving average towards
// DynamicRatio times the observed energy, damped per second of audio.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/katia/pkg/audio"
	"github.com/MrWong99/katia/pkg/provider/vad"
)

const (
	defaultDamping = 0.15
	defaultRatio   = 1.5
)

// Engine creates energy-gate sessions. The zero value is ready to use.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy vad: frame size must be positive, got %d", cfg.FrameSizeMs)
	}
	if cfg.EnergyThreshold < 0 {
		return nil, fmt.Errorf("energy vad: energy threshold must not be negative, got %g", cfg.EnergyThreshold)
	}
	if cfg.DynamicDamping <= 0 || cfg.DynamicDamping >= 1 {
		cfg.DynamicDamping = defaultDamping
	}
	if cfg.DynamicRatio <= 0 {
		cfg.DynamicRatio = defaultRatio
	}

	secs := float64(cfg.FrameSizeMs) / 1000
	return &Session{
		cfg:       cfg,
		threshold: cfg.EnergyThreshold,
		damping:   math.Pow(cfg.DynamicDamping, secs),
		frameSize: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
	}, nil
}

// Session is a single-stream energy gate.
type Session struct {
	cfg       vad.Config
	damping   float64
	frameSize int

	mu        sync.Mutex
	threshold float64
	speaking  bool
	closed    bool
}

// Threshold returns the current energy threshold.
func (s *Session) Threshold() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold
}

// Calibrate moves the threshold towards the energy of a frame that is known
// to hold only ambient noise.
func (s *Session) Calibrate(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjust(audio.RMS(frame))
}

// adjust must be called with s.mu held.
func (s *Session) adjust(energy float64) {
	target := energy * s.cfg.DynamicRatio
	s.threshold = s.threshold*s.damping + target*(1-s.damping)
}

// ProcessFrame implements vad.SessionHandle.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, errors.New("energy vad: session closed")
	}
	if len(frame) != s.frameSize {
		return vad.VADEvent{}, fmt.Errorf("energy vad: frame is %d bytes, want %d", len(frame), s.frameSize)
	}

	energy := audio.RMS(frame)
	ev := vad.VADEvent{Energy: energy, Probability: probability(energy, s.threshold)}
	speech := energy > s.threshold

	switch {
	case speech && !s.speaking:
		ev.Type = vad.VADSpeechStart
	case speech:
		ev.Type = vad.VADSpeechContinue
	case s.speaking:
		ev.Type = vad.VADSpeechEnd
	default:
		ev.Type = vad.VADSilence
	}
	s.speaking = speech

	if !speech && s.cfg.DynamicThreshold {
		s.adjust(energy)
	}
	return ev, nil
}

func probability(energy, threshold float64) float64 {
	if threshold <= 0 {
		if energy > 0 {
			return 1
		}
		return 0
	}
	return math.Min(1, energy/(2*threshold))
}

// Reset implements vad.SessionHandle. The learned threshold is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
	_ vad.Calibrator    = (*Session)(nil)
)
