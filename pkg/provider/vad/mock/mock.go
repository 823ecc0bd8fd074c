// Package mock provides scripted [vad.Engine] and [vad.SessionHandle]
// doubles.
package mock

import (
	"sync"

	"github.com/MrWong99/katia/pkg/provider/vad"
)

// Engine hands out Session, or a fresh [Session] when Session is nil.
type Engine struct {
	Session       vad.SessionHandle
	NewSessionErr error

	mu      sync.Mutex
	configs []vad.Config
}

// NewSession records cfg.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{}, nil
}

// Configs returns the configs of every NewSession call so far.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Session replays Events one per frame, then repeats EventResult.
// The counters are only safe to read once the session is no longer in use.
type Session struct {
	Events      []vad.VADEvent
	EventResult vad.VADEvent
	Err         error
	CloseErr    error

	Frames     int
	Calibrated int
	Resets     int
	Closes     int

	mu sync.Mutex
}

// ProcessFrame returns the next scripted event.
func (s *Session) ProcessFrame([]byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames++
	if s.Err != nil {
		return vad.VADEvent{}, s.Err
	}
	if len(s.Events) == 0 {
		return s.EventResult, nil
	}
	ev := s.Events[0]
	s.Events = s.Events[1:]
	return ev, nil
}

// Calibrate counts the call.
func (s *Session) Calibrate([]byte) {
	s.mu.Lock()
	s.Calibrated++
	s.mu.Unlock()
}

// Reset counts the call.
func (s *Session) Reset() {
	s.mu.Lock()
	s.Resets++
	s.mu.Unlock()
}

// Close counts the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closes++
	return s.CloseErr
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
	_ vad.Calibrator    = (*Session)(nil)
)
