// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Player] for unit tests.
//
// Both mocks are safe for concurrent use. They record every call so tests can
// assert on call counts, and expose fields that control return values.
//
// Typical usage:
//
//	p := &mock.Player{BusyPolls: 3}
//	_ = p.Load("/tmp/reply.mp3")
//	_ = p.Play()
//	for p.IsBusy() {
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/katia/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source] that replays a fixed list of frames.
type Source struct {
	mu sync.Mutex

	// FrameList is delivered in order by every Frames call.
	FrameList []audio.Frame

	// FormatResult is returned by Format.
	FormatResult audio.Format

	// FramesErr, if set, is returned by Frames.
	FramesErr error

	// KeepOpen leaves the channel open after FrameList is exhausted until ctx
	// is cancelled, like a live microphone.
	KeepOpen bool

	// CallCountFrames records how many times Frames was called.
	CallCountFrames int
}

// Frames implements [audio.Source].
func (s *Source) Frames(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	s.CallCountFrames++
	if s.FramesErr != nil {
		err := s.FramesErr
		s.mu.Unlock()
		return nil, err
	}
	frames := append([]audio.Frame(nil), s.FrameList...)
	keepOpen := s.KeepOpen
	s.mu.Unlock()

	ch := make(chan audio.Frame)
	go func() {
		defer close(ch)
		for _, f := range frames {
			select {
			case ch <- f:
			case <-ctx.Done():
				return
			}
		}
		if keepOpen {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FormatResult
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock [audio.Player].
//
// After Play, IsBusy reports true until Stop or Finish is called. When
// BusyPolls is positive, playback also ends on its own after that many
// IsBusy calls.
type Player struct {
	mu sync.Mutex

	// BusyPolls is the number of IsBusy calls that report true after Play.
	// Zero means playback only ends through Stop or Finish.
	BusyPolls int

	// LoadErr, PlayErr and StopErr are returned by the matching methods.
	LoadErr error
	PlayErr error
	StopErr error

	// OnPlay, if set, is called without the lock held before each Play.
	OnPlay func()

	// OnStop, if set, is called without the lock held after each Stop.
	OnStop func()

	// LoadCalls records the path of every Load call.
	LoadCalls []string

	// CallCountPlay, CallCountStop and CallCountIsBusy count method calls.
	CallCountPlay   int
	CallCountStop   int
	CallCountIsBusy int

	busy      bool
	remaining int
}

// Load implements [audio.Player].
func (p *Player) Load(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LoadCalls = append(p.LoadCalls, path)
	return p.LoadErr
}

// Play implements [audio.Player].
func (p *Player) Play() error {
	p.mu.Lock()
	onPlay := p.OnPlay
	p.mu.Unlock()
	if onPlay != nil {
		onPlay()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountPlay++
	if p.PlayErr != nil {
		return p.PlayErr
	}
	p.busy = true
	p.remaining = p.BusyPolls
	return nil
}

// Stop implements [audio.Player].
func (p *Player) Stop() error {
	p.mu.Lock()
	p.CallCountStop++
	p.busy = false
	err := p.StopErr
	hook := p.OnStop
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	return err
}

// IsBusy implements [audio.Player].
func (p *Player) IsBusy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountIsBusy++
	if !p.busy {
		return false
	}
	if p.BusyPolls > 0 {
		if p.remaining == 0 {
			p.busy = false
			return false
		}
		p.remaining--
	}
	return true
}

// Finish ends playback as if the file played to completion.
func (p *Player) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = false
}

// Loads returns a copy of the recorded Load paths.
func (p *Player) Loads() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.LoadCalls...)
}

// Counts returns the Play and Stop call counts.
func (p *Player) Counts() (play, stop int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallCountPlay, p.CallCountStop
}

var (
	_ audio.Source = (*Source)(nil)
	_ audio.Player = (*Player)(nil)
)
