// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Audio: []byte("ID3...")}
//	rc, _ := p.Synthesize(ctx, "hello", voice)
//
// Leave Audio nil to simulate a provider that yields no audio stream.
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/MrWong99/katia/pkg/provider/tts"
	"github.com/MrWong99/katia/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned as the stream content. Nil yields no stream.
	Audio []byte

	// SynthesizeErr, if non-nil, is returned from Synthesize.
	SynthesizeErr error

	// SynthesizeFunc, if set, takes precedence over Audio and SynthesizeErr.
	SynthesizeFunc func(ctx context.Context, text string, voice types.VoiceProfile) (io.ReadCloser, error)

	// Ext is returned by Extension. Defaults to "mp3".
	Ext string

	// SynthesizeCalls records every call to Synthesize.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the configured stream.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (io.ReadCloser, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	fn, audio, err := p.SynthesizeFunc, p.Audio, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voice)
	}
	if err != nil {
		return nil, err
	}
	if audio == nil {
		return nil, nil
	}
	return io.NopCloser(bytes.NewReader(audio)), nil
}

// Extension implements tts.Provider.
func (p *Provider) Extension() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Ext == "" {
		return "mp3"
	}
	return p.Ext
}

// Texts returns the text of every Synthesize call in order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

var _ tts.Provider = (*Provider)(nil)
