package resilience

import (
	"context"
	"errors"
	"io"

	"github.com/MrWong99/katia/pkg/provider/tts"
	"github.com/MrWong99/katia/pkg/types"
)

var errNilResponse = errors.New("provider returned no response")

// TTSFallback implements [tts.Provider] over a [FallbackGroup] of TTS
// backends. Streams are tagged with the extension of the backend that
// produced them; read it with [tts.ExtensionOf].
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional TTS provider.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize asks the first healthy provider for audio. A provider that
// yields no stream has succeeded; the nil stream is passed through.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (io.ReadCloser, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) (io.ReadCloser, error) {
		rc, err := p.Synthesize(ctx, text, voice)
		if err != nil {
			return nil, err
		}
		return tts.WithExtension(rc, tts.ExtensionOf(p, rc)), nil
	})
}

// Extension returns the primary's extension.
func (f *TTSFallback) Extension() string {
	return f.group.Primary().Extension()
}
