// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one complete reply into an encoded audio stream that a
// player can load from disk. A provider may legitimately produce no audio for
// a given text; it reports that as a nil stream with a nil error, and the
// caller treats the reply as already spoken.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"io"

	"github.com/MrWong99/katia/pkg/types"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text into encoded audio spoken with voice. The
	// caller must close the returned stream. A nil stream with a nil error
	// means the provider produced no audio.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (io.ReadCloser, error)

	// Extension returns the file extension of the encoded audio, without the
	// leading dot (e.g. "mp3", "wav").
	Extension() string
}

// extStream tags an audio stream with the extension of the provider that
// produced it.
type extStream struct {
	io.ReadCloser
	ext string
}

// WithExtension tags rc with ext so that [ExtensionOf] reports it in place of
// the provider default. A nil rc stays nil.
func WithExtension(rc io.ReadCloser, ext string) io.ReadCloser {
	if rc == nil {
		return nil
	}
	return extStream{ReadCloser: rc, ext: ext}
}

// ExtensionOf returns the extension of a stream returned by p: the tag set by
// [WithExtension] when present, p.Extension() otherwise.
func ExtensionOf(p Provider, rc io.ReadCloser) string {
	if s, ok := rc.(extStream); ok {
		return s.ext
	}
	return p.Extension()
}
