// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider turns one phrase of captured PCM into an ordered set of
// transcript alternatives, best first. Audio with no recognizable speech is
// reported as ErrUnknownValue so callers can drop it silently, while every
// other error signals a provider or network failure.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/katia/pkg/audio"
	"github.com/MrWong99/katia/pkg/types"
)

// ErrUnknownValue is returned when the audio held no intelligible speech.
var ErrUnknownValue = errors.New("stt: speech not recognized")

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Recognize transcribes clip. language is a BCP-47 tag such as "en" or
	// "es-ES"; an empty string lets the provider pick its default.
	//
	// A successful result always carries at least one alternative with a
	// non-empty transcript.
	Recognize(ctx context.Context, clip audio.Clip, language string) (types.Utterance, error)
}
