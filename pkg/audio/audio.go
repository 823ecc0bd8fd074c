// Package audio defines the capture and playback boundaries of the assistant.
//
// A [Source] delivers raw microphone PCM as a stream of [Frame] values. The
// segment sub-package cuts that stream into [Clip] phrases for recognition.
// A [Player] plays one encoded file at a time and can be stopped mid-way.
//
// Concrete implementations live in sub-packages: exec (arecord, ffplay,
// mpg123) and mock.
package audio

import "context"

// Source captures audio from an input device.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Frames starts capture and returns a channel of PCM frames. The channel is
	// closed when ctx is cancelled or the device stops delivering audio.
	Frames(ctx context.Context) (<-chan Frame, error)

	// Format reports the PCM layout of the frames delivered by Frames.
	Format() Format
}

// Player plays a single encoded audio file at a time.
//
// Play must not block until playback ends. Callers poll IsBusy to learn when
// the file has finished. Implementations must be safe for concurrent use.
type Player interface {
	// Load prepares the file at path for playback, replacing any previously
	// loaded file. It must not be called while the player is busy.
	Load(path string) error

	// Play starts playing the loaded file.
	Play() error

	// Stop terminates playback immediately. Stopping an idle player is a no-op.
	Stop() error

	// IsBusy reports whether a file is currently playing.
	IsBusy() bool
}
