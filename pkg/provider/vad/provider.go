// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine classifies fixed-size PCM frames as speech or silence. Each
// stream gets its own SessionHandle so that detection state (thresholds,
// previous classification) never leaks between streams.
//
// ProcessFrame is synchronous and must not block; it sits directly in the
// capture loop in front of phrase segmentation.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Frames passed to ProcessFrame
	// must be mono 16-bit PCM at this rate.
	SampleRate int

	// FrameSizeMs is the duration of each frame in milliseconds.
	FrameSizeMs int

	// EnergyThreshold is the RMS amplitude (raw 16-bit scale) above which a
	// frame counts as speech.
	EnergyThreshold float64

	// DynamicThreshold lets the engine raise or lower EnergyThreshold to track
	// the ambient noise level while no one is speaking.
	DynamicThreshold bool

	// DynamicDamping controls how fast the dynamic threshold moves, as the
	// fraction of the old threshold retained after one second. Typical: 0.15.
	DynamicDamping float64

	// DynamicRatio is the multiple of the ambient energy the threshold is pulled
	// towards. Typical: 1.5.
	DynamicRatio float64
}

// SessionHandle is an active VAD session for a single audio stream.
//
// A SessionHandle should not be shared between goroutines unless the
// implementation documents otherwise.
type SessionHandle interface {
	// ProcessFrame classifies one frame of raw little-endian PCM.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears the speech/silence state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once returns nil.
	Close() error
}

// Calibrator is implemented by sessions that can learn the ambient noise
// level from frames known to contain no speech.
type Calibrator interface {
	Calibrate(frame []byte)
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a session with the given configuration. An invalid
	// configuration returns an error.
	NewSession(cfg Config) (SessionHandle, error)
}
