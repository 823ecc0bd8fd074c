package audio

import (
	"fmt"
	"time"
)

// Format describes a stream of signed 16-bit little-endian PCM samples.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM byte rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns the playback length of n bytes of PCM in format f.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Bytes returns the number of PCM bytes that cover d, rounded down to a
// whole sample frame.
func (f Format) Bytes(d time.Duration) int {
	frame := f.Channels * 2
	if frame <= 0 {
		return 0
	}
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%frame
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Frame is one chunk of captured PCM audio.
type Frame struct {
	Data []byte
	Format

	// Timestamp marks when the frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Clip is a complete phrase of PCM audio, ready for recognition.
type Clip struct {
	PCM []byte
	Format
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	return c.Format.Duration(len(c.PCM))
}
