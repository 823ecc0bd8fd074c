// Package segment cuts a continuous capture stream into phrases.
//
// Frames are classified by a vad.SessionHandle. A phrase starts at the first
// speech frame and ends once PauseThreshold of silence has followed it. Up
// to NonSpeakingDuration of silence is kept on both sides of the speech, and
// phrases with less than PhraseThreshold of speech are discarded as noise.
// The first Calibration of audio is fed to the session's ambient noise
// calibration instead of being segmented.
package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/katia/pkg/audio"
	"github.com/MrWong99/katia/pkg/provider/vad"
)

// Config holds the segmentation thresholds.
type Config struct {
	// Format is the PCM format of emitted clips. Must be mono. Incoming frames
	// are converted to it.
	Format audio.Format

	// FrameSize is the duration of each VAD frame. Defaults to 20ms.
	FrameSize time.Duration

	// PauseThreshold is the silence that ends a phrase.
	PauseThreshold time.Duration

	// PhraseThreshold is the minimum speech a phrase must contain.
	PhraseThreshold time.Duration

	// NonSpeakingDuration is the silence kept before and after the speech.
	NonSpeakingDuration time.Duration

	// Calibration is the length of the initial ambient noise sample.
	Calibration time.Duration

	// MaxPhrase, if positive, cuts phrases that run longer.
	MaxPhrase time.Duration
}

// DefaultConfig returns the thresholds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Format:              audio.Format{SampleRate: 16000, Channels: 1},
		FrameSize:           20 * time.Millisecond,
		PauseThreshold:      400 * time.Millisecond,
		PhraseThreshold:     800 * time.Millisecond,
		NonSpeakingDuration: 200 * time.Millisecond,
		Calibration:         time.Second,
	}
}

// Segmenter turns frames into phrase clips. It is not safe for concurrent
// use; [Segmenter.Run] owns it for the lifetime of a stream.
type Segmenter struct {
	cfg  Config
	vad  vad.SessionHandle
	conv audio.Converter

	frameBytes  int
	pauseBytes  int
	phraseBytes int
	marginBytes int
	maxBytes    int

	pending   []byte
	calibrate int
	preroll   []byte
	inPhrase  bool
	phrase    []byte
	speech    int
	trailing  int
}

// New returns a segmenter that classifies frames with sess.
func New(sess vad.SessionHandle, cfg Config) (*Segmenter, error) {
	if sess == nil {
		return nil, errors.New("segment: vad session must not be nil")
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 20 * time.Millisecond
	}
	if cfg.Format.Channels != 1 || cfg.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("segment: clip format must be mono, got %s", cfg.Format)
	}
	if cfg.PauseThreshold <= 0 {
		return nil, fmt.Errorf("segment: pause threshold must be positive, got %v", cfg.PauseThreshold)
	}
	if cfg.NonSpeakingDuration > cfg.PauseThreshold {
		return nil, fmt.Errorf("segment: non-speaking duration %v exceeds pause threshold %v",
			cfg.NonSpeakingDuration, cfg.PauseThreshold)
	}

	f := cfg.Format
	s := &Segmenter{
		cfg:         cfg,
		vad:         sess,
		conv:        audio.Converter{Target: f},
		frameBytes:  f.Bytes(cfg.FrameSize),
		pauseBytes:  f.Bytes(cfg.PauseThreshold),
		phraseBytes: f.Bytes(cfg.PhraseThreshold),
		marginBytes: f.Bytes(cfg.NonSpeakingDuration),
		maxBytes:    f.Bytes(cfg.MaxPhrase),
		calibrate:   f.Bytes(cfg.Calibration),
	}
	if s.frameBytes == 0 {
		return nil, fmt.Errorf("segment: frame size %v is too small", cfg.FrameSize)
	}
	return s, nil
}

// Calibrating reports whether the segmenter is still sampling ambient noise.
func (s *Segmenter) Calibrating() bool { return s.calibrate > 0 }

// Push feeds one captured frame and returns the phrases it completed.
func (s *Segmenter) Push(frame audio.Frame) []audio.Clip {
	frame = s.conv.Convert(frame)
	s.pending = append(s.pending, frame.Data...)

	var clips []audio.Clip
	for len(s.pending) >= s.frameBytes {
		chunk := make([]byte, s.frameBytes)
		copy(chunk, s.pending)
		s.pending = s.pending[s.frameBytes:]
		if clip, ok := s.step(chunk); ok {
			clips = append(clips, clip)
		}
	}
	return clips
}

// Flush ends the phrase in progress, if any, and returns it when it holds
// enough speech.
func (s *Segmenter) Flush() (audio.Clip, bool) {
	s.pending = nil
	if !s.inPhrase {
		return audio.Clip{}, false
	}
	return s.finish()
}

func (s *Segmenter) step(chunk []byte) (audio.Clip, bool) {
	if s.calibrate > 0 {
		if c, ok := s.vad.(vad.Calibrator); ok {
			c.Calibrate(chunk)
		}
		s.calibrate -= len(chunk)
		return audio.Clip{}, false
	}

	ev, err := s.vad.ProcessFrame(chunk)
	if err != nil {
		slog.Warn("segment: vad failed, treating frame as silence", "err", err)
		ev.Type = vad.VADSilence
	}
	speech := ev.Type.IsSpeech()

	if !s.inPhrase {
		if !speech {
			s.preroll = append(s.preroll, chunk...)
			if over := len(s.preroll) - s.marginBytes; over > 0 {
				s.preroll = s.preroll[over:]
			}
			return audio.Clip{}, false
		}
		s.inPhrase = true
		s.phrase = append(s.preroll, chunk...)
		s.preroll = nil
		s.speech = len(chunk)
		s.trailing = 0
		return audio.Clip{}, false
	}

	s.phrase = append(s.phrase, chunk...)
	if speech {
		s.speech += len(chunk)
		s.trailing = 0
	} else {
		s.trailing += len(chunk)
	}

	if s.trailing >= s.pauseBytes || (s.maxBytes > 0 && len(s.phrase) >= s.maxBytes) {
		return s.finish()
	}
	return audio.Clip{}, false
}

func (s *Segmenter) finish() (audio.Clip, bool) {
	pcm := s.phrase
	if cut := s.trailing - s.marginBytes; cut > 0 {
		pcm = pcm[:len(pcm)-cut]
	}
	speech := s.speech

	s.inPhrase = false
	s.phrase = nil
	s.speech = 0
	s.trailing = 0
	s.vad.Reset()

	if speech < s.phraseBytes {
		slog.Debug("segment: discarding short phrase", "speech", s.cfg.Format.Duration(speech))
		return audio.Clip{}, false
	}
	return audio.Clip{PCM: pcm, Format: s.cfg.Format}, true
}

// Run segments frames until the channel closes or ctx is cancelled. The
// returned channel is closed afterwards; a phrase in progress when frames
// closes is flushed.
func (s *Segmenter) Run(ctx context.Context, frames <-chan audio.Frame) <-chan audio.Clip {
	out := make(chan audio.Clip, 4)
	go func() {
		defer close(out)
		emit := func(c audio.Clip) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-frames:
				if !ok {
					if c, ok := s.Flush(); ok {
						emit(c)
					}
					return
				}
				for _, c := range s.Push(f) {
					if !emit(c) {
						return
					}
				}
			}
		}
	}()
	return out
}
