package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// Converter brings frames to a Target format. It logs a warning the first
// time it sees a mismatching format and drops frames with a torn sample.
// Create one per stream.
type Converter struct {
	Target Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns frame in the target format. A frame that already matches
// is returned unchanged. Channels are down-mixed before resampling so the
// resampler only ever sees mono data.
func (c *Converter) Convert(frame Frame) Frame {
	if frame.Channels > 0 && len(frame.Data)%(2*frame.Channels) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: torn PCM frame, dropping",
				"bytes", len(frame.Data),
				"format", frame.Format.String(),
			)
		})
		return Frame{Format: c.Target, Timestamp: frame.Timestamp}
	}
	if frame.Format == c.Target {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio: converting capture format",
			"from", frame.Format.String(),
			"to", c.Target.String(),
		)
	})

	pcm := frame.Data
	if frame.Channels > 1 {
		pcm = DownmixToMono(pcm, frame.Channels)
	}
	pcm = ResampleMono(pcm, frame.SampleRate, c.Target.SampleRate)
	if c.Target.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}

	return Frame{Data: pcm, Format: c.Target, Timestamp: frame.Timestamp}
}

// DownmixToMono averages the interleaved channels of pcm into one.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(sampleAt(pcm, i*channels+ch))
		}
		putSample(out, i, clamp16(sum/int32(channels)))
	}
	return out
}

// MonoToStereo duplicates every mono sample into an L/R pair.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := range n {
		s := sampleAt(pcm, i)
		putSample(out, 2*i, s)
		putSample(out, 2*i+1, s)
	}
	return out
}

// ResampleMono resamples mono PCM from srcRate to dstRate with linear
// interpolation. Invalid rates leave pcm unchanged.
func ResampleMono(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	src := len(pcm) / 2
	dst := int(int64(src) * int64(dstRate) / int64(srcRate))
	if dst == 0 {
		return nil
	}

	out := make([]byte, dst*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dst {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sampleAt(pcm, idx)
		s1 := s0
		if idx+1 < src {
			s1 = sampleAt(pcm, idx+1)
		}
		putSample(out, i, int16(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func putSample(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
}

func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
