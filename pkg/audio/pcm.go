package audio

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrNotWAV is returned by [DecodeWAV] for input that is not a RIFF/WAVE file
// with a fmt chunk followed by a data chunk.
var ErrNotWAV = errors.New("audio: not a WAV file")

const bitsPerSample = 16

// RMS returns the root-mean-square amplitude of 16-bit PCM on the raw sample
// scale (0 to 32768).
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sampleAt(pcm, i))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// EncodeWAV wraps pcm in a 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	byteRate := f.SampleRate * f.Channels * bitsPerSample / 8
	blockAlign := f.Channels * bitsPerSample / 8
	size := len(pcm)

	buf := make([]byte, 44+size)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+size))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(size))
	copy(buf[44:], pcm)
	return buf
}

// DecodeWAV returns the samples and format of a RIFF/WAVE file. Unknown
// chunks are skipped; a data chunk that runs past the end of wav is truncated
// to what is present.
func DecodeWAV(wav []byte) ([]byte, Format, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}
	var (
		f      Format
		hasFmt bool
	)
	for rest := wav[12:]; len(rest) >= 8; {
		id, size := string(rest[0:4]), int(binary.LittleEndian.Uint32(rest[4:8]))
		body := rest[8:]
		if id == "data" {
			if !hasFmt {
				return nil, Format{}, ErrNotWAV
			}
			return body[:min(size, len(body))], f, nil
		}
		if id == "fmt " && size >= 16 && len(body) >= 16 {
			f.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			hasFmt = true
		}
		// chunks are padded to an even size
		skip := 8 + size + size%2
		if skip > len(rest) {
			break
		}
		rest = rest[skip:]
	}
	return nil, Format{}, ErrNotWAV
}
