package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source tags the worker that produced an [Envelope].
type Source string

const (
	SourceListener Source = "listener"
	SourceBrain    Source = "brain"
	SourceVoice    Source = "voice"
)

// IsValid reports whether s is a known worker tag.
func (s Source) IsValid() bool {
	switch s {
	case SourceListener, SourceBrain, SourceVoice:
		return true
	}
	return false
}

// Event qualifies voice notices on the idle-notice topic.
type Event string

const (
	// EventSpeaking marks the moment playback started.
	EventSpeaking Event = "speaking"

	// EventIdle marks the moment playback stopped, naturally or by a stop
	// request. An empty Event on a voice notice is treated as EventIdle.
	EventIdle Event = "idle"
)

// Envelope is the unit exchanged on every topic.
type Envelope struct {
	// Source identifies the producing worker. Consumers drop envelopes whose
	// source they do not expect.
	Source Source `json:"source"`

	// Message is the payload: a transcript, a reply, a stop phrase or a
	// timestamp formatted with [FormatTime].
	Message string `json:"message"`

	// Event is set on voice notices only.
	Event Event `json:"event,omitempty"`
}

// IsIdle reports whether env is a voice idle notice.
func (e Envelope) IsIdle() bool {
	return e.Source == SourceVoice && (e.Event == "" || e.Event == EventIdle)
}

// IsSpeaking reports whether env is a voice speaking notice.
func (e Envelope) IsSpeaking() bool {
	return e.Source == SourceVoice && e.Event == EventSpeaking
}

// Encode returns the JSON wire form of e.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("bus: encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses the JSON wire form of an envelope. A payload without a
// source is rejected with [ErrMalformed].
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.Source == "" {
		return Envelope{}, fmt.Errorf("%w: missing source", ErrMalformed)
	}
	return e, nil
}

// legacyTimeLayout is the naive ISO-8601 form with microseconds and no zone.
const legacyTimeLayout = "2006-01-02T15:04:05.999999"

// FormatTime renders t for use as an envelope message.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses a timestamp produced by [FormatTime]. Zone-less ISO-8601
// timestamps are also accepted and interpreted in local time.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(legacyTimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("bus: parse time %q: %w", s, err)
	}
	return t, nil
}
