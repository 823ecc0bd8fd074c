package listener

import (
	"context"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/MrWong99/katia/internal/session"
	busmock "github.com/MrWong99/katia/pkg/bus/mock"
	sttmock "github.com/MrWong99/katia/pkg/provider/stt/mock"
)

// contentWords contain none of the fillers, stop sentences or wake-names.
var contentWords = []string{"turn", "on", "the", "lights", "what", "time", "weather", "music", "tomorrow"}

// stopPhrase draws a transcript made only of removable pieces, with random
// case and punctuation.
func stopPhrase(t *rapid.T) string {
	pieces := append(append(append([]string{}, testFillers...), testSentences...), testWakeNames...)
	words := rapid.SliceOfN(rapid.SampledFrom(pieces), 1, 6).Draw(t, "pieces")
	var b strings.Builder
	for i, w := range words {
		if rapid.Bool().Draw(t, "upper") {
			w = strings.ToUpper(w)
		}
		b.WriteString(w)
		b.WriteString(rapid.SampledFrom([]string{"", ",", "."}).Draw(t, "punct"))
		if i < len(words)-1 {
			b.WriteString(" ")
		}
	}
	return b.String()
}

// requestPhrase draws a transcript with at least one content word.
func requestPhrase(t *rapid.T) string {
	words := rapid.SliceOfN(rapid.SampledFrom(contentWords), 1, 5).Draw(t, "words")
	return strings.Join(words, " ")
}

func propertyListener(t *rapid.T, c *clock) (*Listener, *busmock.Bus, session.Session) {
	sess := session.FromID("prop", "p1")
	b := busmock.New()
	l, err := New(b, &sttmock.Provider{}, Capture{}, Config{Session: sess, Gate: testGateConfig()},
		WithClock(c.Now), WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, b, sess
}

func TestProperty_StopWhilePlaying(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := newClock()
		l, b, sess := propertyListener(t, c)
		l.Gate().SetVoicePlaying()

		text := stopPhrase(t)
		if d := l.OnUtterance(context.Background(), utterance(text)); d != Stop {
			t.Fatalf("OnUtterance(%q) = %v, want stop", text, d)
		}
		if n := len(b.Published(sess.Topics.VoiceStopper)); n != 1 {
			t.Fatalf("stop envelopes = %d, want 1", n)
		}
		if n := len(b.Published(sess.Topics.BrainInbox)); n != 0 {
			t.Fatalf("brain envelopes = %d, want 0", n)
		}
	})
}

func TestProperty_ForwardAddressedWhileIdle(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := newClock()
		l, b, sess := propertyListener(t, c)

		byName := rapid.Bool().Draw(t, "byName")
		text := requestPhrase(t)
		if byName {
			c.Advance(time.Duration(rapid.IntRange(0, 3600).Draw(t, "sinceIdleSec")) * time.Second)
			text = strings.Join([]string{text, "katia", requestPhrase(t)}, " ")
		} else {
			c.Advance(time.Duration(rapid.IntRange(3001, 29999).Draw(t, "sinceIdleMs")) * time.Millisecond)
		}

		if d := l.OnUtterance(context.Background(), utterance(text)); d != Forward {
			t.Fatalf("OnUtterance(%q) = %v, want forward", text, d)
		}
		got := b.Published(sess.Topics.BrainInbox)
		if len(got) != 1 || got[0].Message != text {
			t.Fatalf("brain envelopes = %+v, want one carrying %q", got, text)
		}
		if n := len(b.Published(sess.Topics.VoiceStopper)); n != 0 {
			t.Fatalf("stop envelopes = %d, want 0", n)
		}
	})
}

func TestProperty_UnaddressedOutsideWindowIgnored(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := newClock()
		l, b, _ := propertyListener(t, c)

		ms := rapid.OneOf(rapid.IntRange(0, 3000), rapid.IntRange(30000, 600000)).Draw(t, "sinceIdleMs")
		c.Advance(time.Duration(ms) * time.Millisecond)

		text := requestPhrase(t)
		if d := l.OnUtterance(context.Background(), utterance(text)); d != Ignore {
			t.Fatalf("OnUtterance(%q) after %dms = %v, want ignore", text, ms, d)
		}
		if n := len(b.PublishCalls); n != 0 {
			t.Fatalf("published %d envelopes, want 0", n)
		}
	})
}

func TestProperty_StopWhileIdleIsNoop(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := newClock()
		l, b, _ := propertyListener(t, c)
		c.Advance(time.Duration(rapid.IntRange(0, 60000).Draw(t, "sinceIdleMs")) * time.Millisecond)

		text := stopPhrase(t)
		for range 2 {
			if d := l.OnUtterance(context.Background(), utterance(text)); d != Ignore {
				t.Fatalf("OnUtterance(%q) = %v, want ignore", text, d)
			}
		}
		if n := len(b.PublishCalls); n != 0 {
			t.Fatalf("published %d envelopes, want 0", n)
		}
	})
}
