package listener

import (
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/katia/internal/transcript/phonetic"
	"github.com/MrWong99/katia/pkg/bus"
	"github.com/MrWong99/katia/pkg/types"
)

// Decision is the outcome of evaluating one utterance.
type Decision int

const (
	// Ignore emits nothing.
	Ignore Decision = iota

	// Stop asks the voice to stop the current playback.
	Stop

	// Forward sends the transcript to the brain.
	Forward
)

func (d Decision) String() string {
	switch d {
	case Stop:
		return "stop"
	case Forward:
		return "forward"
	default:
		return "ignore"
	}
}

// GateConfig holds the turn-taking parameters. All word lists are expected in
// lower case.
type GateConfig struct {
	// WakeNames address the assistant when they occur in a transcript.
	WakeNames []string

	// FillerWords are removed before deciding whether a phrase is a stop
	// command.
	FillerWords []string

	// StopSentences are the phrases that stop playback.
	StopSentences []string

	// ContinueWindow is how long after the voice went idle a follow-up counts
	// as addressed without a wake-name.
	ContinueWindow time.Duration

	// Debounce is the gap right after the voice went idle during which
	// follow-ups are not yet accepted. Typically the tail of the assistant's
	// own speech.
	Debounce time.Duration
}

// Gate decides, utterance by utterance, whether the user is talking to the
// assistant, asking it to be quiet, or neither. It tracks the voice's
// playback state from the notices the voice publishes.
//
// Gate is safe for concurrent use.
type Gate struct {
	cfg     GateConfig
	matcher *phonetic.Matcher
	now     func() time.Time

	mu       sync.Mutex
	lastIdle time.Time
	playing  bool
}

// NewGate returns a gate whose idle clock starts at now(): an utterance right
// after startup is treated as a follow-up once the debounce has passed.
// matcher may be nil to disable phonetic wake-name matching.
func NewGate(cfg GateConfig, matcher *phonetic.Matcher, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{cfg: cfg, matcher: matcher, now: now, lastIdle: now()}
}

// Evaluate classifies u and returns the decision together with the
// lower-cased best transcript.
func (g *Gate) Evaluate(u types.Utterance) (Decision, string) {
	if u.Empty() {
		return Ignore, ""
	}
	best := u.Best()
	stop := g.normalize(best) == ""

	if g.VoicePlaying() {
		if stop {
			return Stop, best
		}
		return Ignore, best
	}
	if !stop && g.Addressed(best) {
		return Forward, best
	}
	return Ignore, best
}

// Addressed reports whether text names the assistant or falls inside the
// continuation window after the voice's last idle edge. Both window bounds
// are exclusive.
func (g *Gate) Addressed(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if containsAny(text, g.cfg.WakeNames) {
		return true
	}
	if g.matcher != nil {
		if _, _, ok := g.matcher.Find(text, g.cfg.WakeNames); ok {
			return true
		}
	}

	g.mu.Lock()
	since := g.now().Sub(g.lastIdle)
	g.mu.Unlock()
	return since > g.cfg.Debounce && since < g.cfg.ContinueWindow
}

// normalize is [Normalize] whose wake-name pass also removes the names the
// phonetic matcher finds, one word window at a time.
func (g *Gate) normalize(text string) string {
	s := Normalize(text, g.cfg.FillerWords, g.cfg.StopSentences, g.cfg.WakeNames)
	if g.matcher == nil {
		return s
	}
	for s != "" {
		start, end, ok := g.matcher.Locate(s, g.cfg.WakeNames)
		if !ok {
			break
		}
		words := strings.Fields(s)
		s = strings.Join(append(words[:start], words[end:]...), " ")
	}
	return s
}

// SetVoiceIdle records t as the moment the voice last stopped speaking.
func (g *Gate) SetVoiceIdle(t time.Time) {
	g.mu.Lock()
	g.lastIdle = t
	g.playing = false
	g.mu.Unlock()
}

// SetVoicePlaying records that playback started.
func (g *Gate) SetVoicePlaying() {
	g.mu.Lock()
	g.playing = true
	g.mu.Unlock()
}

// ObserveNotice applies one envelope from the idle-notice topic. A speaking
// edge marks playback as started. An idle edge records the timestamp carried
// in its message; when that does not parse, now() is recorded instead and the
// parse error is returned. Envelopes not sent by the voice are ignored.
func (g *Gate) ObserveNotice(env bus.Envelope) error {
	switch {
	case env.IsSpeaking():
		g.SetVoicePlaying()
	case env.IsIdle():
		t, err := bus.ParseTime(env.Message)
		if err != nil {
			g.SetVoiceIdle(g.now())
			return err
		}
		g.SetVoiceIdle(t)
	}
	return nil
}

// VoicePlaying reports whether the last notice from the voice was a speaking
// edge.
func (g *Gate) VoicePlaying() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.playing
}

// LastVoiceIdle returns the last recorded idle edge.
func (g *Gate) LastVoiceIdle() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastIdle
}

// Normalize lower-cases text and removes, in order, commas and periods,
// filler words, stop sentences and wake-names, then trims the result. Each
// removal is a plain substring replacement.
func Normalize(text string, fillers, stopSentences, wakeNames []string) string {
	s := strings.ToLower(text)
	s = strings.NewReplacer(",", "", ".", "").Replace(s)
	for _, pass := range [][]string{fillers, stopSentences, wakeNames} {
		for _, w := range pass {
			if w == "" {
				continue
			}
			s = strings.ReplaceAll(s, strings.ToLower(w), "")
		}
	}
	return strings.TrimSpace(s)
}

// IsStopCommand reports whether nothing but fillers, stop sentences and
// wake-names is left of text.
func IsStopCommand(text string, fillers, stopSentences, wakeNames []string) bool {
	return Normalize(text, fillers, stopSentences, wakeNames) == ""
}

func containsAny(text string, names []string) bool {
	for _, n := range names {
		if n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}
