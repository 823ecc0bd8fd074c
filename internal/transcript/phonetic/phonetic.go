// Package phonetic finds the assistant's wake-names in a transcript even when
// the recogniser misspells them ("catia" for "katia", "jar vis" for
// "jarvis").
//
// The algorithm proceeds in two stages for every candidate window of words:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word in the window and for each wake-name. If any code overlaps,
//     the name becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: Among phonetic candidates, the name with the
//     highest Jaro-Winkler similarity is selected, provided its score
//     exceeds the phonetic threshold. When no phonetic candidate exists, a
//     pure Jaro-Winkler pass with a higher fuzzy threshold is tried.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90

	// minTokenLen skips words too short to carry a reliable phonetic code.
	minTokenLen = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched name to be accepted. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.90.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is a phonetic wake-name matcher. It is read-only after construction
// and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Find scans text for any of names and returns the best matching name.
// Each name of n words is compared against every window of n and n+1
// consecutive words, so a name split in two by the recogniser still matches.
func (m *Matcher) Find(text string, names []string) (name string, score float64, found bool) {
	w := m.find(strings.Fields(strings.ToLower(text)), names)
	return w.name, w.score, w.name != ""
}

// Locate is like [Matcher.Find] but returns the bounds of the matched window
// as word indices into strings.Fields(strings.ToLower(text)): the name spans
// words start up to, not including, end.
func (m *Matcher) Locate(text string, names []string) (start, end int, found bool) {
	w := m.find(strings.Fields(strings.ToLower(text)), names)
	return w.start, w.end, w.name != ""
}

type window struct {
	name       string
	score      float64
	start, end int
}

// find prefers the shorter window on equal scores.
func (m *Matcher) find(tokens []string, names []string) window {
	var best window
	for _, n := range names {
		size := len(strings.Fields(n))
		if size == 0 {
			continue
		}
		for _, w := range []int{size, size + 1} {
			for i := 0; i+w <= len(tokens); i++ {
				phrase := strings.Join(tokens[i:i+w], " ")
				if _, s, ok := m.Match(phrase, []string{n}); ok && s > best.score {
					best = window{name: n, score: s, start: i, end: i + w}
				}
			}
		}
	}
	return best
}

// Match reports which of names is most phonetically similar to phrase.
// When matched is false, name is empty and score is 0.
func (m *Matcher) Match(phrase string, names []string) (name string, score float64, matched bool) {
	phraseLower := strings.ToLower(strings.TrimSpace(phrase))
	phraseTokens := usableTokens(phraseLower)
	if len(names) == 0 || len(phraseTokens) == 0 {
		return "", 0, false
	}
	inputCodes := codesForTokens(phraseTokens)

	type candidate struct {
		name     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, n := range names {
		nameLower := strings.ToLower(strings.TrimSpace(n))
		if nameLower == "" {
			continue
		}
		nameTokens := strings.Fields(nameLower)

		phoneticMatch := codesOverlap(inputCodes, codesForTokens(nameTokens))
		jw := bestJWScore(phraseTokens, nameTokens, phraseLower, nameLower)

		if phoneticMatch {
			if jw >= m.phoneticThreshold && (!best.phonetic || jw > best.score) {
				best = candidate{name: n, score: jw, phonetic: true}
			}
		} else if !best.phonetic && jw >= m.fuzzyThreshold && jw > best.score {
			best = candidate{name: n, score: jw}
		}
	}

	if best.name == "" {
		return "", 0, false
	}
	return best.name, best.score, true
}

func usableTokens(s string) []string {
	var out []string
	for _, t := range strings.Fields(s) {
		if len(t) >= minTokenLen {
			out = append(out, t)
		}
	}
	return out
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity among the full strings,
// the space-stripped strings and, for multi-word names, every word pair.
func bestJWScore(inputTokens, nameTokens []string, inputFull, nameFull string) float64 {
	score := matchr.JaroWinkler(inputFull, nameFull, false)

	if len(inputTokens) > 1 || len(nameTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(nameTokens, ""), false); s > score {
			score = s
		}
	}

	// Pairwise scores only help when the name itself has several words;
	// otherwise a single shared word would match a longer phrase.
	if len(nameTokens) > 1 {
		for _, it := range inputTokens {
			for _, nt := range nameTokens {
				if s := matchr.JaroWinkler(it, nt, false); s > score {
					score = s
				}
			}
		}
	}
	return score
}
