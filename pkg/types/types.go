// Package types defines the shared types used across all katia packages.
//
// These types form the lingua franca between providers, the bus and the three
// workers. Each package defines its own domain types; cross-cutting data
// structures live here to avoid circular imports.
package types

import "strings"

// Role identifies the author of a [Message] in a dialogue history.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role Role

	// Content is the text content of the message.
	Content string
}

// Alternative is one candidate transcript produced by a speech recogniser.
type Alternative struct {
	// Transcript is the recognised text as returned by the recogniser.
	Transcript string

	// Confidence is the recogniser's score (0 to 1). May be zero if the
	// provider does not report confidence.
	Confidence float64
}

// Utterance is the candidate set produced for one captured phrase.
// Alternatives are ordered best first.
type Utterance struct {
	Alternatives []Alternative
}

// Best returns the lower-cased transcript of the first alternative, or ""
// when the utterance carries no alternatives.
func (u Utterance) Best() string {
	if len(u.Alternatives) == 0 {
		return ""
	}
	return strings.ToLower(u.Alternatives[0].Transcript)
}

// Empty reports whether the utterance has no recognisable content.
func (u Utterance) Empty() bool {
	return strings.TrimSpace(u.Best()) == ""
}

// VoiceProfile selects a synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g. "Lucia").
	ID string

	// Engine selects the synthesis engine variant where the provider offers
	// several (e.g. Polly "neural" or "standard").
	Engine string

	// Language is the BCP 47 language code of the text being synthesised.
	Language string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int
}
