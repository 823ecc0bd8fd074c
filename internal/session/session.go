// Package session identifies one assistant owner and derives the bus topics
// the three workers use to talk to each other.
//
// A [Session] is created once at startup and handed by value to every worker.
// It carries no mutable state.
package session

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Topics holds the four logical channels of a session.
type Topics struct {
	// BrainInbox carries addressed transcripts from the listener to the brain.
	BrainInbox string

	// VoiceInbox carries replies from the brain to the voice.
	VoiceInbox string

	// VoiceStopper carries stop requests from the listener to the voice.
	VoiceStopper string

	// VoiceIdleNotice carries the voice's speaking/idle edges back to the listener.
	VoiceIdleNotice string
}

// All returns the topic names in a stable order.
func (t Topics) All() []string {
	return []string{t.BrainInbox, t.VoiceInbox, t.VoiceStopper, t.VoiceIdleNotice}
}

// Session identifies one user of the assistant.
type Session struct {
	// ID is the opaque session identifier. It doubles as the consumer group
	// name on the bus.
	ID string

	// Owner is the human-readable owner name, used only in logs.
	Owner string

	Topics Topics
}

// New returns a session with a fresh random identifier.
func New(owner string) Session {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return FromID(owner, id)
}

// FromID rebuilds a session from a known identifier, e.g. to resume the
// topics of a previous run.
func FromID(owner, id string) Session {
	return Session{
		ID:    id,
		Owner: owner,
		Topics: Topics{
			BrainInbox:      topic(id, "interpreter"),
			VoiceInbox:      topic(id, "speaker"),
			VoiceStopper:    topic(id, "speaker-stopper"),
			VoiceIdleNotice: topic(id, "recognizer-last-speaking"),
		},
	}
}

func topic(id, suffix string) string {
	return fmt.Sprintf("user-%s-%s", id, suffix)
}
