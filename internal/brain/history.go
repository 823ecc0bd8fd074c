package brain

import (
	"fmt"
	"sync"

	"github.com/MrWong99/katia/pkg/types"
)

// TokenCounter estimates how many tokens a message list occupies.
type TokenCounter func(messages []types.Message) (int, error)

// History is the ordered dialogue sent to the model on every completion.
//
// Entry 0 is the system prompt. It is set by [NewHistory] and never removed.
// Every other entry belongs to a user/assistant pair, except for the single
// user turn of an exchange in flight.
//
// All methods are safe for concurrent use.
type History struct {
	mu       sync.Mutex
	messages []types.Message
}

// NewHistory returns a history holding only the system prompt.
func NewHistory(systemPrompt string) *History {
	return &History{
		messages: []types.Message{{Role: types.RoleSystem, Content: systemPrompt}},
	}
}

// Messages returns a copy of the dialogue, system prompt first.
func (h *History) Messages() []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of entries including the system prompt.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// SystemPrompt returns entry 0.
func (h *History) SystemPrompt() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.messages[0].Content
}

// Append adds one turn.
func (h *History) Append(role types.Role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, types.Message{Role: role, Content: content})
}

// Restore replaces the dialogue with snapshot, as returned by [History.Messages].
// A snapshot without a system prompt is ignored.
func (h *History) Restore(snapshot []types.Message) {
	if len(snapshot) == 0 || snapshot[0].Role != types.RoleSystem {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages[:0:0], snapshot...)
}

// Trim removes the oldest user/assistant pairs until count reports at most
// budget tokens for the dialogue plus pending, or only the system prompt
// is left. pending is the turn about to be appended; it is counted but not
// stored. It returns the number of entries removed. A budget of zero or less
// disables trimming.
func (h *History) Trim(count TokenCounter, budget int, pending ...types.Message) (int, error) {
	if budget <= 0 || count == nil {
		return 0, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for {
		n, err := count(append(h.messages[:len(h.messages):len(h.messages)], pending...))
		if err != nil {
			return removed, fmt.Errorf("brain: count tokens: %w", err)
		}
		if n <= budget || len(h.messages) < 3 {
			return removed, nil
		}
		h.messages = append(h.messages[:1], h.messages[3:]...)
		removed += 2
	}
}
