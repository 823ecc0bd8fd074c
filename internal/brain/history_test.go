package brain

import (
	"errors"
	"testing"

	"github.com/MrWong99/katia/pkg/types"
)

// perMessage counts ten tokens per message.
func perMessage(msgs []types.Message) (int, error) {
	return len(msgs) * 10, nil
}

func filledHistory(pairs int) *History {
	h := NewHistory("system")
	for range pairs {
		h.Append(types.RoleUser, "q")
		h.Append(types.RoleAssistant, "a")
	}
	return h
}

func TestHistory_Restore(t *testing.T) {
	t.Parallel()

	h := filledHistory(2)
	snapshot := h.Messages()
	if _, err := h.Trim(perMessage, 20); err != nil {
		t.Fatal(err)
	}
	h.Append(types.RoleUser, "pending")

	h.Restore(snapshot)
	if got := h.Messages(); len(got) != 5 || got[1].Content != "q" || got[4].Content != "a" {
		t.Fatalf("Restore = %+v, want the two original pairs", got)
	}

	snapshot[1].Content = "mutated"
	if h.Messages()[1].Content != "q" {
		t.Error("Restore must copy the snapshot")
	}

	h.Restore(nil)
	h.Restore([]types.Message{{Role: types.RoleUser, Content: "no system"}})
	if h.Len() != 5 || h.SystemPrompt() != "system" {
		t.Errorf("snapshot without system prompt applied: %+v", h.Messages())
	}
}

func TestHistory_MessagesIsCopy(t *testing.T) {
	t.Parallel()

	h := NewHistory("system")
	msgs := h.Messages()
	msgs[0].Content = "mutated"
	if h.SystemPrompt() != "system" {
		t.Error("Messages must return a copy")
	}
}

func TestHistory_Trim(t *testing.T) {
	t.Parallel()

	pending := types.Message{Role: types.RoleUser, Content: "next"}
	tests := []struct {
		name        string
		pairs       int
		budget      int
		wantRemoved int
		wantLen     int
	}{
		{name: "disabled", pairs: 5, budget: 0, wantRemoved: 0, wantLen: 11},
		{name: "fits", pairs: 2, budget: 100, wantRemoved: 0, wantLen: 5},
		// 5 pairs + system + pending = 12 messages = 120 tokens.
		{name: "drops oldest pairs", pairs: 5, budget: 80, wantRemoved: 4, wantLen: 7},
		{name: "never drops system prompt", pairs: 3, budget: 5, wantRemoved: 6, wantLen: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := filledHistory(tc.pairs)
			removed, err := h.Trim(perMessage, tc.budget, pending)
			if err != nil {
				t.Fatalf("Trim: %v", err)
			}
			if removed != tc.wantRemoved {
				t.Errorf("removed = %d, want %d", removed, tc.wantRemoved)
			}
			if h.Len() != tc.wantLen {
				t.Errorf("Len = %d, want %d", h.Len(), tc.wantLen)
			}
			msgs := h.Messages()
			if msgs[0].Role != types.RoleSystem {
				t.Errorf("entry 0 role = %q, want system", msgs[0].Role)
			}
			for i := 1; i < len(msgs); i++ {
				want := types.RoleUser
				if i%2 == 0 {
					want = types.RoleAssistant
				}
				if msgs[i].Role != want {
					t.Errorf("entry %d role = %q, want %q", i, msgs[i].Role, want)
				}
			}
		})
	}
}

func TestHistory_TrimCountError(t *testing.T) {
	t.Parallel()

	h := filledHistory(2)
	_, err := h.Trim(func([]types.Message) (int, error) { return 0, errors.New("boom") }, 10)
	if err == nil {
		t.Fatal("expected error from counter")
	}
	if h.Len() != 5 {
		t.Errorf("history changed on counter error: %d", h.Len())
	}
}

func TestHistoryBudget(t *testing.T) {
	t.Parallel()

	caps := types.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096}
	tests := []struct {
		name string
		cfg  Config
		caps types.ModelCapabilities
		want int
	}{
		{name: "unknown window keeps setting", cfg: Config{MaxHistoryTokens: 3000}, want: 3000},
		{name: "unknown window zero", cfg: Config{}, want: 0},
		{name: "fits", cfg: Config{MaxHistoryTokens: 3000}, caps: caps, want: 3000},
		{name: "zero uses window", cfg: Config{}, caps: caps, want: 4_096},
		{name: "capped by reply size", cfg: Config{MaxHistoryTokens: 9000, MaxTokens: 192}, caps: caps, want: 8_000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := historyBudget(tc.cfg, tc.caps); got != tc.want {
				t.Errorf("historyBudget = %d, want %d", got, tc.want)
			}
		})
	}
}
