package llmtranslate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/text/language"

	"github.com/MrWong99/katia/pkg/provider/llm"
	"github.com/MrWong99/katia/pkg/provider/llm/mock"
	"github.com/MrWong99/katia/pkg/types"
)

func TestTranslate(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "\"¡Todo listo!\"\n"}}
	tr := New(p)

	got, err := tr.Translate(context.Background(), "All is ready!", language.Spanish)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "¡Todo listo!" {
		t.Errorf("Translate = %q", got)
	}

	if len(p.Calls()) != 1 {
		t.Fatalf("Complete called %d times, want 1", len(p.Calls()))
	}
	req := p.Calls()[0]
	if req.Temperature != defaultTemperature {
		t.Errorf("Temperature = %v", req.Temperature)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != types.RoleSystem || req.Messages[1].Content != "All is ready!" {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if !strings.Contains(req.Messages[0].Content, "Spanish (es)") {
		t.Errorf("system prompt does not name the target: %q", req.Messages[0].Content)
	}
}

func TestTranslate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    *mock.Provider
	}{
		{"provider error", &mock.Provider{CompleteErr: errors.New("rate limited")}},
		{"nil response", &mock.Provider{}},
		{"blank reply", &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  "}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tc.p).Translate(context.Background(), "Hi", language.German); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestTranslate_EmptyTextSkipsModel(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	got, err := New(p).Translate(context.Background(), " ", language.French)
	if err != nil || got != " " {
		t.Fatalf("Translate = %q, %v", got, err)
	}
	if len(p.Calls()) != 0 {
		t.Error("model must not be called for empty text")
	}
}

func TestClean(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Hola":                   "Hola",
		`"Hola"`:                 "Hola",
		"'Hola'":                 "Hola",
		"«Hola»":                 "Hola",
		"```\nHola\n```":         "Hola",
		"```text\n\"Hola\"\n```": "Hola",
		`Dijo "hola" y se fue`:   `Dijo "hola" y se fue`,
	}
	for in, want := range tests {
		if got := clean(in); got != want {
			t.Errorf("clean(%q) = %q, want %q", in, got, want)
		}
	}
}
