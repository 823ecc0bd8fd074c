package brain

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/text/language"

	translatemock "github.com/MrWong99/katia/pkg/provider/translate/mock"
)

func testPersona(lang string) Persona {
	return Persona{
		Name:             "Katia",
		Adjectives:       []string{"friendly", "helpful"},
		ExtraDescription: "Answer briefly.",
		Language:         lang,
	}
}

func TestBuildInitialPrompt_English(t *testing.T) {
	t.Parallel()

	tr := &translatemock.Provider{Prefix: "xx "}
	got, err := BuildInitialPrompt(context.Background(), tr, testPersona("en-US"))
	if err != nil {
		t.Fatalf("BuildInitialPrompt: %v", err)
	}
	want := "You are a friendly and helpful assistant called Katia. Answer briefly."
	if got != want {
		t.Errorf("prompt = %q, want %q", got, want)
	}
	if tr.Calls() != 0 {
		t.Errorf("translator called %d times for english", tr.Calls())
	}
}

func TestBuildInitialPrompt_TranslatesFragments(t *testing.T) {
	t.Parallel()

	tr := &translatemock.Provider{Translations: map[string]string{
		"You are a ": "Eres un asistente ",
		"and":        "y",
		"assistant called Katia. Answer briefly.": "llamado Katia. Responde brevemente. ",
	}}
	got, err := BuildInitialPrompt(context.Background(), tr, testPersona("es-ES"))
	if err != nil {
		t.Fatalf("BuildInitialPrompt: %v", err)
	}
	want := "Eres un asistente friendly y helpful llamado Katia. Responde brevemente."
	if got != want {
		t.Errorf("prompt = %q, want %q", got, want)
	}

	if tr.Calls() != 3 {
		t.Fatalf("translator calls = %d, want one per fragment", tr.Calls())
	}
	for _, c := range tr.TranslateCalls {
		if c.Target != language.Spanish {
			t.Errorf("target = %v, want es", c.Target)
		}
		if c.Text == "friendly" || c.Text == "helpful" {
			t.Errorf("adjective %q must not be translated", c.Text)
		}
	}
}

func TestBuildInitialPrompt_Errors(t *testing.T) {
	t.Parallel()

	if _, err := BuildInitialPrompt(context.Background(), nil, testPersona("de-DE")); err == nil {
		t.Error("expected error without translator")
	}
	tr := &translatemock.Provider{Err: errors.New("quota")}
	if _, err := BuildInitialPrompt(context.Background(), tr, testPersona("de-DE")); err == nil {
		t.Error("expected translation error")
	}
}
