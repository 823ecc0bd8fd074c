package brain

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/katia/pkg/provider/translate"
)

// Fixed sentences, written in English and localized on demand.
const (
	// ApologyMessage replaces a reply when the completion fails.
	ApologyMessage = "ups, something went wrong. It seems that I can not understand what are you saying"

	// ReadyMessage is announced once the system prompt is built.
	ReadyMessage = "All is ready! I will be your assistant!"
)

// Persona is the input of the system prompt.
type Persona struct {
	Name             string
	Adjectives       []string
	ExtraDescription string
	Language         string
}

// promptFragments splits the English prompt into the pieces that are
// translated one by one.
type promptFragments struct {
	intro       string
	conjunction string
	ending      string
}

func fragments(p Persona) promptFragments {
	return promptFragments{
		intro:       "You are a ",
		conjunction: "and",
		ending:      "assistant called " + p.Name + ". " + p.ExtraDescription,
	}
}

// englishPrompt renders the prompt as "You are a <adj> and <adj> assistant
// called <name>. <extra>".
func englishPrompt(p Persona) string {
	f := fragments(p)
	return f.intro + strings.Join(p.Adjectives, " "+f.conjunction+" ") + " " + f.ending
}

// BuildInitialPrompt returns the system prompt for p. For a non-English
// language the intro, the conjunction joining the adjectives and the ending
// are translated separately and then put back together, so the adjectives and
// the name are never handed to the translator.
func BuildInitialPrompt(ctx context.Context, tr translate.Provider, p Persona) (string, error) {
	if translate.IsEnglish(p.Language) {
		return englishPrompt(p), nil
	}
	if tr == nil {
		return "", fmt.Errorf("brain: no translator for language %q", p.Language)
	}

	f := fragments(p)
	parts := make([]string, 3)
	for i, text := range []string{f.intro, f.conjunction, f.ending} {
		out, err := translate.Localize(ctx, tr, text, p.Language)
		if err != nil {
			return "", fmt.Errorf("brain: translate prompt fragment: %w", err)
		}
		parts[i] = strings.TrimSpace(out)
	}
	return parts[0] + " " + strings.Join(p.Adjectives, " "+parts[1]+" ") + " " + parts[2], nil
}
