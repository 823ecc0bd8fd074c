// Package translate defines the Provider interface for machine translation
// backends.
//
// The assistant is configured in English; the brain and voice workers
// translate their fixed sentences (prompt fragments, ready line, apology,
// welcome line) into the session language through a Provider.
package translate

import (
	"context"
	"fmt"

	"golang.org/x/text/language"
)

// Provider translates text into a target language.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Translate returns text rendered in target. Text already in the target
	// language should be returned unchanged.
	Translate(ctx context.Context, text string, target language.Tag) (string, error)
}

// Base reduces a BCP 47 string such as "es-ES" to its base language tag.
func Base(lang string) (language.Tag, error) {
	tag, err := language.Parse(lang)
	if err != nil {
		return language.Und, fmt.Errorf("translate: parse language %q: %w", lang, err)
	}
	base, _ := tag.Base()
	return language.Make(base.String()), nil
}

// IsEnglish reports whether lang names any English variant. Unparseable
// input is not English.
func IsEnglish(lang string) bool {
	tag, err := Base(lang)
	return err == nil && tag == language.English
}

// Localize translates text into lang unless lang is English.
func Localize(ctx context.Context, p Provider, text, lang string) (string, error) {
	if IsEnglish(lang) {
		return text, nil
	}
	tag, err := Base(lang)
	if err != nil {
		return "", err
	}
	return p.Translate(ctx, text, tag)
}
