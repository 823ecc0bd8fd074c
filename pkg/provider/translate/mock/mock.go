// Package mock provides a test double for the translate.Provider interface.
package mock

import (
	"context"
	"sync"

	"golang.org/x/text/language"

	"github.com/MrWong99/katia/pkg/provider/translate"
)

// TranslateCall records a single invocation of Translate.
type TranslateCall struct {
	Text   string
	Target language.Tag
}

// Provider is a mock implementation of translate.Provider. Texts found in
// Translations are mapped; everything else is returned with Prefix prepended.
type Provider struct {
	mu sync.Mutex

	// Translations maps source text to its translation.
	Translations map[string]string

	// Prefix is prepended to texts missing from Translations.
	Prefix string

	// Err, if non-nil, is returned from every call.
	Err error

	// TranslateCalls records every call to Translate.
	TranslateCalls []TranslateCall
}

// Translate implements translate.Provider.
func (p *Provider) Translate(_ context.Context, text string, target language.Tag) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranslateCalls = append(p.TranslateCalls, TranslateCall{Text: text, Target: target})
	if p.Err != nil {
		return "", p.Err
	}
	if out, ok := p.Translations[text]; ok {
		return out, nil
	}
	return p.Prefix + text, nil
}

// Calls returns the number of Translate invocations.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranslateCalls)
}

var _ translate.Provider = (*Provider)(nil)
