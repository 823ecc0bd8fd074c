// Package llmtranslate implements translate.Provider on top of an
// [llm.Provider].
//
// The model is asked for a bare translation at a low temperature. Wrapping
// quotes and code fences that chat models like to add are stripped from the
// reply before it is returned.
package llmtranslate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/MrWong99/katia/pkg/provider/llm"
	"github.com/MrWong99/katia/pkg/provider/translate"
	"github.com/MrWong99/katia/pkg/types"
)

const defaultTemperature = 0.1

const systemPromptTemplate = `You are a translation engine. Translate the user's text into %s.
Keep the meaning, tone and punctuation. Keep names unchanged.
Respond with ONLY the translated text, without quotes, notes or explanations.`

// Option is a functional option for configuring a [Translator].
type Option func(*Translator)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(t *Translator) {
		t.temperature = temp
	}
}

// Translator uses an [llm.Provider] to translate short sentences. It is safe
// for concurrent use.
type Translator struct {
	llm         llm.Provider
	temperature float64
}

// New returns a Translator backed by provider.
func New(provider llm.Provider, opts ...Option) *Translator {
	t := &Translator{
		llm:         provider,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Translate implements translate.Provider. Empty text is returned as is.
func (t *Translator) Translate(ctx context.Context, text string, target language.Tag) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	req := llm.CompletionRequest{
		Temperature: t.temperature,
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: buildSystemPrompt(target)},
			{Role: types.RoleUser, Content: text},
		},
	}
	resp, err := t.llm.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llmtranslate: complete: %w", err)
	}
	if resp == nil {
		return "", errors.New("llmtranslate: empty response")
	}
	out := clean(resp.Content)
	if out == "" {
		return "", errors.New("llmtranslate: empty translation")
	}
	return out, nil
}

// buildSystemPrompt names target in English, e.g. "Spanish (es)".
func buildSystemPrompt(target language.Tag) string {
	name := display.English.Tags().Name(target)
	if name == "" {
		name = target.String()
	} else {
		name = fmt.Sprintf("%s (%s)", name, target)
	}
	return fmt.Sprintf(systemPromptTemplate, name)
}

// clean strips code fences and a single pair of wrapping quotes.
func clean(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	for _, q := range []string{`"`, "'", "«»", "“”"} {
		open, close := q, q
		if r := []rune(q); len(r) == 2 {
			open, close = string(r[0]), string(r[1])
		}
		if len(s) >= len(open)+len(close) && strings.HasPrefix(s, open) && strings.HasSuffix(s, close) {
			return strings.TrimSpace(s[len(open) : len(s)-len(close)])
		}
	}
	return s
}

var _ translate.Provider = (*Translator)(nil)
