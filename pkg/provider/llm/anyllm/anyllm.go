// Package anyllm adapts github.com/mozilla-ai/any-llm-go, which fronts many
// hosted and local model servers behind one interface, to [llm.Provider].
//
//	p, err := anyllm.New("anthropic", "claude-sonnet-4", anyllmlib.WithAPIKey(key))
//	p, err := anyllm.New("ollama", "llama3.2")
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/katia/pkg/provider/llm"
	"github.com/MrWong99/katia/pkg/provider/llm/tokens"
	"github.com/MrWong99/katia/pkg/types"
)

type backendFactory func(...anyllmlib.Option) (anyllmlib.Provider, error)

// each constructor returns a concrete type, hence the wrappers.
var backends = map[string]backendFactory{
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
}

// Backends returns the sorted backend names accepted by [New].
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Provider is an [llm.Provider] over one any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
	counter *tokens.Counter
}

// New connects to backend for model. Without an API key option hosted
// backends read their usual environment variable (ANTHROPIC_API_KEY, ...).
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if backend == "" || model == "" {
		return nil, errors.New("anyllm: backend and model are required")
	}
	factory, ok := backends[strings.ToLower(backend)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unknown backend %q (have %s)", backend, strings.Join(Backends(), ", "))
	}
	b, err := factory(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", backend, err)
	}
	return &Provider{backend: b, model: model, counter: tokens.NewCounter(model)}, nil
}

// Complete sends the dialogue and returns the first choice.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("anyllm: response has no choices")
	}
	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// CountTokens approximates models without a tiktoken encoding with
// cl100k_base.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return p.counter.Messages(messages)
}

// Capabilities reports the context window of the model family.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return capabilitiesFor(p.model)
}

func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	out := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: make([]anyllmlib.Message, len(req.Messages)),
	}
	for i, m := range req.Messages {
		out.Messages[i] = anyllmlib.Message{Role: string(m.Role), Content: m.Content}
	}
	if req.Temperature != 0 {
		out.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = &req.MaxTokens
	}
	return out
}

var families = []struct {
	match  func(string) bool
	window int
	output int
}{
	{prefix("gpt-4o"), 128_000, 16_384},
	{prefix("gpt-4-turbo"), 128_000, 4_096},
	{prefix("gpt-4"), 8_192, 4_096},
	{prefix("gpt-3.5-turbo"), 16_385, 4_096},
	{prefix("claude"), 200_000, 8_192},
	{func(m string) bool { return strings.Contains(m, "gemini-1.5-pro") }, 2_097_152, 8_192},
	{prefix("gemini"), 1_048_576, 8_192},
	{prefix("deepseek"), 64_000, 8_192},
	{prefix("mistral-large"), 128_000, 4_096},
}

func prefix(p string) func(string) bool {
	return func(m string) bool { return strings.HasPrefix(m, p) }
}

func capabilitiesFor(model string) types.ModelCapabilities {
	name := strings.ToLower(model)
	for _, f := range families {
		if f.match(name) {
			return types.ModelCapabilities{ContextWindow: f.window, MaxOutputTokens: f.output}
		}
	}
	return types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
}

var _ llm.Provider = (*Provider)(nil)
