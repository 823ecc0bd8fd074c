// Package openai completes dialogues with the OpenAI chat completions API or
// any server speaking the same protocol.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/katia/pkg/provider/llm"
	"github.com/MrWong99/katia/pkg/provider/llm/tokens"
	"github.com/MrWong99/katia/pkg/types"
)

var (
	// ErrMissingKey is returned by [New] when no API key is supplied.
	ErrMissingKey = errors.New("openai: api key is required")

	errMissingModel = errors.New("openai: model is required")
	errNoMessages   = errors.New("openai: request has no messages")
	errNoChoices    = errors.New("openai: response has no choices")
)

// Option adds a request option to the underlying client.
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at a compatible server.
func WithBaseURL(url string) Option {
	return func(ro *[]option.RequestOption) {
		if url != "" {
			*ro = append(*ro, option.WithBaseURL(url))
		}
	}
}

// WithOrganization sends the organization header on every request.
func WithOrganization(org string) Option {
	return func(ro *[]option.RequestOption) {
		if org != "" {
			*ro = append(*ro, option.WithOrganization(org))
		}
	}
}

// WithTimeout bounds every HTTP round trip.
func WithTimeout(d time.Duration) Option {
	return func(ro *[]option.RequestOption) {
		if d > 0 {
			*ro = append(*ro, option.WithHTTPClient(&http.Client{Timeout: d}))
		}
	}
}

// Provider is an [llm.Provider] for OpenAI models.
type Provider struct {
	client  oai.Client
	model   string
	caps    types.ModelCapabilities
	counter *tokens.Counter
}

// New returns a provider for model authenticated with apiKey.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, ErrMissingKey
	case model == "":
		return nil, errMissingModel
	}
	ro := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&ro)
	}
	return &Provider{
		client:  oai.NewClient(ro...),
		model:   model,
		caps:    capabilitiesFor(model),
		counter: tokens.NewCounter(model),
	}, nil
}

// Complete sends the dialogue and returns the first choice.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %s: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, errNoChoices
	}
	u := resp.Usage
	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		},
	}, nil
}

// CountTokens counts with the tiktoken encoding of the model.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return p.counter.Messages(messages)
}

// Capabilities reports the context window of the configured model.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return p.caps
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return oai.ChatCompletionNewParams{}, errNoMessages
	}
	out := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: make([]oai.ChatCompletionMessageParamUnion, len(req.Messages)),
	}
	for i, m := range req.Messages {
		msg, err := toParam(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		out.Messages[i] = msg
	}
	if req.Temperature != 0 {
		out.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		out.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return out, nil
}

func toParam(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case types.RoleUser:
		return oai.UserMessage(m.Content), nil
	case types.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unsupported role %q", m.Role)
}

// modelFamilies is matched in order against the lower-cased model name.
var modelFamilies = []struct {
	prefix string
	caps   types.ModelCapabilities
}{
	{"gpt-4o", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384}},
	{"gpt-4.1", types.ModelCapabilities{ContextWindow: 1_047_576, MaxOutputTokens: 32_768}},
	{"gpt-4-turbo", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}},
	{"gpt-4", types.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096}},
	{"gpt-3.5-turbo", types.ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096}},
	{"o1", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000}},
	{"o3", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000}},
	{"o4", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000}},
}

func capabilitiesFor(model string) types.ModelCapabilities {
	name := strings.ToLower(model)
	for _, f := range modelFamilies {
		if strings.HasPrefix(name, f.prefix) {
			return f.caps
		}
	}
	return types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
}

var _ llm.Provider = (*Provider)(nil)
