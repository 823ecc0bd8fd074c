// Package mock provides a scripted [llm.Provider].
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/katia/pkg/provider/llm"
	"github.com/MrWong99/katia/pkg/types"
)

// Provider answers every completion with CompleteFunc when set, otherwise
// with CompleteResponse and CompleteErr. The zero value answers nil, nil.
type Provider struct {
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error
	CompleteFunc     func(req llm.CompletionRequest) (*llm.CompletionResponse, error)

	TokenCount     int
	CountTokensErr error

	ModelCapabilities types.ModelCapabilities

	mu       sync.Mutex
	requests []llm.CompletionRequest
}

// Complete records a copy of req and answers it.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	req.Messages = slices.Clone(req.Messages)
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.CompleteFunc != nil {
		return p.CompleteFunc(req)
	}
	return p.CompleteResponse, p.CompleteErr
}

// CountTokens returns TokenCount and CountTokensErr.
func (p *Provider) CountTokens([]types.Message) (int, error) {
	return p.TokenCount, p.CountTokensErr
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return p.ModelCapabilities
}

// Calls returns the completion requests received so far.
func (p *Provider) Calls() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.requests)
}

var _ llm.Provider = (*Provider)(nil)
