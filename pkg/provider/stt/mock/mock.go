// Package mock provides a test double for stt.Provider.
//
// Results are returned in order, one per Recognize call; once they run out
// the provider falls back to Utterance and Err.
//
// Example:
//
//	p := &mock.Provider{Results: []mock.Result{
//	    {Err: stt.ErrUnknownValue},
//	    {Utterance: types.Utterance{Alternatives: []types.Alternative{{Transcript: "katia stop"}}}},
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/katia/pkg/audio"
	"github.com/MrWong99/katia/pkg/provider/stt"
	"github.com/MrWong99/katia/pkg/types"
)

// Result is one scripted Recognize outcome.
type Result struct {
	Utterance types.Utterance
	Err       error
}

// RecognizeCall records a single invocation of Provider.Recognize.
type RecognizeCall struct {
	Clip     audio.Clip
	Language string
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are consumed one per call.
	Results []Result

	// Utterance and Err are returned once Results is exhausted.
	Utterance types.Utterance
	Err       error

	// RecognizeCalls records every call to Recognize.
	RecognizeCalls []RecognizeCall
}

// Recognize records the call and returns the next scripted result.
func (p *Provider) Recognize(_ context.Context, clip audio.Clip, language string) (types.Utterance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RecognizeCalls = append(p.RecognizeCalls, RecognizeCall{Clip: clip, Language: language})
	if len(p.Results) > 0 {
		r := p.Results[0]
		p.Results = p.Results[1:]
		return r.Utterance, r.Err
	}
	return p.Utterance, p.Err
}

// Calls returns the number of Recognize calls so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.RecognizeCalls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RecognizeCalls = nil
}

var _ stt.Provider = (*Provider)(nil)
