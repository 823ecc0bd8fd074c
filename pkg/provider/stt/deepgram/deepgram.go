// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// live WebSocket API. Each Recognize call streams one phrase, asks Deepgram to
// flush with CloseStream and collects the final results.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/katia/pkg/audio"
	"github.com/MrWong99/katia/pkg/provider/stt"
	"github.com/MrWong99/katia/pkg/types"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkBytes bounds the size of a single binary websocket message.
	chunkBytes = 8192
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language used when Recognize is called without one.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithAlternatives asks Deepgram for up to n transcript alternatives.
func WithAlternatives(n int) Option {
	return func(p *Provider) { p.alternatives = n }
}

// WithEndpoint overrides the listen endpoint. http and https URLs are
// rewritten to ws and wss.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements stt.Provider backed by the Deepgram live API.
type Provider struct {
	apiKey       string
	model        string
	language     string
	alternatives int
	endpoint     string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		language:     defaultLanguage,
		alternatives: 1,
		endpoint:     deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Recognize implements stt.Provider.
func (p *Provider) Recognize(ctx context.Context, clip audio.Clip, language string) (types.Utterance, error) {
	if len(clip.PCM) == 0 {
		return types.Utterance{}, stt.ErrUnknownValue
	}
	wsURL, err := p.buildURL(clip.Format, language)
	if err != nil {
		return types.Utterance{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return types.Utterance{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	for off := 0; off < len(clip.PCM); off += chunkBytes {
		end := min(off+chunkBytes, len(clip.PCM))
		if err := conn.Write(ctx, websocket.MessageBinary, clip.PCM[off:end]); err != nil {
			return types.Utterance{}, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return types.Utterance{}, fmt.Errorf("deepgram: close stream: %w", err)
	}

	var finals []deepgramResponse
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || len(finals) > 0 {
				break
			}
			return types.Utterance{}, fmt.Errorf("deepgram: read: %w", err)
		}
		resp, kind := parseDeepgramResponse(msg)
		if kind == msgMetadata {
			break
		}
		if kind == msgFinal {
			finals = append(finals, resp)
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")

	u := mergeFinals(finals)
	if u.Empty() {
		return types.Utterance{}, stt.ErrUnknownValue
	}
	return u, nil
}

// buildURL constructs the listen endpoint URL for one phrase.
func (p *Provider) buildURL(f audio.Format, language string) (string, error) {
	endpoint := p.endpoint
	if rest, ok := strings.CutPrefix(endpoint, "http"); ok {
		endpoint = "ws" + rest
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if language == "" {
		language = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", language)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(f.SampleRate))
	q.Set("channels", strconv.Itoa(max(f.Channels, 1)))
	if p.alternatives > 1 {
		q.Set("alternatives", strconv.Itoa(p.alternatives))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- responses ----

type messageKind int

const (
	msgIgnored messageKind = iota
	msgFinal
	msgMetadata
)

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse classifies a raw Deepgram message. Only final
// Results messages with at least one alternative are returned as msgFinal.
func parseDeepgramResponse(data []byte) (deepgramResponse, messageKind) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, msgIgnored
	}
	switch {
	case resp.Type == "Metadata":
		return resp, msgMetadata
	case resp.Type != "Results" || !resp.IsFinal:
		return resp, msgIgnored
	case len(resp.Channel.Alternatives) == 0:
		return resp, msgIgnored
	}
	return resp, msgFinal
}

// mergeFinals joins the final segments of a phrase into one utterance.
// Alternative i is the concatenation of every segment's alternative i, and
// its confidence is the mean over the segments that provided one.
func mergeFinals(finals []deepgramResponse) types.Utterance {
	n := 0
	for _, f := range finals {
		n = max(n, len(f.Channel.Alternatives))
	}

	alts := make([]types.Alternative, 0, n)
	for i := range n {
		var parts []string
		var conf float64
		var count int
		for _, f := range finals {
			if i >= len(f.Channel.Alternatives) {
				continue
			}
			a := f.Channel.Alternatives[i]
			if t := strings.TrimSpace(a.Transcript); t != "" {
				parts = append(parts, t)
			}
			conf += a.Confidence
			count++
		}
		text := strings.Join(parts, " ")
		if text == "" {
			continue
		}
		alts = append(alts, types.Alternative{Transcript: text, Confidence: conf / float64(count)})
	}
	return types.Utterance{Alternatives: alts}
}

var _ stt.Provider = (*Provider)(nil)
