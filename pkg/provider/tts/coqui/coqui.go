// Package coqui synthesizes speech with a self-hosted Coqui TTS server.
//
// The standard server (ghcr.io/coqui-ai/tts) is queried with GET /api/tts;
// an XTTS v2 API server with POST /tts_to_audio/ and a reference speaker WAV.
// Both return a WAV file, which is passed on unchanged.
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("es"))
package coqui

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/katia/pkg/audio"
	"github.com/MrWong99/katia/pkg/provider/tts"
	"github.com/MrWong99/katia/pkg/types"
)

// APIMode selects the server flavour.
type APIMode string

// Supported server flavours.
const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

const (
	defaultLanguage = "en"
	apiTTSEndpoint  = "/api/tts"
	ttsEndpoint     = "/tts_to_audio/"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the language used for voices that carry none. Defaults
// to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout bounds each synthesis request. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// WithAPIMode selects the server flavour. Defaults to [APIModeStandard].
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// Provider is a [tts.Provider] for a Coqui server.
type Provider struct {
	serverURL string
	language  string
	apiMode   APIMode
	client    *http.Client
}

// New targets the server at serverURL, e.g. "http://localhost:5002".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: server url is required")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ttsRequest is the XTTS request body.
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize returns the WAV rendition of text, or nil when the server
// answers with a WAV that holds no samples.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (io.ReadCloser, error) {
	lang := cmp.Or(voice.Language, p.language)

	var (
		req *http.Request
		err error
	)
	switch p.apiMode {
	case APIModeXTTS:
		req, err = p.xttsRequest(ctx, text, voice.ID, lang)
	default:
		req, err = p.standardRequest(ctx, text, voice.ID, lang)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s: %s", req.Method, req.URL.Path, resp.Status)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read response: %w", err)
	}
	pcm, _, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	if len(pcm) == 0 {
		return nil, nil
	}
	return io.NopCloser(bytes.NewReader(wav)), nil
}

func (p *Provider) standardRequest(ctx context.Context, text, speaker, lang string) (*http.Request, error) {
	q := url.Values{"text": {text}}
	if speaker != "" {
		q.Set("speaker_id", speaker)
	}
	if lang != "" {
		q.Set("language_id", lang)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+q.Encode(), nil)
}

// xttsRequest needs a reference speaker, which standard single speaker
// models do not.
func (p *Provider) xttsRequest(ctx context.Context, text, speaker, lang string) (*http.Request, error) {
	if speaker == "" {
		return nil, errors.New("coqui: xtts needs a speaker wav as voice id")
	}
	body, err := json.Marshal(ttsRequest{Text: text, SpeakerWav: speaker, Language: lang})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Extension reports "wav".
func (p *Provider) Extension() string { return "wav" }

var _ tts.Provider = (*Provider)(nil)
