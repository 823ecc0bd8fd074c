// Package whisper provides a local whisper.cpp-backed STT provider.
//
// It talks to a running whisper-server binary, which exposes a REST API at
// POST /inference. Each phrase is wrapped in a WAV container and uploaded as
// multipart/form-data. Phrases whose energy never rises above the silence
// threshold are rejected locally with stt.ErrUnknownValue, so the server is
// not asked to hallucinate text for background noise.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("es"))
//	u, err := p.Recognize(ctx, clip, "")
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/katia/pkg/audio"
	"github.com/MrWong99/katia/pkg/provider/stt"
	"github.com/MrWong99/katia/pkg/types"
)

const (
	// defaultRMSThreshold is the RMS level (16-bit PCM units) below which a
	// whole phrase is treated as silence.
	defaultRMSThreshold = 300.0

	defaultLanguage = "en"
)

// nonSpeech matches the annotations whisper emits for non-speech audio, such
// as "[BLANK_AUDIO]" or "(music)".
var nonSpeech = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language used when Recognize is called without one.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithRMSThreshold sets the silence gate. Zero disables it.
func WithRMSThreshold(rms float64) Option {
	return func(p *Provider) { p.rmsThreshold = rms }
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider against a whisper.cpp server.
type Provider struct {
	serverURL    string
	model        string
	language     string
	rmsThreshold float64
	httpClient   *http.Client
}

// New creates a Provider for the whisper.cpp HTTP server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:    strings.TrimRight(serverURL, "/"),
		language:     defaultLanguage,
		rmsThreshold: defaultRMSThreshold,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Recognize implements stt.Provider.
func (p *Provider) Recognize(ctx context.Context, clip audio.Clip, language string) (types.Utterance, error) {
	if len(clip.PCM) == 0 || audio.RMS(clip.PCM) < p.rmsThreshold {
		return types.Utterance{}, stt.ErrUnknownValue
	}
	if language == "" {
		language = p.language
	}

	text, err := p.infer(ctx, clip, language)
	if err != nil {
		return types.Utterance{}, err
	}
	text = cleanTranscript(text)
	if text == "" {
		return types.Utterance{}, stt.ErrUnknownValue
	}
	return types.Utterance{Alternatives: []types.Alternative{{Transcript: text}}}, nil
}

// infer POSTs clip to the /inference endpoint and returns the raw text.
func (p *Provider) infer(ctx context.Context, clip audio.Clip, language string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(clip.PCM, clip.Format)); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := map[string]string{
		"response_format": "json",
		"language":        language,
		"model":           p.model,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// cleanTranscript removes non-speech annotations and collapses whitespace.
func cleanTranscript(text string) string {
	return strings.Join(strings.Fields(nonSpeech.ReplaceAllString(text, " ")), " ")
}

var _ stt.Provider = (*Provider)(nil)
