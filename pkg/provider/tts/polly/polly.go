// Package polly provides a TTS provider backed by Amazon Polly.
//
// Credentials and region come from the standard AWS configuration chain
// (shared config files, environment, instance role). A named profile selects
// the shared config section; it defaults to "adminuser".
//
//	p, err := polly.New(ctx, polly.WithProfile("adminuser"))
//	rc, err := p.Synthesize(ctx, "Hola", types.VoiceProfile{ID: "Lucia", Engine: "neural"})
package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"

	"github.com/MrWong99/katia/pkg/provider/tts"
	"github.com/MrWong99/katia/pkg/types"
)

const (
	DefaultVoice   = "Lucia"
	DefaultEngine  = "neural"
	DefaultProfile = "adminuser"
)

// synthesizer is the subset of the Polly client used by Provider.
type synthesizer interface {
	SynthesizeSpeech(ctx context.Context, in *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// Option is a functional option for [New].
type Option func(*options)

type options struct {
	profile  string
	region   string
	endpoint string
	creds    aws.CredentialsProvider
	client   synthesizer
}

// WithProfile selects the shared config profile.
func WithProfile(name string) Option {
	return func(o *options) { o.profile = name }
}

// WithRegion overrides the region from the shared config.
func WithRegion(region string) Option {
	return func(o *options) { o.region = region }
}

// WithEndpoint points the client at a custom base URL.
func WithEndpoint(url string) Option {
	return func(o *options) { o.endpoint = url }
}

// WithCredentials replaces the credential chain with p.
func WithCredentials(p aws.CredentialsProvider) Option {
	return func(o *options) { o.creds = p }
}

func withClient(c synthesizer) Option {
	return func(o *options) { o.client = c }
}

// Provider implements tts.Provider using Amazon Polly.
type Provider struct {
	client synthesizer
}

// New loads the AWS configuration and returns a Polly provider.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	o := options{profile: DefaultProfile}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client != nil {
		return &Provider{client: o.client}, nil
	}

	var loadOpts []func(*config.LoadOptions) error
	if o.creds != nil {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(o.creds))
	} else if o.profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(o.profile))
	}
	if o.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("polly: load aws config: %w", err)
	}

	client := polly.NewFromConfig(cfg, func(po *polly.Options) {
		if o.endpoint != "" {
			po.BaseEndpoint = aws.String(o.endpoint)
		}
	})
	return &Provider{client: client}, nil
}

// Synthesize requests MP3 speech for text. Empty voice fields fall back to
// Lucia with the neural engine.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (io.ReadCloser, error) {
	if text == "" {
		return nil, errors.New("polly: empty text")
	}
	id := voice.ID
	if id == "" {
		id = DefaultVoice
	}
	engine := voice.Engine
	if engine == "" {
		engine = DefaultEngine
	}

	in := &polly.SynthesizeSpeechInput{
		Text:         aws.String(text),
		VoiceId:      pollytypes.VoiceId(id),
		Engine:       pollytypes.Engine(engine),
		OutputFormat: pollytypes.OutputFormatMp3,
		TextType:     pollytypes.TextTypeText,
	}
	// Polly only accepts region-qualified codes such as "es-ES".
	if strings.Contains(voice.Language, "-") {
		in.LanguageCode = pollytypes.LanguageCode(voice.Language)
	}

	out, err := p.client.SynthesizeSpeech(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("polly: synthesize: %w", err)
	}
	if out.AudioStream == nil {
		return nil, nil
	}
	return out.AudioStream, nil
}

// Extension implements tts.Provider.
func (p *Provider) Extension() string { return "mp3" }

var _ tts.Provider = (*Provider)(nil)
