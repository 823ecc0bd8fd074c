package brain

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
	"pgregory.net/rapid"

	"github.com/MrWong99/katia/internal/observe"
	"github.com/MrWong99/katia/internal/session"
	"github.com/MrWong99/katia/pkg/bus"
	busmock "github.com/MrWong99/katia/pkg/bus/mock"
	"github.com/MrWong99/katia/pkg/provider/llm"
	llmmock "github.com/MrWong99/katia/pkg/provider/llm/mock"
	translatemock "github.com/MrWong99/katia/pkg/provider/translate/mock"
	"github.com/MrWong99/katia/pkg/types"
)

func testMetrics(t interface{ Fatalf(string, ...any) }) *observe.Metrics {
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestBrain(t interface{ Fatalf(string, ...any) }, b bus.Bus, p llm.Provider, lang string, opts ...Option) (*Brain, session.Session) {
	sess := session.FromID("alice", "s1")
	tr := &translatemock.Provider{Prefix: "[" + lang + "] "}
	br, err := New(b, p, tr, Config{
		Session:     sess,
		Persona:     testPersona(lang),
		PollTimeout: 10 * time.Millisecond,
	}, append([]Option{WithMetrics(testMetrics(t))}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return br, sess
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(busmock.New(), nil, nil, Config{Persona: testPersona("en")}); !errors.Is(err, ErrNoCompleter) {
		t.Errorf("err = %v, want ErrNoCompleter", err)
	}
	if _, err := New(nil, &llmmock.Provider{}, nil, Config{}); err == nil {
		t.Error("expected error for nil bus")
	}
	if _, err := New(busmock.New(), &llmmock.Provider{}, nil, Config{Persona: testPersona("fr-FR")}); err == nil {
		t.Error("expected error for missing translator")
	}
	if _, err := New(busmock.New(), &llmmock.Provider{}, nil, Config{Persona: testPersona("en-GB")}); err != nil {
		t.Errorf("english persona without translator: %v", err)
	}
}

func TestBrain_OnTranscriptSuccess(t *testing.T) {
	t.Parallel()

	b := busmock.New()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "The lights are on."}}
	br, sess := newTestBrain(t, b, p, "en-US")

	got := br.OnTranscript(context.Background(), "katia turn on the lights")
	if got != "The lights are on." {
		t.Errorf("reply = %q", got)
	}

	msgs := br.History(context.Background()).Messages()
	want := []types.Message{
		{Role: types.RoleSystem, Content: "You are a friendly and helpful assistant called Katia. Answer briefly."},
		{Role: types.RoleUser, Content: "katia turn on the lights"},
		{Role: types.RoleAssistant, Content: "The lights are on."},
	}
	if len(msgs) != len(want) {
		t.Fatalf("history = %+v, want %+v", msgs, want)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("history[%d] = %+v, want %+v", i, msgs[i], want[i])
		}
	}

	calls := p.Calls()
	if len(calls) != 1 || len(calls[0].Messages) != 2 {
		t.Fatalf("completion requests = %+v, want one with system+user", calls)
	}

	out := b.Published(sess.Topics.VoiceInbox)
	if len(out) != 1 || out[0] != (bus.Envelope{Source: bus.SourceBrain, Message: "The lights are on."}) {
		t.Errorf("voice envelopes = %+v", out)
	}
}

func TestBrain_OnTranscriptFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		lang        string
		provider    *llmmock.Provider
		wantApology string
	}{
		{name: "provider error", lang: "en-US", provider: &llmmock.Provider{CompleteErr: errors.New("rate limited")}, wantApology: ApologyMessage},
		{name: "nil response", lang: "en-US", provider: &llmmock.Provider{}, wantApology: ApologyMessage},
		{name: "blank reply", lang: "en-US", provider: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  "}}, wantApology: ApologyMessage},
		{name: "localized apology", lang: "es-ES", provider: &llmmock.Provider{CompleteErr: errors.New("down")}, wantApology: "[es-ES] " + ApologyMessage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b := busmock.New()
			br, sess := newTestBrain(t, b, tc.provider, tc.lang)
			before := br.History(context.Background()).Len()

			got := br.OnTranscript(context.Background(), "katia what time is it")
			if got != tc.wantApology {
				t.Errorf("reply = %q, want %q", got, tc.wantApology)
			}
			if after := br.History(context.Background()).Len(); after != before {
				t.Errorf("history len = %d, want rollback to %d", after, before)
			}
			out := b.Published(sess.Topics.VoiceInbox)
			if len(out) != 1 || out[0].Message != tc.wantApology || out[0].Source != bus.SourceBrain {
				t.Errorf("voice envelopes = %+v", out)
			}
		})
	}
}

func TestBrain_TrimsHistoryToBudget(t *testing.T) {
	t.Parallel()

	b := busmock.New()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	sess := session.FromID("alice", "s1")
	br, err := New(b, p, nil, Config{
		Session:          sess,
		Persona:          testPersona("en"),
		MaxHistoryTokens: 1,
	}, WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}
	// The mock always reports 100 tokens, so every earlier pair is dropped.
	p.TokenCount = 100

	for range 3 {
		br.OnTranscript(context.Background(), "hello")
	}
	if n := br.History(context.Background()).Len(); n != 3 {
		t.Errorf("history len = %d, want system + last exchange", n)
	}
}

func TestBrain_AnnounceReady(t *testing.T) {
	t.Parallel()

	tests := []struct {
		lang string
		want string
	}{
		{lang: "en-US", want: ReadyMessage},
		{lang: "it-IT", want: "[it-IT] " + ReadyMessage},
	}
	for _, tc := range tests {
		t.Run(tc.lang, func(t *testing.T) {
			t.Parallel()
			b := busmock.New()
			br, sess := newTestBrain(t, b, &llmmock.Provider{}, tc.lang)
			if err := br.AnnounceReady(context.Background()); err != nil {
				t.Fatalf("AnnounceReady: %v", err)
			}
			out := b.Published(sess.Topics.VoiceInbox)
			if len(out) != 1 || out[0].Message != tc.want {
				t.Errorf("voice envelopes = %+v, want %q", out, tc.want)
			}
		})
	}
}

func TestBrain_Run(t *testing.T) {
	t.Parallel()

	b := busmock.New()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Sunny."}}
	beats := 0
	br, sess := newTestBrain(t, b, p, "en-US", WithHeartbeat(func() { beats++ }))

	b.Enqueue(sess.Topics.BrainInbox,
		bus.Envelope{Source: bus.SourceVoice, Message: "not for me"},
		bus.Envelope{Source: bus.SourceListener, Message: "katia what is the weather"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	b.OnPoll = func(string) {
		if len(p.Calls()) == 1 {
			cancel()
		}
	}
	if err := br.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := b.Published(sess.Topics.VoiceInbox)
	if len(out) != 2 {
		t.Fatalf("voice envelopes = %+v, want ready + reply", out)
	}
	if out[0].Message != ReadyMessage || out[1].Message != "Sunny." {
		t.Errorf("voice envelopes = %+v", out)
	}
	if len(p.Calls()) != 1 {
		t.Errorf("completions = %d, want 1 (voice envelope dropped)", len(p.Calls()))
	}
	if beats == 0 {
		t.Error("heartbeat never called")
	}
}

func TestProperty_HistoryGrowth(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		outcomes := rapid.SliceOf(rapid.Bool()).Draw(t, "outcomes")
		i := 0
		p := &llmmock.Provider{CompleteFunc: func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
			ok := outcomes[i]
			i++
			if ok {
				return &llm.CompletionResponse{Content: "reply"}, nil
			}
			return nil, errors.New("failed")
		}}
		br, _ := newTestBrain(t, busmock.New(), p, "en-US")
		h := br.History(context.Background())
		system := h.SystemPrompt()

		for _, ok := range outcomes {
			before := h.Len()
			br.OnTranscript(context.Background(), "question")
			want := before
			if ok {
				want += 2
			}
			if h.Len() != want {
				t.Fatalf("len = %d after ok=%v, want %d", h.Len(), ok, want)
			}
			if h.SystemPrompt() != system {
				t.Fatal("system prompt changed")
			}
		}
		msgs := h.Messages()
		for j := 1; j < len(msgs); j += 2 {
			if msgs[j].Role != types.RoleUser || msgs[j+1].Role != types.RoleAssistant {
				t.Fatalf("unanswered or broken turn at %d: %+v", j, msgs)
			}
		}
	})
}

func TestProperty_FailedExchangeKeepsTrimmedTurns(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		exchanges := rapid.IntRange(1, 6).Draw(t, "exchanges")
		fail := false
		p := &llmmock.Provider{CompleteFunc: func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if fail {
				return nil, errors.New("provider unavailable")
			}
			return &llm.CompletionResponse{Content: "reply"}, nil
		}}
		br, err := New(busmock.New(), p, nil, Config{
			Session:          session.FromID("alice", "s1"),
			Persona:          testPersona("en"),
			MaxHistoryTokens: 50,
		}, WithMetrics(testMetrics(t)))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		h := br.History(context.Background())
		for range exchanges {
			br.OnTranscript(context.Background(), "question")
		}
		before := h.Messages()

		// Over budget, so the turn would trim every earlier pair.
		p.TokenCount = 100
		fail = true
		if got := br.OnTranscript(context.Background(), "one more"); got != ApologyMessage {
			t.Fatalf("reply = %q, want the apology", got)
		}

		after := h.Messages()
		if len(after) != len(before) {
			t.Fatalf("failed completion changed history length: %d -> %d", len(before), len(after))
		}
		for i := range before {
			if after[i] != before[i] {
				t.Fatalf("entry %d = %+v, want %+v", i, after[i], before[i])
			}
		}
	})
}
