package listener

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/katia/internal/observe"
	"github.com/MrWong99/katia/internal/session"
	"github.com/MrWong99/katia/pkg/audio"
	audiomock "github.com/MrWong99/katia/pkg/audio/mock"
	"github.com/MrWong99/katia/pkg/audio/segment"
	"github.com/MrWong99/katia/pkg/bus"
	busmock "github.com/MrWong99/katia/pkg/bus/mock"
	"github.com/MrWong99/katia/pkg/provider/stt"
	sttmock "github.com/MrWong99/katia/pkg/provider/stt/mock"
	"github.com/MrWong99/katia/pkg/provider/vad"
	"github.com/MrWong99/katia/pkg/provider/vad/energy"
	vadmock "github.com/MrWong99/katia/pkg/provider/vad/mock"
)

func testMetrics(t interface{ Fatalf(string, ...any) }) *observe.Metrics {
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestListener(t *testing.T, b bus.Bus, rec stt.Provider, capture Capture, opts ...Option) (*Listener, session.Session) {
	t.Helper()
	sess := session.FromID("alice", "s1")
	cfg := Config{
		Session:     sess,
		Language:    "en-US",
		PollTimeout: 10 * time.Millisecond,
		Gate:        testGateConfig(),
	}
	l, err := New(b, rec, capture, cfg, append([]Option{WithMetrics(testMetrics(t))}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, sess
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, &sttmock.Provider{}, Capture{}, Config{}); err == nil {
		t.Error("expected error for nil bus")
	}
	if _, err := New(busmock.New(), nil, Capture{}, Config{}); err == nil {
		t.Error("expected error for nil recognizer")
	}
	l, err := New(busmock.New(), &sttmock.Provider{}, Capture{}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.cfg.PollTimeout != 500*time.Millisecond {
		t.Errorf("PollTimeout = %v, want 500ms default", l.cfg.PollTimeout)
	}
}

func TestListener_StopWhilePlaying(t *testing.T) {
	t.Parallel()

	b := busmock.New()
	l, sess := newTestListener(t, b, &sttmock.Provider{}, Capture{})
	l.Gate().SetVoicePlaying()

	if d := l.OnUtterance(context.Background(), utterance("katia stop talking")); d != Stop {
		t.Fatalf("decision = %v, want stop", d)
	}

	stops := b.Published(sess.Topics.VoiceStopper)
	if len(stops) != 1 {
		t.Fatalf("stop envelopes = %d, want 1", len(stops))
	}
	want := bus.Envelope{Source: bus.SourceListener, Message: StopMessage}
	if stops[0] != want {
		t.Errorf("stop envelope = %+v, want %+v", stops[0], want)
	}
	if n := len(b.Published(sess.Topics.BrainInbox)); n != 0 {
		t.Errorf("brain envelopes = %d, want 0", n)
	}
}

func TestListener_ForwardWhileIdle(t *testing.T) {
	t.Parallel()

	b := busmock.New()
	c := newClock()
	l, sess := newTestListener(t, b, &sttmock.Provider{}, Capture{}, WithClock(c.Now))
	c.Advance(time.Hour)

	if d := l.OnUtterance(context.Background(), utterance("Katia turn on the lights")); d != Forward {
		t.Fatalf("decision = %v, want forward", d)
	}

	got := b.Published(sess.Topics.BrainInbox)
	want := bus.Envelope{Source: bus.SourceListener, Message: "katia turn on the lights"}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("brain envelopes = %+v, want [%+v]", got, want)
	}
	if n := len(b.Published(sess.Topics.VoiceStopper)); n != 0 {
		t.Errorf("stop envelopes = %d, want 0", n)
	}
}

func TestListener_FollowUpAfterIdle(t *testing.T) {
	t.Parallel()

	b := busmock.New()
	c := newClock()
	l, sess := newTestListener(t, b, &sttmock.Provider{}, Capture{}, WithClock(c.Now))

	c.Advance(time.Hour)
	l.OnVoiceIdle(c.Now())
	c.Advance(5 * time.Second)

	if d := l.OnUtterance(context.Background(), utterance("and tomorrow")); d != Forward {
		t.Fatalf("decision = %v, want forward inside the window", d)
	}
	if n := len(b.Published(sess.Topics.BrainInbox)); n != 1 {
		t.Errorf("brain envelopes = %d, want 1", n)
	}
}

func TestListener_PublishFailureIsLogged(t *testing.T) {
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))

	b := busmock.New()
	b.PublishErr = errors.New("redis down")
	l, _ := newTestListener(t, b, &sttmock.Provider{}, Capture{})
	l.Gate().SetVoicePlaying()

	if d := l.OnUtterance(context.Background(), utterance("shut up")); d != Stop {
		t.Fatalf("decision = %v, want stop even when publishing fails", d)
	}
	if !strings.Contains(buf.String(), "failed to publish utterance") {
		t.Errorf("log output missing publish failure:\n%s", buf.String())
	}
}

func TestListener_HandleClip(t *testing.T) {
	t.Parallel()

	clip := audio.Clip{PCM: make([]byte, 3200), Format: audio.Format{SampleRate: 16000, Channels: 1}}
	tests := []struct {
		name      string
		result    sttmock.Result
		wantBrain int
	}{
		{name: "unintelligible", result: sttmock.Result{Err: stt.ErrUnknownValue}},
		{name: "provider failure", result: sttmock.Result{Err: errors.New("quota exceeded")}},
		{name: "recognized", result: sttmock.Result{Utterance: utterance("katia what time is it")}, wantBrain: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b := busmock.New()
			rec := &sttmock.Provider{Results: []sttmock.Result{tc.result}}
			l, sess := newTestListener(t, b, rec, Capture{})

			l.HandleClip(context.Background(), clip)

			if rec.Calls() != 1 {
				t.Fatalf("Recognize calls = %d, want 1", rec.Calls())
			}
			if got := rec.RecognizeCalls[0].Language; got != "en-US" {
				t.Errorf("language = %q, want en-US", got)
			}
			if n := len(b.Published(sess.Topics.BrainInbox)); n != tc.wantBrain {
				t.Errorf("brain envelopes = %d, want %d", n, tc.wantBrain)
			}
		})
	}
}

// speech returns d of alternating PCM at amp, loud enough for the energy VAD.
func speech(d time.Duration, amp int16) audio.Frame {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	n := f.Bytes(d) / 2
	buf := make([]byte, n*2)
	for i := range n {
		v := amp
		if i%2 == 1 {
			v = -amp
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return audio.Frame{Data: buf, Format: f}
}

func testCapture(src audio.Source) Capture {
	seg := segment.DefaultConfig()
	seg.Calibration = 0
	return Capture{
		Source: src,
		VAD:    energy.New(),
		VADConfig: vad.Config{
			SampleRate:      16000,
			FrameSizeMs:     20,
			EnergyThreshold: 300,
		},
		Segment: seg,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListener_Run(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{
		FrameList: []audio.Frame{speech(time.Second, 2000), speech(600*time.Millisecond, 0)},
		KeepOpen:  true,
	}
	rec := &sttmock.Provider{Utterance: utterance("katia turn on the lights")}
	b := busmock.New()
	beats := make(chan struct{}, 1)
	l, sess := newTestListener(t, b, rec, testCapture(src), WithHeartbeat(func() {
		select {
		case beats <- struct{}{}:
		default:
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	waitFor(t, "forwarded transcript", func() bool { return len(b.Published(sess.Topics.BrainInbox)) == 1 })
	if got := b.Published(sess.Topics.BrainInbox)[0].Message; got != "katia turn on the lights" {
		t.Errorf("forwarded %q", got)
	}

	b.Enqueue(sess.Topics.VoiceIdleNotice, bus.Envelope{Source: bus.SourceVoice, Message: bus.FormatTime(time.Now()), Event: bus.EventSpeaking})
	waitFor(t, "speaking notice", l.Gate().VoicePlaying)

	stoppedAt := time.Now().Add(-time.Second).UTC()
	b.Enqueue(sess.Topics.VoiceIdleNotice, bus.Envelope{Source: bus.SourceVoice, Message: bus.FormatTime(stoppedAt), Event: bus.EventIdle})
	waitFor(t, "idle notice", func() bool { return !l.Gate().VoicePlaying() })
	if got := l.Gate().LastVoiceIdle(); !got.Equal(stoppedAt) {
		t.Errorf("LastVoiceIdle = %v, want %v", got, stoppedAt)
	}

	select {
	case <-beats:
	default:
		t.Error("notice loop never beat")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestListener_RunCaptureEnds(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{FrameList: []audio.Frame{speech(100*time.Millisecond, 0)}}
	l, _ := newTestListener(t, busmock.New(), &sttmock.Provider{}, testCapture(src))

	err := l.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "capture stream ended") {
		t.Fatalf("Run = %v, want capture stream ended", err)
	}
}

func TestListener_RunCaptureErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		capture Capture
		want    string
	}{
		{name: "no source", capture: Capture{VAD: &vadmock.Engine{}}, want: "capture source and vad engine are required"},
		{name: "vad failure", capture: Capture{Source: &audiomock.Source{}, VAD: &vadmock.Engine{NewSessionErr: errors.New("bad frame size")}}, want: "vad session"},
		{name: "open failure", capture: Capture{
			Source:  &audiomock.Source{FramesErr: errors.New("no device")},
			VAD:     &vadmock.Engine{},
			Segment: segment.DefaultConfig(),
		}, want: "open capture"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			l, _ := newTestListener(t, busmock.New(), &sttmock.Provider{}, tc.capture)
			err := l.Run(context.Background())
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Run = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestListener_RunPassesVADConfig(t *testing.T) {
	t.Parallel()

	eng := &vadmock.Engine{}
	capture := Capture{
		Source:    &audiomock.Source{FramesErr: errors.New("no device")},
		VAD:       eng,
		VADConfig: vad.Config{SampleRate: 16000, FrameSizeMs: 30, EnergyThreshold: 450},
		Segment:   segment.DefaultConfig(),
	}
	l, _ := newTestListener(t, busmock.New(), &sttmock.Provider{}, capture)
	_ = l.Run(context.Background())

	cfgs := eng.Configs()
	if len(cfgs) != 1 || cfgs[0] != capture.VADConfig {
		t.Errorf("vad configs = %+v, want [%+v]", cfgs, capture.VADConfig)
	}
}
