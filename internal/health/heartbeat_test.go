package health

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHeartbeats_Stale(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := NewHeartbeats("listener", "brain", "voice")
	h.now = func() time.Time { return now }

	if got := h.Stale(time.Second); !slices.Equal(got, []string{"brain", "listener", "voice"}) {
		t.Errorf("Stale before beats = %v", got)
	}

	h.Beat("listener")
	h.Beat("brain")
	now = now.Add(2 * time.Second)
	h.Beat("voice")

	if got := h.Stale(time.Second); !slices.Equal(got, []string{"brain", "listener"}) {
		t.Errorf("Stale = %v, want [brain listener]", got)
	}
	if got := h.Stale(5 * time.Second); len(got) != 0 {
		t.Errorf("Stale(5s) = %v, want none", got)
	}
}

func TestHeartbeats_Checker(t *testing.T) {
	t.Parallel()

	h := NewHeartbeats("voice")
	c := h.Checker(time.Minute)
	if c.Name != "workers" {
		t.Errorf("Name = %q, want workers", c.Name)
	}
	if err := c.Check(context.Background()); err == nil {
		t.Fatal("expected error for a worker that never beat")
	}
	h.Beat("voice")
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check after beat: %v", err)
	}
}

func TestPingChecker(t *testing.T) {
	t.Parallel()

	ok := PingChecker("bus", fakePinger{})
	if err := ok.Check(context.Background()); err != nil {
		t.Errorf("healthy ping: %v", err)
	}
	down := PingChecker("bus", fakePinger{err: errors.New("dial tcp: refused")})
	if err := down.Check(context.Background()); err == nil {
		t.Error("expected ping error")
	}
}
