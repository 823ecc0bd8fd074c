package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/katia/pkg/bus"
)

func TestBus_PublishPoll_FIFO(t *testing.T) {
	t.Parallel()

	b := New()
	ctx := context.Background()
	for _, msg := range []string{"one", "two", "three"} {
		if err := b.Publish(ctx, "t", bus.Envelope{Source: bus.SourceBrain, Message: msg}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	for _, want := range []string{"one", "two", "three"} {
		env, err := b.Poll(ctx, "t", time.Millisecond)
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if env.Message != want {
			t.Errorf("Message = %q, want %q", env.Message, want)
		}
	}
	if n := b.Len("t"); n != 0 {
		t.Errorf("Len = %d, want 0", n)
	}
}

func TestBus_Poll_EmptyAfterTimeout(t *testing.T) {
	t.Parallel()

	b := New()
	start := time.Now()
	_, err := b.Poll(context.Background(), "t", 20*time.Millisecond)
	if !errors.Is(err, bus.ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("Poll returned after %v, expected to wait for the timeout", elapsed)
	}
}

func TestBus_Poll_ZeroTimeoutDoesNotBlock(t *testing.T) {
	t.Parallel()

	b := New()
	_, err := b.Poll(context.Background(), "t", 0)
	if !errors.Is(err, bus.ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
}

func TestBus_Poll_WakesOnPublish(t *testing.T) {
	t.Parallel()

	b := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	var got bus.Envelope
	var pollErr error
	go func() {
		defer wg.Done()
		got, pollErr = b.Poll(ctx, "t", 2*time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	if err := b.Publish(ctx, "t", bus.Envelope{Source: bus.SourceListener, Message: "hey"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	wg.Wait()

	if pollErr != nil {
		t.Fatalf("Poll: %v", pollErr)
	}
	if got.Message != "hey" {
		t.Errorf("Message = %q, want %q", got.Message, "hey")
	}
}

func TestBus_TopicsAreIndependent(t *testing.T) {
	t.Parallel()

	b := New()
	ctx := context.Background()
	_ = b.Publish(ctx, "a", bus.Envelope{Source: bus.SourceBrain, Message: "for a"})

	if _, err := b.Poll(ctx, "b", 0); !errors.Is(err, bus.ErrEmpty) {
		t.Fatalf("Poll(b) err = %v, want ErrEmpty", err)
	}
	env, err := b.Poll(ctx, "a", 0)
	if err != nil || env.Message != "for a" {
		t.Fatalf("Poll(a) = %+v, %v", env, err)
	}
}

func TestBus_ContextCancel(t *testing.T) {
	t.Parallel()

	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Poll(ctx, "t", time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestBus_Close(t *testing.T) {
	t.Parallel()

	b := New()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := b.Poll(ctx, "t", 5*time.Second)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, bus.ErrClosed) {
			t.Errorf("Poll err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Poll did not return after Close")
	}

	if err := b.Publish(ctx, "t", bus.Envelope{Source: bus.SourceBrain}); !errors.Is(err, bus.ErrClosed) {
		t.Errorf("Publish after Close err = %v, want ErrClosed", err)
	}
	if err := b.Ping(ctx); !errors.Is(err, bus.ErrClosed) {
		t.Errorf("Ping after Close err = %v, want ErrClosed", err)
	}
}
