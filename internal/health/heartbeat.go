package health

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Heartbeats records when each worker loop last completed an iteration.
type Heartbeats struct {
	mu    sync.Mutex
	now   func() time.Time
	beats map[string]time.Time
}

// NewHeartbeats returns a registry expecting the named workers. A worker that
// has never beaten counts as stale.
func NewHeartbeats(workers ...string) *Heartbeats {
	h := &Heartbeats{now: time.Now, beats: make(map[string]time.Time, len(workers))}
	for _, w := range workers {
		h.beats[w] = time.Time{}
	}
	return h
}

// Beat marks worker as alive now.
func (h *Heartbeats) Beat(worker string) {
	h.mu.Lock()
	h.beats[worker] = h.now()
	h.mu.Unlock()
}

// Stale returns the sorted names of workers whose last beat is older than
// window.
func (h *Heartbeats) Stale(window time.Duration) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	var stale []string
	for w, at := range h.beats {
		if at.IsZero() || now.Sub(at) > window {
			stale = append(stale, w)
		}
	}
	slices.Sort(stale)
	return stale
}

// Checker reports a failure while any worker is stale.
func (h *Heartbeats) Checker(window time.Duration) Checker {
	return Checker{
		Name: "workers",
		Check: func(context.Context) error {
			if stale := h.Stale(window); len(stale) > 0 {
				return fmt.Errorf("stale workers: %s", strings.Join(stale, ", "))
			}
			return nil
		},
	}
}

// Pinger is implemented by dependencies that can be probed, such as the bus.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker wraps p as a readiness check called name.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}
