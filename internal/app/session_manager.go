package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/katia/internal/observe"
	"github.com/MrWong99/katia/internal/session"
)

// Worker is one long-running loop of a session. Run must return when ctx is
// cancelled; a non-nil error ends the whole session.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// SessionInfo holds metadata about the running session.
type SessionInfo struct {
	// SessionID is the identifier the bus topics are derived from.
	SessionID string

	// Owner is the human-readable owner name.
	Owner string

	// StartedAt is when the workers were launched.
	StartedAt time.Time

	// Workers lists the worker names in launch order.
	Workers []string
}

// SessionManager runs the workers of one session. Only one run can be active
// at a time. All exported methods are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	active bool
	info   SessionInfo
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	session session.Session
	workers []Worker
	metrics *observe.Metrics
}

// NewSessionManager creates a manager for the given workers. A nil metrics
// uses [observe.DefaultMetrics].
func NewSessionManager(sess session.Session, metrics *observe.Metrics, workers ...Worker) *SessionManager {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &SessionManager{
		session: sess,
		workers: workers,
		metrics: metrics,
	}
}

// Start launches every worker in its own goroutine and returns immediately.
// The workers stop when ctx is cancelled, when [SessionManager.Stop] is
// called, or when any of them fails.
func (sm *SessionManager) Start(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		return fmt.Errorf("session: a session is already active (id=%s)", sm.info.SessionID)
	}
	if len(sm.workers) == 0 {
		return errors.New("session: no workers configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	names := make([]string, 0, len(sm.workers))
	for _, w := range sm.workers {
		names = append(names, w.Name)
		g.Go(func() error { return sm.runWorker(gctx, w) })
	}

	done := make(chan struct{})
	sm.active = true
	sm.cancel = cancel
	sm.done = done
	sm.err = nil
	sm.info = SessionInfo{
		SessionID: sm.session.ID,
		Owner:     sm.session.Owner,
		StartedAt: time.Now().UTC(),
		Workers:   names,
	}

	go func() {
		err := g.Wait()
		cancel()
		sm.mu.Lock()
		sm.err = err
		sm.active = false
		sm.mu.Unlock()
		close(done)
	}()

	slog.Info("session started",
		"session_id", sm.session.ID,
		"owner", sm.session.Owner,
		"workers", names,
	)
	return nil
}

func (sm *SessionManager) runWorker(ctx context.Context, w Worker) error {
	sm.metrics.RecordWorkerStart(ctx, w.Name)
	defer sm.metrics.RecordWorkerStop(context.WithoutCancel(ctx), w.Name)

	err := w.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker failed", "worker", w.Name, "session_id", sm.session.ID, "err", err)
		return fmt.Errorf("session: worker %s: %w", w.Name, err)
	}
	slog.Debug("worker stopped", "worker", w.Name, "session_id", sm.session.ID)
	return nil
}

// Wait blocks until every worker has returned and reports the first worker
// error. It returns nil immediately when nothing was started.
func (sm *SessionManager) Wait() error {
	sm.mu.Lock()
	done := sm.done
	sm.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done

	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.err
}

// Stop cancels the workers and waits for them within ctx's deadline.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	if !sm.active {
		sm.mu.Unlock()
		return errors.New("session: no active session to stop")
	}
	cancel, done, id := sm.cancel, sm.done, sm.info.SessionID
	sm.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("session: stop %s: %w", id, ctx.Err())
	}
	slog.Info("session stopped", "session_id", id)
	return nil
}

// IsActive reports whether workers are running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the current or last run.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}
