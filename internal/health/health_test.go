package health

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"net/http/httptest"
	"testing"
)

func pass(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

// get serves path through a mux with h registered and decodes the body.
func get(t *testing.T, h *Handler, ctx context.Context, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequestWithContext(ctx, http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("%s Content-Type = %q", path, ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("%s: decode body: %v", path, err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	// Liveness ignores failing readiness checks.
	h := New(Checker{Name: "bus", Check: failWith("connection refused")})
	code, body := get(t, h, context.Background(), "/healthz")
	if code != http.StatusOK || body.Status != "ok" || body.Checks != nil {
		t.Errorf("healthz = %d %+v, want 200 ok without checks", code, body)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "bus", Check: pass}, {Name: "workers", Check: pass}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"bus": "ok", "workers": "ok"},
		},
		{
			name:       "stale worker",
			checkers:   []Checker{{Name: "bus", Check: pass}, {Name: "workers", Check: failWith("stale: voice")}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"bus": "ok", "workers": "fail: stale: voice"},
		},
		{
			name:       "all fail",
			checkers:   []Checker{{Name: "bus", Check: failWith("closed")}, {Name: "workers", Check: failWith("stale: brain")}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"bus": "fail: closed", "workers": "fail: stale: brain"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, body := get(t, New(tc.checkers...), context.Background(), "/readyz")
			if code != tc.wantCode || body.Status != tc.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", code, body.Status, tc.wantCode, tc.wantStatus)
			}
			if len(tc.wantChecks) > 0 && !maps.Equal(body.Checks, tc.wantChecks) {
				t.Errorf("checks = %v, want %v", body.Checks, tc.wantChecks)
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	// Each check waits for the other to start, so running them one after
	// the other would block until the check deadline.
	started := make(chan struct{}, 2)
	rendezvous := func(ctx context.Context) error {
		started <- struct{}{}
		for len(started) < 2 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		return nil
	}
	h := New(Checker{Name: "bus", Check: rendezvous}, Checker{Name: "workers", Check: rendezvous})

	if code, body := get(t, h, context.Background(), "/readyz"); code != http.StatusOK {
		t.Errorf("readyz = %d %+v, want 200", code, body)
	}
}

func TestReadyz_CanceledRequest(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := New(Checker{Name: "bus", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	code, body := get(t, h, ctx, "/readyz")
	if code != http.StatusServiceUnavailable || body.Checks["bus"] != "fail: context canceled" {
		t.Errorf("readyz = %d %+v, want 503 with canceled bus check", code, body)
	}
}
