package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	m, reader := newTestMetrics(t)
	return m, reader, useTestTracer(t)
}

// testMux mimics the application's probe server.
func testMux(ready *bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !*ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /workers/{name}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func serve(h http.Handler, path, traceparent string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if traceparent != "" {
		req.Header.Set("traceparent", traceparent)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_CorrelationID(t *testing.T) {
	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{name: "new trace"},
		{
			name:        "continued trace",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			want:        "4bf92f3577b34da6a3ce929d0e0e4736",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, _, _ := testSetup(t)

			var seen string
			h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = CorrelationID(r.Context())
			}))
			rec := serve(h, "/healthz", tc.traceparent)

			if len(seen) != 32 {
				t.Fatalf("handler correlation ID = %q, want 32 hex chars", seen)
			}
			if tc.want != "" && seen != tc.want {
				t.Errorf("correlation ID = %q, want %q", seen, tc.want)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != seen {
				t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
			}
		})
	}
}

func TestMiddleware_LabelsByRoute(t *testing.T) {
	m, reader, _ := testSetup(t)
	h := Middleware(m)(testMux(nil))

	serve(h, "/workers/brain", "")
	serve(h, "/workers/voice", "")
	if rec := serve(h, "/does/not/exist", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path status = %d, want 404", rec.Code)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "katia.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		counts[route.AsString()] += dp.Count
		if _, ok := dp.Attributes.Value("path"); ok {
			t.Error("raw path must not be a metric label")
		}
	}
	if counts["/workers/{name}"] != 2 {
		t.Errorf("pattern route count = %d, want 2 (counts %v)", counts["/workers/{name}"], counts)
	}
	if counts[unmatchedRoute] != 1 {
		t.Errorf("unmatched count = %d, want 1 (counts %v)", counts[unmatchedRoute], counts)
	}
}

func TestMiddleware_Span(t *testing.T) {
	m, _, exp := testSetup(t)
	ready := false
	h := Middleware(m)(testMux(&ready))

	serve(h, "/readyz", "")

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "http GET /readyz" {
		t.Errorf("span name = %q", s.Name)
	}
	if s.Status.Code != codes.Error {
		t.Errorf("span status = %v, want error for 503", s.Status.Code)
	}
	var status int64
	for _, a := range s.Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusServiceUnavailable {
		t.Errorf("status attribute = %d, want 503", status)
	}
}

func TestMiddleware_LogLevels(t *testing.T) {
	m, _, _ := testSetup(t)
	ready := true
	h := Middleware(m)(testMux(&ready))

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	serve(h, "/healthz", "")
	serve(h, "/readyz", "")
	if buf.Len() != 0 {
		t.Errorf("healthy probes logged at info: %s", buf.String())
	}

	ready = false
	serve(h, "/readyz", "")
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "status=503") {
		t.Errorf("failing probe not logged at warn: %s", buf.String())
	}

	buf.Reset()
	serve(h, "/workers/brain", "")
	if !strings.Contains(buf.String(), "level=INFO") || !strings.Contains(buf.String(), "route=/workers/{name}") {
		t.Errorf("expected info log with route, got: %s", buf.String())
	}
}
