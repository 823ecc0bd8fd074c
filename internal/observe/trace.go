package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/katia"

// Tracer returns the package-level [trace.Tracer] backed by the globally
// registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID extracts the trace ID from the span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type workerKey struct{}

type workerInfo struct {
	worker  string
	session string
}

// WithWorker tags ctx with the worker name and session id. [Logger] adds
// both to every record logged under the returned context.
func WithWorker(ctx context.Context, worker, session string) context.Context {
	return context.WithValue(ctx, workerKey{}, workerInfo{worker: worker, session: session})
}

// Logger returns the default [slog.Logger] enriched with the worker tags set
// by [WithWorker] and the trace_id/span_id of the active span in ctx.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if w, ok := ctx.Value(workerKey{}).(workerInfo); ok {
		l = l.With(slog.String("worker", w.worker), slog.String("session", w.session))
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
