// Package observe provides application-wide observability primitives for
// katia: OpenTelemetry metrics, distributed tracing, structured logging and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all katia metrics.
const meterName = "github.com/MrWong99/katia"

// Utterance decisions recorded by [Metrics.RecordUtterance].
const (
	DecisionForward = "forward"
	DecisionStop    = "stop"
	DecisionIgnore  = "ignore"
)

// Status values for completion and synthesis counters.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// RecognitionDuration tracks speech-to-text latency.
	RecognitionDuration metric.Float64Histogram

	// CompletionDuration tracks LLM completion latency.
	CompletionDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech latency.
	SynthesisDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts recognised utterances by gate decision. Use with
	// attribute.String("decision", ...).
	Utterances metric.Int64Counter

	// Completions counts Brain completions by status.
	Completions metric.Int64Counter

	// Syntheses counts Voice synthesis attempts by status.
	Syntheses metric.Int64Counter

	// Interruptions counts playbacks cut short by a stop signal.
	Interruptions metric.Int64Counter

	// Apologies counts apology replies sent after a failed completion.
	Apologies metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// BusErrors counts bus failures other than empty polls. Use with
	// attributes attribute.String("op", ...), attribute.String("topic", ...).
	BusErrors metric.Int64Counter

	// ProviderErrors counts provider errors by provider and kind.
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveWorkers tracks the number of running worker loops.
	ActiveWorkers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled with
	// method, route and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RecognitionDuration, err = m.Float64Histogram("katia.recognition.duration",
		metric.WithDescription("Latency of speech-to-text recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CompletionDuration, err = m.Float64Histogram("katia.completion.duration",
		metric.WithDescription("Latency of LLM completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("katia.synthesis.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("katia.utterances",
		metric.WithDescription("Recognised utterances by gate decision."),
	); err != nil {
		return nil, err
	}
	if met.Completions, err = m.Int64Counter("katia.completions",
		metric.WithDescription("Brain completions by status."),
	); err != nil {
		return nil, err
	}
	if met.Syntheses, err = m.Int64Counter("katia.syntheses",
		metric.WithDescription("Voice synthesis attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("katia.interruptions",
		metric.WithDescription("Playbacks stopped by the listener."),
	); err != nil {
		return nil, err
	}
	if met.Apologies, err = m.Int64Counter("katia.apologies",
		metric.WithDescription("Apologies sent after failed completions."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("katia.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.BusErrors, err = m.Int64Counter("katia.bus.errors",
		metric.WithDescription("Bus publish and poll failures by operation and topic."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("katia.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveWorkers, err = m.Int64UpDownCounter("katia.active_workers",
		metric.WithDescription("Number of running worker loops."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("katia.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordUtterance counts one gate decision of the listener.
func (m *Metrics) RecordUtterance(ctx context.Context, decision string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

// RecordCompletion counts one completion and records its latency in seconds.
func (m *Metrics) RecordCompletion(ctx context.Context, status string, seconds float64) {
	m.Completions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.CompletionDuration.Record(ctx, seconds)
}

// RecordSynthesis counts one synthesis attempt and records its latency in
// seconds.
func (m *Metrics) RecordSynthesis(ctx context.Context, status string, seconds float64) {
	m.Syntheses.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.SynthesisDuration.Record(ctx, seconds)
}

// RecordInterruption counts one playback stopped by the listener.
func (m *Metrics) RecordInterruption(ctx context.Context) {
	m.Interruptions.Add(ctx, 1)
}

// RecordApology counts one apology reply.
func (m *Metrics) RecordApology(ctx context.Context) {
	m.Apologies.Add(ctx, 1)
}

// RecordBusError counts a bus failure. op is "publish" or "poll".
func (m *Metrics) RecordBusError(ctx context.Context, op, topic string) {
	m.BusErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("topic", topic),
		),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordWorkerStart increments the running worker gauge for worker.
func (m *Metrics) RecordWorkerStart(ctx context.Context, worker string) {
	m.ActiveWorkers.Add(ctx, 1, metric.WithAttributes(attribute.String("worker", worker)))
}

// RecordWorkerStop decrements the running worker gauge for worker.
func (m *Metrics) RecordWorkerStop(ctx context.Context, worker string) {
	m.ActiveWorkers.Add(ctx, -1, metric.WithAttributes(attribute.String("worker", worker)))
}
