package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumByAttr returns the value of the data point of counter name carrying
// key=value. An empty key sums every data point.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not recorded", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want a sum", name, met.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if key == "" {
			total += dp.Value
			continue
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	if key != "" {
		t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	}
	return total
}

// histogramCount returns the number of samples in histogram name.
func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not recorded", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is %T, want a histogram", name, met.Data)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestRecordHelpers(t *testing.T) {
	t.Parallel()

	type want struct {
		metric, key, value string
		n                  int64
	}
	tests := []struct {
		name   string
		record func(context.Context, *Metrics)
		want   []want
	}{
		{
			name: "listener decisions",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordUtterance(ctx, DecisionForward)
				m.RecordUtterance(ctx, DecisionForward)
				m.RecordUtterance(ctx, DecisionStop)
				m.RecordUtterance(ctx, DecisionIgnore)
				m.RecordInterruption(ctx)
			},
			want: []want{
				{"katia.utterances", "decision", DecisionForward, 2},
				{"katia.utterances", "decision", DecisionStop, 1},
				{"katia.utterances", "decision", DecisionIgnore, 1},
				{"katia.interruptions", "", "", 1},
			},
		},
		{
			name: "brain turn",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordCompletion(ctx, StatusOK, 0.4)
				m.RecordCompletion(ctx, StatusFailed, 1.2)
				m.RecordApology(ctx)
			},
			want: []want{
				{"katia.completions", "status", StatusOK, 1},
				{"katia.completions", "status", StatusFailed, 1},
				{"katia.apologies", "", "", 1},
			},
		},
		{
			name: "voice synthesis",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordSynthesis(ctx, StatusOK, 0.2)
				m.RecordSynthesis(ctx, StatusOK, 0.3)
			},
			want: []want{{"katia.syntheses", "status", StatusOK, 2}},
		},
		{
			name: "providers",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordProviderRequest(ctx, "llm", "complete", StatusOK)
				m.RecordProviderRequest(ctx, "tts", "synthesize", StatusFailed)
				m.RecordProviderError(ctx, "polly", "tts")
			},
			want: []want{
				{"katia.provider.requests", "provider", "llm", 1},
				{"katia.provider.requests", "status", StatusFailed, 1},
				{"katia.provider.errors", "provider", "polly", 1},
			},
		},
		{
			name: "bus and workers",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordBusError(ctx, "poll", "0f8c-speaker")
				m.RecordWorkerStart(ctx, "brain")
				m.RecordWorkerStart(ctx, "voice")
				m.RecordWorkerStop(ctx, "voice")
			},
			want: []want{
				{"katia.bus.errors", "topic", "0f8c-speaker", 1},
				{"katia.active_workers", "worker", "brain", 1},
				{"katia.active_workers", "worker", "voice", 0},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m, reader := newTestMetrics(t)
			tc.record(context.Background(), m)

			rm := collect(t, reader)
			for _, w := range tc.want {
				if got := sumByAttr(t, rm, w.metric, w.key, w.value); got != w.n {
					t.Errorf("%s{%s=%q} = %d, want %d", w.metric, w.key, w.value, got, w.n)
				}
			}
		})
	}
}

func TestRecordDurations(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecognitionDuration.Record(ctx, 0.8)
	m.RecordCompletion(ctx, StatusOK, 0.4)
	m.RecordCompletion(ctx, StatusFailed, 30)
	m.RecordSynthesis(ctx, StatusOK, 0.2)

	rm := collect(t, reader)
	for name, want := range map[string]uint64{
		"katia.recognition.duration": 1,
		"katia.completion.duration":  2,
		"katia.synthesis.duration":   1,
	} {
		if got := histogramCount(t, rm, name); got != want {
			t.Errorf("%s samples = %d, want %d", name, got, want)
		}
	}
}

func TestDefaultMetrics_Shared(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
