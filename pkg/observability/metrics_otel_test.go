package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMeterProvider creates a test meter provider with a manual reader
func setupTestMeterProvider(t *testing.T) (*metric.MeterProvider, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down provider: %v", err)
		}
	})
	return provider, reader
}

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is %T, want Sum[int64]", m.Name, m.Data)
	}
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestOTelMetrics_Dispatch(t *testing.T) {
	provider, reader := setupTestMeterProvider(t)
	m, err := NewOTelMetricsWithMeter(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewOTelMetricsWithMeter() error = %v", err)
	}

	ctx := context.Background()
	m.RecordDispatch(ctx, "update:data", time.Millisecond, nil)
	m.RecordDispatch(ctx, "update:data", time.Millisecond, errors.New("hook failed"))
	m.RecordHook(ctx, "OnMount", "fetch-plugin", time.Microsecond)
	m.RecordRows(ctx, "orders", 1, 1)

	metrics := collect(t, reader)
	event := attribute.String("event", "update:data")
	if got := sumFor(t, metrics["boringtable.dispatch.total"], event); got != 2 {
		t.Errorf("dispatch total = %d, want 2", got)
	}
	if got := sumFor(t, metrics["boringtable.dispatch.errors"], event); got != 1 {
		t.Errorf("dispatch errors = %d, want 1", got)
	}
	if _, ok := metrics["boringtable.dispatch.duration"]; !ok {
		t.Error("dispatch duration histogram missing")
	}
	if _, ok := metrics["boringtable.hook.duration"]; !ok {
		t.Error("hook duration histogram missing")
	}
}

func TestOTelMetrics_FetchAndCache(t *testing.T) {
	provider, reader := setupTestMeterProvider(t)
	m, err := NewOTelMetricsWithMeter(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewOTelMetricsWithMeter() error = %v", err)
	}

	ctx := context.Background()
	m.RecordFetch(ctx, "orders", time.Millisecond, nil)
	m.RecordFetch(ctx, "orders", time.Millisecond, errors.New("timeout"))
	m.RecordCache(ctx, "lru", true)
	m.RecordCache(ctx, "lru", true)
	m.RecordCache(ctx, "lru", false)

	metrics := collect(t, reader)
	source := attribute.String("source", "orders")
	if got := sumFor(t, metrics["boringtable.fetch.total"], source, attribute.String("status", "error")); got != 1 {
		t.Errorf("failed fetches = %d, want 1", got)
	}
	if got := sumFor(t, metrics["boringtable.cache.lookups"], attribute.String("cache", "lru"), attribute.Bool("hit", true)); got != 2 {
		t.Errorf("cache hits = %d, want 2", got)
	}
}

func TestNewOTelMetrics_Global(t *testing.T) {
	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics() error = %v", err)
	}
	// The global no-op provider accepts recordings.
	m.RecordDispatch(context.Background(), "reset", time.Millisecond, nil)
}
