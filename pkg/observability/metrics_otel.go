package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the OpenTelemetry instrumentation scope used by the
// engine, plugins and HTTP adapter.
const InstrumentationName = "github.com/platinummonkey/boringtable"

// OTelMetrics records dispatch and fetch activity as OpenTelemetry
// instruments. It satisfies the same recorder interfaces as Metrics.
type OTelMetrics struct {
	dispatchTotal    metric.Int64Counter
	dispatchErrors   metric.Int64Counter
	dispatchDuration metric.Float64Histogram
	hookDuration     metric.Float64Histogram
	fetchTotal       metric.Int64Counter
	fetchDuration    metric.Float64Histogram
	cacheLookups     metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider.
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter(InstrumentationName))
}

// NewOTelMetricsWithMeter creates instruments on meter.
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.dispatchTotal, err = meter.Int64Counter(
		"boringtable.dispatch.total",
		metric.WithDescription("Total number of dispatch cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch counter: %w", err)
	}

	m.dispatchErrors, err = meter.Int64Counter(
		"boringtable.dispatch.errors",
		metric.WithDescription("Dispatch cycles aborted by a hook error"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch error counter: %w", err)
	}

	m.dispatchDuration, err = meter.Float64Histogram(
		"boringtable.dispatch.duration",
		metric.WithDescription("Dispatch cycle duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch histogram: %w", err)
	}

	m.hookDuration, err = meter.Float64Histogram(
		"boringtable.hook.duration",
		metric.WithDescription("Plugin hook duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create hook histogram: %w", err)
	}

	m.fetchTotal, err = meter.Int64Counter(
		"boringtable.fetch.total",
		metric.WithDescription("Total number of remote fetches"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch counter: %w", err)
	}

	m.fetchDuration, err = meter.Float64Histogram(
		"boringtable.fetch.duration",
		metric.WithDescription("Remote fetch duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch histogram: %w", err)
	}

	m.cacheLookups, err = meter.Int64Counter(
		"boringtable.cache.lookups",
		metric.WithDescription("Fetch cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache counter: %w", err)
	}

	return m, nil
}

// RecordDispatch records one completed or aborted dispatch cycle.
func (m *OTelMetrics) RecordDispatch(ctx context.Context, event string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("event", event))
	m.dispatchTotal.Add(ctx, 1, attrs)
	m.dispatchDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.dispatchErrors.Add(ctx, 1, attrs)
	}
}

// RecordHook records the duration of a single plugin hook call.
func (m *OTelMetrics) RecordHook(ctx context.Context, hook, plugin string, duration time.Duration) {
	m.hookDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("hook", hook),
		attribute.String("plugin", plugin),
	))
}

// RecordRows is a no-op; row gauges are only exported through Prometheus.
func (m *OTelMetrics) RecordRows(context.Context, string, int, int) {}

// RecordFetch records a remote fetch.
func (m *OTelMetrics) RecordFetch(ctx context.Context, source string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.fetchTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("status", status),
	))
	m.fetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("source", source)))
}

// RecordCache records a fetch cache lookup.
func (m *OTelMetrics) RecordCache(ctx context.Context, cache string, hit bool) {
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", cache),
		attribute.Bool("hit", hit),
	))
}
