package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Dispatch cycle metrics
	DispatchTotal       *prometheus.CounterVec
	DispatchErrorsTotal *prometheus.CounterVec
	DispatchDuration    *prometheus.HistogramVec
	HookDuration        *prometheus.HistogramVec

	// Fetch metrics
	FetchTotal       *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Table shape
	BodyRows       *prometheus.GaugeVec
	CustomBodyRows *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boringtable_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "boringtable_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boringtable_dispatch_total",
				Help: "Total number of dispatch cycles",
			},
			[]string{"event"},
		),
		DispatchErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boringtable_dispatch_errors_total",
				Help: "Total number of dispatch cycles aborted by a hook error",
			},
			[]string{"event"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "boringtable_dispatch_duration_seconds",
				Help:    "Dispatch cycle duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"event"},
		),
		HookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "boringtable_hook_duration_seconds",
				Help:    "Plugin hook duration in seconds",
				Buckets: []float64{.00001, .0001, .001, .01, .1, 1},
			},
			[]string{"hook", "plugin"},
		),

		FetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boringtable_fetch_total",
				Help: "Total number of remote fetches",
			},
			[]string{"source", "status"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "boringtable_fetch_duration_seconds",
				Help:    "Remote fetch duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boringtable_cache_hits_total",
				Help: "Total number of fetch cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boringtable_cache_misses_total",
				Help: "Total number of fetch cache misses",
			},
			[]string{"cache"},
		),

		BodyRows: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "boringtable_body_rows",
				Help: "Number of derived body rows",
			},
			[]string{"table"},
		),
		CustomBodyRows: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "boringtable_custom_body_rows",
				Help: "Number of rows after plugin transformation",
			},
			[]string{"table"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DispatchTotal,
		m.DispatchErrorsTotal,
		m.DispatchDuration,
		m.HookDuration,
		m.FetchTotal,
		m.FetchDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.BodyRows,
		m.CustomBodyRows,
	)

	return m
}

// RecordDispatch records one completed or aborted dispatch cycle.
func (m *Metrics) RecordDispatch(_ context.Context, event string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(event).Inc()
	m.DispatchDuration.WithLabelValues(event).Observe(duration.Seconds())
	if err != nil {
		m.DispatchErrorsTotal.WithLabelValues(event).Inc()
	}
}

// RecordHook records the duration of a single plugin hook call.
func (m *Metrics) RecordHook(_ context.Context, hook, plugin string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HookDuration.WithLabelValues(hook, plugin).Observe(duration.Seconds())
}

// RecordRows records the body and custom body sizes of a table.
func (m *Metrics) RecordRows(_ context.Context, table string, body, customBody int) {
	if m == nil {
		return
	}
	m.BodyRows.WithLabelValues(table).Set(float64(body))
	m.CustomBodyRows.WithLabelValues(table).Set(float64(customBody))
}

// RecordFetch records a remote fetch.
func (m *Metrics) RecordFetch(_ context.Context, source string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.FetchTotal.WithLabelValues(source, status).Inc()
	m.FetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordCache records a fetch cache lookup.
func (m *Metrics) RecordCache(_ context.Context, cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush lets long-poll handlers flush through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// pathLabel maps a request to a low-cardinality label; when nil the raw URL
// path is used.
func HTTPMetricsMiddleware(metrics *Metrics, pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if pathLabel != nil {
				path = pathLabel(r)
			}
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler returns the /metrics handler for registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
