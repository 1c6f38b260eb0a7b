// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing and health checks for boringtable services.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("table", "orders").Info("table mounted")
//
// Request handlers read the request-scoped logger back from the context:
//
//	observability.FromContext(r.Context()).WithError(err).Error("action failed")
//
// # Prometheus Metrics
//
// Metrics implements the table and fetch recorder interfaces, so one value
// instruments the engine, every fetch plugin and the HTTP adapter:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	tbl, err := table.New(ctx, rows, columns, chain, table.WithRecorder(metrics))
//
// OTelMetrics records the same events as OpenTelemetry instruments.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddProbe("table", func(ctx context.Context) error { ... })
//
// A failing probe or database makes /readyz unhealthy. A failing Redis only
// degrades it, since Redis backs the fetch cache.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "boringtable",
//		Insecure:    true,
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httpview: Request logging and metrics middleware
package observability
