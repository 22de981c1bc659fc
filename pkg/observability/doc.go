// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("entity_id", id).Info("entity moved")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ResolutionsTotal.WithLabelValues("success").Inc()
//	metrics.EntitiesTotal.WithLabelValues("department").Set(float64(count))
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	status := checker.Check(ctx)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		ServiceName: "arbor-api",
//		Endpoint:    "otel-collector:4317",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/middleware: Request logging middleware
package observability
