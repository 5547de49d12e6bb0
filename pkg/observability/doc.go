// Package observability provides structured logging, Prometheus metrics, OpenTelemetry
// setup, health checks and graceful shutdown for the billing portal service.
//
// # Structured Logging
//
// Loggers wrap logrus and emit JSON by default:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("stage", "resolving").Warn("customer lookup failed")
//
// Request-scoped loggers carry the request ID and user ID from the context:
//
//	observability.FromContext(ctx).Info("portal session issued")
//
// # Metrics
//
// Metrics implements portal.Recorder, so the portal service reports stage
// durations and outcomes directly:
//
//	metrics := observability.NewMetrics(registry)
//	svc := portal.NewService(portal.Options{Recorder: metrics, ...})
//
// OTelMetrics records the same events through the global meter provider. Use
// Recorders to feed both.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(redisClient, version)
//	checker.AddCheck("configuration", true, func(ctx context.Context) error {
//		return svc.ConfigError()
//	})
//	observability.RegisterHealthRoutes(mux, checker)
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second)
//	sm.AddServer(apiServer)
//	sm.RegisterShutdownFunc(func(ctx context.Context) error { return redisClient.Close() })
//	sm.WaitForShutdown(ctx)
package observability
