// Package middleware provides storage.Store decorators for observability.
//
// This package includes:
//   - Prometheus metrics for store operations and change events
//   - OpenTelemetry tracing of store operations
//   - Structured logging of store failures
//
// Decorators compose with Chain; the first one listed is the outermost:
//
//	store := middleware.Chain(base,
//	    middleware.OpenTelemetry(middleware.WithTracerName("prefs")),
//	    middleware.Prometheus(middleware.WithNamespace("myapp")),
//	    middleware.Logging(logger),
//	)
//	theme := storage.UseStorage(store, "theme", storage.StringCodec[string]{}, "light")
//
// # Prometheus Metrics
//
// Metrics are registered once per registry:
//
//	storage_operations_total{op, kind, result}
//	storage_operation_duration_seconds{op, kind}
//	storage_value_bytes{kind}
//	storage_change_events_total{kind, origin}
//
// Expose them with promhttp:
//
//	http.Handle("/metrics", promhttp.Handler())
//
// # OpenTelemetry
//
// Every operation runs in a span named "storage.<op>" carrying the key,
// kind and area. The tracer comes from the global provider unless
// WithTracerProvider is given.
package middleware
