package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/vango-use/pkg/storage"
)

// Default tracer name for storage spans.
const defaultTracerName = "github.com/vango-dev/vango-use/pkg/storage"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer.
	TracerName string

	// TracerProvider supplies the tracer. Default: the global provider.
	TracerProvider trace.TracerProvider

	// IncludeKey records the key as a span attribute. Keys may carry user
	// identifiers; enabled by default.
	IncludeKey bool

	// Filter determines which operations to trace.
	// Return true to trace, false to skip. If nil, all operations are traced.
	Filter func(op, key string) bool

	// AttributeExtractor adds custom attributes to each span.
	AttributeExtractor func(ctx context.Context, op, key string) []attribute.KeyValue
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithIncludeKey enables/disables recording keys on spans.
func WithIncludeKey(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeKey = include
	}
}

// WithOperationFilter sets a filter function for operations.
func WithOperationFilter(filter func(op, key string) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(ctx context.Context, op, key string) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName: defaultTracerName,
		IncludeKey: true,
	}
}

// OpenTelemetry creates middleware that traces every store operation.
//
// Spans are named "storage.get", "storage.set" and so on, carry
// storage.kind, storage.area and storage.key, and record quota and
// availability failures as errors. Get spans record storage.hit.
//
// Example:
//
//	store = middleware.OpenTelemetry(middleware.WithTracerName("prefs"))(store)
//
// Configure the global provider in main() before wrapping stores:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) Middleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}

	provider := config.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	tracer := provider.Tracer(config.TracerName)

	return func(next storage.Store) storage.Store {
		base := []attribute.KeyValue{
			attribute.String("storage.kind", next.Kind().String()),
			attribute.String("storage.area", next.Area()),
		}

		return wrap(next, hooks{
			before: func(ctx context.Context, op, key string) (context.Context, func(error, int)) {
				if config.Filter != nil && !config.Filter(op, key) {
					return ctx, func(error, int) {}
				}

				attrs := append([]attribute.KeyValue{attribute.String("storage.op", op)}, base...)
				if config.IncludeKey && key != "" {
					attrs = append(attrs, attribute.String("storage.key", key))
				}
				if config.AttributeExtractor != nil {
					attrs = append(attrs, config.AttributeExtractor(ctx, op, key)...)
				}

				spanCtx, span := tracer.Start(ctx, "storage."+op,
					trace.WithSpanKind(trace.SpanKindClient),
					trace.WithAttributes(attrs...),
				)
				return spanCtx, func(err error, extra int) {
					defer span.End()

					switch op {
					case "get":
						span.SetAttributes(attribute.Bool("storage.hit", extra >= 0))
						if extra >= 0 {
							span.SetAttributes(attribute.Int("storage.value_bytes", extra))
						}
					case "set":
						span.SetAttributes(attribute.Int("storage.value_bytes", extra))
					case "keys":
						span.SetAttributes(attribute.Int("storage.key_count", extra))
					}

					if err != nil {
						span.RecordError(err)
						span.SetAttributes(attribute.String("storage.result", result(err)))
						span.SetStatus(codes.Error, err.Error())
						return
					}
					span.SetStatus(codes.Ok, "")
				}
			},
		})
	}
}
