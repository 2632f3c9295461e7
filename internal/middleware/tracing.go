package middleware

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/thiran-symposium/gateway-api/internal/config"
	"github.com/thiran-symposium/gateway-api/internal/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "gateway-api"

var tracer trace.Tracer

// InitTracing initializes OpenTelemetry tracing with an OTLP/HTTP or stdout exporter
func InitTracing(cfg *config.Config, logger *logrus.Logger) (func(context.Context) error, error) {
	obs := cfg.Observability
	if !obs.TracingEnabled {
		logger.Info("Tracing is disabled")
		return func(context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	exporter, err := newExporter(ctx, obs)
	if err != nil {
		return nil, err
	}

	// Create resource with service information
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", tracerName),
			attribute.String("service.version", logging.Version()),
			attribute.String("environment", cfg.Server.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	// Create tracer provider with batch span processor
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(obs.SampleRate))),
	)

	// Set global tracer provider
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer = tp.Tracer(tracerName)

	logger.WithFields(logrus.Fields{
		"exporter":      obs.TraceExporter,
		"otlp_endpoint": obs.OTLPEndpoint,
		"sample_rate":   obs.SampleRate,
	}).Info("OpenTelemetry tracing initialized")

	// Return shutdown function
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, obs config.ObservabilityConfig) (sdktrace.SpanExporter, error) {
	if obs.TraceExporter == "stdout" {
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	}

	// Clean endpoint (remove http:// or https:// prefix)
	endpoint := strings.TrimPrefix(obs.OTLPEndpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	return otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
}

// GetTracer returns the global tracer
func GetTracer() trace.Tracer {
	if tracer == nil {
		return otel.Tracer(tracerName)
	}
	return tracer
}

// StartSpan starts a new span with the given name
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, name, opts...)
}

// InjectHeaders writes the trace context of ctx into outgoing request headers
func InjectHeaders(ctx context.Context, header http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
}

// AddSpanAttributes adds attributes to the span
func AddSpanAttributes(span trace.Span, attrs map[string]interface{}) {
	if span == nil {
		return
	}

	attributes := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			attributes = append(attributes, attribute.String(k, val))
		case int:
			attributes = append(attributes, attribute.Int(k, val))
		case int64:
			attributes = append(attributes, attribute.Int64(k, val))
		case float64:
			attributes = append(attributes, attribute.Float64(k, val))
		case bool:
			attributes = append(attributes, attribute.Bool(k, val))
		}
	}
	span.SetAttributes(attributes...)
}

// RecordError records an error in the span
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
	}
}
