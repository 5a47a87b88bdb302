package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TelemetryConfig describes the engine deployment to the telemetry backend.
// The engine shape (session cap, default block geometry) is stamped onto the
// OTel resource so that fleet dashboards can slice latency and drop rates by
// deployment configuration without a side channel.
type TelemetryConfig struct {
	// ServiceVersion is reported alongside the fixed "nullwave" service name.
	ServiceVersion string

	// MaxSessions, BlockSize, and SampleRate are recorded as resource
	// attributes (nullwave.engine.*). Zero values are omitted.
	MaxSessions int
	BlockSize   int
	SampleRate  int

	// TraceExporter is an optional span exporter for the control-path spans
	// emitted by [StartSpan]. When nil, spans are recorded but not exported.
	TraceExporter sdktrace.SpanExporter
}

// Telemetry owns the process's OTel SDK state: the meter provider feeding
// the Prometheus /metrics bridge, the tracer provider behind [StartSpan],
// and the [Metrics] instrument set the engine records into.
type Telemetry struct {
	// Metrics is the instrument set created against this provider. Hand it
	// to the engine instead of [DefaultMetrics] so tests and multi-engine
	// processes stay isolated.
	Metrics *Metrics

	meters *sdkmetric.MeterProvider
	traces *sdktrace.TracerProvider
}

// Setup initialises the OTel SDK for one engine process and registers the
// resulting providers globally (the tracer global is what [StartSpan] uses).
// Call [Telemetry.Shutdown] during teardown to flush the exporters.
func Setup(ctx context.Context, cfg TelemetryConfig) (*Telemetry, error) {
	res, err := engineResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	exp, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	t := &Telemetry{
		meters: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exp),
		),
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	t.traces = sdktrace.NewTracerProvider(traceOpts...)

	if t.Metrics, err = NewMetrics(t.meters); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}

	otel.SetMeterProvider(t.meters)
	otel.SetTracerProvider(t.traces)
	return t, nil
}

// Shutdown flushes and stops both providers. Safe to call once; bounded by
// ctx.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.meters.Shutdown(ctx),
		t.traces.Shutdown(ctx),
	)
}

// engineResource builds the OTel resource: service identity plus the engine
// deployment shape.
func engineResource(cfg TelemetryConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName("nullwave"),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.MaxSessions > 0 {
		attrs = append(attrs, attribute.Int("nullwave.engine.max_sessions", cfg.MaxSessions))
	}
	if cfg.BlockSize > 0 {
		attrs = append(attrs, attribute.Int("nullwave.engine.block_size", cfg.BlockSize))
	}
	if cfg.SampleRate > 0 {
		attrs = append(attrs, attribute.Int("nullwave.engine.sample_rate", cfg.SampleRate))
	}
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, attrs...),
	)
}
