package observe

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for control-path spans.
const tracerName = "github.com/nullwave/nullwave"

// StartSpan begins a span for a control-path operation (open, reconfigure,
// close). The hot loop is never traced — spans would dominate per-block
// cost. End the returned span in a defer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}
