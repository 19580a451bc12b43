// Package telemetry defines the tracing and metrics seam used across the
// executor and scheduler so tests never require a live OpenTelemetry
// collector. The orchestrator's decision loop runs as plain in-process
// method dispatch inside whatever span its caller already started, so it
// has no Tracer field of its own.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts spans for a named operation. Implementations wrap an
// OpenTelemetry tracer or a no-op for tests.
type Tracer interface {
	Start(ctx context.Context, spanName string) (context.Context, trace.Span)
}

// otelTracer adapts an OpenTelemetry trace.Tracer to the Tracer interface.
type otelTracer struct {
	tracer trace.Tracer
}

// NewOtelTracer returns a Tracer backed by the global OpenTelemetry tracer
// provider under the given instrumentation name.
func NewOtelTracer(name string) Tracer {
	return &otelTracer{tracer: otel.Tracer(name)}
}

func (t *otelTracer) Start(ctx context.Context, spanName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName)
}

// NoopTracer discards all spans. It is the default for unit tests and any
// deployment that has not configured an OpenTelemetry exporter.
type NoopTracer struct{}

func (NoopTracer) Start(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

// Metrics records counters for the scheduler's per-patient fanout (spec §4.6
// progress tracking): processed/failed counts per experiment, observable
// without a live collector via NoopMetrics.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
}

// otelMetrics adapts an OpenTelemetry meter to the Metrics interface.
type otelMetrics struct {
	meter metric.Meter
}

// NewOtelMetrics returns a Metrics backed by the global OpenTelemetry meter
// provider under the given instrumentation name.
func NewOtelMetrics(name string) Metrics {
	return &otelMetrics{meter: otel.Meter(name)}
}

func (m *otelMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		attrs = append(attrs, attribute.String(tags[i], tags[i+1]))
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

// NoopMetrics discards all counter increments.
type NoopMetrics struct{}

func (NoopMetrics) IncCounter(name string, value float64, tags ...string) {}
