// Package tracing holds the process tracer used for compile spans and the helpers that
// read trace identity back out of a context for logs and events.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ramsey-B/clover/pkg/runcontext"
)

// RunIDAttribute tags every span started inside a run
const RunIDAttribute = attribute.Key("clover.run_id")

var tracer trace.Tracer

// SetTracer installs the tracer used by StartSpan. nil disables tracing.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan starts a span named spanName. Without a tracer the span already in ctx
// is returned unchanged, which is a no-op span unless the caller started one.
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	if runID := runcontext.GetRunID(ctx); runID != "" {
		attrs = append(attrs, RunIDAttribute.String(runID))
	}
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// activeSpan returns the recording span context in ctx, false when tracing is off or
// ctx carries no valid span
func activeSpan(ctx context.Context) (trace.SpanContext, bool) {
	if tracer == nil || ctx == nil {
		return trace.SpanContext{}, false
	}
	sc := trace.SpanContextFromContext(ctx)
	return sc, sc.IsValid()
}

// GetTraceParent returns the W3C traceparent value for the active span
func GetTraceParent(ctx context.Context) string {
	return injected(ctx, "traceparent")
}

// GetTraceState returns the W3C tracestate value for the active span
func GetTraceState(ctx context.Context) string {
	return injected(ctx, "tracestate")
}

func injected(ctx context.Context, header string) string {
	if _, ok := activeSpan(ctx); !ok {
		return ""
	}
	carrier := propagation.MapCarrier{}
	propagator().Inject(ctx, carrier)
	return carrier.Get(header)
}

// propagator falls back to plain trace context when no global propagator was installed
func propagator() propagation.TextMapPropagator {
	p := otel.GetTextMapPropagator()
	if len(p.Fields()) == 0 {
		return propagation.TraceContext{}
	}
	return p
}

func GetTraceID(ctx context.Context) string {
	sc, ok := activeSpan(ctx)
	if !ok {
		return ""
	}
	return sc.TraceID().String()
}

func GetSpanID(ctx context.Context) string {
	sc, ok := activeSpan(ctx)
	if !ok {
		return ""
	}
	return sc.SpanID().String()
}
