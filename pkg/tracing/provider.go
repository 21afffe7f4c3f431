package tracing

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
)

// Provider owns the SDK tracer provider for a process and installs its tracer globally.
// It satisfies startup.StartupDependency.
type Provider struct {
	name     string
	protocol string
	otlp     exporters.OTLPConfig
	logger   ectologger.Logger
	tp       *sdktrace.TracerProvider
}

// NewProvider creates a provider. Protocol "grpc" or "http" exports to an OTLP collector,
// "console" logs spans through logger.
func NewProvider(serviceName string, cfg exporters.OTLPConfig, logger ectologger.Logger) *Provider {
	return &Provider{
		name:     serviceName,
		protocol: cfg.Protocol,
		otlp:     cfg,
		logger:   logger,
	}
}

func (p *Provider) GetName() string {
	return "tracing"
}

func (p *Provider) DependsOn() []string {
	return nil
}

// Start builds the exporter and tracer provider, then installs them as the otel globals
// and as the tracer behind StartSpan
func (p *Provider) Start(ctx context.Context) error {
	var exporter sdktrace.SpanExporter
	switch p.protocol {
	case "console":
		exporter = &exporters.ConsoleExporter{Logger: p.logger}
	default:
		otlpExporter, err := exporters.NewOTLPExporter(ctx, p.otlp)
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = otlpExporter
	}

	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", p.name))),
	)
	otel.SetTracerProvider(p.tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	SetTracer(p.tp.Tracer(p.name))

	p.logger.WithFields(map[string]any{
		"protocol": p.protocol,
		"endpoint": p.otlp.Endpoint,
	}).Info("tracing enabled")
	return nil
}

// Stop flushes pending spans and removes the global tracer
func (p *Provider) Stop(ctx context.Context) error {
	SetTracer(nil)
	otel.SetTracerProvider(noop.NewTracerProvider())
	if p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down tracer provider: %w", err)
	}
	return nil
}
