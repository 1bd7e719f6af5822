// Package tracing configures OpenTelemetry trace export for the gateway.
package tracing

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Options controls the tracer provider.
type Options struct {
	Enabled        bool
	Endpoint       string
	Insecure       bool
	SampleRate     float64
	ServiceName    string
	ServiceVersion string

	// Exporter replaces the OTLP gRPC exporter when set.
	Exporter sdktrace.SpanExporter
}

// Provider owns the SDK tracer provider installed as the global one.
type Provider struct {
	opts   Options
	tp     *sdktrace.TracerProvider
	logger *slog.Logger
}

// NewProvider creates a Provider. Nothing is installed until Start.
func NewProvider(opts Options, logger *slog.Logger) *Provider {
	return &Provider{
		opts:   opts,
		logger: logger.With("component", "tracing"),
	}
}

// Start installs the tracer provider and the W3C propagators. A disabled
// provider leaves the otel globals untouched, so spans are no-ops.
func (p *Provider) Start(ctx context.Context) error {
	if !p.opts.Enabled {
		return nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", p.opts.ServiceName),
		attribute.String("service.version", p.opts.ServiceVersion),
	))
	if err != nil {
		return fmt.Errorf("create trace resource: %w", err)
	}

	exporter := p.opts.Exporter
	if exporter == nil {
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.opts.Endpoint)}
		if p.opts.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return fmt.Errorf("create otlp exporter: %w", err)
		}
	}

	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(p.opts.SampleRate))),
	)
	otel.SetTracerProvider(p.tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.logger.Info("tracing enabled",
		"endpoint", p.opts.Endpoint,
		"sample_rate", p.opts.SampleRate,
	)
	return nil
}

// Shutdown flushes buffered spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}

// TracerProvider returns the installed provider. Before Start, or when
// tracing is disabled, it returns the otel global, whose tracers forward to
// the SDK provider once Start installs it.
func (p *Provider) TracerProvider() trace.TracerProvider {
	if p.tp == nil {
		return otel.GetTracerProvider()
	}
	return p.tp
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		return sdktrace.NeverSample()
	case rate >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}
