package util

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultTracerName = "isla-market"

// TracerOptions configures the span exporter and sampling
type TracerOptions struct {
	Service string
	// Endpoint is the Jaeger collector URL; spans are not exported when empty
	Endpoint    string
	SampleRatio float64
}

var tracer atomic.Value // trace.Tracer

// sampler records the given fraction of new traces and follows the parent
// decision for propagated ones
func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// InitTracer installs the global tracer provider. The caller shuts it down.
func InitTracer(opts TracerOptions) (*sdktrace.TracerProvider, error) {
	if opts.Service == "" {
		opts.Service = defaultTracerName
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(opts.Service)),
	)
	if err != nil {
		return nil, err
	}

	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(opts.SampleRatio)),
	}
	if opts.Endpoint != "" {
		exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(opts.Endpoint)))
		if err != nil {
			return nil, err
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(tp)
	tracer.Store(tp.Tracer(opts.Service))

	GetLogger().Info("Tracer initialized",
		zap.String("service", opts.Service),
		zap.String("endpoint", opts.Endpoint),
		zap.Float64("sample_ratio", opts.SampleRatio))
	return tp, nil
}

// GetTracer returns the tracer installed by InitTracer, or the global
// provider's tracer before that
func GetTracer() trace.Tracer {
	if t, ok := tracer.Load().(trace.Tracer); ok {
		return t
	}
	return otel.Tracer(defaultTracerName)
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, spanName)
}
