package trace

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultShutdownTimeout = 5 * time.Second

// Setup installs the global tracer provider. When enabled, spans are batched
// to w (stdout when nil) as JSON; otherwise a no-op provider is installed.
// The returned func flushes and shuts the provider down.
func Setup(enabled bool, serviceName string, w io.Writer) (func() error, error) {
	if !enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func() error { return nil }, nil
	}
	if w == nil {
		w = os.Stdout
	}

	r, err := resource.New(
		context.Background(),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("trace: build resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("trace: init exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(r),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}
