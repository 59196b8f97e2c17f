// Package obstel wires OpenTelemetry tracing and metrics the way
// libs/go/core/otelinit does for the rest of the fleet, plus a Hooks
// builder that turns the scheduler package's WorkerHooks seam into spans
// and counters/histograms on every RUN and retry-yield transition.
package obstel

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	apimetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	apitrace "go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Shutdown stops every exporter started by Init. Safe to call even if Init
// failed to dial (it returns no-op shutdown funcs in that case).
type Shutdown func(context.Context) error

// Init configures global tracer and meter providers pointed at endpoint
// (OTLP/gRPC), falling back to "localhost:4317" when empty, matching
// otelinit.InitTracer's behavior. It never fails the caller's startup: a
// dial error is logged and a no-op provider is installed instead.
func Init(ctx context.Context, service, endpoint string) Shutdown {
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}

	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))

	traceShutdown := initTracer(ctx, endpoint, dialOpts, res)
	metricShutdown := initMeter(ctx, endpoint, dialOpts, res)

	return func(ctx context.Context) error {
		_ = traceShutdown(ctx)
		return metricShutdown(ctx)
	}
}

func initTracer(ctx context.Context, endpoint string, dialOpts []grpc.DialOption, res *resource.Resource) Shutdown {
	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithDialOption(dialOpts...))
	if err != nil {
		slog.Warn("otel trace exporter init failed", "error", err)
		return func(context.Context) error { return nil }
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

func initMeter(ctx context.Context, endpoint string, dialOpts []grpc.DialOption, res *resource.Resource) Shutdown {
	exp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithDialOption(dialOpts...))
	if err != nil {
		slog.Warn("otel metric exporter init failed", "error", err)
		return func(context.Context) error { return nil }
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown
}

// Tracer returns the global tracer for the scheduler's own spans.
func Tracer() apitrace.Tracer { return otel.Tracer("aisched-scheduler") }

// Meter returns the global meter for the scheduler's own instruments.
func Meter() apimetric.Meter { return otel.Meter("aisched-scheduler") }

// EndpointFromEnv reads OTEL_EXPORTER_OTLP_ENDPOINT, the conventional env
// var name, so cmd/aischedd does not need to invent its own.
func EndpointFromEnv() string { return os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") }
