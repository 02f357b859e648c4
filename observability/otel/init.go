package otel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// settings carries the OTLP wiring derived from the standard
// OTEL_EXPORTER_OTLP_* environment variables.
type settings struct {
	endpoint string
	insecure bool
	headers  map[string]string
}

func settingsFromEnv() settings {
	s := settings{
		endpoint: strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		insecure: true,
		headers:  parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
	}
	if raw := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			s.insecure = parsed
		}
	}
	return s
}

// Setup wires the global trace and metric providers against the OTLP HTTP
// collector named by OTEL_EXPORTER_OTLP_ENDPOINT. When no endpoint is
// configured telemetry export stays off and the returned shutdown is a
// no-op, so the service runs unchanged without a collector. Callers invoke
// the returned function during teardown.
func Setup(ctx context.Context, serviceName, environment string) (func(context.Context) error, error) {
	if strings.TrimSpace(serviceName) == "" {
		return nil, errors.New("telemetry: service name required")
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	env := settingsFromEnv()
	if env.endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := newResource(serviceName, environment)
	if err != nil {
		return nil, err
	}

	tracerProvider, err := startTraces(ctx, res, env)
	if err != nil {
		return nil, err
	}
	meterProvider, err := startMetrics(ctx, res, env)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}

	return func(ctx context.Context) error {
		return errors.Join(meterProvider.Shutdown(ctx), tracerProvider.Shutdown(ctx))
	}, nil
}

func newResource(serviceName, environment string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(serviceName)}
	if environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(environment))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}
	return res, nil
}

func startTraces(ctx context.Context, res *resource.Resource, env settings) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(env.endpoint)}
	if env.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(env.headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(env.headers))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(2*time.Second)),
	)
	otel.SetTracerProvider(provider)
	return provider, nil
}

func startMetrics(ctx context.Context, res *resource.Resource, env settings) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(env.endpoint)}
	if env.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(env.headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(env.headers))
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(provider)
	return provider, nil
}

// parseHeaders decodes the W3C-style "key=value,key=value" header list used
// by OTEL_EXPORTER_OTLP_HEADERS. Malformed pairs are dropped.
func parseHeaders(raw string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}
