// Package telemetry wires OpenTelemetry tracing and metrics for the service.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const metricInterval = 30 * time.Second

// Setup registers global tracer and meter providers exporting to endpoint
// over OTLP/HTTP. endpoint is the collector base URL; a bare host gets the
// standard /v1/traces and /v1/metrics paths. With an empty endpoint it does
// nothing and the global no-op providers stay in place.
//
// The returned shutdown function flushes pending spans and metrics.
func Setup(ctx context.Context, endpoint, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if endpoint == "" {
		return noop, nil
	}

	traceURL, err := signalURL(endpoint, "traces")
	if err != nil {
		return noop, err
	}
	metricURL, err := signalURL(endpoint, "metrics")
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	spanExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(traceURL),
	)
	if err != nil {
		return noop, err
	}
	metricExporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpointURL(metricURL),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(metricInterval))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// signalURL points endpoint at one OTLP signal. A path already naming a
// signal is rewritten; any other explicit path is kept as is.
func signalURL(endpoint, signal string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing otel endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("otel endpoint %q: want scheme://host[:port]", endpoint)
	}
	path := strings.TrimSuffix(u.Path, "/")
	switch {
	case path == "":
		u.Path = "/v1/" + signal
	case strings.HasSuffix(path, "/v1/traces"), strings.HasSuffix(path, "/v1/metrics"):
		u.Path = path[:strings.LastIndex(path, "/")+1] + signal
	}
	return u.String(), nil
}
