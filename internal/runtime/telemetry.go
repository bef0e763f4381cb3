package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/loqalabs/learnpod/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// SetupTelemetry installs the global tracer and meter providers. The returned
// handler serves Prometheus metrics and is nil when the exporter is unavailable.
func SetupTelemetry(ctx context.Context, cfg config.Config, logger *slog.Logger) (func(context.Context) error, http.Handler, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			semconv.ServiceNamespace("learnpod"),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("learnpod.language", cfg.Pipeline.Language),
			attribute.String("learnpod.llm_mode", cfg.LLM.Mode),
			attribute.String("learnpod.tts_mode", cfg.TTS.Mode),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	traceProvider, err := initTracer(ctx, cfg, res, logger)
	if err != nil {
		return nil, nil, err
	}
	otel.SetTracerProvider(traceProvider)

	meterProvider, metricHandler := initMetrics(res, logger)
	otel.SetMeterProvider(meterProvider)

	shutdown := func(ctx context.Context) error {
		var errs []error
		if err := meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := traceProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	return shutdown, metricHandler, nil
}

// initTracer picks the span exporter: OTLP when an endpoint is configured,
// pretty-printed stdout when traces are switched on, none otherwise. Spans are
// still created without an exporter so trace IDs reach the run ledger.
func initTracer(ctx context.Context, cfg config.Config, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio(cfg.Telemetry.SampleRatio)))),
	}

	var (
		exporter sdktrace.SpanExporter
		name     string
		err      error
	)
	switch endpoint := strings.TrimSpace(cfg.Telemetry.OTLPEndpoint); {
	case endpoint != "":
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Telemetry.OTLPInsecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, grpcOpts...)
		name = "otlp " + endpoint
	case cfg.Telemetry.Traces:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		name = "stdout"
	}
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
		logger.Info("telemetry initialized", slog.String("exporter", name))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func sampleRatio(r float64) float64 {
	if r <= 0 || r > 1 {
		return 1
	}
	return r
}

func initMetrics(res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	exporter, err := prometheus.New()
	if err != nil {
		logger.Warn("prometheus exporter unavailable, metrics are not served", slog.String("error", err.Error()))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter), sdkmetric.WithResource(res))
	return provider, promhttp.Handler()
}
