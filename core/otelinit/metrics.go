package otelinit

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Metrics holds the instruments shared by sweeps, the cache and the publisher.
type Metrics struct {
	Analyses        metric.Int64Counter
	Matches         metric.Int64Counter
	RuleLoadErrors  metric.Int64Counter
	ScanErrors      metric.Int64Counter
	AnalyzeDuration metric.Float64Histogram
	CacheHits       metric.Int64Counter
	CacheMisses     metric.Int64Counter
	Published       metric.Int64Counter
}

// InitMetrics sets up a global OTLP metrics exporter (push). Returns shutdown function.
func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, m Metrics) {
	noop := func(context.Context) error { return nil }
	if Disabled() {
		return noop, NewMetrics()
	}
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		attribute.String("service", service),
	))
	endpoint := endpointFromEnv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		slog.Warn("metrics exporter init failed", "error", err)
		return noop, NewMetrics()
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	slog.Info("metrics initialized", "endpoint", endpoint)
	return mp.Shutdown, NewMetrics()
}

// NewMetrics creates the instruments on the current global meter provider.
func NewMetrics() Metrics {
	meter := otel.Meter(instrumentationName)
	analyses, _ := meter.Int64Counter("binscan_detector_analyses_total")
	matches, _ := meter.Int64Counter("binscan_detector_matches_total")
	loadErrs, _ := meter.Int64Counter("binscan_rule_load_errors_total")
	scanErrs, _ := meter.Int64Counter("binscan_scan_errors_total")
	dur, _ := meter.Float64Histogram("binscan_analyze_duration_seconds")
	hits, _ := meter.Int64Counter("binscan_report_cache_hits_total")
	misses, _ := meter.Int64Counter("binscan_report_cache_misses_total")
	published, _ := meter.Int64Counter("binscan_reports_published_total")
	return Metrics{
		Analyses:        analyses,
		Matches:         matches,
		RuleLoadErrors:  loadErrs,
		ScanErrors:      scanErrs,
		AnalyzeDuration: dur,
		CacheHits:       hits,
		CacheMisses:     misses,
		Published:       published,
	}
}
