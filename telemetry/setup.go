package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Config configures the OTLP/HTTP metrics pipeline (spec.md §4.16's
// observability component). A zero-value Config leaves metrics unexported;
// Prometheus collection via Register/Observe works independently of this.
type Config struct {
	Enabled         bool
	OTLPEndpoint    string // e.g. "otel-collector:4318"
	Insecure        bool
	ServiceName     string
	CollectInterval time.Duration
	CollectTimeout  time.Duration
	ExportInterval  time.Duration
	ExportTimeout   time.Duration
	// Attributes contributes extra resource attributes (host, pid, operator
	// labels) merged onto the service name via Collect.
	Attributes []Provider
}

// Setup builds an OTLP/HTTP exporter behind a DiperiodicReader and installs
// it as the global MeterProvider. Returns the provider so the caller can
// Shutdown it on exit.
func Setup(cfg Config) (*sdkmetric.MeterProvider, error) {
	ctx := context.Background()

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	var readerOpts []ReaderOption
	if cfg.CollectInterval > 0 {
		readerOpts = append(readerOpts, WithCollectInterval(cfg.CollectInterval))
	}
	if cfg.CollectTimeout > 0 {
		readerOpts = append(readerOpts, WithCollectTimeout(cfg.CollectTimeout))
	}
	if cfg.ExportInterval > 0 {
		readerOpts = append(readerOpts, WithExportInterval(cfg.ExportInterval))
	}
	if cfg.ExportTimeout > 0 {
		readerOpts = append(readerOpts, WithExportTimeout(cfg.ExportTimeout))
	}
	reader := NewDiperiodicReader(exporter, readerOpts...)

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "mscfile"
	}
	attrs := append([]attribute.KeyValue{semconv.ServiceName(serviceName)}, Collect(cfg.Attributes)...)
	res := resource.NewWithAttributes(semconv.SchemaURL, attrs...)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	return mp, nil
}
