// =============================================================================
// fedgateway 遥测
// =============================================================================
// 启用时以 OTLP gRPC 导出网关的 trace 与 metric，资源上标注网关角色与
// 构建版本；禁用时全局 provider 保持 noop。W3C trace context 传播器总是
// 注册，子图客户端（otelhttp）据此把 traceparent 透传到子图。
// =============================================================================

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/BaSui01/fedgateway/config"
)

const instrumentationName = "github.com/BaSui01/fedgateway"

// Resource attributes shared by every signal the gateway exports.
var (
	attrRole     = attribute.Key("fedgateway.role")
	attrSubgraph = attribute.Key("graphql.subgraph")
	attrStatus   = attribute.Key("http.response.status_code")
)

// Providers owns the SDK providers and the gateway's subgraph instruments.
// With telemetry disabled tp and mp are nil and the instruments record into
// the global noop meter.
type Providers struct {
	tp        *sdktrace.TracerProvider
	mp        *sdkmetric.MeterProvider
	subgraphs *SubgraphMetrics
}

// Init registers the propagator and, when cfg.Enabled, the OTLP providers.
// version is the gateway build version; "" or "dev" falls back to the module
// version from build info.
func Init(cfg config.TelemetryConfig, version string, logger *zap.Logger) (*Providers, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		logger.Info("telemetry disabled, using noop providers")
		return &Providers{subgraphs: newSubgraphMetrics(otel.Meter(instrumentationName), logger)}, nil
	}

	ctx := context.Background()
	res, err := gatewayResource(ctx, cfg.ServiceName, resolveVersion(version))
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	// 入站请求已有采样决定时沿用
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.Float64("sample_rate", cfg.SampleRate),
	)

	return &Providers{
		tp:        tp,
		mp:        mp,
		subgraphs: newSubgraphMetrics(mp.Meter(instrumentationName), logger),
	}, nil
}

// Subgraphs returns the subgraph fetch instruments. Safe on a nil Providers.
func (p *Providers) Subgraphs() *SubgraphMetrics {
	if p == nil {
		return nil
	}
	return p.subgraphs
}

// Shutdown flushes pending spans and metrics. Safe on nil or noop Providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func gatewayResource(ctx context.Context, serviceName, version string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(version),
		attrRole.String("gateway"),
	}
	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.ServiceInstanceIDKey.String(host))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}
	return res, nil
}

func resolveVersion(v string) string {
	if v != "" && v != "dev" {
		return v
	}
	return buildVersion()
}

// buildVersion 读取模块版本，不可用时为 "dev"
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// =============================================================================
// 子图指标
// =============================================================================

// SubgraphMetrics counts and times subgraph fetches by subgraph and status.
// Spans for the same calls come from the otelhttp client transport. A nil
// SubgraphMetrics records nothing.
type SubgraphMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// newSubgraphMetrics returns nil when the meter rejects an instrument.
func newSubgraphMetrics(meter metric.Meter, logger *zap.Logger) *SubgraphMetrics {
	requests, err := meter.Int64Counter("fedgateway.subgraph.requests",
		metric.WithDescription("Subgraph fetches"))
	if err != nil {
		logger.Warn("subgraph request counter unavailable", zap.Error(err))
		return nil
	}
	duration, err := meter.Float64Histogram("fedgateway.subgraph.duration",
		metric.WithDescription("Subgraph fetch duration"),
		metric.WithUnit("s"))
	if err != nil {
		logger.Warn("subgraph duration histogram unavailable", zap.Error(err))
		return nil
	}
	return &SubgraphMetrics{requests: requests, duration: duration}
}

// Record adds one fetch. status is 0 when no HTTP response arrived.
func (m *SubgraphMetrics) Record(ctx context.Context, subgraph string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attrSubgraph.String(subgraph), attrStatus.Int(status))
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
