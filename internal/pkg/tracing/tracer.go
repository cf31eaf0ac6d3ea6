// internal/pkg/tracing/tracer.go
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"orderflow/internal/pkg/logger"
)

// ShutdownFunc 刷出缓冲中的 span 并关闭导出器
type ShutdownFunc func(ctx context.Context) error

// InitTracerProvider initializes and registers a Jaeger TraceProvider.
func InitTracerProvider(serviceName, jaegerEndpoint string) (*sdktrace.TracerProvider, error) {
	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	)

	otel.SetTracerProvider(tp)
	InstallPropagator()

	logger.Ctx(context.Background()).Info().
		Str("endpoint", jaegerEndpoint).
		Msgf("Tracing initialized for service '%s'", serviceName)
	return tp, nil
}

// InstallPropagator 注册 W3C TraceContext + Baggage 传播器。
// 关闭追踪时也需要它，这样上游的 trace 头仍能透传到下游。
func InstallPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
}

// Setup 根据开关决定是否启用 Jaeger 导出，返回统一的关闭函数。
func Setup(enabled bool, serviceName, jaegerEndpoint string) (ShutdownFunc, error) {
	if !enabled {
		InstallPropagator()
		return func(context.Context) error { return nil }, nil
	}
	tp, err := InitTracerProvider(serviceName, jaegerEndpoint)
	if err != nil {
		return nil, err
	}
	return tp.Shutdown, nil
}
