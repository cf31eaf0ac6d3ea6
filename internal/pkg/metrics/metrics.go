// internal/pkg/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orders"

// 结果标签的取值
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics 汇总了订单服务暴露的所有 Prometheus 指标。
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	GatewayRequests   *prometheus.CounterVec
	GatewayDuration   *prometheus.HistogramVec
	InventoryFailures *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
}

// New 创建并在给定的 Registerer 上注册全部指标。
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Order lifecycle operations by outcome.",
		}, []string{"operation", "outcome"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of order lifecycle operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Calls to the inventory and payment gateways by outcome.",
		}, []string{"gateway", "outcome"}),
		GatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_duration_seconds",
			Help:      "Latency of gateway calls.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"gateway"}),
		InventoryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_failures_total",
			Help:      "Inventory decrements that failed after the order was persisted.",
		}, []string{"policy"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Order lifecycle events handed to each sink.",
		}, []string{"sink", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Operations, m.OperationDuration,
			m.GatewayRequests, m.GatewayDuration,
			m.InventoryFailures, m.EventsPublished,
		)
	}
	return m
}

// ObserveOperation 记录一次业务操作的结果与耗时。
func (m *Metrics) ObserveOperation(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, Outcome(err)).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// ObserveGateway 记录一次下游网关调用。
func (m *Metrics) ObserveGateway(gateway string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(gateway, Outcome(err)).Inc()
	m.GatewayDuration.WithLabelValues(gateway).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveEvent(sink string, err error) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(sink, Outcome(err)).Inc()
}

func (m *Metrics) InventoryFailed(policy string) {
	if m == nil {
		return
	}
	m.InventoryFailures.WithLabelValues(policy).Inc()
}

func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
