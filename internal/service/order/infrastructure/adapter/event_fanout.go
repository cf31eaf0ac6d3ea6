package adapter

import (
	"context"
	"errors"

	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"
	"orderflow/internal/service/order/domain"
	"orderflow/internal/service/order/domain/port"
)

// Sink 是一个具名的事件出口
type Sink struct {
	Name      string
	Publisher port.EventPublisher
}

// FanoutPublisher 把同一事件依次交给所有出口。
// 单个出口失败不影响其它出口，所有错误合并返回。
type FanoutPublisher struct {
	sinks   []Sink
	metrics *metrics.Metrics
}

func NewFanoutPublisher(m *metrics.Metrics, sinks ...Sink) *FanoutPublisher {
	return &FanoutPublisher{sinks: sinks, metrics: m}
}

func (f *FanoutPublisher) Publish(ctx context.Context, event domain.OrderEvent) error {
	var errs []error
	for _, sink := range f.sinks {
		err := sink.Publisher.Publish(ctx, event)
		f.metrics.ObserveEvent(sink.Name, err)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Str("sink", sink.Name).
				Str("event_type", string(event.Type)).
				Str("order_id", event.OrderID).
				Msg("failed to publish order event")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
