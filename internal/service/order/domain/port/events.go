package port

import (
	"context"

	"orderflow/internal/service/order/domain"
)

// EventPublisher 是订单事件的出站端口。
type EventPublisher interface {
	Publish(ctx context.Context, event domain.OrderEvent) error
}

// NopPublisher 丢弃所有事件，用于未配置消息系统的环境
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.OrderEvent) error { return nil }
