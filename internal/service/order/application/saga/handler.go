package saga

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"
	"orderflow/internal/service/order/domain"
	"orderflow/internal/service/order/domain/port"
)

// OrderContext 在 Saga 流程中传递上下文数据。
// 所有外部依赖都是抽象接口。
type OrderContext struct {
	Ctx    context.Context
	Order  *domain.Order
	Tracer trace.Tracer
	Now    func() time.Time

	// 依赖出站端口
	Repo             domain.OrderRepository
	InventoryService port.InventoryService
	Publisher        port.EventPublisher
	Metrics          *metrics.Metrics

	// CompensationReason 在触发补偿前设置，写入 order.cancelled 事件
	CompensationReason string

	compensations []func(ctx context.Context)
	compLock      sync.Mutex
}

// AddCompensation 按后进先出的顺序登记补偿操作
func (c *OrderContext) AddCompensation(comp func(ctx context.Context)) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	c.compensations = append([]func(context.Context){comp}, c.compensations...)
}

func (c *OrderContext) TriggerCompensation(ctx context.Context) {
	c.compLock.Lock()
	comps := c.compensations
	c.compensations = nil
	c.compLock.Unlock()

	logger.Ctx(ctx).Warn().
		Str("order_id", c.Order.ID).
		Int("compensations", len(comps)).
		Msg("executing saga compensation")
	for _, comp := range comps {
		comp(ctx)
	}
}

func (c *OrderContext) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// publish 尽力发布事件，失败只记录
func (c *OrderContext) publish(ctx context.Context, event domain.OrderEvent) {
	if c.Publisher == nil {
		return
	}
	if err := c.Publisher.Publish(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("order_id", event.OrderID).
			Str("event_type", string(event.Type)).
			Msg("order event not delivered")
	}
}

type Handler interface {
	SetNext(handler Handler) Handler
	Handle(orderCtx *OrderContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(orderCtx *OrderContext) error {
	if h.next != nil {
		return h.next.Handle(orderCtx)
	}
	return nil
}
