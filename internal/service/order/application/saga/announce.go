package saga

import (
	"go.opentelemetry.io/otel/attribute"

	"orderflow/internal/service/order/domain"
)

// AnnounceHandler 发布 order.created 事件。发布失败不影响订单创建。
type AnnounceHandler struct {
	NextHandler
}

func (h *AnnounceHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.Announce")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderCtx.Order.ID))

	orderCtx.publish(ctx, domain.NewOrderEvent(domain.EventOrderCreated, orderCtx.Order, orderCtx.now()))
	return h.executeNext(orderCtx)
}
