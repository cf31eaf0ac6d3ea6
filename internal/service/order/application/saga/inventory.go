package saga

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// InventoryHandler 负责扣减库存。失败时返回 *port.InventoryError，由调用方按策略处理。
type InventoryHandler struct {
	NextHandler
}

func (h *InventoryHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.DecreaseStock")
	defer span.End()

	order := orderCtx.Order
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.Int64("product.id", order.ProductID),
		attribute.Int("quantity", order.Quantity),
	)

	started := time.Now()
	err := orderCtx.InventoryService.DecreaseStock(ctx, order.ID, order.ProductID, order.Quantity)
	orderCtx.Metrics.ObserveGateway("inventory", started, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inventory decrease failed")
		return err
	}

	span.AddEvent("Stock decreased.")
	return h.executeNext(orderCtx)
}
