package saga

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"orderflow/internal/pkg/logger"
	"orderflow/internal/service/order/domain"
)

// PersistOrderHandler 先把订单以 PENDING/PENDING 落库，作为后续副作用的意图记录。
type PersistOrderHandler struct {
	NextHandler
}

func (h *PersistOrderHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.PersistOrder")
	defer span.End()

	saved, err := orderCtx.Repo.Save(ctx, orderCtx.Order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save order")
		return fmt.Errorf("failed to save pending order: %w", err)
	}
	orderCtx.Order = saved
	span.SetAttributes(attribute.String("order.id", saved.ID))
	span.AddEvent("Pending order saved.")

	// 补偿：把订单标记为 CANCELLED，记录保留以便对账
	orderCtx.AddCompensation(func(compCtx context.Context) {
		compCtx, compSpan := orderCtx.Tracer.Start(compCtx, "saga.compensation.CancelOrder")
		defer compSpan.End()

		var changed bool
		cancelled, err := orderCtx.Repo.Update(compCtx, saved.ID, func(o *domain.Order) error {
			changed = o.Cancel(orderCtx.now())
			return nil
		})
		if err != nil {
			// 补偿失败需要人工介入
			compSpan.RecordError(err)
			compSpan.SetStatus(codes.Error, "compensation failed")
			logger.Ctx(compCtx).Error().Err(err).Str("order_id", saved.ID).Msg("failed to cancel order during compensation")
			return
		}
		orderCtx.Order = cancelled
		if changed {
			orderCtx.publish(compCtx, domain.NewOrderEvent(domain.EventOrderCancelled, cancelled, orderCtx.now()).
				WithPrevious(string(saved.Status)).
				WithReason(orderCtx.CompensationReason))
		}
	})

	return h.executeNext(orderCtx)
}
