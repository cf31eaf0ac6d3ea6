// internal/service/order/domain/event.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType 标识订单生命周期事件
type EventType string

const (
	EventOrderCreated         EventType = "order.created"
	EventStatusChanged        EventType = "order.status_changed"
	EventPaymentStatusChanged EventType = "order.payment_status_changed"
	EventOrderCancelled       EventType = "order.cancelled"
	EventOrderDeleted         EventType = "order.deleted"
	EventInventoryFailed      EventType = "order.inventory_failed"
	EventPaymentInitiated     EventType = "order.payment_initiated"
)

// OrderEvent 是对外发布的订单事件，供对账任务、通知推送等下游消费
type OrderEvent struct {
	EventID        string        `json:"eventId"`
	Type           EventType     `json:"type"`
	OrderID        string        `json:"orderId"`
	UserID         string        `json:"userId"`
	ProductID      int64         `json:"productId"`
	Quantity       int           `json:"quantity"`
	Status         Status        `json:"status"`
	PaymentStatus  PaymentStatus `json:"paymentStatus"`
	PreviousStatus string        `json:"previousStatus,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	OccurredAt     time.Time     `json:"occurredAt"`
}

// NewOrderEvent 根据订单当前快照构造事件
func NewOrderEvent(t EventType, o *Order, now time.Time) OrderEvent {
	return OrderEvent{
		EventID:       uuid.NewString(),
		Type:          t,
		OrderID:       o.ID,
		UserID:        o.UserID,
		ProductID:     o.ProductID,
		Quantity:      o.Quantity,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		OccurredAt:    now.UTC(),
	}
}

// WithReason 附加原因说明
func (e OrderEvent) WithReason(reason string) OrderEvent {
	e.Reason = reason
	return e
}

// WithPrevious 记录变更前的状态
func (e OrderEvent) WithPrevious(prev string) OrderEvent {
	e.PreviousStatus = prev
	return e
}
