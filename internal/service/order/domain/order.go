// internal/service/order/domain/order.go
package domain

import (
	"math"
	"strings"
	"time"
)

// Order 是订单聚合的根实体。
// ID、UserID、ProductID、CreatedAt 创建后不可变。
type Order struct {
	ID              string
	UserID          string
	ProductID       int64
	Quantity        int
	TotalAmount     float64
	Status          Status
	PaymentStatus   PaymentStatus
	ShippingAddress string
	PaymentMethod   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewOrderParams 是创建订单所需的输入
type NewOrderParams struct {
	UserID          string
	ProductID       int64
	Quantity        int
	TotalAmount     float64
	ShippingAddress string
	PaymentMethod   string
}

// Validate 校验创建参数
func (p NewOrderParams) Validate() error {
	switch {
	case strings.TrimSpace(p.UserID) == "":
		return &ValidationError{Field: "userId", Reason: "is required"}
	case p.ProductID <= 0:
		return &ValidationError{Field: "productId", Reason: "is required and must be positive"}
	case p.Quantity <= 0:
		return &ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	case math.IsNaN(p.TotalAmount) || math.IsInf(p.TotalAmount, 0):
		return &ValidationError{Field: "totalAmount", Reason: "must be a finite number"}
	case p.TotalAmount < 0:
		return &ValidationError{Field: "totalAmount", Reason: "must not be negative"}
	case p.TotalAmount > MaxTotalAmount:
		return &ValidationError{Field: "totalAmount", Reason: "must not exceed 9999999999.99"}
	}
	return nil
}

// NewOrder 用于创建一个新的订单实例，初始状态为 PENDING/PENDING。
// ID 由仓储在首次保存时分配。
func NewOrder(p NewOrderParams, now time.Time) (*Order, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	now = now.UTC()
	return &Order{
		UserID:          strings.TrimSpace(p.UserID),
		ProductID:       p.ProductID,
		Quantity:        p.Quantity,
		TotalAmount:     p.TotalAmount,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		ShippingAddress: p.ShippingAddress,
		PaymentMethod:   p.PaymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// TransitionTo 按流转表推进履约状态。
// 同状态请求视为幂等成功，CANCELLED 除外；发货与送达要求支付已完成。
func (o *Order) TransitionTo(next Status, now time.Time) error {
	if !next.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown status " + string(next)}
	}
	if o.Status.Terminal() {
		return &TransitionError{From: o.Status, To: next, Reason: "order is cancelled"}
	}
	if o.Status == next {
		return nil
	}
	if !o.Status.CanTransitionTo(next) {
		return &TransitionError{From: o.Status, To: next, Reason: "transition not allowed"}
	}
	if requiresSettledPayment[next] && o.PaymentStatus != PaymentCompleted {
		return &TransitionError{From: o.Status, To: next, Reason: "payment status is " + string(o.PaymentStatus)}
	}
	o.Status = next
	o.UpdatedAt = now.UTC()
	return nil
}

// SetPaymentStatus 更新支付状态，不受履约状态约束
func (o *Order) SetPaymentStatus(next PaymentStatus, now time.Time) error {
	if !next.Valid() {
		return &ValidationError{Field: "paymentStatus", Reason: "unknown payment status " + string(next)}
	}
	if o.PaymentStatus != next {
		o.PaymentStatus = next
		o.UpdatedAt = now.UTC()
	}
	return nil
}

// Cancel 强制取消订单。对已取消的订单是空操作，返回 false。
func (o *Order) Cancel(now time.Time) bool {
	if o.Status == StatusCancelled {
		return false
	}
	o.Status = StatusCancelled
	o.UpdatedAt = now.UTC()
	return true
}

// Clone 返回一份独立副本
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

// ApplyMutable 把可变字段覆盖到 o 上，保留其不可变字段
func (o *Order) ApplyMutable(src *Order) {
	o.Quantity = src.Quantity
	o.TotalAmount = src.TotalAmount
	o.Status = src.Status
	o.PaymentStatus = src.PaymentStatus
	o.ShippingAddress = src.ShippingAddress
	o.PaymentMethod = src.PaymentMethod
	o.UpdatedAt = src.UpdatedAt
}
