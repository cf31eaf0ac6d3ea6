// internal/service/order/domain/state.go
package domain

import (
	"fmt"
	"strings"
)

// Status 定义了订单的履约生命周期状态
type Status string

const (
	StatusPending   Status = "PENDING"   // 已创建，等待确认
	StatusConfirmed Status = "CONFIRMED" // 已确认
	StatusShipped   Status = "SHIPPED"   // 已发货
	StatusDelivered Status = "DELIVERED" // 已送达
	StatusCancelled Status = "CANCELLED" // 已取消，终态
)

// PaymentStatus 定义了订单的支付状态，与履约状态相互独立
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// transitions 是履约状态的合法流转表。
// CANCELLED 与 DELIVERED 没有出边。
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusDelivered, StatusCancelled},
	StatusDelivered: {},
	StatusCancelled: {},
}

// requiresSettledPayment 中的目标状态要求支付已完成
var requiresSettledPayment = map[Status]bool{
	StatusShipped:   true,
	StatusDelivered: true,
}

// Statuses 按生命周期顺序返回全部履约状态
func Statuses() []Status {
	return []Status{StatusPending, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled}
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusCancelled
}

// CanTransitionTo 只查流转表，不考虑支付状态
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentCompleted, PaymentFailed:
		return true
	}
	return false
}

// ParseStatus 解析外部传入的状态字符串，忽略大小写、空白与引号。
func ParseStatus(raw string) (Status, error) {
	s := Status(normalize(raw))
	if !s.Valid() {
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", raw)}
	}
	return s, nil
}

// ParsePaymentStatus 解析外部传入的支付状态字符串。
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	p := PaymentStatus(normalize(raw))
	if !p.Valid() {
		return "", &ValidationError{Field: "paymentStatus", Reason: fmt.Sprintf("unknown payment status %q", raw)}
	}
	return p, nil
}

func normalize(raw string) string {
	return strings.ToUpper(strings.Trim(strings.TrimSpace(raw), `"'`))
}
