package port

import (
	"context"
	"errors"
	"fmt"
)

// ErrPayment 是所有支付网关错误的哨兵值
var ErrPayment = errors.New("payment gateway failed")

// AuthorizeRequest 是一次支付授权的参数，金额以币种最小单位表示
type AuthorizeRequest struct {
	OrderID     string
	AmountMinor int64
	Currency    string
	// IdempotencyKey 相同的请求在网关侧只会创建一次授权
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentGateway 是支付网关的出站端口。
type PaymentGateway interface {
	// Authorize 预授权一笔金额，返回客户端可用于确认支付的令牌。
	// 失败时返回 *PaymentError。
	Authorize(ctx context.Context, req AuthorizeRequest) (token string, err error)
}

// PaymentError 描述一次失败的支付授权
type PaymentError struct {
	Kind   FailureKind
	Reason string
	// Code 是网关返回的错误码，例如 card_declined
	Code string
	Err  error
}

func (e *PaymentError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%v: %s (%s): %s", ErrPayment, e.Kind, e.Code, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrPayment, e.Kind, e.Reason)
}

func (e *PaymentError) Unwrap() error { return e.Err }

func (e *PaymentError) Is(target error) bool { return target == ErrPayment }

// Retryable 网关拒绝（如卡被拒）时重试无意义，传输失败或网关不可用时可以重试
func (e *PaymentError) Retryable() bool { return e.Kind == FailureUnavailable }
