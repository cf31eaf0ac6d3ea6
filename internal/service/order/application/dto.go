// internal/service/order/application/dto.go
package application

import (
	"strings"

	"orderflow/internal/service/order/domain"
)

// CreateOrderRequest 是创建订单用例的输入数据
type CreateOrderRequest struct {
	UserID          string  `json:"userId"`
	ProductID       int64   `json:"productId"`
	Quantity        int     `json:"quantity"`
	TotalAmount     float64 `json:"totalAmount"`
	ShippingAddress string  `json:"shippingAddress,omitempty"`
	PaymentMethod   string  `json:"paymentMethod,omitempty"`
}

func (r *CreateOrderRequest) toParams() domain.NewOrderParams {
	return domain.NewOrderParams{
		UserID:          r.UserID,
		ProductID:       r.ProductID,
		Quantity:        r.Quantity,
		TotalAmount:     r.TotalAmount,
		ShippingAddress: r.ShippingAddress,
		PaymentMethod:   r.PaymentMethod,
	}
}

// ListOrdersQuery 是列表查询的过滤条件，原始字符串在 Filter 中解析
type ListOrdersQuery struct {
	UserID        string
	Status        string
	PaymentStatus string
}

// filterKind 是支持的过滤组合
type filterKind int

const (
	filterNone filterKind = iota
	filterOwner
	filterStatus
	filterOwnerAndStatus
	filterPaymentStatus
)

type parsedFilter struct {
	kind          filterKind
	userID        string
	status        domain.Status
	paymentStatus domain.PaymentStatus
}

// parse 校验过滤组合：支付状态不能与其它条件组合
func (q ListOrdersQuery) parse() (parsedFilter, error) {
	f := parsedFilter{userID: strings.TrimSpace(q.UserID)}
	hasStatus := strings.TrimSpace(q.Status) != ""
	hasPayment := strings.TrimSpace(q.PaymentStatus) != ""

	if hasPayment {
		if f.userID != "" || hasStatus {
			return f, &domain.ValidationError{Field: "paymentStatus", Reason: "cannot be combined with other filters"}
		}
		ps, err := domain.ParsePaymentStatus(q.PaymentStatus)
		if err != nil {
			return f, err
		}
		f.kind, f.paymentStatus = filterPaymentStatus, ps
		return f, nil
	}
	if hasStatus {
		s, err := domain.ParseStatus(q.Status)
		if err != nil {
			return f, err
		}
		f.status = s
	}
	switch {
	case f.userID != "" && hasStatus:
		f.kind = filterOwnerAndStatus
	case f.userID != "":
		f.kind = filterOwner
	case hasStatus:
		f.kind = filterStatus
	default:
		f.kind = filterNone
	}
	return f, nil
}

// PaymentResult 是发起支付的输出
type PaymentResult struct {
	OrderID      string `json:"orderId"`
	ClientSecret string `json:"clientSecret"`
}
