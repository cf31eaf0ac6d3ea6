package infrastructure

import (
	"orderflow/internal/service/order/domain"
)

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	return &domain.Order{
		ID:              model.ID,
		UserID:          model.UserID,
		ProductID:       model.ProductID,
		Quantity:        model.Quantity,
		TotalAmount:     model.TotalAmount,
		Status:          domain.Status(model.Status),
		PaymentStatus:   domain.PaymentStatus(model.PaymentStatus),
		ShippingAddress: model.ShippingAddress,
		PaymentMethod:   model.PaymentMethod,
		CreatedAt:       model.OrderDate.UTC(),
		UpdatedAt:       model.UpdatedAt.UTC(),
	}
}

// FromDomainOrder 将领域模型转换为数据库模型 (用于插入)
func FromDomainOrder(o *domain.Order) *OrderModel {
	if o == nil {
		return nil
	}
	return &OrderModel{
		ID:              o.ID,
		UserID:          o.UserID,
		ProductID:       o.ProductID,
		Quantity:        o.Quantity,
		TotalAmount:     o.TotalAmount,
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		ShippingAddress: o.ShippingAddress,
		PaymentMethod:   o.PaymentMethod,
		OrderDate:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
	}
}

// mutableColumns 是覆盖写时允许更新的列，不可变字段不在其中
func mutableColumns(o *domain.Order) map[string]interface{} {
	return map[string]interface{}{
		"quantity":         o.Quantity,
		"total_amount":     o.TotalAmount,
		"status":           string(o.Status),
		"payment_status":   string(o.PaymentStatus),
		"shipping_address": o.ShippingAddress,
		"payment_method":   o.PaymentMethod,
		"updated_at":       o.UpdatedAt.UTC(),
	}
}

func toDomainOrders(models []OrderModel) []*domain.Order {
	out := make([]*domain.Order, 0, len(models))
	for i := range models {
		out = append(out, ToDomainOrder(&models[i]))
	}
	return out
}
