package infrastructure

import (
	"time"
)

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID              string    `gorm:"primaryKey;type:char(36)"`
	UserID          string    `gorm:"type:varchar(64);not null;index:idx_orders_user_status,priority:1"`
	ProductID       int64     `gorm:"not null"`
	Quantity        int       `gorm:"not null"`
	TotalAmount     float64   `gorm:"type:decimal(12,2);not null"`
	Status          string    `gorm:"type:varchar(16);not null;index:idx_orders_user_status,priority:2;index:idx_orders_status"`
	PaymentStatus   string    `gorm:"type:varchar(16);not null;index:idx_orders_payment_status"`
	ShippingAddress string    `gorm:"type:varchar(512)"`
	PaymentMethod   string    `gorm:"type:varchar(64)"`
	OrderDate       time.Time `gorm:"column:order_date;not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "orders"
}
