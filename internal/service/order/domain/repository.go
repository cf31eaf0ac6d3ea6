// internal/service/order/domain/repository.go
package domain

import "context"

// MutateFunc 在持有订单行锁期间修改订单；返回错误时不会写回
type MutateFunc func(order *Order) error

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	// Save 插入或覆盖订单。插入时分配 ID；覆盖时只写可变字段。
	Save(ctx context.Context, order *Order) (*Order, error)

	// FindByID 根据 ID 查找订单，不存在时返回 ErrNotFound。
	FindByID(ctx context.Context, id string) (*Order, error)

	FindAll(ctx context.Context) ([]*Order, error)
	FindByUserID(ctx context.Context, userID string) ([]*Order, error)
	FindByStatus(ctx context.Context, status Status) ([]*Order, error)
	FindByUserIDAndStatus(ctx context.Context, userID string, status Status) ([]*Order, error)
	FindByPaymentStatus(ctx context.Context, status PaymentStatus) ([]*Order, error)

	ExistsByID(ctx context.Context, id string) (bool, error)

	// DeleteByID 硬删除，返回是否确实删除了记录。
	DeleteByID(ctx context.Context, id string) (bool, error)

	// Update 在同一订单上串行化"读-改-写"，返回写回后的订单。
	Update(ctx context.Context, id string, fn MutateFunc) (*Order, error)
}
