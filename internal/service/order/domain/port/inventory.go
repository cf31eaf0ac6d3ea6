package port

import (
	"context"
	"errors"
	"fmt"
)

// ErrInventory 是所有库存网关错误的哨兵值
var ErrInventory = errors.New("inventory gateway failed")

// FailureKind 区分下游明确拒绝与下游不可用
type FailureKind string

const (
	FailureRejected    FailureKind = "rejected"
	FailureUnavailable FailureKind = "unavailable"
)

// InventoryService 是库存服务的出站端口。
type InventoryService interface {
	// DecreaseStock 扣减商品库存。orderID 作为幂等键透传给下游。
	// 任何失败（包括超时与网络错误）都以 *InventoryError 返回。
	DecreaseStock(ctx context.Context, orderID string, productID int64, quantity int) error
}

// InventoryError 描述一次失败的库存扣减
type InventoryError struct {
	ProductID int64
	Quantity  int
	Kind      FailureKind
	Reason    string
	Err       error
}

func (e *InventoryError) Error() string {
	return fmt.Sprintf("%v: product %d qty %d: %s: %s", ErrInventory, e.ProductID, e.Quantity, e.Kind, e.Reason)
}

func (e *InventoryError) Unwrap() error { return e.Err }

func (e *InventoryError) Is(target error) bool { return target == ErrInventory }

// Retryable 只有下游不可用时重试才有意义
func (e *InventoryError) Retryable() bool { return e.Kind == FailureUnavailable }
