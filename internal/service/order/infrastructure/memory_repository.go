package infrastructure

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"orderflow/internal/pkg/lock"
	"orderflow/internal/service/order/domain"
)

// MemoryOrderRepository 是进程内的订单仓储，读出的都是副本。
// 同一订单上的 Update 通过按 key 的互斥锁串行化。
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
	order  []string // 插入顺序
	keys   *lock.KeyedMutex
	newID  func() string
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders: make(map[string]*domain.Order),
		keys:   lock.NewKeyedMutex(),
		newID:  uuid.NewString,
	}
}

func (r *MemoryOrderRepository) Save(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		r.mu.Lock()
		defer r.mu.Unlock()
		stored := order.Clone()
		stored.ID = r.newID()
		r.orders[stored.ID] = stored
		r.order = append(r.order, stored.ID)
		return stored.Clone(), nil
	}

	unlock := r.keys.Lock(order.ID)
	defer unlock()
	return r.overwrite(order)
}

// overwrite 覆盖已存在订单的可变字段；ID 不存在时按给定 ID 插入
func (r *MemoryOrderRepository) overwrite(order *domain.Order) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[order.ID]
	if !ok {
		stored = order.Clone()
		r.orders[stored.ID] = stored
		r.order = append(r.order, stored.ID)
		return stored.Clone(), nil
	}
	stored.ApplyMutable(order)
	return stored.Clone(), nil
}

func (r *MemoryOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.NotFound(id)
	}
	return o.Clone(), nil
}

func (r *MemoryOrderRepository) filter(match func(*domain.Order) bool) []*domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Order, 0)
	for _, id := range r.order {
		if o, ok := r.orders[id]; ok && match(o) {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (r *MemoryOrderRepository) FindAll(ctx context.Context) ([]*domain.Order, error) {
	return r.filter(func(*domain.Order) bool { return true }), nil
}

func (r *MemoryOrderRepository) FindByUserID(ctx context.Context, userID string) ([]*domain.Order, error) {
	return r.filter(func(o *domain.Order) bool { return o.UserID == userID }), nil
}

func (r *MemoryOrderRepository) FindByStatus(ctx context.Context, status domain.Status) ([]*domain.Order, error) {
	return r.filter(func(o *domain.Order) bool { return o.Status == status }), nil
}

func (r *MemoryOrderRepository) FindByUserIDAndStatus(ctx context.Context, userID string, status domain.Status) ([]*domain.Order, error) {
	return r.filter(func(o *domain.Order) bool { return o.UserID == userID && o.Status == status }), nil
}

func (r *MemoryOrderRepository) FindByPaymentStatus(ctx context.Context, status domain.PaymentStatus) ([]*domain.Order, error) {
	return r.filter(func(o *domain.Order) bool { return o.PaymentStatus == status }), nil
}

func (r *MemoryOrderRepository) ExistsByID(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.orders[id]
	return ok, nil
}

func (r *MemoryOrderRepository) DeleteByID(ctx context.Context, id string) (bool, error) {
	unlock := r.keys.Lock(id)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[id]; !ok {
		return false, nil
	}
	delete(r.orders, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (r *MemoryOrderRepository) Update(ctx context.Context, id string, fn domain.MutateFunc) (*domain.Order, error) {
	unlock, err := r.keys.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock(ctx)

	current, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(current); err != nil {
		return nil, err
	}
	current.ID = id
	return r.overwrite(current)
}
