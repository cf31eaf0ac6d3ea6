package infrastructure

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"orderflow/internal/service/order/domain"
)

// GormOrderRepository 是 OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository 创建一个新的 GORM 仓储实例
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// OpenMySQL 打开 MySQL 连接并设置连接池
func OpenMySQL(dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(maxLifetime)
	}
	return db, nil
}

// Save 插入新订单（分配 ID），或只更新已存在订单的可变列
func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		model := FromDomainOrder(order)
		model.ID = uuid.NewString()
		if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
			return nil, errors.Wrap(err, "insert order")
		}
		return ToDomainOrder(model), nil
	}

	var saved *domain.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model OrderModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", order.ID).Take(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			model = *FromDomainOrder(order)
			if err := tx.Create(&model).Error; err != nil {
				return errors.Wrap(err, "insert order")
			}
			saved = ToDomainOrder(&model)
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "lock order")
		}
		current := ToDomainOrder(&model)
		current.ApplyMutable(order)
		if err := tx.Model(&OrderModel{}).Where("id = ?", order.ID).Updates(mutableColumns(current)).Error; err != nil {
			return errors.Wrap(err, "update order")
		}
		saved = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// FindByID 使用 GORM 从数据库中查找订单
func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFound(id)
		}
		return nil, errors.Wrapf(err, "find order %s", id)
	}
	return ToDomainOrder(&model), nil
}

func (r *GormOrderRepository) find(ctx context.Context, query string, args ...interface{}) ([]*domain.Order, error) {
	var models []OrderModel
	tx := r.db.WithContext(ctx)
	if query != "" {
		tx = tx.Where(query, args...)
	}
	if err := tx.Order("order_date ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return toDomainOrders(models), nil
}

func (r *GormOrderRepository) FindAll(ctx context.Context) ([]*domain.Order, error) {
	return r.find(ctx, "")
}

func (r *GormOrderRepository) FindByUserID(ctx context.Context, userID string) ([]*domain.Order, error) {
	return r.find(ctx, "user_id = ?", userID)
}

func (r *GormOrderRepository) FindByStatus(ctx context.Context, status domain.Status) ([]*domain.Order, error) {
	return r.find(ctx, "status = ?", string(status))
}

func (r *GormOrderRepository) FindByUserIDAndStatus(ctx context.Context, userID string, status domain.Status) ([]*domain.Order, error) {
	return r.find(ctx, "user_id = ? AND status = ?", userID, string(status))
}

func (r *GormOrderRepository) FindByPaymentStatus(ctx context.Context, status domain.PaymentStatus) ([]*domain.Order, error) {
	return r.find(ctx, "payment_status = ?", string(status))
}

func (r *GormOrderRepository) ExistsByID(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&OrderModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, errors.Wrapf(err, "check order %s", id)
	}
	return count > 0, nil
}

func (r *GormOrderRepository) DeleteByID(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&OrderModel{})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "delete order %s", id)
	}
	return res.RowsAffected > 0, nil
}

// Update 在 SELECT ... FOR UPDATE 的事务内执行读-改-写
func (r *GormOrderRepository) Update(ctx context.Context, id string, fn domain.MutateFunc) (*domain.Order, error) {
	var updated *domain.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model OrderModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NotFound(id)
		}
		if err != nil {
			return errors.Wrapf(err, "lock order %s", id)
		}
		current := ToDomainOrder(&model)
		if err := fn(current); err != nil {
			return err
		}
		if err := tx.Model(&OrderModel{}).Where("id = ?", id).Updates(mutableColumns(current)).Error; err != nil {
			return errors.Wrapf(err, "update order %s", id)
		}
		current.ID = id
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
