package infrastructure

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"orderflow/internal/pkg/logger"
	"orderflow/internal/service/order/domain"
)

const orderCachePrefix = "order:"

// 缓存条目是一个 hash：version 为订单 UpdatedAt 的微秒数，data 为订单 JSON。
// 删除时写入 data 为空、version 为 tombstoneVersion 的墓碑，挡住迟到的回填。
const (
	cacheFieldData = "data"

	cacheModeFill  = "fill"
	cacheModeWrite = "write"

	tombstoneVersion = "9007199254740992"
)

// storeScript 原子地写入缓存条目。
// fill：条目已存在（包括墓碑）则放弃，读路径的回填永远不会覆盖写路径的结果。
// write：仅当已缓存的版本不比新版本新时覆盖。
const storeScript = `local cur = redis.call("hget", KEYS[1], "version")
if ARGV[4] == "fill" and cur then
	return 0
end
if cur and tonumber(cur) > tonumber(ARGV[2]) then
	return 0
end
redis.call("hset", KEYS[1], "version", ARGV[2], "data", ARGV[1])
redis.call("pexpire", KEYS[1], ARGV[3])
return 1`

// CachedOrderRepository 在 FindByID 前加一层 Redis 旁路缓存。
// 写操作落库后把新值按版本写回缓存；Redis 故障只记日志，不影响读写结果。
type CachedOrderRepository struct {
	domain.OrderRepository
	client redis.Cmdable
	ttl    time.Duration
	group  singleflight.Group
}

func NewCachedOrderRepository(inner domain.OrderRepository, client redis.Cmdable, ttl time.Duration) *CachedOrderRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedOrderRepository{OrderRepository: inner, client: client, ttl: ttl}
}

func cacheKey(id string) string {
	return orderCachePrefix + id
}

func cacheVersion(o *domain.Order) string {
	return strconv.FormatInt(o.UpdatedAt.UnixMicro(), 10)
}

func (r *CachedOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	if cached, ok := r.get(ctx, id); ok {
		return cached, nil
	}

	// 加载在所有等待者之间共享，不能随首个调用方一起被取消
	ch := r.group.DoChan(id, func() (interface{}, error) {
		loadCtx := context.WithoutCancel(ctx)
		order, err := r.OrderRepository.FindByID(loadCtx, id)
		if err != nil {
			return nil, err
		}
		r.store(loadCtx, order.ID, order, cacheVersion(order), cacheModeFill)
		return order, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// singleflight 的结果被所有等待者共享，返回副本
		return res.Val.(*domain.Order).Clone(), nil
	}
}

func (r *CachedOrderRepository) Save(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	saved, err := r.OrderRepository.Save(ctx, order)
	if err != nil {
		return nil, err
	}
	r.store(ctx, saved.ID, saved, cacheVersion(saved), cacheModeWrite)
	return saved, nil
}

func (r *CachedOrderRepository) Update(ctx context.Context, id string, fn domain.MutateFunc) (*domain.Order, error) {
	updated, err := r.OrderRepository.Update(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	r.store(ctx, id, updated, cacheVersion(updated), cacheModeWrite)
	return updated, nil
}

func (r *CachedOrderRepository) DeleteByID(ctx context.Context, id string) (bool, error) {
	deleted, err := r.OrderRepository.DeleteByID(ctx, id)
	if err != nil {
		return false, err
	}
	r.store(ctx, id, nil, tombstoneVersion, cacheModeWrite)
	return deleted, nil
}

func (r *CachedOrderRepository) get(ctx context.Context, id string) (*domain.Order, bool) {
	raw, err := r.client.HGet(ctx, cacheKey(id), cacheFieldData).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", id).Msg("order cache read failed")
		return nil, false
	}
	if len(raw) == 0 { // 墓碑
		return nil, false
	}
	var order domain.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", id).Msg("discarding corrupt order cache entry")
		if err := r.client.Del(ctx, cacheKey(id)).Err(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("order_id", id).Msg("order cache invalidation failed")
		}
		return nil, false
	}
	return &order, true
}

// store 执行 storeScript；order 为 nil 时写入墓碑
func (r *CachedOrderRepository) store(ctx context.Context, id string, order *domain.Order, version, mode string) {
	var payload []byte
	if order != nil {
		var err error
		if payload, err = json.Marshal(order); err != nil {
			return
		}
	}
	err := r.client.Eval(ctx, storeScript, []string{cacheKey(id)},
		string(payload), version, r.ttl.Milliseconds(), mode).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", id).Str("mode", mode).Msg("order cache write failed")
	}
}
