package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/service/order/domain"
)

const testCacheTTL = 5 * time.Minute

// countingRepository 统计穿透到底层仓储的次数
type countingRepository struct {
	*MemoryOrderRepository
	finds int
}

func (r *countingRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	r.finds++
	return r.MemoryOrderRepository.FindByID(ctx, id)
}

// gatedRepository 在 FindByID 读到数据后停住，直到 release 被关闭
type gatedRepository struct {
	*MemoryOrderRepository
	entered chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func newGatedRepository() *gatedRepository {
	return &gatedRepository{
		MemoryOrderRepository: NewMemoryOrderRepository(),
		entered:               make(chan struct{}),
		release:               make(chan struct{}),
		ctxErr:                make(chan error, 1),
	}
}

func (r *gatedRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := r.MemoryOrderRepository.FindByID(ctx, id)
	close(r.entered)
	<-r.release
	r.ctxErr <- ctx.Err()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return order, err
}

func expectStore(mock redismock.ClientMock, id string, order *domain.Order, version, mode string) *redismock.ExpectedCmd {
	var payload []byte
	if order != nil {
		payload, _ = json.Marshal(order)
	}
	return mock.ExpectEval(storeScript, []string{cacheKey(id)}, string(payload), version, testCacheTTL.Milliseconds(), mode)
}

func TestCachedRepositoryMissLoadsAndFills(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepository{MemoryOrderRepository: NewMemoryOrderRepository()}
	saved, err := inner.Save(ctx, pendingOrder(t, "u1", 101))
	require.NoError(t, err)

	client, mock := redismock.NewClientMock()
	mock.ExpectHGet(cacheKey(saved.ID), cacheFieldData).RedisNil()
	expectStore(mock, saved.ID, saved, cacheVersion(saved), cacheModeFill).SetVal(int64(1))

	repo := NewCachedOrderRepository(inner, client, testCacheTTL)
	found, err := repo.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, found.ID)
	assert.Equal(t, 1, inner.finds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedRepositoryHitSkipsStore(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepository{MemoryOrderRepository: NewMemoryOrderRepository()}

	cached := pendingOrder(t, "u1", 101)
	cached.ID = "o-1"
	payload, _ := json.Marshal(cached)

	client, mock := redismock.NewClientMock()
	mock.ExpectHGet(cacheKey("o-1"), cacheFieldData).SetVal(string(payload))

	repo := NewCachedOrderRepository(inner, client, testCacheTTL)
	found, err := repo.FindByID(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", found.UserID)
	assert.Equal(t, created, found.CreatedAt)
	assert.Equal(t, 0, inner.finds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedRepositoryTombstoneFallsThrough(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectHGet(cacheKey("gone"), cacheFieldData).SetVal("")

	repo := NewCachedOrderRepository(NewMemoryOrderRepository(), client, testCacheTTL)
	_, err := repo.FindByID(context.Background(), "gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedRepositoryFallsBackWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepository{MemoryOrderRepository: NewMemoryOrderRepository()}
	saved, _ := inner.Save(ctx, pendingOrder(t, "u1", 101))

	client, mock := redismock.NewClientMock()
	mock.ExpectHGet(cacheKey(saved.ID), cacheFieldData).SetErr(errors.New("connection refused"))
	// 随后的回填没有预期，mock 会返回错误，仓储只记日志

	repo := NewCachedOrderRepository(inner, client, testCacheTTL)
	found, err := repo.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, found.ID)
}

func TestCachedRepositoryNotFoundIsNotCached(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectHGet(cacheKey("ghost"), cacheFieldData).RedisNil()

	repo := NewCachedOrderRepository(NewMemoryOrderRepository(), client, testCacheTTL)
	_, err := repo.FindByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedRepositoryWritesThroughAndTombstonesDeletes(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryOrderRepository()
	saved, _ := inner.Save(ctx, pendingOrder(t, "u1", 101))

	confirmed := saved.Clone()
	require.NoError(t, confirmed.TransitionTo(domain.StatusConfirmed, created.Add(time.Minute)))

	client, mock := redismock.NewClientMock()
	expectStore(mock, saved.ID, confirmed, cacheVersion(confirmed), cacheModeWrite).SetVal(int64(1))
	expectStore(mock, saved.ID, nil, tombstoneVersion, cacheModeWrite).SetVal(int64(1))

	repo := NewCachedOrderRepository(inner, client, testCacheTTL)
	_, err := repo.Update(ctx, saved.ID, func(o *domain.Order) error {
		return o.TransitionTo(domain.StatusConfirmed, created.Add(time.Minute))
	})
	require.NoError(t, err)
	deleted, err := repo.DeleteByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 读路径加载旧值期间发生更新：更新按版本写回，迟到的回填只能走 fill 模式，
// 不会把旧值盖回缓存。
func TestCachedRepositoryLateFillCannotOverwriteUpdate(t *testing.T) {
	ctx := context.Background()
	inner := newGatedRepository()
	saved, err := inner.Save(ctx, pendingOrder(t, "u1", 101))
	require.NoError(t, err)

	confirmed := saved.Clone()
	require.NoError(t, confirmed.TransitionTo(domain.StatusConfirmed, created.Add(time.Minute)))
	confirmedPayload, _ := json.Marshal(confirmed)

	client, mock := redismock.NewClientMock()
	mock.ExpectHGet(cacheKey(saved.ID), cacheFieldData).RedisNil()
	expectStore(mock, saved.ID, confirmed, cacheVersion(confirmed), cacheModeWrite).SetVal(int64(1))
	// Lua 脚本发现条目已存在，放弃回填
	expectStore(mock, saved.ID, saved, cacheVersion(saved), cacheModeFill).SetVal(int64(0))
	mock.ExpectHGet(cacheKey(saved.ID), cacheFieldData).SetVal(string(confirmedPayload))

	repo := NewCachedOrderRepository(inner, client, testCacheTTL)

	type result struct {
		order *domain.Order
		err   error
	}
	stale := make(chan result, 1)
	go func() {
		o, err := repo.FindByID(ctx, saved.ID)
		stale <- result{o, err}
	}()

	<-inner.entered
	_, err = repo.Update(ctx, saved.ID, func(o *domain.Order) error {
		return o.TransitionTo(domain.StatusConfirmed, created.Add(time.Minute))
	})
	require.NoError(t, err)
	close(inner.release)

	first := <-stale
	require.NoError(t, first.err)
	// 并发中的读者可以看到更新前的值，但之后的读取必须是新值
	assert.Equal(t, domain.StatusPending, first.order.Status)

	after, err := repo.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, after.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedRepositoryLoadSurvivesCallerCancel(t *testing.T) {
	inner := newGatedRepository()
	saved, err := inner.Save(context.Background(), pendingOrder(t, "u1", 101))
	require.NoError(t, err)

	client, mock := redismock.NewClientMock()
	mock.ExpectHGet(cacheKey(saved.ID), cacheFieldData).RedisNil()

	repo := NewCachedOrderRepository(inner, client, testCacheTTL)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := repo.FindByID(ctx, saved.ID)
		done <- err
	}()

	<-inner.entered
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// 共享的加载不受调用方取消影响
	close(inner.release)
	assert.NoError(t, <-inner.ctxErr)
}
