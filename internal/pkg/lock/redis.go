package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript 只删除仍由自己持有的锁
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisLocker 基于 SET NX PX 的单实例分布式锁。
type RedisLocker struct {
	client       redis.Cmdable
	prefix       string
	ttl          time.Duration
	wait         time.Duration
	pollInterval time.Duration
	newToken     func() string
}

func NewRedisLocker(client redis.Cmdable, prefix string, ttl, wait, pollInterval time.Duration) *RedisLocker {
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	return &RedisLocker{
		client:       client,
		prefix:       prefix,
		ttl:          ttl,
		wait:         wait,
		pollInterval: pollInterval,
		newToken:     uuid.NewString,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Unlock, error) {
	redisKey := l.prefix + key
	token := l.newToken()

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("lock: setnx %s: %w", redisKey, err)
		}
		if ok {
			return l.release(redisKey, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) release(redisKey, token string) Unlock {
	return func(ctx context.Context) error {
		n, err := l.client.Eval(ctx, releaseScript, []string{redisKey}, token).Int64()
		if err != nil {
			return fmt.Errorf("lock: release %s: %w", redisKey, err)
		}
		if n == 0 {
			return ErrLost
		}
		return nil
	}
}
