// Package lock 提供按 key 互斥的锁，支持进程内、Redis 与 ZooKeeper 三种后端。
package lock

import (
	"context"
	"errors"
)

var (
	// ErrTimeout 表示在等待时间内没有拿到锁
	ErrTimeout = errors.New("lock: timed out waiting for lock")
	// ErrLost 表示释放时发现锁已不属于自己（过期或被抢占）
	ErrLost = errors.New("lock: lock was lost before release")
)

// Unlock 释放一把已获取的锁
type Unlock func(ctx context.Context) error

// Locker 按 key 串行化临界区
type Locker interface {
	Acquire(ctx context.Context, key string) (Unlock, error)
}
