package lock

import (
	"context"
	"sync"
)

// KeyedMutex 是进程内按 key 划分的互斥锁，空闲的 key 会被回收。
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyEntry
}

type keyEntry struct {
	sem  chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyEntry)}
}

func (m *KeyedMutex) ref(key string) *keyEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &keyEntry{sem: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *KeyedMutex) unref(key string, e *keyEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// Lock 阻塞直到拿到 key 的锁，返回释放函数。
func (m *KeyedMutex) Lock(key string) func() {
	e := m.ref(key)
	e.sem <- struct{}{}
	return func() {
		<-e.sem
		m.unref(key, e)
	}
}

// Acquire 实现 Locker，等待期间尊重 ctx 的取消。
func (m *KeyedMutex) Acquire(ctx context.Context, key string) (Unlock, error) {
	e := m.ref(key)
	select {
	case e.sem <- struct{}{}:
		return func(context.Context) error {
			<-e.sem
			m.unref(key, e)
			return nil
		}, nil
	case <-ctx.Done():
		m.unref(key, e)
		return nil, ErrTimeout
	}
}

// size 返回当前仍被持有或等待的 key 数量
func (m *KeyedMutex) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
