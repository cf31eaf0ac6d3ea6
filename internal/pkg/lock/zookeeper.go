// internal/pkg/lock/zookeeper.go
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZookeeperLocker 使用临时顺序节点实现公平的分布式锁。
// 每个 key 对应 root 下的一个父节点，等待者只监听前一个节点，避免羊群效应。
type ZookeeperLocker struct {
	conn *zk.Conn
	root string
	wait time.Duration
}

// NewZookeeperLocker 连接 ZooKeeper 并确保锁的根节点存在。
func NewZookeeperLocker(servers []string, sessionTimeout time.Duration, root string, wait time.Duration) (*ZookeeperLocker, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("lock: connect zookeeper: %w", err)
	}
	l := &ZookeeperLocker{conn: conn, root: strings.TrimRight(root, "/"), wait: wait}
	if err := l.ensurePath(l.root); err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}

func (l *ZookeeperLocker) Close() {
	l.conn.Close()
}

// ensurePath 逐级创建持久节点，已存在则忽略
func (l *ZookeeperLocker) ensurePath(path string) error {
	current := ""
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		current += "/" + part
		_, err := l.conn.Create(current, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("lock: create %s: %w", current, err)
		}
	}
	return nil
}

// Acquire 尝试获取锁，如果获取不到则阻塞等待，直到 ctx 结束或超过等待时间
func (l *ZookeeperLocker) Acquire(ctx context.Context, key string) (Unlock, error) {
	lockPath := l.root + "/" + strings.ReplaceAll(key, "/", "_")
	if err := l.ensurePath(lockPath); err != nil {
		return nil, err
	}

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	nodePath, err := l.conn.CreateProtectedEphemeralSequential(lockPath+"/lock-", nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, fmt.Errorf("lock: create sequential node: %w", err)
	}
	myNode := strings.TrimPrefix(nodePath, lockPath+"/")
	unlock := func(context.Context) error {
		err := l.conn.Delete(nodePath, -1)
		if err != nil && !errors.Is(err, zk.ErrNoNode) {
			return fmt.Errorf("lock: delete %s: %w", nodePath, err)
		}
		return nil
	}

	for {
		children, _, err := l.conn.Children(lockPath)
		if err != nil {
			_ = unlock(ctx)
			return nil, fmt.Errorf("lock: list children: %w", err)
		}
		prev, first := predecessor(children, myNode)
		if first {
			return unlock, nil
		}
		if prev == "" {
			_ = unlock(ctx)
			return nil, fmt.Errorf("lock: own node %s disappeared", myNode)
		}

		exists, _, events, err := l.conn.ExistsW(lockPath + "/" + prev)
		if err != nil {
			_ = unlock(ctx)
			return nil, fmt.Errorf("lock: watch previous node: %w", err)
		}
		if !exists {
			continue
		}
		select {
		case <-events:
		case <-ctx.Done():
			_ = unlock(context.Background())
			return nil, ErrTimeout
		}
	}
}

// predecessor 按顺序号排序子节点，返回排在 self 前面的节点。
// 受保护节点带有随机 GUID 前缀，不能直接按字符串排序。
func predecessor(children []string, self string) (prev string, first bool) {
	sorted := append([]string(nil), children...)
	sort.Slice(sorted, func(i, j int) bool { return sequence(sorted[i]) < sequence(sorted[j]) })
	for i, child := range sorted {
		if child == self {
			if i == 0 {
				return "", true
			}
			return sorted[i-1], false
		}
	}
	return "", false
}

// sequence 取节点名末尾 10 位顺序号
func sequence(node string) string {
	if len(node) < 10 {
		return node
	}
	return node[len(node)-10:]
}
