// internal/pkg/lock/zookeeper.go
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
)

const lockRoot = "/eventix/inventory_locks" // 所有台账锁的根节点

// ZKLocker 是 KeyLocker 的 ZooKeeper 实现，用于多实例部署：
// 不同进程对同一活动的台账写入也会被串行化。
// 锁节点是临时顺序节点，会话断开后自动释放，不会遗留死锁。
type ZKLocker struct {
	conn *zk.Conn
}

// NewZKLocker 连接 ZooKeeper 集群并确保锁根节点存在。
func NewZKLocker(servers []string, sessionTimeout time.Duration) (*ZKLocker, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	if err := ensurePath(conn, lockRoot); err != nil {
		conn.Close()
		return nil, err
	}
	return &ZKLocker{conn: conn}, nil
}

// Acquire 实现 KeyLocker。ctx 的截止时间无法中断 zk 客户端的
// 阻塞等待，这里只在进入时做一次快速检查。
func (z *ZKLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := zk.NewLock(z.conn, lockRoot+"/"+key, zk.WorldACL(zk.PermAll))
	if err := l.Lock(); err != nil {
		return nil, fmt.Errorf("failed to acquire zk lock for %s: %w", key, err)
	}
	return func() {
		// Unlock 失败意味着会话已断开，此时节点会被服务端自动清理
		_ = l.Unlock()
	}, nil
}

// Close 关闭底层连接。
func (z *ZKLocker) Close() {
	z.conn.Close()
}

func ensurePath(conn *zk.Conn, path string) error {
	exists, _, err := conn.Exists(path)
	if err != nil {
		return fmt.Errorf("failed to check zk path %s: %w", path, err)
	}
	if exists {
		return nil
	}
	// 逐级创建，父节点可能同样缺失
	acl := zk.WorldACL(zk.PermAll)
	partial := ""
	for _, seg := range splitPath(path) {
		partial += "/" + seg
		_, err := conn.Create(partial, []byte{}, 0, acl)
		if err != nil && err != zk.ErrNodeExists {
			return fmt.Errorf("failed to create zk path %s: %w", partial, err)
		}
	}
	return nil
}

func splitPath(path string) []string {
	var segs []string
	cur := ""
	for _, c := range path {
		if c == '/' {
			if cur != "" {
				segs = append(segs, cur)
				cur = ""
			}
			continue
		}
		cur += string(c)
	}
	if cur != "" {
		segs = append(segs, cur)
	}
	return segs
}
