// internal/pkg/lock/lock.go
package lock

import "context"

// KeyLocker 对某个资源键提供互斥锁。
// 台账的所有写入路径（同步预占、清扫器、支付消费者）都必须经过
// 同一把按活动分片的锁，不同活动之间完全并行。
type KeyLocker interface {
	// Acquire 阻塞直到拿到 key 对应的互斥锁，返回释放函数。
	// ctx 取消或实现方超时会返回错误，此时不持有锁。
	Acquire(ctx context.Context, key string) (release func(), err error)
}
