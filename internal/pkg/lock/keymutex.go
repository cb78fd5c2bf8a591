// internal/pkg/lock/keymutex.go
package lock

import (
	"context"
	"sync"
)

// KeyMutex 是 KeyLocker 的进程内实现：每个键一把互斥锁，
// 引用计数归零后回收条目，键空间不会无限增长。
// 单实例部署用它就够了；多实例部署换 ZKLocker。
type KeyMutex struct {
	mu      sync.Mutex
	entries map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyMutex 创建一个空的键锁表。
func NewKeyMutex() *KeyMutex {
	return &KeyMutex{entries: make(map[string]*keyEntry)}
}

// Acquire 实现 KeyLocker。
func (k *KeyMutex) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return func() {
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.entries, key)
			}
			k.mu.Unlock()
		}, nil
	case <-ctx.Done():
		// 后台 goroutine 最终还是会拿到锁，拿到后立即释放并退还引用计数
		go func() {
			<-acquired
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.entries, key)
			}
			k.mu.Unlock()
		}()
		return nil, ctx.Err()
	}
}
