// internal/service/ticket/domain/port/idempotency.go
package port

import "context"

// IdempotencyRegistry 是幂等键的原子认领端口。
//
// 单纯的“查库再插入”在两个首次请求并发到达同一个新键时会双双穿过，
// 这个端口把认领动作收敛成单条原子操作来堵住该竞态：
// 第一个调用方 Claim 成功并负责创建预订，随后 Bind 键和预订 ID；
// 后来者 Claim 失败，拿到已绑定的预订 ID（或在绑定完成前拿到空串）。
type IdempotencyRegistry interface {
	// Claim 尝试原子认领 key。owned 为 true 表示本调用方获得创建权；
	// 否则 reservationID 是已绑定的预订 ID，绑定尚未完成时为空串。
	Claim(ctx context.Context, key string) (owned bool, reservationID string, err error)

	// Bind 在预订持久化成功后把 key 指向 reservationID。
	Bind(ctx context.Context, key, reservationID string) error

	// Release 在创建失败时撤销认领，允许后续请求重试该键。
	Release(ctx context.Context, key string) error
}
