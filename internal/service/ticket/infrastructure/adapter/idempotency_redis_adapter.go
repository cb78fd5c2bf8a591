package adapter

import (
	"context"
	"fmt"
	"time"

	"eventix/internal/pkg/redis"
)

const (
	claimScriptName = "idempotency_claim"

	// 认领占位符，Bind 之后被真实的预订 ID 覆盖
	claimPlaceholder = "__claimed__"

	// 认领和绑定记录的存活时间。超过这个窗口的重放请求会退回
	// 存储层的幂等键查询，所以过期只影响快速路径，不影响正确性。
	claimTTL = 24 * time.Hour
)

// claimScript 原子地认领一个幂等键：
// 键不存在时写入占位符并返回 1，否则返回 0 和当前值。
const claimScript = `
local current = redis.call('GET', KEYS[1])
if current == false then
    redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
    return {1, ''}
end
return {0, current}
`

// IdempotencyRedisAdapter 是 port.IdempotencyRegistry 的 Redis 实现，
// 用 Lua 脚本保证认领的原子性。
type IdempotencyRedisAdapter struct {
	redisClient *redis.Client
}

// NewIdempotencyRedisAdapter 创建幂等键注册表适配器，创建时加载 Lua 脚本。
func NewIdempotencyRedisAdapter(redisClient *redis.Client) (*IdempotencyRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(claimScriptName, claimScript); err != nil {
		return nil, fmt.Errorf("failed to load idempotency claim script: %w", err)
	}
	return &IdempotencyRedisAdapter{redisClient: redisClient}, nil
}

func claimKey(key string) string {
	return fmt.Sprintf("ticket:idem:{%s}", key)
}

// Claim 原子认领幂等键。
func (a *IdempotencyRedisAdapter) Claim(ctx context.Context, key string) (bool, string, error) {
	result, err := a.redisClient.RunScript(ctx, claimScriptName,
		[]string{claimKey(key)}, claimPlaceholder, claimTTL.Milliseconds())
	if err != nil {
		return false, "", fmt.Errorf("idempotency adapter failed to run claim script: %w", err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) != 2 {
		return false, "", fmt.Errorf("unexpected result shape from claim script: %T", result)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return false, "", fmt.Errorf("unexpected result code type from claim script: %T", parts[0])
	}
	if code == 1 {
		return true, "", nil
	}

	bound, _ := parts[1].(string)
	if bound == claimPlaceholder {
		bound = ""
	}
	return false, bound, nil
}

// Bind 把已认领的键指向预订 ID，保留与认领同样的 TTL。
func (a *IdempotencyRedisAdapter) Bind(ctx context.Context, key, reservationID string) error {
	return a.redisClient.GetClient().Set(ctx, claimKey(key), reservationID, claimTTL).Err()
}

// Release 撤销认领。
func (a *IdempotencyRedisAdapter) Release(ctx context.Context, key string) error {
	return a.redisClient.GetClient().Del(ctx, claimKey(key)).Err()
}
