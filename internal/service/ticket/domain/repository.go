// internal/service/ticket/domain/repository.go
package domain

import (
	"context"
	"time"
)

// InventoryRepository 定义了库存台账的持久化接口。
// 它位于领域层，但由基础设施层实现。
type InventoryRepository interface {
	// FindByEventID 查找台账行，不存在时返回 ErrInventoryNotFound。
	FindByEventID(ctx context.Context, eventID string) (*Inventory, error)

	// Save 创建或更新台账行。
	Save(ctx context.Context, inv *Inventory) error
}

// ReservationRepository 定义了预订记录的持久化接口。
type ReservationRepository interface {
	// Save 创建或更新一条预订。
	Save(ctx context.Context, r *Reservation) error

	// FindByID 按主键查找，不存在时返回 ErrReservationNotFound。
	FindByID(ctx context.Context, id string) (*Reservation, error)

	// FindByIdempotencyKey 按幂等键查找，未命中时返回 ErrReservationNotFound。
	FindByIdempotencyKey(ctx context.Context, key string) (*Reservation, error)

	// FindByUserID 返回用户的全部预订，按创建时间倒序，不做状态过滤。
	FindByUserID(ctx context.Context, userID string) ([]*Reservation, error)

	// FindExpired 返回持有期限早于 now 的 PENDING 预订，最多 limit 条，供清扫器回收。
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*Reservation, error)
}

// TicketRepository 定义了票据的持久化接口。票据不可变，只有创建和查询。
type TicketRepository interface {
	Save(ctx context.Context, t *Ticket) error
	FindByReservationID(ctx context.Context, reservationID string) (*Ticket, error)
}
