// internal/service/ticket/domain/reservation.go
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reservation 是预订聚合的根实体。
// 记录只会被终态化，永远不会被删除。
type Reservation struct {
	ID             string
	EventID        string
	UserID         string
	Quantity       int
	Status         Status
	HoldExpiresAt  time.Time // 仅在 PENDING 期间有意义，终态后可能是陈旧值
	CreatedAt      time.Time
	UpdatedAt      time.Time
	IdempotencyKey string // 可选；存在时全局唯一
	Version        int64  // 乐观锁版本号
}

// NewReservation 工厂函数，创建一个 PENDING 状态的新预订（临时持有）。
func NewReservation(eventID, userID string, quantity int, holdExpiresAt time.Time, idempotencyKey string, now time.Time) (*Reservation, error) {
	if eventID == "" {
		return nil, fmt.Errorf("%w: eventId is required", ErrValidation)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", ErrValidation, quantity)
	}

	return &Reservation{
		ID:             uuid.New().String(),
		EventID:        eventID,
		UserID:         userID,
		Quantity:       quantity,
		Status:         StatusPending,
		HoldExpiresAt:  holdExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
		IdempotencyKey: idempotencyKey,
	}, nil
}

// IsActive 判断预订是否仍占用库存语义上的名额。
func (r *Reservation) IsActive() bool {
	return r.Status == StatusPending || r.Status == StatusConfirmed
}

// IsExpired 判断持有期限是否已过。
func (r *Reservation) IsExpired(now time.Time) bool {
	return !r.HoldExpiresAt.IsZero() && now.After(r.HoldExpiresAt)
}

// CanConfirm 只有未过期的 PENDING 预订可以被确认。
func (r *Reservation) CanConfirm(now time.Time) bool {
	return r.Status == StatusPending && !r.IsExpired(now)
}

// CanRelease 活跃预订（PENDING 或 CONFIRMED）可以被取消。
func (r *Reservation) CanRelease() bool {
	return r.IsActive()
}

// Confirm 将预订流转为 CONFIRMED。
// 过期的持有返回 ExpiredError 而不是笼统的 InvalidStateError。
func (r *Reservation) Confirm(now time.Time) error {
	if r.Status == StatusPending && r.IsExpired(now) {
		return &ExpiredError{ReservationID: r.ID, HoldExpiresAt: r.HoldExpiresAt}
	}
	return r.transition(StatusConfirmed, now)
}

// Cancel 将预订流转为 CANCELED。
func (r *Reservation) Cancel(now time.Time) error {
	return r.transition(StatusCanceled, now)
}

// Expire 将 PENDING 预订流转为 EXPIRED，只允许清扫器路径使用。
func (r *Reservation) Expire(now time.Time) error {
	return r.transition(StatusExpired, now)
}

// transition 统一通过流转表校验并落地状态变更。
func (r *Reservation) transition(to Status, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return &InvalidStateError{
			ReservationID: r.ID,
			Current:       r.Status,
			Expected:      StatusPending,
		}
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}
