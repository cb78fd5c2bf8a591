// internal/service/ticket/domain/errors.go
package domain

import (
	"errors"
	"fmt"
	"time"
)

// 哨兵错误，供接口层用 errors.Is 映射到 HTTP 状态码。
var (
	ErrReservationNotFound   = errors.New("reservation not found")
	ErrInventoryNotFound     = errors.New("inventory not found")
	ErrValidation            = errors.New("validation failed")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInvalidState          = errors.New("invalid reservation state")
	ErrReservationExpired    = errors.New("reservation hold expired")
	ErrCategoryLimitExceeded = errors.New("category limit exceeded")
	ErrIdempotencyConflict   = errors.New("concurrent reservation with the same idempotency key")
)

// InsufficientStockError 携带拒绝预占时的请求量与可用量。
type InsufficientStockError struct {
	EventID   string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for event %s: requested %d, available %d",
		e.EventID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// InvalidStateError 描述一次被流转表拒绝的状态变更。
type InvalidStateError struct {
	ReservationID string
	Current       Status
	Expected      Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("reservation %s is %s, expected %s",
		e.ReservationID, e.Current, e.Expected)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// ExpiredError 表示确认时持有已过期。区别于一般的 InvalidState，
// 因为此时预订仍是 PENDING，只是时间上不再可确认。
type ExpiredError struct {
	ReservationID string
	HoldExpiresAt time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("reservation %s expired at %s",
		e.ReservationID, e.HoldExpiresAt.Format(time.RFC3339))
}

func (e *ExpiredError) Is(target error) bool {
	return target == ErrReservationExpired
}

// CategoryLimitError 目前未被策略抛出：请求量超过品类上限时会被静默
// 压到上限而不是拒绝。保留类型是为了将来切换为拒绝模式时只改策略一处。
type CategoryLimitError struct {
	Category  string
	Requested int
	Limit     int
}

func (e *CategoryLimitError) Error() string {
	return fmt.Sprintf("category %s allows at most %d tickets per reservation, requested %d",
		e.Category, e.Limit, e.Requested)
}

func (e *CategoryLimitError) Is(target error) bool {
	return target == ErrCategoryLimitExceeded
}
