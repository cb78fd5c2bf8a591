// internal/service/ticket/domain/ticket.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Ticket 在预订 PENDING -> CONFIRMED 的瞬间创建一次，之后不可变。
// 一次成功确认对应一张 Ticket（按预订计，不是按张数拆分）。
type Ticket struct {
	ID            string
	ReservationID string
	UserID        string
	EventID       string
	Quantity      int
	CreatedAt     time.Time
}

// NewTicket 由已确认的预订生成票据。
func NewTicket(r *Reservation, now time.Time) *Ticket {
	return &Ticket{
		ID:            uuid.New().String(),
		ReservationID: r.ID,
		UserID:        r.UserID,
		EventID:       r.EventID,
		Quantity:      r.Quantity,
		CreatedAt:     now,
	}
}
