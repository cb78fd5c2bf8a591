// internal/service/ticket/application/dto.go
package application

import (
	"time"

	"eventix/internal/service/ticket/domain"
)

// ReserveRequest 是预订接口的入参。
type ReserveRequest struct {
	EventID  string `json:"eventId"`
	UserID   string `json:"userId"`
	Quantity int    `json:"quantity"`
}

// ReserveResponse 返回新建（或幂等重放）的预订。
// Quantity 是实际授予的数量，可能被品类上限压低于请求值。
type ReserveResponse struct {
	ReservationID string        `json:"reservationId"`
	Status        domain.Status `json:"status"`
	HoldExpiresAt time.Time     `json:"holdExpiresAt"`
	Quantity      int           `json:"quantity"`
}

// ConfirmRequest 确认接口的入参。
type ConfirmRequest struct {
	ReservationID string `json:"reservationId"`
}

// ConfirmResponse 确认结果。
type ConfirmResponse struct {
	Status domain.Status `json:"status"`
}

// ReleaseRequest 释放接口的入参。
type ReleaseRequest struct {
	ReservationID string `json:"reservationId"`
}

// ReleaseResponse 释放结果；对非活跃预订是幂等空操作，返回其当前状态。
type ReleaseResponse struct {
	Status domain.Status `json:"status"`
}

// AvailabilityResponse 活动余票快照。
type AvailabilityResponse struct {
	EventID   string `json:"eventId"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
}

// UserReservationItem 用户预订列表中的一行。
type UserReservationItem struct {
	ReservationID string        `json:"reservationId"`
	EventID       string        `json:"eventId"`
	Quantity      int           `json:"quantity"`
	Status        domain.Status `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// UserReservationsResponse 用户的全部预订，按创建时间倒序。
type UserReservationsResponse struct {
	Reservations []UserReservationItem `json:"reservations"`
}

func toReserveResponse(r *domain.Reservation) *ReserveResponse {
	return &ReserveResponse{
		ReservationID: r.ID,
		Status:        r.Status,
		HoldExpiresAt: r.HoldExpiresAt,
		Quantity:      r.Quantity,
	}
}

func toUserReservationItem(r *domain.Reservation) UserReservationItem {
	return UserReservationItem{
		ReservationID: r.ID,
		EventID:       r.EventID,
		Quantity:      r.Quantity,
		Status:        r.Status,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}
