package infrastructure

import (
	"database/sql"

	"eventix/internal/service/ticket/domain"
)

// ToDomainInventory 将数据库模型转换为领域模型
func ToDomainInventory(model *InventoryModel) *domain.Inventory {
	if model == nil {
		return nil
	}
	return &domain.Inventory{
		EventID:   model.EventID,
		Total:     model.Total,
		Reserved:  model.Reserved,
		Version:   model.Version,
		UpdatedAt: model.UpdatedAt,
	}
}

// FromDomainInventory 将领域模型转换为数据库模型
func FromDomainInventory(inv *domain.Inventory) *InventoryModel {
	if inv == nil {
		return nil
	}
	return &InventoryModel{
		EventID:   inv.EventID,
		Total:     inv.Total,
		Reserved:  inv.Reserved,
		Version:   inv.Version,
		UpdatedAt: inv.UpdatedAt,
	}
}

// ToDomainReservation 将数据库模型转换为领域模型
func ToDomainReservation(model *ReservationModel) *domain.Reservation {
	if model == nil {
		return nil
	}
	return &domain.Reservation{
		ID:             model.ID,
		EventID:        model.EventID,
		UserID:         model.UserID,
		Quantity:       model.Quantity,
		Status:         model.Status,
		HoldExpiresAt:  model.HoldExpiresAt,
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
		IdempotencyKey: model.IdempotencyKey.String,
		Version:        model.Version,
	}
}

// FromDomainReservation 将领域模型转换为数据库模型。
// 终态预订的幂等键写为 NULL，把唯一索引让渡给后续的新预订。
func FromDomainReservation(r *domain.Reservation) *ReservationModel {
	if r == nil {
		return nil
	}
	key := sql.NullString{String: r.IdempotencyKey, Valid: r.IdempotencyKey != ""}
	if r.Status.IsTerminal() {
		key = sql.NullString{}
	}
	return &ReservationModel{
		ID:             r.ID,
		EventID:        r.EventID,
		UserID:         r.UserID,
		Quantity:       r.Quantity,
		Status:         r.Status,
		HoldExpiresAt:  r.HoldExpiresAt,
		IdempotencyKey: key,
		Version:        r.Version,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// ToDomainTicket 将数据库模型转换为领域模型
func ToDomainTicket(model *TicketModel) *domain.Ticket {
	if model == nil {
		return nil
	}
	return &domain.Ticket{
		ID:            model.ID,
		ReservationID: model.ReservationID,
		UserID:        model.UserID,
		EventID:       model.EventID,
		Quantity:      model.Quantity,
		CreatedAt:     model.IssuedAt,
	}
}

// FromDomainTicket 将领域模型转换为数据库模型
func FromDomainTicket(t *domain.Ticket) *TicketModel {
	if t == nil {
		return nil
	}
	return &TicketModel{
		ID:            t.ID,
		ReservationID: t.ReservationID,
		EventID:       t.EventID,
		UserID:        t.UserID,
		Quantity:      t.Quantity,
		IssuedAt:      t.CreatedAt,
	}
}
