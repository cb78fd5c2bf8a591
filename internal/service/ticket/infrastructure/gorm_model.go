package infrastructure

import (
	"database/sql"
	"time"

	"eventix/internal/service/ticket/domain"
)

// InventoryModel 对应数据库中的 event_inventory 表，每个活动一行台账。
type InventoryModel struct {
	EventID   string `gorm:"primaryKey;size:64"`
	Total     int
	Reserved  int
	Version   int64
	UpdatedAt time.Time
}

// TableName 指定 GORM 应该使用的表名
func (InventoryModel) TableName() string {
	return "event_inventory"
}

// ReservationModel 对应数据库中的 ticket_reservation 表。
// IdempotencyKey 用可空列承载唯一索引：终态记录把键置空后让渡给新预订。
type ReservationModel struct {
	ID             string `gorm:"primaryKey;size:36"`
	EventID        string `gorm:"size:64;index"`
	UserID         string `gorm:"size:64;index"`
	Quantity       int
	Status         domain.Status  `gorm:"size:16;index:idx_status_expiry"`
	HoldExpiresAt  time.Time      `gorm:"index:idx_status_expiry"`
	IdempotencyKey sql.NullString `gorm:"size:128;uniqueIndex"`
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName 指定 GORM 应该使用的表名
func (ReservationModel) TableName() string {
	return "ticket_reservation"
}

// TicketModel 对应数据库中的 issued_ticket 表，确认成功后写入，不可变。
type TicketModel struct {
	ID            string `gorm:"primaryKey;size:36"`
	ReservationID string `gorm:"size:36;uniqueIndex"`
	EventID       string `gorm:"size:64;index"`
	UserID        string `gorm:"size:64"`
	Quantity      int
	IssuedAt      time.Time
}

// TableName 指定 GORM 应该使用的表名
func (TicketModel) TableName() string {
	return "issued_ticket"
}
