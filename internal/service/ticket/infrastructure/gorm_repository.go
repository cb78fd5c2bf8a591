package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"eventix/internal/service/ticket/domain"
)

// ErrStaleWrite 乐观锁版本不匹配时返回，调用方按写冲突重试或放弃。
var ErrStaleWrite = errors.New("stale write: row version changed")

// GormInventoryRepository 是 InventoryRepository 的 GORM 实现
type GormInventoryRepository struct {
	db *gorm.DB
}

// NewGormInventoryRepository 创建一个新的 GORM 仓储实例
func NewGormInventoryRepository(db *gorm.DB) *GormInventoryRepository {
	return &GormInventoryRepository{db: db}
}

// FindByEventID 按活动查找台账行
func (r *GormInventoryRepository) FindByEventID(ctx context.Context, eventID string) (*domain.Inventory, error) {
	var model InventoryModel
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInventoryNotFound
		}
		return nil, err
	}
	return ToDomainInventory(&model), nil
}

// Save 创建或更新台账行。更新走乐观锁：版本不匹配时返回 ErrStaleWrite。
// 业务锁已经把并发写挡在了上游，这里只是最后一道防线。
func (r *GormInventoryRepository) Save(ctx context.Context, inv *domain.Inventory) error {
	model := FromDomainInventory(inv)

	if inv.Version == 0 {
		model.Version = 1
		if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
			return err
		}
		inv.Version = 1
		return nil
	}

	result := r.db.WithContext(ctx).Model(&InventoryModel{}).
		Where("event_id = ? AND version = ?", inv.EventID, inv.Version).
		Updates(map[string]interface{}{
			"total":      inv.Total,
			"reserved":   inv.Reserved,
			"version":    inv.Version + 1,
			"updated_at": inv.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: event %s", ErrStaleWrite, inv.EventID)
	}
	inv.Version++
	return nil
}

// GormReservationRepository 是 ReservationRepository 的 GORM 实现
type GormReservationRepository struct {
	db *gorm.DB
}

// NewGormReservationRepository 创建一个新的 GORM 仓储实例
func NewGormReservationRepository(db *gorm.DB) *GormReservationRepository {
	return &GormReservationRepository{db: db}
}

// Save 创建或更新一条预订，更新路径带乐观锁版本校验。
func (r *GormReservationRepository) Save(ctx context.Context, reservation *domain.Reservation) error {
	model := FromDomainReservation(reservation)

	if reservation.Version == 0 {
		model.Version = 1
		if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
			return err
		}
		reservation.Version = 1
		return nil
	}

	result := r.db.WithContext(ctx).Model(&ReservationModel{}).
		Where("id = ? AND version = ?", reservation.ID, reservation.Version).
		Updates(map[string]interface{}{
			"status":          reservation.Status,
			"idempotency_key": model.IdempotencyKey,
			"version":         reservation.Version + 1,
			"updated_at":      reservation.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: reservation %s", ErrStaleWrite, reservation.ID)
	}
	reservation.Version++
	return nil
}

// FindByID 按主键查找预订
func (r *GormReservationRepository) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	var model ReservationModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, err
	}
	return ToDomainReservation(&model), nil
}

// FindByIdempotencyKey 按幂等键查找预订（终态记录的键已被置空，不会命中）
func (r *GormReservationRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Reservation, error) {
	var model ReservationModel
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, err
	}
	return ToDomainReservation(&model), nil
}

// FindByUserID 返回用户的全部预订，按创建时间倒序
func (r *GormReservationRepository) FindByUserID(ctx context.Context, userID string) ([]*domain.Reservation, error) {
	var models []ReservationModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	reservations := make([]*domain.Reservation, 0, len(models))
	for i := range models {
		reservations = append(reservations, ToDomainReservation(&models[i]))
	}
	return reservations, nil
}

// FindExpired 返回持有期限早于 now 的 PENDING 预订，最多 limit 条
func (r *GormReservationRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	var models []ReservationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND hold_expires_at < ?", domain.StatusPending, now).
		Order("hold_expires_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	reservations := make([]*domain.Reservation, 0, len(models))
	for i := range models {
		reservations = append(reservations, ToDomainReservation(&models[i]))
	}
	return reservations, nil
}

// GormTicketRepository 是 TicketRepository 的 GORM 实现
type GormTicketRepository struct {
	db *gorm.DB
}

// NewGormTicketRepository 创建一个新的 GORM 仓储实例
func NewGormTicketRepository(db *gorm.DB) *GormTicketRepository {
	return &GormTicketRepository{db: db}
}

// Save 写入一张票据。reservation_id 上的唯一索引保证重复确认不会发出第二张，
// 冲突时按幂等成功处理。
func (r *GormTicketRepository) Save(ctx context.Context, t *domain.Ticket) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reservation_id"}},
			DoNothing: true,
		}).
		Create(FromDomainTicket(t)).Error
}

// FindByReservationID 按预订查找票据
func (r *GormTicketRepository) FindByReservationID(ctx context.Context, reservationID string) (*domain.Ticket, error) {
	var model TicketModel
	err := r.db.WithContext(ctx).Where("reservation_id = ?", reservationID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, err
	}
	return ToDomainTicket(&model), nil
}
