package infrastructure

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"eventix/internal/service/ticket/domain"
)

// MemoryInventoryRepository 是 InventoryRepository 的进程内实现，
// 用于测试和无数据库的本地运行模式。
type MemoryInventoryRepository struct {
	mu   sync.RWMutex
	rows map[string]domain.Inventory
}

// NewMemoryInventoryRepository 创建空的内存台账。
func NewMemoryInventoryRepository() *MemoryInventoryRepository {
	return &MemoryInventoryRepository{rows: make(map[string]domain.Inventory)}
}

func (r *MemoryInventoryRepository) FindByEventID(_ context.Context, eventID string) (*domain.Inventory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[eventID]
	if !ok {
		return nil, domain.ErrInventoryNotFound
	}
	return &row, nil
}

// Save 与 GORM 实现保持相同的乐观锁语义：版本不匹配时返回 ErrStaleWrite。
func (r *MemoryInventoryRepository) Save(_ context.Context, inv *domain.Inventory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, exists := r.rows[inv.EventID]
	if inv.Version == 0 {
		if exists {
			return fmt.Errorf("%w: event %s", ErrStaleWrite, inv.EventID)
		}
		inv.Version = 1
		r.rows[inv.EventID] = *inv
		return nil
	}
	if !exists || current.Version != inv.Version {
		return fmt.Errorf("%w: event %s", ErrStaleWrite, inv.EventID)
	}
	inv.Version++
	r.rows[inv.EventID] = *inv
	return nil
}

// MemoryReservationRepository 是 ReservationRepository 的进程内实现。
type MemoryReservationRepository struct {
	mu   sync.RWMutex
	rows map[string]domain.Reservation
}

// NewMemoryReservationRepository 创建空的内存预订存储。
func NewMemoryReservationRepository() *MemoryReservationRepository {
	return &MemoryReservationRepository{rows: make(map[string]domain.Reservation)}
}

// Save 与 GORM 实现保持相同的乐观锁语义：版本不匹配时返回 ErrStaleWrite。
func (r *MemoryReservationRepository) Save(_ context.Context, reservation *domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, exists := r.rows[reservation.ID]
	if reservation.Version == 0 {
		if exists {
			return fmt.Errorf("%w: reservation %s", ErrStaleWrite, reservation.ID)
		}
		reservation.Version = 1
	} else {
		if !exists || current.Version != reservation.Version {
			return fmt.Errorf("%w: reservation %s", ErrStaleWrite, reservation.ID)
		}
		reservation.Version++
	}
	stored := *reservation
	// 与数据库实现保持一致：终态记录不再占用幂等键
	if stored.Status.IsTerminal() {
		stored.IdempotencyKey = ""
	}
	r.rows[stored.ID] = stored
	return nil
}

func (r *MemoryReservationRepository) FindByID(_ context.Context, id string) (*domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	return &row, nil
}

func (r *MemoryReservationRepository) FindByIdempotencyKey(_ context.Context, key string) (*domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, row := range r.rows {
		if row.IdempotencyKey == key {
			out := row
			return &out, nil
		}
	}
	return nil, domain.ErrReservationNotFound
}

func (r *MemoryReservationRepository) FindByUserID(_ context.Context, userID string) ([]*domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Reservation
	for _, row := range r.rows {
		if row.UserID == userID {
			copied := row
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryReservationRepository) FindExpired(_ context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Reservation
	for _, row := range r.rows {
		if row.Status == domain.StatusPending && now.After(row.HoldExpiresAt) {
			copied := row
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].HoldExpiresAt.Before(out[j].HoldExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryTicketRepository 是 TicketRepository 的进程内实现。
type MemoryTicketRepository struct {
	mu   sync.RWMutex
	rows map[string]domain.Ticket // key: reservationID
}

// NewMemoryTicketRepository 创建空的内存票据存储。
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{rows: make(map[string]domain.Ticket)}
}

func (r *MemoryTicketRepository) Save(_ context.Context, t *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// 与数据库实现一致：同一预订重复写入按幂等成功处理
	if _, ok := r.rows[t.ReservationID]; ok {
		return nil
	}
	r.rows[t.ReservationID] = *t
	return nil
}

func (r *MemoryTicketRepository) FindByReservationID(_ context.Context, reservationID string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[reservationID]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	return &row, nil
}

// MemoryIdempotencyRegistry 是 IdempotencyRegistry 的进程内实现。
type MemoryIdempotencyRegistry struct {
	mu     sync.Mutex
	claims map[string]string // key -> 已绑定的预订 ID，空串表示已认领未绑定
}

// NewMemoryIdempotencyRegistry 创建空的内存幂等键注册表。
func NewMemoryIdempotencyRegistry() *MemoryIdempotencyRegistry {
	return &MemoryIdempotencyRegistry{claims: make(map[string]string)}
}

func (r *MemoryIdempotencyRegistry) Claim(_ context.Context, key string) (bool, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bound, ok := r.claims[key]; ok {
		return false, bound, nil
	}
	r.claims[key] = ""
	return true, "", nil
}

func (r *MemoryIdempotencyRegistry) Bind(_ context.Context, key, reservationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims[key] = reservationID
	return nil
}

func (r *MemoryIdempotencyRegistry) Release(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, key)
	return nil
}
