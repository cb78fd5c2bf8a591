// internal/service/ticket/domain/inventory.go
package domain

import "time"

// Inventory 是每个活动一行的库存台账。
// 不变式: 0 <= Reserved <= Total，任何路径都不允许打破。
// 行只会被惰性创建，永远不会被删除；所有写入都必须发生在
// 该活动的互斥锁临界区内（见 application 层）。
type Inventory struct {
	EventID   string
	Total     int
	Reserved  int
	Version   int64 // 乐观锁版本号，作为锁之外的最后一道防线
	UpdatedAt time.Time
}

// NewInventory 以目录侧汇总出来的容量惰性创建台账行。
// 目录不可用时 total 为 0，此时任何预占都会因库存不足被拒绝。
func NewInventory(eventID string, total int, now time.Time) *Inventory {
	if total < 0 {
		total = 0
	}
	return &Inventory{
		EventID:   eventID,
		Total:     total,
		Reserved:  0,
		UpdatedAt: now,
	}
}

// Available 返回当前可预占数量。
func (i *Inventory) Available() int {
	return i.Total - i.Reserved
}

// Reserve 在校验可用量后预占 qty 张票。
// 失败时返回携带 requested/available 的 InsufficientStockError。
func (i *Inventory) Reserve(qty int, now time.Time) error {
	if qty > i.Available() {
		return &InsufficientStockError{
			EventID:   i.EventID,
			Requested: qty,
			Available: i.Available(),
		}
	}
	i.Reserved += qty
	i.UpdatedAt = now
	return nil
}

// Release 归还 qty 张票。Reserved 防御性地不会降到 0 以下；
// 返回 true 表示触发了下限截断，调用方应将其作为数据不一致记录日志。
func (i *Inventory) Release(qty int, now time.Time) bool {
	floored := false
	i.Reserved -= qty
	if i.Reserved < 0 {
		i.Reserved = 0
		floored = true
	}
	i.UpdatedAt = now
	return floored
}
