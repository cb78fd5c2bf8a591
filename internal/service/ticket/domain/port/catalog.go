// internal/service/ticket/domain/port/catalog.go
package port

import "context"

// TicketType 是目录侧一个票种的容量视图。
type TicketType struct {
	Quantity int `json:"quantity"`
}

// EventInfo 是活动目录返回的元数据，仅保留本服务需要的字段。
type EventInfo struct {
	Category    string       `json:"category"`
	TicketTypes []TicketType `json:"ticketTypes"`
}

// TotalCapacity 汇总所有票种的容量，作为台账惰性初始化的 total。
func (e EventInfo) TotalCapacity() int {
	total := 0
	for _, tt := range e.TicketTypes {
		if tt.Quantity > 0 {
			total += tt.Quantity
		}
	}
	return total
}

// CatalogGateway 是活动目录服务的出站端口。
// 实现必须 fail-open: 传输失败时返回零值 EventInfo 而不是错误，
// 调用方将其理解为“品类未知、容量为 0”。
type CatalogGateway interface {
	GetEventByID(ctx context.Context, eventID string) EventInfo
}
