// internal/service/ticket/domain/status.go
package domain

// Status 定义了预订的生命周期状态
type Status string

const (
	StatusPending   Status = "PENDING"   // 临时持有，等待确认或过期
	StatusConfirmed Status = "CONFIRMED" // 已确认，出票完成
	StatusCanceled  Status = "CANCELED"  // 已取消（用户主动、支付失败或确认后退款）
	StatusExpired   Status = "EXPIRED"   // 持有超时，由清扫器回收
)

// validTransitions 是唯一的状态流转表。
// 所有状态变更都必须通过它校验，避免 canX/doX 散落在各个方法里。
// CONFIRMED -> CANCELED 是确认后的退款路径，它不会自动归还库存，
// 库存补偿由外部流程显式负责。
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCanceled:  true,
		StatusExpired:   true,
	},
	StatusConfirmed: {
		StatusCanceled: true,
	},
}

// CanTransition 判断状态流转是否被流转表允许。
func CanTransition(from, to Status) bool {
	return validTransitions[from][to]
}

// IsTerminal 判断预订是否已经走到不再活跃的终态。
func (s Status) IsTerminal() bool {
	return s == StatusCanceled || s == StatusExpired
}
