// internal/service/ticket/domain/event.go
package domain

// 支付侧上报的结果状态。
const (
	PaymentStatusSuccess  = "success"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

// PaymentOutcome 是支付流程异步投递回来的结果消息。
// success 触发确认，failed/refunded 触发释放；两者对终态预订
// 都是幂等的，所以重复或乱序投递是安全的。
type PaymentOutcome struct {
	ReservationID string `json:"reservationId"`
	UserID        string `json:"userId"`
	EventID       string `json:"eventId"`
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
	Reason        string `json:"reason,omitempty"`
}

// IsSuccess 支付成功。
func (m *PaymentOutcome) IsSuccess() bool { return m.Status == PaymentStatusSuccess }

// IsFailed 支付失败。
func (m *PaymentOutcome) IsFailed() bool { return m.Status == PaymentStatusFailed }

// IsRefunded 已退款。
func (m *PaymentOutcome) IsRefunded() bool { return m.Status == PaymentStatusRefunded }
