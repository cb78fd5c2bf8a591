package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"eventix/internal/pkg/logger"
	"eventix/internal/pkg/metrics"
	"eventix/internal/pkg/mq"
	"eventix/internal/service/ticket/application"
	"eventix/internal/service/ticket/domain"
)

// PaymentConsumerAdapter 是一个驱动适配器，监听支付结果主题并驱动应用服务：
// 支付成功确认预订，支付失败/退款释放预订。
// 消息处理是至少一次语义，下游的确认和释放本身幂等，重复投递是安全的。
type PaymentConsumerAdapter struct {
	reader  *kafka.Reader
	appSvc  *application.TicketService
	wg      sync.WaitGroup
	stopped atomic.Bool // Stop 和消费 goroutine 并发访问
}

// NewPaymentConsumerAdapter 创建支付结果消费者。
func NewPaymentConsumerAdapter(reader *kafka.Reader, appSvc *application.TicketService) *PaymentConsumerAdapter {
	return &PaymentConsumerAdapter{reader: reader, appSvc: appSvc}
}

// Start 开始监听支付结果主题。这是一个长期运行的方法。
func (a *PaymentConsumerAdapter) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().
			Str("topic", a.reader.Config().Topic).
			Msg("✅ Payment consumer started")
		for {
			if a.stopped.Load() {
				return
			}
			// 用 FetchMessage 而不是 ReadMessage，以便控制提交时机和退出逻辑
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("🛑 Payment consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("Could not fetch payment message, retrying")
				time.Sleep(1 * time.Second)
				continue
			}

			a.processMessage(ctx, msg)

			// 无论处理结果如何都提交 offset：畸形消息和业务性拒绝不值得重投
			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit payment message offset")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (a *PaymentConsumerAdapter) Stop() {
	a.stopped.Store(true)
	if a.reader != nil {
		a.reader.Close()
	}
	a.wg.Wait()
}

// processMessage 重建追踪上下文后把消息体交给 handlePayload。
func (a *PaymentConsumerAdapter) processMessage(parentCtx context.Context, msg kafka.Message) {
	ctx := mq.ExtractTraceContext(parentCtx, msg.Headers)
	a.handlePayload(ctx, string(msg.Key), msg.Value)
}

// handlePayload 解析并分发一条支付结果。
// 正常格式是 JSON 的 PaymentOutcome；兼容旧网关只发裸状态字符串
// （如 "SUCCESS"）、预订 ID 在消息 key 里的格式。两者都解不出来的消息
// 记日志后丢弃，不会让消费循环停摆。
func (a *PaymentConsumerAdapter) handlePayload(ctx context.Context, key string, value []byte) {
	outcome, ok := decodePaymentOutcome(key, value)
	if !ok {
		metrics.PaymentOutcomesTotal.WithLabelValues("malformed").Inc()
		logger.Ctx(ctx).Error().
			Str("key", key).
			Str("payload", string(value)).
			Msg("Malformed payment outcome, dropping message")
		return
	}
	if outcome.ReservationID == "" {
		metrics.PaymentOutcomesTotal.WithLabelValues("malformed").Inc()
		logger.Ctx(ctx).Error().
			Str("payload", string(value)).
			Msg("Payment outcome missing reservationId, dropping message")
		return
	}

	var err error
	switch {
	case outcome.IsSuccess():
		_, err = a.appSvc.Confirm(ctx, outcome.ReservationID)
	case outcome.IsFailed() || outcome.IsRefunded():
		_, err = a.appSvc.Release(ctx, outcome.ReservationID)
	default:
		metrics.PaymentOutcomesTotal.WithLabelValues("unknown_status").Inc()
		logger.Ctx(ctx).Warn().
			Str("reservation_id", outcome.ReservationID).
			Str("status", outcome.Status).
			Msg("Unknown payment status, dropping message")
		return
	}

	if err == nil {
		metrics.PaymentOutcomesTotal.WithLabelValues("applied").Inc()
		logger.Ctx(ctx).Info().
			Str("reservation_id", outcome.ReservationID).
			Str("status", outcome.Status).
			Msg("Payment outcome applied")
		return
	}

	// 消息迟到是常态：预订可能已被清扫器过期或被用户取消。
	// 这些业务性拒绝不是故障，按丢弃处理。
	switch {
	case errors.Is(err, domain.ErrReservationNotFound):
		metrics.PaymentOutcomesTotal.WithLabelValues("not_found").Inc()
		logger.Ctx(ctx).Warn().
			Str("reservation_id", outcome.ReservationID).
			Msg("Payment outcome for unknown reservation, dropping")
	case errors.Is(err, domain.ErrReservationExpired), errors.Is(err, domain.ErrInvalidState):
		metrics.PaymentOutcomesTotal.WithLabelValues("stale").Inc()
		logger.Ctx(ctx).Warn().Err(err).
			Str("reservation_id", outcome.ReservationID).
			Str("status", outcome.Status).
			Msg("Payment outcome arrived too late, dropping")
	default:
		metrics.PaymentOutcomesTotal.WithLabelValues("error").Inc()
		logger.Ctx(ctx).Error().Err(err).
			Str("reservation_id", outcome.ReservationID).
			Msg("Failed to apply payment outcome")
	}
}

// decodePaymentOutcome 先按 JSON 解析，失败后退回旧版裸字符串格式。
func decodePaymentOutcome(key string, value []byte) (domain.PaymentOutcome, bool) {
	var outcome domain.PaymentOutcome
	if err := json.Unmarshal(value, &outcome); err == nil && outcome.Status != "" {
		// 大小写不敏感：有的上游网关发全大写状态
		outcome.Status = strings.ToLower(outcome.Status)
		return outcome, true
	}

	status := strings.ToLower(strings.TrimSpace(string(value)))
	switch status {
	case domain.PaymentStatusSuccess, domain.PaymentStatusFailed, domain.PaymentStatusRefunded:
		return domain.PaymentOutcome{ReservationID: key, Status: status}, true
	}
	return domain.PaymentOutcome{}, false
}
