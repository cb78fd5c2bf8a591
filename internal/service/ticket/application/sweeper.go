// internal/service/ticket/application/sweeper.go
package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"eventix/internal/pkg/clock"
	"eventix/internal/pkg/logger"
	"eventix/internal/pkg/metrics"
	"eventix/internal/service/ticket/domain"
)

// 单轮清扫的批量上限，防止一次性捞出过多过期单拖垮一个周期。
const sweepBatchSize = 500

// ExpirationSweeper 周期性把过期的 PENDING 预订流转为 EXPIRED 并归还库存。
// 单条失败只记录不中断，剩余的过期单在本轮继续处理。
type ExpirationSweeper struct {
	svc      *TicketService
	interval time.Duration
	clk      clock.Clock
	tracer   trace.Tracer
}

// NewExpirationSweeper 创建清扫器。
func NewExpirationSweeper(svc *TicketService, interval time.Duration, clk clock.Clock, tracer trace.Tracer) *ExpirationSweeper {
	return &ExpirationSweeper{svc: svc, interval: interval, clk: clk, tracer: tracer}
}

// Run 阻塞运行清扫循环，直到 ctx 取消。适配 bootstrap 的 Runner 形态。
func (w *ExpirationSweeper) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().
		Dur("interval", w.interval).
		Msg("🧹 Expiration sweeper started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("Expiration sweeper stopped")
			return nil
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

// SweepOnce 执行一轮清扫，返回成功终态化的条数和失败条数。
func (w *ExpirationSweeper) SweepOnce(ctx context.Context) (swept, failed int) {
	ctx, span := w.tracer.Start(ctx, "ticket.SweepExpired")
	defer span.End()

	now := w.clk.Now()
	expired, err := w.svc.reservations.FindExpired(ctx, now, sweepBatchSize)
	if err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to query expired reservations")
		return 0, 0
	}
	if len(expired) == 0 {
		return 0, 0
	}

	for _, r := range expired {
		if err := w.sweepOne(ctx, r, now); err != nil {
			failed++
			metrics.SweptReservationsTotal.WithLabelValues("error").Inc()
			logger.Ctx(ctx).Error().Err(err).
				Str("reservation_id", r.ID).
				Str("event_id", r.EventID).
				Msg("Failed to expire reservation, will retry next cycle")
			continue
		}
		swept++
		metrics.SweptReservationsTotal.WithLabelValues("expired").Inc()
	}

	logger.Ctx(ctx).Info().
		Int("swept", swept).
		Int("failed", failed).
		Msg("Expiration sweep cycle finished")
	return swept, failed
}

// sweepOne 处理一条过期预订：流转为 EXPIRED，然后归还库存。
func (w *ExpirationSweeper) sweepOne(ctx context.Context, stale *domain.Reservation, now time.Time) error {
	// 批量查询和逐条处理之间可能有并发确认或取消，重新读一次再判定
	r, err := w.svc.reservations.FindByID(ctx, stale.ID)
	if err != nil {
		return err
	}
	if r.Status != domain.StatusPending || !r.IsExpired(now) {
		return nil
	}

	if err := r.Expire(now); err != nil {
		return err
	}
	if err := w.svc.reservations.Save(ctx, r); err != nil {
		return err
	}

	// 先终态化再归还库存，与取消路径同序，避免重试导致的二次归还
	if err := w.svc.releaseStock(ctx, r.EventID, r.Quantity); err != nil {
		metrics.StockLeaksTotal.WithLabelValues("sweep").Inc()
		logger.Ctx(ctx).Error().Err(err).
			Str("reservation_id", r.ID).
			Msg("CRITICAL: reservation expired but stock not returned")
	}
	return nil
}
