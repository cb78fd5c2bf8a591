// internal/service/ticket/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"eventix/internal/pkg/clock"
	"eventix/internal/pkg/lock"
	"eventix/internal/pkg/logger"
	"eventix/internal/pkg/metrics"
	"eventix/internal/service/ticket/domain"
	"eventix/internal/service/ticket/domain/port"
)

// 幂等键认领被他人持有但尚未绑定时的等待参数。
const (
	claimWaitAttempts = 5
	claimWaitDelay    = 20 * time.Millisecond
)

// TicketService 是预订引擎的业务编排层。
// 台账的每一条写入路径（这里的同步调用、清扫器、支付消费者）
// 都经过同一把按活动分片的锁，保证不会超卖。
type TicketService struct {
	inventories  domain.InventoryRepository
	reservations domain.ReservationRepository
	tickets      domain.TicketRepository

	catalog     port.CatalogGateway
	idempotency port.IdempotencyRegistry // 可为 nil，此时只有存储层的唯一键兜底
	locks       lock.KeyLocker
	policy      *LimitPolicy

	clk          clock.Clock
	holdDuration time.Duration
	tracer       trace.Tracer
}

// NewTicketService 组装编排层。
func NewTicketService(
	inventories domain.InventoryRepository,
	reservations domain.ReservationRepository,
	tickets domain.TicketRepository,
	catalog port.CatalogGateway,
	idempotency port.IdempotencyRegistry,
	locks lock.KeyLocker,
	policy *LimitPolicy,
	clk clock.Clock,
	holdDuration time.Duration,
	tracer trace.Tracer,
) *TicketService {
	return &TicketService{
		inventories: inventories, reservations: reservations, tickets: tickets,
		catalog: catalog, idempotency: idempotency, locks: locks, policy: policy,
		clk: clk, holdDuration: holdDuration, tracer: tracer,
	}
}

// Reserve 为活动预占 quantity 张票，创建一个带过期时间的临时持有。
// idempotencyKey 非空且命中一条仍活跃的预订时原样重放，不触碰台账。
func (s *TicketService) Reserve(ctx context.Context, req *ReserveRequest, idempotencyKey string) (*ReserveResponse, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.Reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", req.EventID),
		attribute.String("user.id", req.UserID),
		attribute.Int("quantity.requested", req.Quantity),
	)

	if err := validateReserve(req); err != nil {
		metrics.ReservationsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	// 幂等重放：键命中活跃预订时直接返回，不做任何台账变更
	if idempotencyKey != "" {
		if existing, err := s.replayByKey(ctx, idempotencyKey); err != nil {
			return nil, err
		} else if existing != nil {
			span.AddEvent("Idempotent replay")
			metrics.ReservationsTotal.WithLabelValues("replayed").Inc()
			return existing, nil
		}

		// 原子认领，堵住两个首次请求同键并发的竞态
		replay, err := s.claimKey(ctx, idempotencyKey)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if replay != nil {
			span.AddEvent("Idempotent replay after claim race")
			metrics.ReservationsTotal.WithLabelValues("replayed").Inc()
			return replay, nil
		}
	}

	// 目录元数据在拿锁之前解析，临界区只剩计数运算和持久化
	info := s.catalog.GetEventByID(ctx, req.EventID)
	effectiveQty := s.policy.EffectiveQuantity(info.Category, req.Quantity)
	if effectiveQty != req.Quantity {
		span.AddEvent("Quantity capped by category limit")
		logger.Ctx(ctx).Info().
			Str("event_id", req.EventID).
			Str("category", info.Category).
			Int("requested", req.Quantity).
			Int("granted", effectiveQty).
			Msg("Requested quantity exceeds category limit, granting the ceiling")
	}

	release, err := s.locks.Acquire(ctx, req.EventID)
	if err != nil {
		s.abandonClaim(ctx, idempotencyKey)
		return nil, err
	}
	defer release()

	now := s.clk.Now()
	inv, err := s.getOrInitInventory(ctx, req.EventID, info, now)
	if err != nil {
		s.abandonClaim(ctx, idempotencyKey)
		return nil, err
	}

	if err := inv.Reserve(effectiveQty, now); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Insufficient stock")
		metrics.ReservationsTotal.WithLabelValues("insufficient_stock").Inc()
		s.abandonClaim(ctx, idempotencyKey)
		return nil, err
	}
	if err := s.inventories.Save(ctx, inv); err != nil {
		s.abandonClaim(ctx, idempotencyKey)
		return nil, err
	}

	reservation, err := domain.NewReservation(
		req.EventID, req.UserID, effectiveQty,
		now.Add(s.holdDuration), idempotencyKey, now,
	)
	if err != nil {
		s.rollbackStock(ctx, inv, effectiveQty)
		s.abandonClaim(ctx, idempotencyKey)
		return nil, err
	}
	if err := s.reservations.Save(ctx, reservation); err != nil {
		s.rollbackStock(ctx, inv, effectiveQty)
		s.abandonClaim(ctx, idempotencyKey)
		return nil, err
	}

	if s.idempotency != nil && idempotencyKey != "" {
		if err := s.idempotency.Bind(ctx, idempotencyKey, reservation.ID); err != nil {
			// 绑定失败不回滚预订，后续重放会落到存储层的键查询
			logger.Ctx(ctx).Error().Err(err).
				Str("reservation_id", reservation.ID).
				Msg("Failed to bind idempotency key, replay will fall back to the store")
		}
	}

	metrics.ReservationsTotal.WithLabelValues("created").Inc()
	span.SetAttributes(attribute.Int("quantity.granted", effectiveQty))
	logger.Ctx(ctx).Info().
		Str("reservation_id", reservation.ID).
		Str("event_id", req.EventID).
		Int("quantity", effectiveQty).
		Time("hold_expires_at", reservation.HoldExpiresAt).
		Msg("Reservation created")

	return toReserveResponse(reservation), nil
}

// Confirm 确认一条未过期的 PENDING 预订并恰好生成一张票据。
func (s *TicketService) Confirm(ctx context.Context, reservationID string) (*ConfirmResponse, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.Confirm")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", reservationID))

	reservation, err := s.reservations.FindByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	if err := reservation.Confirm(now); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Confirmation rejected")
		return nil, err
	}
	if err := s.reservations.Save(ctx, reservation); err != nil {
		return nil, err
	}

	ticket := domain.NewTicket(reservation, now)
	if err := s.tickets.Save(ctx, ticket); err != nil {
		return nil, err
	}

	metrics.ConfirmationsTotal.Inc()
	logger.Ctx(ctx).Info().
		Str("reservation_id", reservation.ID).
		Str("ticket_id", ticket.ID).
		Msg("Reservation confirmed")

	return &ConfirmResponse{Status: domain.StatusConfirmed}, nil
}

// Release 取消一条预订。
// 非活跃预订是幂等空操作，返回当前状态；PENDING 取消后归还台账；
// CONFIRMED 只取消不归还库存（确认后的库存补偿属于外部流程）。
func (s *TicketService) Release(ctx context.Context, reservationID string) (*ReleaseResponse, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.Release")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", reservationID))

	reservation, err := s.reservations.FindByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	if !reservation.IsActive() {
		span.AddEvent("Release no-op on terminal reservation")
		metrics.ReleasesTotal.WithLabelValues("noop").Inc()
		return &ReleaseResponse{Status: reservation.Status}, nil
	}

	now := s.clk.Now()
	priorStatus := reservation.Status

	if err := reservation.Cancel(now); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.reservations.Save(ctx, reservation); err != nil {
		return nil, err
	}

	// 先终态化再归还库存。顺序反过来的话，保存失败后重试会二次归还，
	// 造成超卖；这个顺序下最坏情况是一次泄漏，由日志暴露。
	if priorStatus == domain.StatusPending {
		if err := s.releaseStock(ctx, reservation.EventID, reservation.Quantity); err != nil {
			metrics.StockLeaksTotal.WithLabelValues("release").Inc()
			logger.Ctx(ctx).Error().Err(err).
				Str("reservation_id", reservation.ID).
				Msg("CRITICAL: reservation canceled but stock not returned")
		}
	}

	metrics.ReleasesTotal.WithLabelValues(string(priorStatus)).Inc()
	logger.Ctx(ctx).Info().
		Str("reservation_id", reservation.ID).
		Str("prior_status", string(priorStatus)).
		Msg("Reservation canceled")

	return &ReleaseResponse{Status: domain.StatusCanceled}, nil
}

// GetAvailability 返回活动的余票快照。台账行缺失时惰性初始化，从不 404。
func (s *TicketService) GetAvailability(ctx context.Context, eventID string) (*AvailabilityResponse, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.GetAvailability")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", eventID))

	if eventID == "" {
		return nil, fmt.Errorf("%w: eventId is required", domain.ErrValidation)
	}

	inv, err := s.inventories.FindByEventID(ctx, eventID)
	if err == nil {
		return &AvailabilityResponse{EventID: eventID, Total: inv.Total, Available: inv.Available()}, nil
	}
	if !errors.Is(err, domain.ErrInventoryNotFound) {
		return nil, err
	}

	// 行缺失：目录查询放在锁外，创建放在锁内并二次检查
	info := s.catalog.GetEventByID(ctx, eventID)
	release, err := s.locks.Acquire(ctx, eventID)
	if err != nil {
		return nil, err
	}
	defer release()

	inv, err = s.getOrInitInventory(ctx, eventID, info, s.clk.Now())
	if err != nil {
		return nil, err
	}
	return &AvailabilityResponse{EventID: eventID, Total: inv.Total, Available: inv.Available()}, nil
}

// GetUserReservations 返回用户的全部预订，按创建时间倒序，不过滤状态。
func (s *TicketService) GetUserReservations(ctx context.Context, userID string) (*UserReservationsResponse, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.GetUserReservations")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	list, err := s.reservations.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	items := make([]UserReservationItem, 0, len(list))
	for _, r := range list {
		items = append(items, toUserReservationItem(r))
	}
	return &UserReservationsResponse{Reservations: items}, nil
}

// releaseStock 在台账锁内归还一笔预占量，取消路径和清扫器共用。
func (s *TicketService) releaseStock(ctx context.Context, eventID string, qty int) error {
	release, err := s.locks.Acquire(ctx, eventID)
	if err != nil {
		return err
	}
	defer release()

	inv, err := s.inventories.FindByEventID(ctx, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrInventoryNotFound) {
			// 有预订却没有台账行，属于数据不一致：记录后继续取消流程
			logger.Ctx(ctx).Error().
				Str("event_id", eventID).
				Msg("Inventory row missing while releasing stock, skipping ledger update")
			return nil
		}
		return err
	}

	now := s.clk.Now()
	if floored := inv.Release(qty, now); floored {
		logger.Ctx(ctx).Error().
			Str("event_id", eventID).
			Int("quantity", qty).
			Msg("Reserved counter floored at zero during release, data inconsistency suspected")
	}
	return s.inventories.Save(ctx, inv)
}

// getOrInitInventory 必须在持有该活动的锁时调用。
func (s *TicketService) getOrInitInventory(ctx context.Context, eventID string, info port.EventInfo, now time.Time) (*domain.Inventory, error) {
	inv, err := s.inventories.FindByEventID(ctx, eventID)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, domain.ErrInventoryNotFound) {
		return nil, err
	}

	inv = domain.NewInventory(eventID, info.TotalCapacity(), now)
	if err := s.inventories.Save(ctx, inv); err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().
		Str("event_id", eventID).
		Int("total", inv.Total).
		Msg("Inventory lazily initialized from catalog capacity")
	return inv, nil
}

// replayByKey 查询幂等键对应的活跃预订；无可重放时返回 (nil, nil)。
func (s *TicketService) replayByKey(ctx context.Context, key string) (*ReserveResponse, error) {
	existing, err := s.reservations.FindByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrReservationNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if existing.IsActive() {
		return toReserveResponse(existing), nil
	}
	// 终态预订不再占用键，放行新的创建
	return nil, nil
}

// claimKey 原子认领幂等键。认领被他人持有时等待其绑定结果：
// 拿到绑定的预订则重放，超时仍未绑定则报冲突。
// 返回 (nil, nil) 表示本调用方获得创建权。
func (s *TicketService) claimKey(ctx context.Context, key string) (*ReserveResponse, error) {
	if s.idempotency == nil {
		return nil, nil
	}

	for attempt := 0; attempt < claimWaitAttempts; attempt++ {
		owned, reservationID, err := s.idempotency.Claim(ctx, key)
		if err != nil {
			return nil, err
		}
		if owned {
			return nil, nil
		}
		if reservationID != "" {
			existing, err := s.reservations.FindByID(ctx, reservationID)
			if err != nil {
				return nil, err
			}
			if existing.IsActive() {
				return toReserveResponse(existing), nil
			}
			// 绑定指向终态预订：撤销旧认领后重试
			if err := s.idempotency.Release(ctx, key); err != nil {
				return nil, err
			}
			continue
		}
		// 认领者尚未完成绑定，稍等再看
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(claimWaitDelay):
		}
	}
	return nil, domain.ErrIdempotencyConflict
}

// abandonClaim 在创建失败路径上撤销幂等键认领。
func (s *TicketService) abandonClaim(ctx context.Context, key string) {
	if s.idempotency == nil || key == "" {
		return
	}
	if err := s.idempotency.Release(ctx, key); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to release idempotency claim")
	}
}

// rollbackStock 在预订持久化失败后回滚刚增加的预占量。
func (s *TicketService) rollbackStock(ctx context.Context, inv *domain.Inventory, qty int) {
	inv.Release(qty, s.clk.Now())
	if err := s.inventories.Save(ctx, inv); err != nil {
		metrics.StockLeaksTotal.WithLabelValues("rollback").Inc()
		logger.Ctx(ctx).Error().Err(err).
			Str("event_id", inv.EventID).
			Int("quantity", qty).
			Msg("CRITICAL: failed to roll back reserved stock after save failure")
	}
}

func validateReserve(req *ReserveRequest) error {
	_, err := domain.NewReservation(req.EventID, req.UserID, req.Quantity, time.Time{}, "", time.Time{})
	return err
}
