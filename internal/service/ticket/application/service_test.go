package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventix/internal/pkg/metrics"
	"eventix/internal/service/ticket/domain"
)

func reserve(t *testing.T, env *testEnv, eventID, userID string, qty int, key string) *ReserveResponse {
	t.Helper()
	resp, err := env.svc.Reserve(context.Background(), &ReserveRequest{
		EventID: eventID, UserID: userID, Quantity: qty,
	}, key)
	require.NoError(t, err)
	return resp
}

func TestReserve(t *testing.T) {
	t.Run("creates pending hold and debits ledger", func(t *testing.T) {
		env := newTestEnv()
		resp := reserve(t, env, "event-1", "user-1", 3, "")

		assert.Equal(t, domain.StatusPending, resp.Status)
		assert.Equal(t, 3, resp.Quantity)
		assert.Equal(t, env.clk.Now().Add(15*time.Minute), resp.HoldExpiresAt)
		assert.Equal(t, 3, env.inventories.reserved("event-1"))
	})

	t.Run("lazily initializes ledger from catalog capacity", func(t *testing.T) {
		env := newTestEnv(func(e *testEnv) { e.catalog.capacity = 7 })
		reserve(t, env, "event-1", "user-1", 7, "")

		_, err := env.svc.Reserve(context.Background(), &ReserveRequest{
			EventID: "event-1", UserID: "user-2", Quantity: 1,
		}, "")
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	})

	t.Run("rejects when stock insufficient without ledger change", func(t *testing.T) {
		env := newTestEnv(func(e *testEnv) { e.catalog.capacity = 5 })
		reserve(t, env, "event-1", "user-1", 4, "")

		_, err := env.svc.Reserve(context.Background(), &ReserveRequest{
			EventID: "event-1", UserID: "user-2", Quantity: 2,
		}, "")
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		assert.Equal(t, 4, env.inventories.reserved("event-1"))
	})

	t.Run("catalog outage means zero capacity", func(t *testing.T) {
		env := newTestEnv(func(e *testEnv) { e.catalog.unavailable = true })
		_, err := env.svc.Reserve(context.Background(), &ReserveRequest{
			EventID: "event-1", UserID: "user-1", Quantity: 1,
		}, "")
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	})

	t.Run("validation failures", func(t *testing.T) {
		env := newTestEnv()
		for _, req := range []*ReserveRequest{
			{EventID: "", UserID: "user-1", Quantity: 1},
			{EventID: "event-1", UserID: "", Quantity: 1},
			{EventID: "event-1", UserID: "user-1", Quantity: 0},
		} {
			_, err := env.svc.Reserve(context.Background(), req, "")
			assert.ErrorIs(t, err, domain.ErrValidation)
		}
	})
}

func TestReserveCategoryLimit(t *testing.T) {
	t.Run("caps quantity silently at category ceiling", func(t *testing.T) {
		env := newTestEnv(func(e *testEnv) { e.catalog.category = "vip" })
		resp := reserve(t, env, "event-1", "user-1", 9, "")

		assert.Equal(t, 4, resp.Quantity, "vip ceiling is 4")
		assert.Equal(t, 4, env.inventories.reserved("event-1"))
	})

	t.Run("falls back to global ceiling without override", func(t *testing.T) {
		env := newTestEnv()
		resp := reserve(t, env, "event-1", "user-1", 50, "")
		assert.Equal(t, 10, resp.Quantity)
	})

	t.Run("unknown category from catalog outage uses global ceiling", func(t *testing.T) {
		env := newTestEnv(func(e *testEnv) {
			e.catalog.unavailable = true
		})
		// 台账行已存在时目录故障只影响品类解析，数量上限回退到全局值
		seed := domain.NewInventory("event-1", 100, env.clk.Now())
		require.NoError(t, env.inventories.Save(context.Background(), seed))

		resp := reserve(t, env, "event-1", "user-1", 50, "")
		assert.Equal(t, 10, resp.Quantity)
		assert.Equal(t, 10, env.inventories.reserved("event-1"))
	})
}

func TestReserveIdempotency(t *testing.T) {
	t.Run("same key replays without double debit", func(t *testing.T) {
		env := newTestEnv()
		first := reserve(t, env, "event-1", "user-1", 3, "key-1")
		second := reserve(t, env, "event-1", "user-1", 3, "key-1")

		assert.Equal(t, first.ReservationID, second.ReservationID)
		assert.Equal(t, 3, env.inventories.reserved("event-1"))
	})

	t.Run("key of terminal reservation is freed for a new hold", func(t *testing.T) {
		env := newTestEnv()
		first := reserve(t, env, "event-1", "user-1", 3, "key-1")

		_, err := env.svc.Release(context.Background(), first.ReservationID)
		require.NoError(t, err)

		// 注册表里的旧绑定指向终态预订，认领循环应自行清理并放行
		second := reserve(t, env, "event-1", "user-1", 3, "key-1")
		assert.NotEqual(t, first.ReservationID, second.ReservationID)
	})

	t.Run("different keys create distinct holds", func(t *testing.T) {
		env := newTestEnv()
		first := reserve(t, env, "event-1", "user-1", 2, "key-1")
		second := reserve(t, env, "event-1", "user-1", 2, "key-2")

		assert.NotEqual(t, first.ReservationID, second.ReservationID)
		assert.Equal(t, 4, env.inventories.reserved("event-1"))
	})

	t.Run("concurrent first requests with one key yield one reservation", func(t *testing.T) {
		env := newTestEnv()

		const workers = 16
		results := make([]*ReserveResponse, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				resp, err := env.svc.Reserve(context.Background(), &ReserveRequest{
					EventID: "event-1", UserID: "user-1", Quantity: 3,
				}, "key-1")
				if err == nil {
					results[i] = resp
				}
			}(i)
		}
		wg.Wait()

		ids := map[string]bool{}
		for _, resp := range results {
			if resp != nil {
				ids[resp.ReservationID] = true
			}
		}
		require.Len(t, ids, 1, "all successful responses must point at the same reservation")
		assert.Equal(t, 3, env.inventories.reserved("event-1"), "ledger debited exactly once")
	})
}

func TestReserveRollback(t *testing.T) {
	t.Run("reservation save failure returns the debited stock", func(t *testing.T) {
		env := newTestEnv()
		env.reservations.failNextSave = errSaveBoom

		_, err := env.svc.Reserve(context.Background(), &ReserveRequest{
			EventID: "event-1", UserID: "user-1", Quantity: 3,
		}, "key-1")
		require.ErrorIs(t, err, errSaveBoom)

		assert.Equal(t, 0, env.inventories.reserved("event-1"))
		// 认领被撤销，下一次同键请求可以重新创建
		resp := reserve(t, env, "event-1", "user-1", 3, "key-1")
		assert.Equal(t, domain.StatusPending, resp.Status)
	})
}

func TestConfirm(t *testing.T) {
	t.Run("confirms pending hold and issues one ticket", func(t *testing.T) {
		env := newTestEnv()
		resp := reserve(t, env, "event-1", "user-1", 2, "")

		confirmResp, err := env.svc.Confirm(context.Background(), resp.ReservationID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusConfirmed, confirmResp.Status)
		assert.Equal(t, 1, env.tickets.count())
		// 确认不释放库存
		assert.Equal(t, 2, env.inventories.reserved("event-1"))
	})

	t.Run("rejects confirm after hold expiry", func(t *testing.T) {
		env := newTestEnv()
		resp := reserve(t, env, "event-1", "user-1", 2, "")

		env.clk.Advance(16 * time.Minute)
		_, err := env.svc.Confirm(context.Background(), resp.ReservationID)
		assert.ErrorIs(t, err, domain.ErrReservationExpired)
		assert.Equal(t, 0, env.tickets.count())
	})

	t.Run("rejects double confirm without a second ticket", func(t *testing.T) {
		env := newTestEnv()
		resp := reserve(t, env, "event-1", "user-1", 2, "")

		_, err := env.svc.Confirm(context.Background(), resp.ReservationID)
		require.NoError(t, err)
		_, err = env.svc.Confirm(context.Background(), resp.ReservationID)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		assert.Equal(t, 1, env.tickets.count())
	})

	t.Run("unknown reservation", func(t *testing.T) {
		env := newTestEnv()
		_, err := env.svc.Confirm(context.Background(), "missing")
		assert.ErrorIs(t, err, domain.ErrReservationNotFound)
	})
}

func TestRelease(t *testing.T) {
	t.Run("cancels pending hold and returns stock", func(t *testing.T) {
		env := newTestEnv()
		resp := reserve(t, env, "event-1", "user-1", 3, "")

		releaseResp, err := env.svc.Release(context.Background(), resp.ReservationID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCanceled, releaseResp.Status)
		assert.Equal(t, 0, env.inventories.reserved("event-1"))
	})

	t.Run("cancels confirmed reservation without returning stock", func(t *testing.T) {
		env := newTestEnv()
		resp := reserve(t, env, "event-1", "user-1", 3, "")
		_, err := env.svc.Confirm(context.Background(), resp.ReservationID)
		require.NoError(t, err)

		releaseResp, err := env.svc.Release(context.Background(), resp.ReservationID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCanceled, releaseResp.Status)
		assert.Equal(t, 3, env.inventories.reserved("event-1"),
			"post-confirmation cancel must not touch the ledger")
	})

	t.Run("release on terminal reservation is an idempotent no-op", func(t *testing.T) {
		env := newTestEnv()
		resp := reserve(t, env, "event-1", "user-1", 3, "")

		_, err := env.svc.Release(context.Background(), resp.ReservationID)
		require.NoError(t, err)

		again, err := env.svc.Release(context.Background(), resp.ReservationID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCanceled, again.Status)
		assert.Equal(t, 0, env.inventories.reserved("event-1"), "stock returned exactly once")
	})

	t.Run("unknown reservation", func(t *testing.T) {
		env := newTestEnv()
		_, err := env.svc.Release(context.Background(), "missing")
		assert.ErrorIs(t, err, domain.ErrReservationNotFound)
	})

	t.Run("failed stock return still cancels and counts the leak", func(t *testing.T) {
		env := newTestEnv()
		resp := reserve(t, env, "event-1", "user-1", 3, "")
		// 终态落库后归还库存失败：取消仍然成立，泄漏必须计入指标
		env.inventories.failSave = errSaveBoom
		before := testutil.ToFloat64(metrics.StockLeaksTotal.WithLabelValues("release"))

		releaseResp, err := env.svc.Release(context.Background(), resp.ReservationID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCanceled, releaseResp.Status)
		assert.Equal(t, 3, env.inventories.reserved("event-1"), "leaked, not double-released")

		after := testutil.ToFloat64(metrics.StockLeaksTotal.WithLabelValues("release"))
		assert.Equal(t, before+1, after)
	})
}

func TestGetAvailability(t *testing.T) {
	t.Run("reflects ledger state", func(t *testing.T) {
		env := newTestEnv()
		reserve(t, env, "event-1", "user-1", 30, "")
		// 全局上限把 30 压到 10
		resp, err := env.svc.GetAvailability(context.Background(), "event-1")
		require.NoError(t, err)
		assert.Equal(t, 100, resp.Total)
		assert.Equal(t, 90, resp.Available)
	})

	t.Run("lazily initializes unknown event instead of 404", func(t *testing.T) {
		env := newTestEnv(func(e *testEnv) { e.catalog.capacity = 42 })
		resp, err := env.svc.GetAvailability(context.Background(), "brand-new")
		require.NoError(t, err)
		assert.Equal(t, 42, resp.Total)
		assert.Equal(t, 42, resp.Available)
	})
}

func TestGetUserReservations(t *testing.T) {
	env := newTestEnv()
	first := reserve(t, env, "event-1", "user-1", 1, "")
	env.clk.Advance(time.Minute)
	second := reserve(t, env, "event-2", "user-1", 2, "")
	reserve(t, env, "event-1", "user-2", 1, "")

	resp, err := env.svc.GetUserReservations(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, resp.Reservations, 2)
	assert.Equal(t, second.ReservationID, resp.Reservations[0].ReservationID, "newest first")
	assert.Equal(t, first.ReservationID, resp.Reservations[1].ReservationID)

	empty, err := env.svc.GetUserReservations(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty.Reservations)
}
