package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"eventix/internal/service/ticket/domain"
)

func newTestSweeper(env *testEnv) *ExpirationSweeper {
	return NewExpirationSweeper(env.svc, time.Minute, env.clk, otel.Tracer("test"))
}

func TestSweepOnce(t *testing.T) {
	t.Run("expires overdue holds and returns stock", func(t *testing.T) {
		env := newTestEnv()
		sweeper := newTestSweeper(env)

		first := reserve(t, env, "event-1", "user-1", 3, "")
		second := reserve(t, env, "event-1", "user-2", 2, "")
		require.Equal(t, 5, env.inventories.reserved("event-1"))

		env.clk.Advance(16 * time.Minute)
		swept, failed := sweeper.SweepOnce(context.Background())

		assert.Equal(t, 2, swept)
		assert.Equal(t, 0, failed)
		assert.Equal(t, domain.StatusExpired, env.reservations.statusOf(first.ReservationID))
		assert.Equal(t, domain.StatusExpired, env.reservations.statusOf(second.ReservationID))
		assert.Equal(t, 0, env.inventories.reserved("event-1"))
	})

	t.Run("leaves unexpired and confirmed reservations alone", func(t *testing.T) {
		env := newTestEnv()
		sweeper := newTestSweeper(env)

		overdue := reserve(t, env, "event-1", "user-1", 1, "")
		confirmed := reserve(t, env, "event-1", "user-2", 1, "")
		_, err := env.svc.Confirm(context.Background(), confirmed.ReservationID)
		require.NoError(t, err)

		env.clk.Advance(10 * time.Minute)
		fresh := reserve(t, env, "event-1", "user-3", 1, "")

		env.clk.Advance(6 * time.Minute)
		swept, failed := sweeper.SweepOnce(context.Background())

		assert.Equal(t, 1, swept)
		assert.Equal(t, 0, failed)
		assert.Equal(t, domain.StatusExpired, env.reservations.statusOf(overdue.ReservationID))
		assert.Equal(t, domain.StatusConfirmed, env.reservations.statusOf(confirmed.ReservationID))
		assert.Equal(t, domain.StatusPending, env.reservations.statusOf(fresh.ReservationID))
	})

	t.Run("single failure does not abort the cycle", func(t *testing.T) {
		env := newTestEnv()
		sweeper := newTestSweeper(env)

		reserve(t, env, "event-1", "user-1", 1, "")
		reserve(t, env, "event-2", "user-2", 1, "")
		env.clk.Advance(16 * time.Minute)

		// 第一条的保存失败，剩下的过期单仍要被处理
		env.reservations.failNextSave = errSaveBoom
		swept, failed := sweeper.SweepOnce(context.Background())

		assert.Equal(t, 1, swept)
		assert.Equal(t, 1, failed)

		// 失败的那条下一轮补上
		swept, failed = sweeper.SweepOnce(context.Background())
		assert.Equal(t, 1, swept)
		assert.Equal(t, 0, failed)
	})

	t.Run("empty cycle is a no-op", func(t *testing.T) {
		env := newTestEnv()
		sweeper := newTestSweeper(env)
		swept, failed := sweeper.SweepOnce(context.Background())
		assert.Equal(t, 0, swept)
		assert.Equal(t, 0, failed)
	})
}

func TestSweeperRunStopsOnContextCancel(t *testing.T) {
	env := newTestEnv()
	sweeper := NewExpirationSweeper(env.svc, 10*time.Millisecond, env.clk, otel.Tracer("test"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
