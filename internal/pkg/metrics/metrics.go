// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 预订引擎的核心指标，经 /metrics 暴露。
var (
	ReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventix",
		Name:      "reservations_total",
		Help:      "Reservation attempts by result (created, replayed, insufficient_stock, invalid).",
	}, []string{"result"})

	ConfirmationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventix",
		Name:      "confirmations_total",
		Help:      "Successfully confirmed reservations.",
	})

	ReleasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventix",
		Name:      "releases_total",
		Help:      "Release calls by prior status (PENDING, CONFIRMED, noop).",
	}, []string{"prior_status"})

	SweptReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventix",
		Name:      "swept_reservations_total",
		Help:      "Expired holds processed by the sweeper, by result (expired, error).",
	}, []string{"result"})

	PaymentOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventix",
		Name:      "payment_outcomes_total",
		Help:      "Payment outcome messages by disposition (applied, stale, not_found, unknown_status, malformed, error).",
	}, []string{"disposition"})

	// 终态已落库但库存未能归还的泄漏，按来源 (release, sweep, rollback) 计数。
	// 任何非零增长都应触发告警并人工核对台账。
	StockLeaksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventix",
		Name:      "stock_leaks_total",
		Help:      "Reserved stock that could not be returned to the ledger, by source (release, sweep, rollback).",
	}, []string{"source"})
)
