// Package metrics содержит Prometheus-метрики ядра допуска.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/Dawinz/learn-earn-backend/internal/features/payouts"
)

// Исходы решения
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// AdmissionMetrics содержит все метрики решений о допуске
type AdmissionMetrics struct {
	// Решения по типам и исходам
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec

	// Начисления
	EarningsUSDTotal   *prometheus.CounterVec
	EarningsCoinsTotal *prometheus.CounterVec

	// Выплаты
	PayoutRequestedUSDTotal prometheus.Counter
	PayoutSettledTotal      *prometheus.CounterVec

	// Кулдауны
	CooldownsArmedTotal  *prometheus.CounterVec
	CooldownsReapedTotal prometheus.Counter
}

// New создаёт метрики и регистрирует их в reg.
// reg == nil: метрики не регистрируются.
func New(reg prometheus.Registerer) *AdmissionMetrics {
	factory := promauto.With(reg)

	return &AdmissionMetrics{
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_decisions_total",
				Help: "Количество решений о допуске начислений и выплат",
			},
			[]string{"kind", "outcome", "code"},
		),

		DecisionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "admission_decision_duration_seconds",
				Help:    "Длительность принятия решения",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		EarningsUSDTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "earnings_usd_total",
				Help: "Сумма начислений в USD",
			},
			[]string{"source"},
		),

		EarningsCoinsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "earnings_coins_total",
				Help: "Сумма начислений в монетах",
			},
			[]string{"source"},
		),

		PayoutRequestedUSDTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payout_requested_usd_total",
				Help: "Сумма принятых заявок на выплату в USD",
			},
		),

		PayoutSettledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payout_settled_total",
				Help: "Заявки, закрытые администратором",
			},
			[]string{"status"},
		),

		CooldownsArmedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cooldowns_armed_total",
				Help: "Количество взведённых кулдаунов",
			},
			[]string{"action"},
		),

		CooldownsReapedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cooldowns_reaped_total",
				Help: "Количество истёкших кулдаунов, снятых планировщиком",
			},
		),
	}
}

// ObserveDecision фиксирует исход и длительность решения.
func (m *AdmissionMetrics) ObserveDecision(kind, outcome, code string, started time.Time) {
	m.DecisionsTotal.WithLabelValues(kind, outcome, code).Inc()
	m.DecisionDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

// ObserveEarning учитывает принятое начисление.
func (m *AdmissionMetrics) ObserveEarning(source string, coins int64, usd decimal.Decimal) {
	m.EarningsCoinsTotal.WithLabelValues(source).Add(float64(coins))
	m.EarningsUSDTotal.WithLabelValues(source).Add(usd.InexactFloat64())
}

// ObservePayout учитывает принятую заявку на выплату.
func (m *AdmissionMetrics) ObservePayout(usd decimal.Decimal) {
	m.PayoutRequestedUSDTotal.Add(usd.InexactFloat64())
}

// ObserveCooldown учитывает взведённый кулдаун.
func (m *AdmissionMetrics) ObserveCooldown(action string) {
	m.CooldownsArmedTotal.WithLabelValues(action).Inc()
}

// ObserveReaped учитывает кулдауны, снятые планировщиком.
func (m *AdmissionMetrics) ObserveReaped(n int64) {
	m.CooldownsReapedTotal.Add(float64(n))
}

// PayoutSettled реализует payouts.SettleObserver.
func (m *AdmissionMetrics) PayoutSettled(_ context.Context, p payouts.Request) {
	m.PayoutSettledTotal.WithLabelValues(string(p.Status)).Inc()
}
