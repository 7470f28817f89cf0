package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dawinz/learn-earn-backend/internal/features/payouts"
	"github.com/Dawinz/learn-earn-backend/internal/metrics"
)

func TestMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveDecision("earn", metrics.OutcomeAccepted, "", time.Now())
	m.ObserveDecision("earn", metrics.OutcomeRejected, "AD_COOLDOWN_ACTIVE", time.Now())
	m.ObserveEarning("ad-reward", 300, decimal.RequireFromString("0.30"))
	m.ObservePayout(decimal.NewFromInt(5))
	m.ObserveCooldown("ad-reward")
	m.ObserveReaped(3)
	m.PayoutSettled(context.Background(), payouts.Request{Status: payouts.StatusRejected})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("earn", "rejected", "AD_COOLDOWN_ACTIVE")))
	assert.Equal(t, 300.0, testutil.ToFloat64(m.EarningsCoinsTotal.WithLabelValues("ad-reward")))
	assert.InDelta(t, 0.30, testutil.ToFloat64(m.EarningsUSDTotal.WithLabelValues("ad-reward")), 1e-9)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.PayoutRequestedUSDTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CooldownsArmedTotal.WithLabelValues("ad-reward")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CooldownsReapedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PayoutSettledTotal.WithLabelValues("rejected")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetricsWithoutRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		m := metrics.New(nil)
		m.ObserveReaped(1)
	})
}
