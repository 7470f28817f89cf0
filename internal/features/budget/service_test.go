package budget_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dawinz/learn-earn-backend/internal/features/budget"
	"github.com/Dawinz/learn-earn-backend/internal/features/payouts"
	"github.com/Dawinz/learn-earn-backend/internal/features/settings"
	"github.com/Dawinz/learn-earn-backend/internal/memstore"
)

func usd(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func snapshot(impressions int64) settings.Settings {
	s := settings.Defaults()
	s.ImpressionsToday = impressions
	return s
}

func TestDailyBudget(t *testing.T) {
	b := budget.DailyBudget(snapshot(10000))
	assert.True(t, usd("15").Equal(b.RevenueToday))
	assert.True(t, usd("9").Equal(b.PayoutBudgetToday))

	empty := budget.DailyBudget(snapshot(0))
	assert.True(t, empty.RevenueToday.IsZero())
	assert.True(t, empty.PayoutBudgetToday.IsZero())
}

func TestRemainingCanGoNegative(t *testing.T) {
	assert.True(t, usd("4").Equal(budget.Remaining(snapshot(10000), usd("5"))))
	assert.True(t, usd("-1").Equal(budget.Remaining(snapshot(10000), usd("10"))))
}

func TestServiceCountsTodayCommitments(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

	payoutsService := payouts.NewService(db.Payouts())
	budgetService := budget.NewService(db.Payouts(), time.UTC)
	budgetService.SetClock(func() time.Time { return now })

	create := func(at time.Time, amount string) *payouts.Request {
		payoutsService.SetClock(func() time.Time { return at })
		p := &payouts.Request{DeviceID: "d", AmountUSD: usd(amount)}
		require.NoError(t, payoutsService.Create(ctx, p))
		return p
	}

	// Вчерашняя заявка бюджет сегодняшнего дня не трогает
	create(now.AddDate(0, 0, -1), "7")
	create(now.Add(-time.Hour), "3")
	paid := create(now.Add(-30*time.Minute), "2")
	rejected := create(now.Add(-10*time.Minute), "1")

	_, err := payoutsService.MarkPaid(ctx, paid.ID, "tx-1")
	require.NoError(t, err)
	_, err = payoutsService.Reject(ctx, rejected.ID, "fraud")
	require.NoError(t, err)

	committed, err := budgetService.CommittedToday(ctx)
	require.NoError(t, err)
	assert.True(t, usd("5").Equal(committed), committed.String())

	st, err := budgetService.Status(ctx, snapshot(10000))
	require.NoError(t, err)
	assert.True(t, usd("15").Equal(st.RevenueToday))
	assert.True(t, usd("9").Equal(st.PayoutBudgetToday))
	assert.True(t, usd("4").Equal(st.Remaining))
	assert.True(t, st.CanPayout)

	remaining, err := budgetService.Remaining(ctx, snapshot(0))
	require.NoError(t, err)
	assert.True(t, usd("-5").Equal(remaining))
}
