package earnings_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dawinz/learn-earn-backend/internal/config"
	"github.com/Dawinz/learn-earn-backend/internal/features/cooldown"
	"github.com/Dawinz/learn-earn-backend/internal/features/earnings"
	"github.com/Dawinz/learn-earn-backend/internal/features/settings"
	"github.com/Dawinz/learn-earn-backend/internal/memstore"
)

const device = "device-1"

type fixture struct {
	earnings  *earnings.Service
	cooldowns *cooldown.Service
	now       time.Time
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()
	db := memstore.New()
	f := &fixture{now: start}

	f.cooldowns = cooldown.NewService(db.Cooldowns(), db, cooldown.NewPolicy(&config.Config{CooldownDefaultMinutes: 30}))
	f.cooldowns.SetClock(f.clock)
	f.earnings = earnings.NewService(db.Earnings(), f.cooldowns, time.UTC)
	f.earnings.SetClock(f.clock)
	return f
}

func record(t *testing.T, f *fixture, coins int64, amount string, ref string) {
	t.Helper()
	err := f.earnings.Record(context.Background(), &earnings.Event{
		DeviceID: device,
		Source:   earnings.SourceQuiz,
		Coins:    coins,
		USD:      usd(amount),
		RefID:    ref,
	})
	require.NoError(t, err)
}

func TestTodayUsesCalendarDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2026, 5, 1, 23, 50, 0, 0, time.UTC))

	record(t, f, 100, "0.10", "q1")
	record(t, f, 50, "0.05", "q2")

	totals, err := f.earnings.Today(ctx, device)
	require.NoError(t, err)
	assert.True(t, usd("0.15").Equal(totals.USD))
	assert.Equal(t, int64(150), totals.Coins)
	assert.Equal(t, 2, totals.Count)

	// После полуночи начисления вчерашнего дня не учитываются
	f.now = f.now.Add(20 * time.Minute)
	total, err := f.earnings.TotalEarnedToday(ctx, device)
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestRecordRejectsNegativeCoins(t *testing.T) {
	f := newFixture(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	err := f.earnings.Record(context.Background(), &earnings.Event{DeviceID: device, Coins: -1})
	assert.Error(t, err)
}

func TestAlreadyClaimed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	record(t, f, 20, "0.02", "quiz-7")

	claimed, err := f.earnings.AlreadyClaimed(ctx, device, earnings.SourceQuiz, "quiz-7")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = f.earnings.AlreadyClaimed(ctx, device, earnings.SourceLesson, "quiz-7")
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = f.earnings.AlreadyClaimed(ctx, device, earnings.SourceQuiz, "")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestApplyDailyPause(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))

	tier, minutes, err := f.earnings.ApplyDailyPause(ctx, device, usd("0.10"), usd("0.50"))
	require.NoError(t, err)
	assert.Equal(t, 1, tier)
	assert.Zero(t, minutes)

	st, err := f.cooldowns.Check(ctx, device, cooldown.ActionDailyPause)
	require.NoError(t, err)
	assert.False(t, st.InCooldown)

	tier, minutes, err = f.earnings.ApplyDailyPause(ctx, device, usd("0.30"), usd("0.50"))
	require.NoError(t, err)
	assert.Equal(t, 3, tier)
	assert.Equal(t, 15, minutes)

	st, err = f.cooldowns.Check(ctx, device, cooldown.ActionDailyPause)
	require.NoError(t, err)
	require.True(t, st.InCooldown)
	assert.Equal(t, 15, st.RemainingMinutes)
	assert.Equal(t, "Daily earning pause - Tier 3", st.Entry.Reason)
}

func TestDailyStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	snap := settings.Defaults()

	record(t, f, 300, "0.30", "q1")
	_, _, err := f.earnings.ApplyDailyPause(ctx, device, usd("0.30"), snap.MaxDailyEarnUSD)
	require.NoError(t, err)

	f.now = f.now.Add(5 * time.Minute)
	st, err := f.earnings.DailyStatus(ctx, device, snap)
	require.NoError(t, err)
	assert.True(t, usd("0.30").Equal(st.Earned.USD))
	assert.True(t, usd("0.20").Equal(st.RemainingUSD))
	assert.Equal(t, int64(200), st.RemainingCoins)
	assert.Equal(t, 3, st.Tier)
	assert.Equal(t, 15, st.PauseMinutes)
	assert.True(t, st.IsPaused)
	assert.Equal(t, 10, st.PauseRemainingMinutes)
}

func TestDailyStatusRemainingNeverNegative(t *testing.T) {
	f := newFixture(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	snap := settings.Defaults()

	record(t, f, 600, "0.60", "q1")
	st, err := f.earnings.DailyStatus(context.Background(), device, snap)
	require.NoError(t, err)
	assert.True(t, st.RemainingUSD.IsZero())
	assert.Zero(t, st.RemainingCoins)
	assert.Equal(t, 6, st.Tier)
}
