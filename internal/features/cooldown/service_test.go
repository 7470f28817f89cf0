package cooldown_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dawinz/learn-earn-backend/internal/common"
	"github.com/Dawinz/learn-earn-backend/internal/config"
	"github.com/Dawinz/learn-earn-backend/internal/features/cooldown"
	"github.com/Dawinz/learn-earn-backend/internal/memstore"
)

const device = "device-1"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() *config.Config {
	return &config.Config{
		CooldownQuizMinutes:       30,
		CooldownAdRewardMinutes:   15,
		CooldownLessonMinutes:     60,
		CooldownDailyBonusMinutes: 1440,
		CooldownDefaultMinutes:    30,
	}
}

func newService(t *testing.T) (*cooldown.Service, *clock) {
	t.Helper()
	db := memstore.New()
	clk := &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	svc := cooldown.NewService(db.Cooldowns(), db, cooldown.NewPolicy(testConfig()))
	svc.SetClock(clk.Now)
	return svc, clk
}

func TestPolicyBaseDuration(t *testing.T) {
	p := cooldown.NewPolicy(testConfig())
	assert.Equal(t, 15, p.BaseDuration(cooldown.ActionAdReward))
	assert.Equal(t, 30, p.BaseDuration(cooldown.ActionQuiz))
	assert.Equal(t, 60, p.BaseDuration(cooldown.ActionLesson))
	assert.Equal(t, 1440, p.BaseDuration(cooldown.ActionDailyBonus))
	// Для вида без своей настройки — значение по умолчанию
	assert.Equal(t, 30, p.BaseDuration(cooldown.ActionStreak))
	assert.Equal(t, 30, p.BaseDuration(cooldown.ActionKind("unknown")))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "Ad reward cooldown", cooldown.Reason(cooldown.ActionAdReward))
	assert.Equal(t, "General earning cooldown", cooldown.Reason(cooldown.ActionStreak))
}

func TestCheckWithoutEntry(t *testing.T) {
	svc, _ := newService(t)
	st, err := svc.Check(context.Background(), device, cooldown.ActionQuiz)
	require.NoError(t, err)
	assert.False(t, st.InCooldown)
	assert.Nil(t, st.Entry)
}

func TestArmAndCheck(t *testing.T) {
	ctx := context.Background()
	svc, clk := newService(t)

	entry, err := svc.ArmDefault(ctx, device, cooldown.ActionAdReward)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 15, entry.DurationMinutes)
	assert.Equal(t, clk.Now().Add(15*time.Minute), entry.EndsAt)
	assert.Equal(t, "Ad reward cooldown", entry.Reason)

	clk.Advance(4*time.Minute + 30*time.Second)
	st, err := svc.Check(ctx, device, cooldown.ActionAdReward)
	require.NoError(t, err)
	assert.True(t, st.InCooldown)
	// 10.5 минуты округляются вверх
	assert.Equal(t, 11, st.RemainingMinutes)

	// Кулдаун одного действия не мешает другому
	st, err = svc.Check(ctx, device, cooldown.ActionQuiz)
	require.NoError(t, err)
	assert.False(t, st.InCooldown)
}

func TestCheckReapsExpiredEntry(t *testing.T) {
	ctx := context.Background()
	svc, clk := newService(t)

	_, err := svc.Arm(ctx, device, cooldown.ActionQuiz, 5, "")
	require.NoError(t, err)

	clk.Advance(5 * time.Minute)
	st, err := svc.Check(ctx, device, cooldown.ActionQuiz)
	require.NoError(t, err)
	assert.False(t, st.InCooldown)

	active, err := svc.Active(ctx, device)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestArmSupersedesPrevious(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Arm(ctx, device, cooldown.ActionDailyPause, 5, "Daily earning pause - Tier 2")
	require.NoError(t, err)
	second, err := svc.Arm(ctx, device, cooldown.ActionDailyPause, 15, "Daily earning pause - Tier 3")
	require.NoError(t, err)

	active, err := svc.Active(ctx, device)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
	assert.Equal(t, 15, active[0].DurationMinutes)
}

func TestArmConcurrentKeepsOneActive(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(minutes int) {
			defer wg.Done()
			_, err := svc.Arm(ctx, device, cooldown.ActionLesson, minutes, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	active, err := svc.Active(ctx, device)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestArmNonPositiveMinutesIsNoop(t *testing.T) {
	svc, _ := newService(t)
	entry, err := svc.Arm(context.Background(), device, cooldown.ActionQuiz, 0, "")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestArmDefaultReason(t *testing.T) {
	svc, _ := newService(t)
	entry, err := svc.Arm(context.Background(), device, cooldown.ActionQuiz, 10, "")
	require.NoError(t, err)
	assert.Equal(t, "Manual cooldown", entry.Reason)
}

func TestEndEarly(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	entry, err := svc.ArmDefault(ctx, device, cooldown.ActionLesson)
	require.NoError(t, err)

	ended, err := svc.EndEarly(ctx, entry.ID)
	require.NoError(t, err)
	assert.False(t, ended.IsActive)

	st, err := svc.Check(ctx, device, cooldown.ActionLesson)
	require.NoError(t, err)
	assert.False(t, st.InCooldown)

	// Повторный вызов безопасен
	_, err = svc.EndEarly(ctx, entry.ID)
	assert.NoError(t, err)

	_, err = svc.EndEarly(ctx, uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestActiveSortedByEndsAt(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.ArmDefault(ctx, device, cooldown.ActionLesson)
	require.NoError(t, err)
	_, err = svc.ArmDefault(ctx, device, cooldown.ActionAdReward)
	require.NoError(t, err)
	_, err = svc.ArmDefault(ctx, device, cooldown.ActionQuiz)
	require.NoError(t, err)

	active, err := svc.Active(ctx, device)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, cooldown.ActionAdReward, active[0].Action)
	assert.Equal(t, cooldown.ActionQuiz, active[1].Action)
	assert.Equal(t, cooldown.ActionLesson, active[2].Action)
}

func TestReapExpired(t *testing.T) {
	ctx := context.Background()
	svc, clk := newService(t)

	_, err := svc.ArmDefault(ctx, device, cooldown.ActionAdReward)
	require.NoError(t, err)
	_, err = svc.ArmDefault(ctx, device, cooldown.ActionLesson)
	require.NoError(t, err)

	clk.Advance(20 * time.Minute)
	n, err := svc.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := svc.Active(ctx, device)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, cooldown.ActionLesson, active[0].Action)
}
