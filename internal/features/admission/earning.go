package admission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/Dawinz/learn-earn-backend/internal/common"
	"github.com/Dawinz/learn-earn-backend/internal/events"
	"github.com/Dawinz/learn-earn-backend/internal/features/cooldown"
	"github.com/Dawinz/learn-earn-backend/internal/features/earnings"
	"github.com/Dawinz/learn-earn-backend/internal/features/identity"
	"github.com/Dawinz/learn-earn-backend/internal/features/settings"
	"github.com/Dawinz/learn-earn-backend/internal/metrics"
)

// ClaimEarning принимает или отклоняет заявку на начисление.
//
// Алгоритм:
//  1. Устройство активно, подпись верна, nonce не использован,
//     лимит частоты не превышен
//  2. Нет кулдауна на это действие
//  3. Дневной лимит не исчерпан и нет дневной паузы
//  4. Считаем награду
//  5. Награда не выводит сумму за сутки за лимит
//  6. Записываем начисление
//  7. Взводим кулдаун действия и паузу по новому тиру
//
// Шаги 2–7 идут в одной транзакции под блокировкой устройства:
// начисление, кулдаун и пауза фиксируются вместе или не фиксируются вовсе.
func (c *Controller) ClaimEarning(ctx context.Context, claim EarningClaim) (*EarningResult, error) {
	started := time.Now()
	decisionID := c.newDecisionID()

	result, err := c.claimEarning(ctx, claim, decisionID)
	if err != nil {
		return nil, c.resolve(KindEarning, claim.DeviceID, decisionID, started, err)
	}

	c.Metrics.ObserveDecision(KindEarning, metrics.OutcomeAccepted, "", started)
	c.afterEarning(ctx, claim.DeviceID, result)
	return result, nil
}

func (c *Controller) claimEarning(ctx context.Context, claim EarningClaim, decisionID string) (*EarningResult, error) {
	if !claim.Source.Valid() || claim.DeviceID == "" {
		return nil, common.Reject(common.ErrInvalidClaim, common.CodeInvalidClaim)
	}
	unlock := c.locks.Lock(claim.DeviceID)
	defer unlock()

	// Шаг 1: устройство и подпись
	device, err := c.Identity.RequireActive(ctx, claim.DeviceID)
	if err != nil {
		return nil, err
	}
	message, err := c.signedMessage(claim)
	if err != nil {
		return nil, err
	}
	if err := c.Identity.Authenticate(ctx, device, message, claim.Signature, claim.Nonce); err != nil {
		return nil, err
	}
	// Лимит частоты расходуют только запросы с верной подписью
	if !c.earnLimiter.Allow(device.DeviceID) {
		return nil, common.Reject(common.ErrRateLimited, common.CodeRateLimited)
	}
	c.Identity.Touch(ctx, device.DeviceID)

	// Один снимок настроек на всё решение
	snap, err := c.Settings.Snapshot(ctx)
	if err != nil {
		c.releaseOnFault(ctx, device.DeviceID, claim.Nonce, err)
		return nil, err
	}

	var result *EarningResult
	err = c.Tx.WithinLocks(ctx, []string{deviceLockKey(device.DeviceID)}, func(ctx context.Context) error {
		var err error
		result, err = c.decideEarning(ctx, device.DeviceID, claim, snap, decisionID)
		return err
	})
	if err != nil {
		c.releaseOnFault(ctx, device.DeviceID, claim.Nonce, err)
		return nil, err
	}
	return result, nil
}

// signedMessage проверяет форму заявки и собирает подписанное сообщение.
func (c *Controller) signedMessage(claim EarningClaim) ([]byte, error) {
	if len(claim.Nonce) > maxTokenLength || len(claim.RefID) > maxTokenLength || len(claim.AdUnitID) > maxTokenLength {
		return nil, common.Reject(common.ErrInvalidClaim, common.CodeInvalidClaim)
	}
	if claim.Source == earnings.SourceAdReward {
		if !c.adRewards.Allowed(claim.AdUnitID) {
			return nil, common.Reject(common.ErrInvalidClaim, common.CodeInvalidClaim)
		}
		return identity.AdRewardMessage{
			Nonce:    claim.Nonce,
			AdUnitID: claim.AdUnitID,
			DeviceID: claim.DeviceID,
		}.Bytes(), nil
	}

	if claim.Source.DedupByRef() && claim.RefID == "" {
		return nil, common.Reject(common.ErrInvalidClaim, common.CodeInvalidClaim)
	}
	if claim.Source == earnings.SourceQuiz && (claim.Score < 0 || claim.Score > 100 || claim.TimeSpentSeconds < 0) {
		return nil, common.Reject(common.ErrInvalidClaim, common.CodeInvalidClaim)
	}
	return identity.ClaimMessage{
		Nonce:    claim.Nonce,
		Source:   string(claim.Source),
		RefID:    claim.RefID,
		DeviceID: claim.DeviceID,
	}.Bytes(), nil
}

// decideEarning — шаги 2–7. Выполняется внутри транзакции.
func (c *Controller) decideEarning(ctx context.Context, deviceID string, claim EarningClaim, snap settings.Settings, decisionID string) (*EarningResult, error) {
	action := claim.Source.CooldownAction()

	// Шаг 2: кулдаун действия
	status, err := c.Cooldowns.Check(ctx, deviceID, action)
	if err != nil {
		return nil, err
	}
	if status.InCooldown {
		return nil, common.Reject(common.ErrCooldownActive, cooldownCode(action)).WithMinutes(status.RemainingMinutes)
	}

	// Урок и квиз оплачиваются один раз
	if claim.Source.DedupByRef() {
		claimed, err := c.Earnings.AlreadyClaimed(ctx, deviceID, claim.Source, claim.RefID)
		if err != nil {
			return nil, err
		}
		if claimed {
			return nil, common.Reject(common.ErrAlreadyClaimed, common.CodeAlreadyClaimed)
		}
	}

	// Шаг 3: дневной лимит и пауза
	earnedToday, err := c.Earnings.TotalEarnedToday(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if earnedToday.GreaterThanOrEqual(snap.MaxDailyEarnUSD) {
		return nil, common.Reject(common.ErrDailyCapReached, common.CodeDailyCapReached).WithRemaining(decimal.Zero)
	}
	pause, err := c.Cooldowns.Check(ctx, deviceID, cooldown.ActionDailyPause)
	if err != nil {
		return nil, err
	}
	if pause.InCooldown {
		return nil, common.Reject(common.ErrDailyEarningPaused, common.CodeDailyEarningPaused).WithMinutes(pause.RemainingMinutes)
	}

	// Шаг 4: награда
	coins, err := c.reward(claim, snap)
	if err != nil {
		return nil, err
	}
	usd := earnings.CoinsToUSD(coins, snap.CoinToUSDRate)

	// Шаг 5: не выходим за лимит
	if earnedToday.Add(usd).GreaterThan(snap.MaxDailyEarnUSD) {
		remaining := snap.MaxDailyEarnUSD.Sub(earnedToday)
		return nil, common.Reject(common.ErrWouldExceedCap, common.CodeDailyCapExceeded).WithRemaining(remaining)
	}

	// Шаг 6: запись
	event := &earnings.Event{
		DeviceID:   deviceID,
		Source:     claim.Source,
		Coins:      coins,
		USD:        usd,
		RefID:      claim.RefID,
		DecisionID: decisionID,
	}
	if claim.Source == earnings.SourceAdReward {
		event.RefID = claim.AdUnitID
	}
	if err := c.Earnings.Record(ctx, event); err != nil {
		return nil, err
	}

	// Шаг 7: кулдаун действия, затем пауза по обновлённой сумме
	armed, err := c.Cooldowns.ArmDefault(ctx, deviceID, action)
	if err != nil {
		return nil, err
	}
	newTotal, err := c.Earnings.TotalEarnedToday(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	tier, pauseMinutes, err := c.Earnings.ApplyDailyPause(ctx, deviceID, newTotal, snap.MaxDailyEarnUSD)
	if err != nil {
		return nil, err
	}

	result := &EarningResult{
		DecisionID:   decisionID,
		EarningID:    event.ID,
		Source:       claim.Source,
		Coins:        coins,
		USD:          usd,
		EarnedToday:  newTotal,
		Remaining:    decimal.Max(decimal.Zero, snap.MaxDailyEarnUSD.Sub(newTotal)),
		Tier:         tier,
		PauseMinutes: pauseMinutes,
	}
	if armed != nil {
		result.CooldownMinutes = armed.DurationMinutes
	}
	return result, nil
}

// reward — шаг 4: монеты за действие.
func (c *Controller) reward(claim EarningClaim, snap settings.Settings) (int64, error) {
	switch claim.Source {
	case earnings.SourceAdReward:
		return c.adRewards.Coins, nil
	case earnings.SourceQuiz:
		coins, passed := earnings.QuizReward(claim.Score, claim.TimeSpentSeconds, c.quizPassScore)
		if !passed {
			return 0, common.Reject(common.ErrQuizNotPassed, common.CodeQuizNotPassed)
		}
		return coins, nil
	default:
		return earnings.ScaledReward(claim.Source, snap.ECPMUSD), nil
	}
}

// afterEarning — побочные каналы после фиксации. На решение не влияют.
func (c *Controller) afterEarning(ctx context.Context, deviceID string, r *EarningResult) {
	c.Metrics.ObserveEarning(string(r.Source), r.Coins, r.USD)
	if r.CooldownMinutes > 0 {
		c.Metrics.ObserveCooldown(string(r.Source.CooldownAction()))
	}
	if r.PauseMinutes > 0 {
		c.Metrics.ObserveCooldown(string(cooldown.ActionDailyPause))
	}

	if c.Events != nil {
		c.Events.EarningRecorded(ctx, events.EarningRecorded{
			DecisionID:  r.DecisionID,
			DeviceID:    deviceID,
			Source:      string(r.Source),
			Coins:       r.Coins,
			USD:         r.USD,
			EarnedToday: r.EarnedToday,
			Tier:        r.Tier,
			At:          time.Now(),
		})
	}

	log.WithFields(log.Fields{
		"device_id":    deviceID,
		"decision_id":  r.DecisionID,
		"source":       r.Source,
		"coins":        r.Coins,
		"usd":          r.USD.String(),
		"earned_today": r.EarnedToday.String(),
		"tier":         r.Tier,
	}).Info("Начисление принято")
}
