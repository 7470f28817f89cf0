package admission

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/Dawinz/learn-earn-backend/internal/common"
	"github.com/Dawinz/learn-earn-backend/internal/events"
	"github.com/Dawinz/learn-earn-backend/internal/features/cooldown"
	"github.com/Dawinz/learn-earn-backend/internal/features/identity"
	"github.com/Dawinz/learn-earn-backend/internal/features/payouts"
	"github.com/Dawinz/learn-earn-backend/internal/metrics"
)

// RequestPayout принимает или отклоняет заявку на выплату.
//
// Алгоритм:
//  1. Сумма не меньше minPayoutUsd
//  2. Реквизиты выплаты заданы
//  3. Нет кулдауна выплат
//  4. Эмуляторам выплаты разрешены или устройство не эмулятор
//  5. Подпись {nonce, amountUsd, deviceId} верна, nonce не встречался
//     ни в used_nonces, ни в прежних заявках; лимит частоты не превышен
//  6. Сумма укладывается в остаток бюджета
//  7. Создаём заявку pending и взводим кулдаун выплат
//
// Шаги 6–7 идут в одной транзакции под блокировками устройства и бюджета,
// кулдаун выплат перепроверяется там же.
func (c *Controller) RequestPayout(ctx context.Context, claim PayoutClaim) (*PayoutResult, error) {
	started := time.Now()
	decisionID := c.newDecisionID()

	result, request, err := c.requestPayout(ctx, claim, decisionID)
	if err != nil {
		return nil, c.resolve(KindPayout, claim.DeviceID, decisionID, started, err)
	}

	c.Metrics.ObserveDecision(KindPayout, metrics.OutcomeAccepted, "", started)
	c.afterPayout(ctx, request, result)
	return result, nil
}

func (c *Controller) requestPayout(ctx context.Context, claim PayoutClaim, decisionID string) (*PayoutResult, *payouts.Request, error) {
	if claim.DeviceID == "" {
		return nil, nil, common.Reject(common.ErrInvalidClaim, common.CodeInvalidClaim)
	}
	unlock := c.locks.Lock(claim.DeviceID)
	defer unlock()

	device, err := c.Identity.RequireActive(ctx, claim.DeviceID)
	if err != nil {
		return nil, nil, err
	}

	snap, err := c.Settings.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}

	// Шаг 1: сумма. Центы — не точнее двух знаков.
	amount, err := decimal.NewFromString(claim.Amount)
	if err != nil || !amount.IsPositive() || !amount.Equal(amount.Round(2)) || amount.LessThan(snap.MinPayoutUSD) {
		return nil, nil, common.Reject(common.ErrInvalidAmount, common.CodeInvalidAmount)
	}

	// Шаг 2: реквизиты
	if !device.HasDestination() {
		return nil, nil, common.Reject(common.ErrNoDestination, common.CodeNoDestination)
	}

	// Шаг 3: кулдаун выплат
	if err := c.checkPayoutCooldown(ctx, device.DeviceID); err != nil {
		return nil, nil, err
	}

	// Шаг 4: эмуляторы
	if device.IsEmulator && !snap.EmulatorPayoutsAllowed {
		return nil, nil, common.Reject(common.ErrEmulatorBlocked, common.CodeEmulatorBlocked)
	}

	// Шаг 5: подпись
	if len(claim.Nonce) > maxTokenLength {
		return nil, nil, common.Reject(common.ErrInvalidClaim, common.CodeInvalidClaim)
	}
	message := identity.PayoutMessage{
		Nonce:     claim.Nonce,
		AmountUSD: json.Number(claim.Amount),
		DeviceID:  device.DeviceID,
	}.Bytes()
	if err := c.Identity.Authenticate(ctx, device, message, claim.Signature, claim.Nonce); err != nil {
		return nil, nil, err
	}
	if !c.payoutLimiter.Allow(device.DeviceID) {
		return nil, nil, common.Reject(common.ErrRateLimited, common.CodeRateLimited)
	}
	c.Identity.Touch(ctx, device.DeviceID)

	var (
		result  *PayoutResult
		request *payouts.Request
	)
	keys := []string{deviceLockKey(device.DeviceID), budgetLockKey}
	err = c.Tx.WithinLocks(ctx, keys, func(ctx context.Context) error {
		// used_nonces чистится по TTL, заявки остаются навсегда
		replayed, err := c.Payouts.NonceUsed(ctx, device.DeviceID, claim.Nonce)
		if err != nil {
			return err
		}
		if replayed {
			return common.Reject(common.ErrNonceReplayed, common.CodeNonceReplayed)
		}
		if err := c.checkPayoutCooldown(ctx, device.DeviceID); err != nil {
			return err
		}

		// Шаг 6: бюджет. Отрицательный остаток — бюджета нет.
		remaining, err := c.Budget.Remaining(ctx, snap)
		if err != nil {
			return err
		}
		if amount.GreaterThan(remaining) {
			return common.Reject(common.ErrBudgetExceeded, common.CodeBudgetExceeded).
				WithBudget(decimal.Max(decimal.Zero, remaining), amount)
		}

		// Шаг 7: заявка и кулдаун
		request = &payouts.Request{
			DeviceID:   device.DeviceID,
			AmountUSD:  amount,
			Signature:  claim.Signature,
			Nonce:      claim.Nonce,
			DecisionID: decisionID,
		}
		if err := c.Payouts.Create(ctx, request); err != nil {
			return err
		}
		armed, err := c.Cooldowns.Arm(ctx, device.DeviceID, cooldown.ActionPayout,
			snap.PayoutCooldownMinutes(), cooldown.Reason(cooldown.ActionPayout))
		if err != nil {
			return err
		}

		result = &PayoutResult{
			DecisionID:      decisionID,
			PayoutID:        request.ID,
			AmountUSD:       amount,
			Status:          string(request.Status),
			RequestedAt:     request.RequestedAt,
			RemainingBudget: remaining.Sub(amount),
		}
		if armed != nil {
			result.CooldownEndsAt = armed.EndsAt
		}
		return nil
	})
	if err != nil {
		c.releaseOnFault(ctx, device.DeviceID, claim.Nonce, err)
		return nil, nil, err
	}
	return result, request, nil
}

func (c *Controller) checkPayoutCooldown(ctx context.Context, deviceID string) error {
	status, err := c.Cooldowns.Check(ctx, deviceID, cooldown.ActionPayout)
	if err != nil {
		return err
	}
	if status.InCooldown {
		return common.Reject(common.ErrPayoutCooldownActive, common.CodePayoutCooldownActive).WithMinutes(status.RemainingMinutes)
	}
	return nil
}

// afterPayout — побочные каналы после фиксации. На решение не влияют.
func (c *Controller) afterPayout(ctx context.Context, p *payouts.Request, r *PayoutResult) {
	c.Metrics.ObservePayout(r.AmountUSD)
	if !r.CooldownEndsAt.IsZero() {
		c.Metrics.ObserveCooldown(string(cooldown.ActionPayout))
	}

	if c.Events != nil {
		c.Events.PayoutRequested(ctx, events.PayoutRequested{
			DecisionID: r.DecisionID,
			PayoutID:   r.PayoutID.String(),
			DeviceID:   p.DeviceID,
			AmountUSD:  r.AmountUSD,
			At:         r.RequestedAt,
		})
	}
	if c.Notifier != nil {
		c.Notifier.NotifyPayout(ctx, *p)
	}

	log.WithFields(log.Fields{
		"device_id":        p.DeviceID,
		"decision_id":      r.DecisionID,
		"payout_id":        r.PayoutID,
		"amount":           r.AmountUSD.String(),
		"remaining_budget": r.RemainingBudget.String(),
	}).Info("Заявка на выплату принята")
}
