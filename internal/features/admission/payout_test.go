package admission_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dawinz/learn-earn-backend/internal/common"
	"github.com/Dawinz/learn-earn-backend/internal/config"
	"github.com/Dawinz/learn-earn-backend/internal/features/admission"
	"github.com/Dawinz/learn-earn-backend/internal/features/payouts"
)

func TestPayoutAccepted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.impressions(10000)
	d := h.registerWithDestination(false)

	res, err := h.ctrl.RequestPayout(ctx, h.payoutClaim(d, "5.00"))
	require.NoError(t, err)
	assert.Equal(t, "pending", res.Status)
	assert.Equal(t, "5.00", res.AmountUSD.StringFixed(2))
	assert.Equal(t, "4.00", res.RemainingBudget.StringFixed(2))
	assert.Equal(t, h.clock().Add(48*time.Hour), res.CooldownEndsAt)

	body := res.Body()
	assert.True(t, body.Success)
	assert.Equal(t, res.PayoutID.String(), body.PayoutID)

	stored, err := h.payouts.Get(ctx, res.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, payouts.StatusPending, stored.Status)
	assert.Equal(t, d.id, stored.DeviceID)
	assert.Equal(t, res.DecisionID, stored.DecisionID)

	assert.Equal(t, 1, h.notified.count())
	assert.Equal(t, 1, h.published.count())

	_, err = h.ctrl.RequestPayout(ctx, h.payoutClaim(d, "5"))
	rej := requireRejection(t, err, common.CodePayoutCooldownActive)
	assert.Equal(t, 48*60, rej.RemainingMinutes)

	// Кулдаун выплат истёк, бюджет новых суток свободен
	h.advance(48 * time.Hour)
	_, err = h.ctrl.RequestPayout(ctx, h.payoutClaim(d, "5"))
	require.NoError(t, err)
}

func TestPayoutBudgetExceeded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.impressions(10000)
	d := h.registerWithDestination(false)

	claim := h.payoutClaim(d, "10")
	_, err := h.ctrl.RequestPayout(ctx, claim)
	rej := requireRejection(t, err, common.CodeBudgetExceeded)
	require.NotNil(t, rej.RemainingBudget)
	require.NotNil(t, rej.RequestedAmount)
	assert.Equal(t, "9.00", rej.RemainingBudget.StringFixed(2))
	assert.Equal(t, "10.00", rej.RequestedAmount.StringFixed(2))
	assert.Equal(t, common.CategoryBudget, rej.Category)

	pending, err := h.payouts.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Кулдаун не взведён, но nonce уже израсходован
	_, err = h.ctrl.RequestPayout(ctx, claim)
	requireRejection(t, err, common.CodeNonceReplayed)

	_, err = h.ctrl.RequestPayout(ctx, h.payoutClaim(d, "9"))
	require.NoError(t, err)
}

func TestPayoutWithoutRevenue(t *testing.T) {
	h := newHarness(t)
	d := h.registerWithDestination(false)

	_, err := h.ctrl.RequestPayout(context.Background(), h.payoutClaim(d, "5"))
	rej := requireRejection(t, err, common.CodeBudgetExceeded)
	assert.True(t, rej.RemainingBudget.IsZero())
}

func TestPayoutOverspentBudgetReportsZero(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.impressions(10000)
	first := h.registerWithDestination(false)
	second := h.registerWithDestination(false)

	_, err := h.ctrl.RequestPayout(ctx, h.payoutClaim(first, "5"))
	require.NoError(t, err)

	// Бюджет ужался до 4.50 при обещанных 5.00
	h.update("safetyMargin", "0.3")
	_, err = h.ctrl.RequestPayout(ctx, h.payoutClaim(second, "5"))
	rej := requireRejection(t, err, common.CodeBudgetExceeded)
	assert.True(t, rej.RemainingBudget.IsZero())
}

func TestPayoutInvalidAmountCheckedFirst(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.impressions(10000)
	d := h.registerWithDestination(false)

	for _, amount := range []string{"4.99", "5.001", "0", "-5", "abc", ""} {
		claim := h.payoutClaim(d, amount)
		claim.Signature = "not-a-signature"
		_, err := h.ctrl.RequestPayout(ctx, claim)
		requireRejection(t, err, common.CodeInvalidAmount)
	}

	// Порог берётся из настроек
	h.update("minPayoutUsd", "10")
	_, err := h.ctrl.RequestPayout(ctx, h.payoutClaim(d, "9"))
	requireRejection(t, err, common.CodeInvalidAmount)
}

func TestPayoutRequiresDestination(t *testing.T) {
	h := newHarness(t)
	h.impressions(10000)
	d := h.register(false)

	_, err := h.ctrl.RequestPayout(context.Background(), h.payoutClaim(d, "5"))
	requireRejection(t, err, common.CodeNoDestination)
}

func TestPayoutSignature(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.impressions(10000)
	d := h.registerWithDestination(false)

	// Подписана одна сумма, запрошена другая
	claim := h.payoutClaim(d, "5")
	claim.Amount = "6"
	_, err := h.ctrl.RequestPayout(ctx, claim)
	requireRejection(t, err, common.CodeInvalidSignature)

	// Сумма проверяется в том виде, в каком её подписал клиент
	_, err = h.ctrl.RequestPayout(ctx, h.payoutClaim(d, "5.50"))
	require.NoError(t, err)
}

func TestEmulatorPayouts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.impressions(10000)
	d := h.registerWithDestination(true)

	_, err := h.ctrl.RequestPayout(ctx, h.payoutClaim(d, "5"))
	requireRejection(t, err, common.CodeEmulatorBlocked)

	h.update("emulatorPayoutsAllowed", "true")
	_, err = h.ctrl.RequestPayout(ctx, h.payoutClaim(d, "5"))
	require.NoError(t, err)
}

func TestBudgetSharedAcrossDevices(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.impressions(10000)
	first := h.registerWithDestination(false)
	second := h.registerWithDestination(false)

	res, err := h.ctrl.RequestPayout(ctx, h.payoutClaim(first, "5"))
	require.NoError(t, err)

	_, err = h.ctrl.RequestPayout(ctx, h.payoutClaim(second, "5"))
	rej := requireRejection(t, err, common.CodeBudgetExceeded)
	assert.Equal(t, "4.00", rej.RemainingBudget.StringFixed(2))

	// Отклонённая заявка возвращает бюджет
	_, err = h.payouts.Reject(ctx, res.PayoutID, "duplicate account")
	require.NoError(t, err)

	_, err = h.ctrl.RequestPayout(ctx, h.payoutClaim(second, "5"))
	require.NoError(t, err)
}

func TestConcurrentPayoutsRespectBudget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.impressions(10000)

	const devices = 6
	claims := make([]chan error, devices)
	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		claim := h.payoutClaim(h.registerWithDestination(false), "5")
		claims[i] = make(chan error, 1)
		wg.Add(1)
		go func(out chan<- error) {
			defer wg.Done()
			_, err := h.ctrl.RequestPayout(ctx, claim)
			out <- err
		}(claims[i])
	}
	wg.Wait()

	accepted := 0
	for _, ch := range claims {
		err := <-ch
		if err == nil {
			accepted++
			continue
		}
		requireRejection(t, err, common.CodeBudgetExceeded)
	}
	assert.Equal(t, 1, accepted)

	pending, err := h.payouts.Pending(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestPayoutStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.impressions(10000)
	d := h.registerWithDestination(false)

	h.db.Break(errors.New("connection refused"))
	_, err := h.ctrl.RequestPayout(context.Background(), h.payoutClaim(d, "5"))
	requireRejection(t, err, common.CodeTryLater)
	assert.Zero(t, h.notified.count())
}

func TestPayoutUnknownDevice(t *testing.T) {
	h := newHarness(t)
	d := h.register(false)
	d.id = "unknown-device"

	_, err := h.ctrl.RequestPayout(context.Background(), h.payoutClaim(d, "5"))
	requireRejection(t, err, common.CodeDeviceNotRegistered)

	_, err = h.ctrl.RequestPayout(context.Background(), admission.PayoutClaim{Amount: "5"})
	requireRejection(t, err, common.CodeInvalidClaim)
}

func TestForgedPayoutsDoNotSpendRateLimit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(c *config.Config) { c.RateLimitPayoutRequests = 3 })
	h.impressions(10000)
	victim := h.registerWithDestination(false)
	attacker := h.register(false)

	// Чужой ключ, но deviceId жертвы
	for i := 0; i < 4; i++ {
		forged := h.payoutClaim(attacker, "5")
		forged.DeviceID = victim.id
		_, err := h.ctrl.RequestPayout(ctx, forged)
		requireRejection(t, err, common.CodeInvalidSignature)
	}

	res, err := h.ctrl.RequestPayout(ctx, h.payoutClaim(victim, "5"))
	require.NoError(t, err)
	assert.Equal(t, "pending", res.Status)
}

func TestPayoutReplayAfterNoncePurge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.impressions(10000)
	d := h.registerWithDestination(false)

	claim := h.payoutClaim(d, "5")
	_, err := h.ctrl.RequestPayout(ctx, claim)
	require.NoError(t, err)

	// Кулдаун выплат истёк, nonce вычищен планировщиком
	h.advance(49 * time.Hour)
	purged, err := h.identity.PurgeNonces(ctx)
	require.NoError(t, err)
	assert.Positive(t, purged)

	_, err = h.ctrl.RequestPayout(ctx, claim)
	requireRejection(t, err, common.CodeNonceReplayed)

	history, err := h.payouts.History(ctx, d.id, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, history.Total)

	_, err = h.ctrl.RequestPayout(ctx, h.payoutClaim(d, "5"))
	require.NoError(t, err)
}

func TestPayoutTryLaterReleasesNonce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.impressions(10000)
	d := h.registerWithDestination(false)

	claim := h.payoutClaim(d, "5")
	h.ctrl.Tx = failingCommit{inner: h.db, err: errors.New("commit failed")}
	_, err := h.ctrl.RequestPayout(ctx, claim)
	requireRejection(t, err, common.CodeTryLater)

	h.ctrl.Tx = h.db
	res, err := h.ctrl.RequestPayout(ctx, claim)
	require.NoError(t, err)
	assert.Equal(t, "pending", res.Status)
}

func TestPayoutOverlongNonce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.impressions(10000)
	d := h.registerWithDestination(false)

	_, err := h.ctrl.RequestPayout(ctx, h.payoutClaimWithNonce(d, "5", strings.Repeat("n", 129)))
	rej := requireRejection(t, err, common.CodeInvalidClaim)
	assert.Equal(t, common.CategoryValidation, rej.Category)

	_, err = h.ctrl.RequestPayout(ctx, h.payoutClaimWithNonce(d, "5", strings.Repeat("n", 128)))
	require.NoError(t, err)
}
