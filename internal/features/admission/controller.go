package admission

import (
	"context"
	"time"

	"github.com/jaevor/go-nanoid"
	log "github.com/sirupsen/logrus"

	"github.com/Dawinz/learn-earn-backend/internal/common"
	"github.com/Dawinz/learn-earn-backend/internal/config"
	"github.com/Dawinz/learn-earn-backend/internal/events"
	"github.com/Dawinz/learn-earn-backend/internal/features/budget"
	"github.com/Dawinz/learn-earn-backend/internal/features/cooldown"
	"github.com/Dawinz/learn-earn-backend/internal/features/earnings"
	"github.com/Dawinz/learn-earn-backend/internal/features/identity"
	"github.com/Dawinz/learn-earn-backend/internal/features/payouts"
	"github.com/Dawinz/learn-earn-backend/internal/features/settings"
	"github.com/Dawinz/learn-earn-backend/internal/metrics"
	"github.com/Dawinz/learn-earn-backend/internal/middleware"
)

// Ключ advisory-блокировки общего бюджета выплат
const budgetLockKey = "payout-budget"

// Предел длины nonce, refId и adUnitId: столбцы VARCHAR(128)
const maxTokenLength = 128

// PayoutNotifier сообщает администраторам о новой заявке.
type PayoutNotifier interface {
	NotifyPayout(ctx context.Context, p payouts.Request)
}

// Deps — зависимости контроллера.
type Deps struct {
	Identity  *identity.Service
	Cooldowns *cooldown.Service
	Earnings  *earnings.Service
	Budget    *budget.Service
	Settings  *settings.Service
	Payouts   *payouts.Service
	Tx        common.Transactor
	Metrics   *metrics.AdmissionMetrics
	Events    *events.Emitter // nil — события не публикуются
	Notifier  PayoutNotifier  // nil — без уведомлений
}

// Controller принимает решения о допуске начислений и выплат.
type Controller struct {
	Deps

	adRewards     earnings.AdRewards
	quizPassScore int

	earnLimiter   *middleware.RateLimiter
	payoutLimiter *middleware.RateLimiter
	locks         *deviceLocks

	newDecisionID func() string
}

// New создаёт контроллер.
func New(deps Deps, cfg *config.Config) (*Controller, error) {
	idGenerator, err := nanoid.Standard(16)
	if err != nil {
		return nil, err
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}

	return &Controller{
		Deps:          deps,
		adRewards:     earnings.NewAdRewards(cfg),
		quizPassScore: cfg.QuizPassScore,
		earnLimiter:   middleware.NewRateLimiter(cfg.RateLimitEarnRequests, cfg.RateLimitEarnWindow),
		payoutLimiter: middleware.NewRateLimiter(cfg.RateLimitPayoutRequests, cfg.RateLimitPayoutWindow),
		locks:         newDeviceLocks(),
		newDecisionID: idGenerator,
	}, nil
}

// SetClock подменяет часы лимитеров (для тестов).
func (c *Controller) SetClock(now func() time.Time) {
	c.earnLimiter.SetClock(now)
	c.payoutLimiter.SetClock(now)
}

// Close останавливает фоновые горутины лимитеров.
func (c *Controller) Close() {
	c.earnLimiter.Close()
	c.payoutLimiter.Close()
}

// DailyStatus — состояние дневного лимита устройства.
func (c *Controller) DailyStatus(ctx context.Context, deviceID string) (*earnings.DailyStatus, error) {
	if _, err := c.Identity.RequireActive(ctx, deviceID); err != nil {
		return nil, err
	}
	snap, err := c.Settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return c.Earnings.DailyStatus(ctx, deviceID, snap)
}

// resolve превращает ошибку решения в то, что уходит клиенту.
// Отказ возвращается как есть, всё остальное логируется и становится TRY_LATER.
func (c *Controller) resolve(kind, deviceID, decisionID string, started time.Time, err error) error {
	if rej, ok := common.AsRejection(err); ok {
		c.Metrics.ObserveDecision(kind, metrics.OutcomeRejected, rej.Code, started)
		log.WithFields(log.Fields{
			"kind":        kind,
			"device_id":   deviceID,
			"decision_id": decisionID,
			"code":        rej.Code,
		}).Debug("Отказ в допуске")
		return rej
	}

	c.Metrics.ObserveDecision(kind, metrics.OutcomeError, common.CodeTryLater, started)
	log.WithError(err).WithFields(log.Fields{
		"kind":        kind,
		"device_id":   deviceID,
		"decision_id": decisionID,
	}).Error("Внутренняя ошибка при принятии решения")
	return common.TryLater()
}

// releaseOnFault возвращает nonce, если решение сорвалось из-за сбоя.
// После отказа nonce остаётся погашенным.
func (c *Controller) releaseOnFault(ctx context.Context, deviceID, nonce string, err error) {
	if _, ok := common.AsRejection(err); ok {
		return
	}
	c.Identity.ReleaseNonce(ctx, deviceID, nonce)
}

// cooldownCode — код отказа по виду кулдауна.
func cooldownCode(action cooldown.ActionKind) string {
	switch action {
	case cooldown.ActionAdReward:
		return common.CodeAdCooldownActive
	case cooldown.ActionQuiz:
		return common.CodeQuizCooldownActive
	case cooldown.ActionLesson:
		return common.CodeLessonCooldownActive
	case cooldown.ActionDailyBonus:
		return common.CodeDailyBonusCooldownActive
	default:
		return common.CodeCooldownActive
	}
}

func deviceLockKey(deviceID string) string {
	return "device:" + deviceID
}
