// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: снятие истёкших кулдаунов,
// очистку использованных nonce и полуночный сброс показов рекламы.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/Dawinz/learn-earn-backend/internal/features/cooldown"
	"github.com/Dawinz/learn-earn-backend/internal/features/identity"
	"github.com/Dawinz/learn-earn-backend/internal/features/settings"
	"github.com/Dawinz/learn-earn-backend/internal/metrics"
)

// Расписания
const (
	cronReapCooldowns    = "* * * * *"
	cronPurgeNonces      = "*/10 * * * *"
	cronResetImpressions = "0 0 * * *"
)

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron *cron.Cron
	loc  *time.Location

	cooldowns *cooldown.Service
	identity  *identity.Service
	settings  *settings.Service
	metrics   *metrics.AdmissionMetrics

	resetImpressions bool
}

// NewScheduler создаёт планировщик в часовом поясе границы суток.
func NewScheduler(
	loc *time.Location,
	cooldownService *cooldown.Service,
	identityService *identity.Service,
	settingsService *settings.Service,
	m *metrics.AdmissionMetrics,
	resetImpressions bool,
) *Scheduler {
	return &Scheduler{
		cron:             cron.New(cron.WithLocation(loc)),
		loc:              loc,
		cooldowns:        cooldownService,
		identity:         identityService,
		settings:         settingsService,
		metrics:          m,
		resetImpressions: resetImpressions,
	}
}

// Start регистрирует и запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(cronReapCooldowns, func() { s.ReapCooldowns(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(cronPurgeNonces, func() { s.PurgeNonces(ctx) }); err != nil {
		return err
	}
	if s.resetImpressions {
		if _, err := s.cron.AddFunc(cronResetImpressions, func() { s.ResetImpressions(ctx) }); err != nil {
			return err
		}
	}

	s.cron.Start()
	log.WithFields(log.Fields{
		"timezone":          s.loc.String(),
		"reset_impressions": s.resetImpressions,
	}).Info("Планировщик задач запущен")
	return nil
}

// Stop останавливает планировщик и ждёт завершения запущенных задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

// ReapCooldowns гасит истёкшие кулдауны.
// Проверка кулдауна и сама гасит истёкшую запись, задача лишь чистит хвосты.
func (s *Scheduler) ReapCooldowns(ctx context.Context) {
	n, err := s.cooldowns.ReapExpired(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка снятия истёкших кулдаунов")
		return
	}
	if n > 0 {
		s.metrics.ObserveReaped(n)
		log.WithField("count", n).Debug("[CRON] Сняты истёкшие кулдауны")
	}
}

// PurgeNonces удаляет nonce, срок защиты от повтора которых вышел.
func (s *Scheduler) PurgeNonces(ctx context.Context) {
	n, err := s.identity.PurgeNonces(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка очистки nonce")
		return
	}
	if n > 0 {
		log.WithField("count", n).Debug("[CRON] Удалены истёкшие nonce")
	}
}

// ResetImpressions обнуляет счётчик показов в начале суток.
func (s *Scheduler) ResetImpressions(ctx context.Context) {
	log.Info("[CRON] Ежедневный сброс показов рекламы")
	if err := s.settings.ResetImpressions(ctx); err != nil {
		log.WithError(err).Error("[CRON] Ошибка сброса показов")
	}
}
