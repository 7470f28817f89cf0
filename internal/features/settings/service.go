// Package settings — service.go выдаёт снимок настроек и обслуживает
// административные изменения.
package settings

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Dawinz/learn-earn-backend/internal/common"
)

const lockKey = "settings"

// Store — хранилище настроек.
type Store interface {
	Get(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
	AddImpressions(ctx context.Context, n int64, at time.Time) (int64, error)
	ResetImpressions(ctx context.Context, at time.Time) error
}

// Service — поставщик снимков настроек.
type Service struct {
	store Store
	tx    common.Transactor
	now   func() time.Time
}

// NewService создаёт сервис настроек.
func NewService(store Store, tx common.Transactor) *Service {
	return &Service{store: store, tx: tx, now: time.Now}
}

// SetClock подменяет часы (для тестов).
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Snapshot возвращает согласованный снимок настроек.
func (s *Service) Snapshot(ctx context.Context) (Settings, error) {
	return s.store.Get(ctx)
}

// Update применяет частичное изменение. Невалидный результат не сохраняется.
func (s *Service) Update(ctx context.Context, patch Patch) (Settings, error) {
	var updated Settings
	err := s.tx.WithinLocks(ctx, []string{lockKey}, func(ctx context.Context) error {
		current, err := s.store.Get(ctx)
		if err != nil {
			return err
		}
		updated = patch.Apply(current)
		if err := updated.Validate(); err != nil {
			return err
		}
		updated.UpdatedAt = s.now()
		return s.store.Save(ctx, updated)
	})
	if err != nil {
		return Settings{}, err
	}

	log.WithFields(log.Fields{
		"max_daily_usd": updated.MaxDailyEarnUSD.String(),
		"min_payout":    updated.MinPayoutUSD.String(),
		"margin":        updated.SafetyMargin.String(),
		"ecpm":          updated.ECPMUSD.String(),
		"impressions":   updated.ImpressionsToday,
	}).Info("Настройки обновлены")
	return updated, nil
}

// AddImpressions учитывает n показов рекламы.
func (s *Service) AddImpressions(ctx context.Context, n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: количество показов должно быть > 0", common.ErrInvalidSettings)
	}
	return s.store.AddImpressions(ctx, n, s.now())
}

// ResetImpressions обнуляет показы. Вызывается планировщиком в полночь.
func (s *Service) ResetImpressions(ctx context.Context) error {
	if err := s.store.ResetImpressions(ctx, s.now()); err != nil {
		return err
	}
	log.Info("Счётчик показов сброшен")
	return nil
}
