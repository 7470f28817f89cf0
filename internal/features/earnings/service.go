// Package earnings — service.go: дневной накопитель и пауза по тирам.
package earnings

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/Dawinz/learn-earn-backend/internal/common"
	"github.com/Dawinz/learn-earn-backend/internal/features/cooldown"
	"github.com/Dawinz/learn-earn-backend/internal/features/settings"
)

// Store — хранилище начислений.
type Store interface {
	SumBetween(ctx context.Context, deviceID string, from, to time.Time) (Totals, error)
	HasRef(ctx context.Context, deviceID string, source Source, refID string) (bool, error)
	Insert(ctx context.Context, e *Event) error
}

// Service — дневной накопитель начислений.
type Service struct {
	store     Store
	cooldowns *cooldown.Service
	loc       *time.Location
	now       func() time.Time
}

// NewService создаёт сервис начислений. loc задаёт границу суток.
func NewService(store Store, cooldowns *cooldown.Service, loc *time.Location) *Service {
	return &Service{
		store:     store,
		cooldowns: cooldowns,
		loc:       loc,
		now:       time.Now,
	}
}

// SetClock подменяет часы (для тестов).
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Today возвращает агрегат начислений устройства за текущие календарные сутки.
// Кэша нет: каждый вызов пересчитывает сумму по журналу.
func (s *Service) Today(ctx context.Context, deviceID string) (Totals, error) {
	from, to := common.DayBounds(s.now(), s.loc)
	return s.store.SumBetween(ctx, deviceID, from, to)
}

// TotalEarnedToday — сумма в USD за текущие сутки.
func (s *Service) TotalEarnedToday(ctx context.Context, deviceID string) (decimal.Decimal, error) {
	t, err := s.Today(ctx, deviceID)
	if err != nil {
		return decimal.Zero, err
	}
	return t.USD, nil
}

// AlreadyClaimed — начисление по refID уже выдавалось.
func (s *Service) AlreadyClaimed(ctx context.Context, deviceID string, source Source, refID string) (bool, error) {
	if refID == "" {
		return false, nil
	}
	return s.store.HasRef(ctx, deviceID, source, refID)
}

// Record записывает начисление. CreatedAt проставляется здесь.
func (s *Service) Record(ctx context.Context, e *Event) error {
	if e.Coins < 0 {
		return fmt.Errorf("отрицательное начисление: %d", e.Coins)
	}
	e.CreatedAt = s.now()
	return s.store.Insert(ctx, e)
}

// ApplyDailyPause взводит паузу daily-earning-pause по тиру earned/maxDaily.
// Тир 1 паузы не даёт. Новая пауза заменяет предыдущую.
// Возвращает тир и минуты паузы.
func (s *Service) ApplyDailyPause(ctx context.Context, deviceID string, earnedUSD, maxDailyUSD decimal.Decimal) (int, int, error) {
	tier := Tier(earnedUSD, maxDailyUSD)
	pause := PauseMinutes(tier)
	if pause == 0 {
		return tier, 0, nil
	}

	reason := fmt.Sprintf("Daily earning pause - Tier %d", tier)
	if _, err := s.cooldowns.Arm(ctx, deviceID, cooldown.ActionDailyPause, pause, reason); err != nil {
		return tier, 0, err
	}

	log.WithFields(log.Fields{
		"device_id": deviceID,
		"tier":      tier,
		"minutes":   pause,
	}).Debug("Применена дневная пауза")
	return tier, pause, nil
}

// DailyStatus собирает состояние дневного лимита для клиента.
func (s *Service) DailyStatus(ctx context.Context, deviceID string, snap settings.Settings) (*DailyStatus, error) {
	totals, err := s.Today(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	pause, err := s.cooldowns.Check(ctx, deviceID, cooldown.ActionDailyPause)
	if err != nil {
		return nil, err
	}

	remaining := decimal.Max(decimal.Zero, snap.MaxDailyEarnUSD.Sub(totals.USD))
	var remainingCoins int64
	if snap.CoinToUSDRate.IsPositive() {
		remainingCoins = remaining.Div(snap.CoinToUSDRate).Round(0).IntPart()
	}

	tier := Tier(totals.USD, snap.MaxDailyEarnUSD)
	return &DailyStatus{
		Earned:                totals,
		RemainingUSD:          remaining,
		RemainingCoins:        remainingCoins,
		Tier:                  tier,
		PauseMinutes:          PauseMinutes(tier),
		IsPaused:              pause.InCooldown,
		PauseRemainingMinutes: pause.RemainingMinutes,
		MaxDailyUSD:           snap.MaxDailyEarnUSD,
	}, nil
}
