// Package budget — service.go считает уже обещанные выплаты за сутки.
package budget

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dawinz/learn-earn-backend/internal/common"
	"github.com/Dawinz/learn-earn-backend/internal/features/settings"
)

// Ledger — источник суммы обещанных выплат (pending + paid) за период.
type Ledger interface {
	SumCommitted(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
}

// Status — сводка для администратора.
type Status struct {
	Budget
	CommittedToday decimal.Decimal
	Remaining      decimal.Decimal
	CanPayout      bool
}

// Service — калькулятор бюджета выплат.
type Service struct {
	ledger Ledger
	loc    *time.Location
	now    func() time.Time
}

// NewService создаёт калькулятор. loc задаёт границу суток.
func NewService(ledger Ledger, loc *time.Location) *Service {
	return &Service{ledger: ledger, loc: loc, now: time.Now}
}

// SetClock подменяет часы (для тестов).
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CommittedToday суммирует заявки pending и paid, поданные сегодня.
// Ожидающие заявки резервируют бюджет заранее.
func (s *Service) CommittedToday(ctx context.Context) (decimal.Decimal, error) {
	from, to := common.DayBounds(s.now(), s.loc)
	return s.ledger.SumCommitted(ctx, from, to)
}

// Remaining — остаток бюджета на сегодня по снимку настроек.
func (s *Service) Remaining(ctx context.Context, snap settings.Settings) (decimal.Decimal, error) {
	committed, err := s.CommittedToday(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return Remaining(snap, committed), nil
}

// Status собирает сводку бюджета.
func (s *Service) Status(ctx context.Context, snap settings.Settings) (*Status, error) {
	committed, err := s.CommittedToday(ctx)
	if err != nil {
		return nil, err
	}
	remaining := Remaining(snap, committed)
	return &Status{
		Budget:         DailyBudget(snap),
		CommittedToday: committed,
		Remaining:      remaining,
		CanPayout:      remaining.IsPositive(),
	}, nil
}
