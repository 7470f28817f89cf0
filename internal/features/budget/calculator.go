// Package budget — бюджет выплат на день, выведенный из рекламной выручки.
package budget

import (
	"github.com/shopspring/decimal"

	"github.com/Dawinz/learn-earn-backend/internal/features/settings"
)

var thousand = decimal.NewFromInt(1000)

// Budget — выручка и бюджет выплат за сегодня.
type Budget struct {
	RevenueToday      decimal.Decimal // eCPM * impressions / 1000
	PayoutBudgetToday decimal.Decimal // revenue * safetyMargin
}

// DailyBudget считает выручку и бюджет выплат по снимку настроек.
func DailyBudget(s settings.Settings) Budget {
	revenue := s.ECPMUSD.Mul(decimal.NewFromInt(s.ImpressionsToday)).Div(thousand)
	return Budget{
		RevenueToday:      revenue,
		PayoutBudgetToday: revenue.Mul(s.SafetyMargin),
	}
}

// Remaining = бюджет - уже обещанное. Может быть отрицательным
// (перерасход), вызывающий трактует это как «бюджета нет».
func Remaining(s settings.Settings, committedUSD decimal.Decimal) decimal.Decimal {
	return DailyBudget(s).PayoutBudgetToday.Sub(committedUSD)
}
