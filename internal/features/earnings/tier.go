package earnings

import "github.com/shopspring/decimal"

// Границы тиров в процентах от дневного лимита.
var tierBands = []int64{25, 50, 75, 90, 100}

// Пауза в минутах для тиров 1..6.
var tierPauses = [...]int{0, 5, 15, 30, 60, 120}

// Tier возвращает тир 1..6 по доле заработанного от лимита:
// <25% → 1, <50% → 2, <75% → 3, <90% → 4, <100% → 5, иначе 6.
// Нулевой или отрицательный лимит — сразу тир 6.
func Tier(earnedUSD, maxDailyUSD decimal.Decimal) int {
	if !maxDailyUSD.IsPositive() {
		return 6
	}
	percentage := earnedUSD.Mul(decimal.NewFromInt(100)).Div(maxDailyUSD)
	for i, band := range tierBands {
		if percentage.LessThan(decimal.NewFromInt(band)) {
			return i + 1
		}
	}
	return 6
}

// PauseMinutes — пауза для тира. Вне диапазона — 0.
func PauseMinutes(tier int) int {
	if tier < 1 || tier > len(tierPauses) {
		return 0
	}
	return tierPauses[tier-1]
}
