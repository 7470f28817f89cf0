package earnings

import (
	"github.com/shopspring/decimal"

	"github.com/Dawinz/learn-earn-backend/internal/config"
)

// Базовые награды в монетах
const (
	baseLessonCoins     = 10
	baseStreakCoins     = 5
	baseDailyBonusCoins = 20

	quizPassCoins    = 20
	quizPerfectBonus = 10
	quizSpeedBonus   = 5
	quizFastSeconds  = 120
)

// eCPM, при котором множитель наград равен 1, и потолок множителя
var (
	referenceECPM = decimal.RequireFromString("1.5")
	maxMultiplier = decimal.NewFromInt(2)
)

// CoinsToUSD = round(coins * rate, 2).
func CoinsToUSD(coins int64, rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(coins).Mul(rate).Round(2)
}

// ScaledReward — награда за урок, стрик или ежедневный бонус:
// floor(base * min(eCPM / 1.5, 2)), но не меньше 1 монеты.
func ScaledReward(source Source, ecpm decimal.Decimal) int64 {
	var base int64
	switch source {
	case SourceLesson:
		base = baseLessonCoins
	case SourceStreak:
		base = baseStreakCoins
	case SourceDailyBonus:
		base = baseDailyBonusCoins
	default:
		return 0
	}

	multiplier := decimal.Min(ecpm.Div(referenceECPM), maxMultiplier)
	coins := decimal.NewFromInt(base).Mul(multiplier).Floor().IntPart()
	if coins < 1 {
		return 1
	}
	return coins
}

// QuizReward — награда за квиз. passed=false, если балл ниже порога.
// 20 монет за прохождение, +10 за 100%, +5 если уложился в 120 секунд.
func QuizReward(score, timeSpentSeconds, passScore int) (coins int64, passed bool) {
	if score < passScore {
		return 0, false
	}
	coins = quizPassCoins
	if score == 100 {
		coins += quizPerfectBonus
	}
	if timeSpentSeconds < quizFastSeconds {
		coins += quizSpeedBonus
	}
	return coins, true
}

// AdRewards — награда за рекламу и список разрешённых рекламных блоков.
type AdRewards struct {
	Coins   int64
	unitIDs map[string]struct{}
}

// NewAdRewards собирает таблицу наград за рекламу из конфигурации.
func NewAdRewards(cfg *config.Config) AdRewards {
	units := make(map[string]struct{}, len(cfg.RewardAdUnitIDs))
	for _, id := range cfg.RewardAdUnitIDs {
		units[id] = struct{}{}
	}
	return AdRewards{Coins: cfg.RewardAdCoins, unitIDs: units}
}

// Allowed — рекламный блок разрешён. Пустой список разрешает любой блок.
func (a AdRewards) Allowed(adUnitID string) bool {
	if adUnitID == "" {
		return false
	}
	if len(a.unitIDs) == 0 {
		return true
	}
	_, ok := a.unitIDs[adUnitID]
	return ok
}
