// Package earnings — журнал начислений, дневной лимит и политика тиров.
package earnings

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dawinz/learn-earn-backend/internal/features/cooldown"
)

// Source — источник начисления.
type Source string

const (
	SourceLesson     Source = "lesson"
	SourceQuiz       Source = "quiz"
	SourceStreak     Source = "streak"
	SourceDailyBonus Source = "daily-bonus"
	SourceAdReward   Source = "ad-reward"
)

// Valid сообщает, входит ли источник в допустимый список.
func (s Source) Valid() bool {
	switch s {
	case SourceLesson, SourceQuiz, SourceStreak, SourceDailyBonus, SourceAdReward:
		return true
	}
	return false
}

// CooldownAction — вид кулдауна, который взводится после начисления.
func (s Source) CooldownAction() cooldown.ActionKind {
	switch s {
	case SourceLesson:
		return cooldown.ActionLesson
	case SourceQuiz:
		return cooldown.ActionQuiz
	case SourceDailyBonus:
		return cooldown.ActionDailyBonus
	case SourceAdReward:
		return cooldown.ActionAdReward
	default:
		return cooldown.ActionStreak
	}
}

// DedupByRef: по одному refId начисление выдаётся один раз.
func (s Source) DedupByRef() bool {
	return s == SourceLesson || s == SourceQuiz
}

// Event — неизменяемый факт начисления.
type Event struct {
	ID         int64           `db:"id"`
	DeviceID   string          `db:"device_id"`
	Source     Source          `db:"source"`
	Coins      int64           `db:"coins"`
	USD        decimal.Decimal `db:"usd"` // round(coins * coinToUsdRate, 2)
	RefID      string          `db:"ref_id"`
	DecisionID string          `db:"decision_id"`
	CreatedAt  time.Time       `db:"created_at"`
}

// Totals агрегирует начисления за период.
type Totals struct {
	USD   decimal.Decimal
	Coins int64
	Count int
}

// DailyStatus — состояние дневного лимита устройства.
type DailyStatus struct {
	Earned                Totals
	RemainingUSD          decimal.Decimal
	RemainingCoins        int64
	Tier                  int
	PauseMinutes          int // пауза, положенная текущему тиру
	IsPaused              bool
	PauseRemainingMinutes int
	MaxDailyUSD           decimal.Decimal
}
