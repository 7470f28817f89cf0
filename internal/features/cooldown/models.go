// Package cooldown — журнал кулдаунов: временные блокировки действий
// по паре (устройство, вид действия).
package cooldown

import (
	"time"

	"github.com/google/uuid"

	"github.com/Dawinz/learn-earn-backend/internal/common"
	"github.com/Dawinz/learn-earn-backend/internal/config"
)

// ActionKind — вид действия, на которое вешается кулдаун.
type ActionKind string

const (
	ActionQuiz       ActionKind = "quiz"
	ActionAdReward   ActionKind = "ad-reward"
	ActionLesson     ActionKind = "lesson-completion"
	ActionDailyBonus ActionKind = "daily-bonus"
	ActionStreak     ActionKind = "streak"

	// Пауза по дневному лимиту. Взводится политикой тиров, а не действием.
	ActionDailyPause ActionKind = "daily-earning-pause"

	// Кулдаун выплат, длительность — из Settings.payoutCooldownHours.
	ActionPayout ActionKind = "payout"
)

// Entry — запись журнала кулдаунов.
type Entry struct {
	ID              uuid.UUID  `db:"id"`
	DeviceID        string     `db:"device_id"`
	Action          ActionKind `db:"action"`
	DurationMinutes int        `db:"duration_minutes"`
	EndsAt          time.Time  `db:"ends_at"`
	Reason          string     `db:"reason"`
	IsActive        bool       `db:"is_active"`
	CreatedAt       time.Time  `db:"created_at"`
}

// Expired: запись формально активна, но срок уже вышел.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.EndsAt)
}

// RemainingMinutes возвращает остаток в минутах, с округлением вверх.
func (e *Entry) RemainingMinutes(now time.Time) int {
	return common.CeilMinutes(e.EndsAt.Sub(now))
}

// Status описывает результат проверки кулдауна.
type Status struct {
	InCooldown       bool
	RemainingMinutes int
	Entry            *Entry // nil, если кулдауна нет
}

// Policy — базовые длительности кулдаунов по видам действий.
type Policy struct {
	durations map[ActionKind]int
	fallback  int
}

// NewPolicy собирает политику из конфигурации.
func NewPolicy(cfg *config.Config) Policy {
	return Policy{
		durations: map[ActionKind]int{
			ActionQuiz:       cfg.CooldownQuizMinutes,
			ActionAdReward:   cfg.CooldownAdRewardMinutes,
			ActionLesson:     cfg.CooldownLessonMinutes,
			ActionDailyBonus: cfg.CooldownDailyBonusMinutes,
		},
		fallback: cfg.CooldownDefaultMinutes,
	}
}

// BaseDuration возвращает длительность кулдауна в минутах.
// Для видов без своей настройки (в том числе streak) — COOLDOWN_DEFAULT_MINUTES.
func (p Policy) BaseDuration(kind ActionKind) int {
	if d, ok := p.durations[kind]; ok {
		return d
	}
	return p.fallback
}

var reasons = map[ActionKind]string{
	ActionQuiz:       "Quiz completion cooldown",
	ActionAdReward:   "Ad reward cooldown",
	ActionLesson:     "Lesson completion cooldown",
	ActionDailyBonus: "Daily bonus cooldown",
	ActionPayout:     "Payout request cooldown",
}

// Reason — причина по умолчанию для кулдауна после действия.
func Reason(kind ActionKind) string {
	if r, ok := reasons[kind]; ok {
		return r
	}
	return "General earning cooldown"
}
