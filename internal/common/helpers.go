// Package common содержит общие утилиты, используемые во всём проекте:
// границы суток в настроенном часовом поясе, округление денег, минуты ожидания.
package common

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// LoadLocation загружает часовой пояс для границы суток.
// При ошибке используем UTC, чтобы лимиты продолжали работать.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.WithError(err).WithField("timezone", name).Warn("Не удалось загрузить часовой пояс, используем UTC")
		return time.UTC
	}
	return loc
}

// DayBounds возвращает полуинтервал суток [начало, начало следующих) для момента t
// в часовом поясе loc. Это календарные сутки от полуночи до полуночи,
// а не скользящее окно 24 часа.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	// AddDate, а не Add(24h): сутки при переходе на летнее время бывают 23/25 часов
	end := start.AddDate(0, 0, 1)
	return start, end
}

// CeilMinutes переводит оставшееся время в минуты с округлением вверх.
// Отрицательная длительность даёт 0.
func CeilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Minutes()))
}

// RoundUSD округляет сумму в долларах до центов.
func RoundUSD(usd decimal.Decimal) decimal.Decimal {
	return usd.Round(2)
}

// FormatUSD форматирует сумму вида "$9.00".
func FormatUSD(usd decimal.Decimal) string {
	return "$" + usd.StringFixed(2)
}
