// Package settings — экономические настройки платформы.
// Одна строка в БД, меняется только администратором,
// каждое решение о допуске читает её один раз.
package settings

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dawinz/learn-earn-backend/internal/common"
)

// Settings — снимок настроек. Передаётся по значению:
// изменения после чтения на решение не влияют.
type Settings struct {
	MinPayoutUSD           decimal.Decimal `db:"min_payout_usd"`
	PayoutCooldownHours    int             `db:"payout_cooldown_hours"`
	MaxDailyEarnUSD        decimal.Decimal `db:"max_daily_earn_usd"`
	SafetyMargin           decimal.Decimal `db:"safety_margin"` // 0..1
	ECPMUSD                decimal.Decimal `db:"ecpm_usd"`
	ImpressionsToday       int64           `db:"impressions_today"`
	CoinToUSDRate          decimal.Decimal `db:"coin_to_usd_rate"`
	EmulatorPayoutsAllowed bool            `db:"emulator_payouts_allowed"`
	UpdatedAt              time.Time       `db:"updated_at"`
}

// Defaults — значения, которыми засевается таблица.
func Defaults() Settings {
	return Settings{
		MinPayoutUSD:        decimal.NewFromInt(5),
		PayoutCooldownHours: 48,
		MaxDailyEarnUSD:     decimal.RequireFromString("0.50"),
		SafetyMargin:        decimal.RequireFromString("0.6"),
		ECPMUSD:             decimal.RequireFromString("1.5"),
		CoinToUSDRate:       decimal.RequireFromString("0.001"),
	}
}

func (s Settings) PayoutCooldownMinutes() int {
	return s.PayoutCooldownHours * 60
}

// Validate проверяет диапазоны значений.
func (s Settings) Validate() error {
	switch {
	case s.MinPayoutUSD.IsNegative():
		return fmt.Errorf("%w: minPayoutUsd < 0", common.ErrInvalidSettings)
	case s.PayoutCooldownHours < 0:
		return fmt.Errorf("%w: payoutCooldownHours < 0", common.ErrInvalidSettings)
	case s.MaxDailyEarnUSD.IsNegative():
		return fmt.Errorf("%w: maxDailyEarnUsd < 0", common.ErrInvalidSettings)
	case s.SafetyMargin.IsNegative() || s.SafetyMargin.GreaterThan(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: safetyMargin вне диапазона 0..1", common.ErrInvalidSettings)
	case s.ECPMUSD.IsNegative():
		return fmt.Errorf("%w: eCPM_USD < 0", common.ErrInvalidSettings)
	case s.ImpressionsToday < 0:
		return fmt.Errorf("%w: impressionsToday < 0", common.ErrInvalidSettings)
	case s.CoinToUSDRate.IsNegative():
		return fmt.Errorf("%w: coinToUsdRate < 0", common.ErrInvalidSettings)
	}
	return nil
}

// Patch — частичное обновление. nil-поля не меняются.
type Patch struct {
	MinPayoutUSD           *decimal.Decimal
	PayoutCooldownHours    *int
	MaxDailyEarnUSD        *decimal.Decimal
	SafetyMargin           *decimal.Decimal
	ECPMUSD                *decimal.Decimal
	ImpressionsToday       *int64
	CoinToUSDRate          *decimal.Decimal
	EmulatorPayoutsAllowed *bool
}

// Apply возвращает копию s с применённым патчем.
func (p Patch) Apply(s Settings) Settings {
	if p.MinPayoutUSD != nil {
		s.MinPayoutUSD = *p.MinPayoutUSD
	}
	if p.PayoutCooldownHours != nil {
		s.PayoutCooldownHours = *p.PayoutCooldownHours
	}
	if p.MaxDailyEarnUSD != nil {
		s.MaxDailyEarnUSD = *p.MaxDailyEarnUSD
	}
	if p.SafetyMargin != nil {
		s.SafetyMargin = *p.SafetyMargin
	}
	if p.ECPMUSD != nil {
		s.ECPMUSD = *p.ECPMUSD
	}
	if p.ImpressionsToday != nil {
		s.ImpressionsToday = *p.ImpressionsToday
	}
	if p.CoinToUSDRate != nil {
		s.CoinToUSDRate = *p.CoinToUSDRate
	}
	if p.EmulatorPayoutsAllowed != nil {
		s.EmulatorPayoutsAllowed = *p.EmulatorPayoutsAllowed
	}
	return s
}

// Fields — имена полей для команды /set.
var Fields = []string{
	"minPayoutUsd", "payoutCooldownHours", "maxDailyEarnUsd", "safetyMargin",
	"eCPM_USD", "impressionsToday", "coinToUsdRate", "emulatorPayoutsAllowed",
}

// ParsePatch строит патч из пары «имя поля — значение».
func ParsePatch(field, value string) (Patch, error) {
	value = strings.TrimSpace(value)
	var p Patch

	parseDecimal := func() (*decimal.Decimal, error) {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q не число", common.ErrInvalidSettings, field, value)
		}
		return &d, nil
	}

	var err error
	switch field {
	case "minPayoutUsd":
		p.MinPayoutUSD, err = parseDecimal()
	case "maxDailyEarnUsd":
		p.MaxDailyEarnUSD, err = parseDecimal()
	case "safetyMargin":
		p.SafetyMargin, err = parseDecimal()
	case "eCPM_USD":
		p.ECPMUSD, err = parseDecimal()
	case "coinToUsdRate":
		p.CoinToUSDRate, err = parseDecimal()
	case "payoutCooldownHours":
		v, convErr := strconv.Atoi(value)
		if convErr != nil {
			return p, fmt.Errorf("%w: %s=%q не целое", common.ErrInvalidSettings, field, value)
		}
		p.PayoutCooldownHours = &v
	case "impressionsToday":
		v, convErr := strconv.ParseInt(value, 10, 64)
		if convErr != nil {
			return p, fmt.Errorf("%w: %s=%q не целое", common.ErrInvalidSettings, field, value)
		}
		p.ImpressionsToday = &v
	case "emulatorPayoutsAllowed":
		v, convErr := strconv.ParseBool(value)
		if convErr != nil {
			return p, fmt.Errorf("%w: %s=%q не bool", common.ErrInvalidSettings, field, value)
		}
		p.EmulatorPayoutsAllowed = &v
	default:
		return p, fmt.Errorf("%w: неизвестное поле %q", common.ErrInvalidSettings, field)
	}
	return p, err
}
