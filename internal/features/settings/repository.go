// Package settings — repository.go читает и пишет строку настроек.
package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Dawinz/learn-earn-backend/internal/db/postgres"
)

// Repository — Postgres-реализация Store.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий настроек.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Get читает настройки одним запросом.
// NUMERIC читаем как text, чтобы не терять точность.
func (r *Repository) Get(ctx context.Context) (Settings, error) {
	query := `
		SELECT min_payout_usd::text, payout_cooldown_hours, max_daily_earn_usd::text,
		       safety_margin::text, ecpm_usd::text, impressions_today,
		       coin_to_usd_rate::text, emulator_payouts_allowed, updated_at
		FROM settings WHERE id = 1
	`
	var s Settings
	var minPayout, maxDaily, margin, ecpm, rate string
	err := postgres.Conn(ctx, r.db).QueryRow(ctx, query).Scan(
		&minPayout, &s.PayoutCooldownHours, &maxDaily,
		&margin, &ecpm, &s.ImpressionsToday,
		&rate, &s.EmulatorPayoutsAllowed, &s.UpdatedAt,
	)
	if err != nil {
		return Settings{}, fmt.Errorf("ошибка чтения настроек: %w", err)
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&s.MinPayoutUSD, minPayout},
		{&s.MaxDailyEarnUSD, maxDaily},
		{&s.SafetyMargin, margin},
		{&s.ECPMUSD, ecpm},
		{&s.CoinToUSDRate, rate},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return Settings{}, fmt.Errorf("ошибка разбора настроек: %w", err)
		}
	}
	return s, nil
}

// Save перезаписывает строку настроек целиком.
func (r *Repository) Save(ctx context.Context, s Settings) error {
	query := `
		UPDATE settings SET
			min_payout_usd = $1::numeric, payout_cooldown_hours = $2, max_daily_earn_usd = $3::numeric,
			safety_margin = $4::numeric, ecpm_usd = $5::numeric, impressions_today = $6,
			coin_to_usd_rate = $7::numeric, emulator_payouts_allowed = $8, updated_at = $9
		WHERE id = 1
	`
	_, err := postgres.Conn(ctx, r.db).Exec(ctx, query,
		s.MinPayoutUSD.String(), s.PayoutCooldownHours, s.MaxDailyEarnUSD.String(),
		s.SafetyMargin.String(), s.ECPMUSD.String(), s.ImpressionsToday,
		s.CoinToUSDRate.String(), s.EmulatorPayoutsAllowed, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения настроек: %w", err)
	}
	return nil
}

// AddImpressions атомарно увеличивает счётчик показов и возвращает новое значение.
func (r *Repository) AddImpressions(ctx context.Context, n int64, at time.Time) (int64, error) {
	query := `
		UPDATE settings SET impressions_today = impressions_today + $1, updated_at = $2
		WHERE id = 1
		RETURNING impressions_today
	`
	var total int64
	if err := postgres.Conn(ctx, r.db).QueryRow(ctx, query, n, at).Scan(&total); err != nil {
		return 0, fmt.Errorf("ошибка учёта показов: %w", err)
	}
	return total, nil
}

// ResetImpressions обнуляет счётчик показов.
func (r *Repository) ResetImpressions(ctx context.Context, at time.Time) error {
	query := `UPDATE settings SET impressions_today = 0, updated_at = $1 WHERE id = 1`
	if _, err := postgres.Conn(ctx, r.db).Exec(ctx, query, at); err != nil {
		return fmt.Errorf("ошибка сброса показов: %w", err)
	}
	return nil
}
