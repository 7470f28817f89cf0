// Package earnings — repository.go работает с таблицей earnings.
// Таблица append-only: здесь нет UPDATE и DELETE.
package earnings

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

// NewRepository создаёт репозиторий начислений.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// SumBetween суммирует начисления устройства за [from, to).
func (r *Repository) SumBetween(ctx context.Context, deviceID string, from, to time.Time) (Totals, error) {
	query := `
		SELECT COALESCE(SUM(usd), 0)::text, COALESCE(SUM(coins), 0), COUNT(*)
		FROM earnings
		WHERE device_id = $1 AND created_at >= $2 AND created_at < $3
	`
	var usd string
	var t Totals
	if err := postgres.Conn(ctx, r.db).QueryRow(ctx, query, deviceID, from, to).Scan(&usd, &t.Coins, &t.Count); err != nil {
		return Totals{}, fmt.Errorf("ошибка подсчёта начислений: %w", err)
	}
	sum, err := decimal.NewFromString(usd)
	if err != nil {
		return Totals{}, fmt.Errorf("ошибка разбора суммы начислений: %w", err)
	}
	t.USD = sum
	return t, nil
}

// HasRef — устройство уже получало начисление из source по refID.
func (r *Repository) HasRef(ctx context.Context, deviceID string, source Source, refID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM earnings WHERE device_id = $1 AND source = $2 AND ref_id = $3)`
	var exists bool
	if err := postgres.Conn(ctx, r.db).QueryRow(ctx, query, deviceID, string(source), refID).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки начисления: %w", err)
	}
	return exists, nil
}

// Insert добавляет начисление и заполняет e.ID.
func (r *Repository) Insert(ctx context.Context, e *Event) error {
	query := `
		INSERT INTO earnings (device_id, source, coins, usd, ref_id, decision_id, created_at)
		VALUES ($1, $2, $3, $4::numeric, NULLIF($5, ''), $6, $7)
		RETURNING id
	`
	err := postgres.Conn(ctx, r.db).QueryRow(ctx, query,
		e.DeviceID, string(e.Source), e.Coins, e.USD.String(), e.RefID, e.DecisionID, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("ошибка записи начисления: %w", err)
	}
	return nil
}
