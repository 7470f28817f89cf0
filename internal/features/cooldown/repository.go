// Package cooldown — repository.go работает с таблицей cooldowns.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dawinz/learn-earn-backend/internal/common"
	"github.com/Dawinz/learn-earn-backend/internal/db/postgres"
)

const entryColumns = `id, device_id, action, duration_minutes, ends_at, reason, is_active, created_at`

// Repository — Postgres-реализация Store.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий кулдаунов.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var action string
	if err := row.Scan(&e.ID, &e.DeviceID, &action, &e.DurationMinutes, &e.EndsAt, &e.Reason, &e.IsActive, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Action = ActionKind(action)
	return &e, nil
}

// FindActive возвращает активную запись по ключу или common.ErrNotFound.
func (r *Repository) FindActive(ctx context.Context, deviceID string, action ActionKind) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM cooldowns WHERE device_id = $1 AND action = $2 AND is_active`
	e, err := scanEntry(postgres.Conn(ctx, r.db).QueryRow(ctx, query, deviceID, string(action)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения кулдауна: %w", err)
	}
	return e, nil
}

// DeactivateActive гасит активную запись по ключу, если она есть.
func (r *Repository) DeactivateActive(ctx context.Context, deviceID string, action ActionKind, at time.Time) error {
	query := `UPDATE cooldowns SET is_active = false, updated_at = $3 WHERE device_id = $1 AND action = $2 AND is_active`
	if _, err := postgres.Conn(ctx, r.db).Exec(ctx, query, deviceID, string(action), at); err != nil {
		return fmt.Errorf("ошибка снятия кулдауна: %w", err)
	}
	return nil
}

// Insert добавляет активную запись.
// Частичный уникальный индекс (device_id, action) WHERE is_active
// не даст вставить вторую активную запись.
func (r *Repository) Insert(ctx context.Context, e *Entry) error {
	query := `
		INSERT INTO cooldowns (` + entryColumns + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	_, err := postgres.Conn(ctx, r.db).Exec(ctx, query,
		e.ID, e.DeviceID, string(e.Action), e.DurationMinutes, e.EndsAt, e.Reason, e.IsActive, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи кулдауна: %w", err)
	}
	return nil
}

// Deactivate гасит запись по id независимо от срока.
// Повторный вызов безопасен. Нет записи — common.ErrNotFound.
func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID, at time.Time) (*Entry, error) {
	query := `UPDATE cooldowns SET is_active = false, updated_at = $2 WHERE id = $1 RETURNING ` + entryColumns
	e, err := scanEntry(postgres.Conn(ctx, r.db).QueryRow(ctx, query, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка завершения кулдауна: %w", err)
	}
	return e, nil
}

// ListActive возвращает активные неистёкшие записи устройства по возрастанию endsAt.
func (r *Repository) ListActive(ctx context.Context, deviceID string, now time.Time) ([]Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM cooldowns
		WHERE device_id = $1 AND is_active AND ends_at > $2
		ORDER BY ends_at ASC
	`
	rows, err := postgres.Conn(ctx, r.db).Query(ctx, query, deviceID, now)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения кулдаунов: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования кулдауна: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// DeactivateExpired гасит все истёкшие активные записи.
func (r *Repository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE cooldowns SET is_active = false, updated_at = $1 WHERE is_active AND ends_at <= $1`
	tag, err := postgres.Conn(ctx, r.db).Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки кулдаунов: %w", err)
	}
	return tag.RowsAffected(), nil
}
