// Package payouts — repository.go работает с таблицей payout_requests.
package payouts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Dawinz/learn-earn-backend/internal/common"
	"github.com/Dawinz/learn-earn-backend/internal/db/postgres"
)

const requestColumns = `id, device_id, amount_usd::text, status, signature, nonce,
	COALESCE(reason, ''), COALESCE(tx_ref, ''), decision_id, requested_at, paid_at`

// Repository — Postgres-реализация Store.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий заявок.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func scanRequest(row pgx.Row) (*Request, error) {
	var p Request
	var amount, status string
	err := row.Scan(&p.ID, &p.DeviceID, &amount, &status, &p.Signature, &p.Nonce,
		&p.Reason, &p.TxRef, &p.DecisionID, &p.RequestedAt, &p.PaidAt)
	if err != nil {
		return nil, err
	}
	if p.AmountUSD, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("ошибка разбора суммы: %w", err)
	}
	p.Status = Status(status)
	return &p, nil
}

// Insert добавляет заявку.
func (r *Repository) Insert(ctx context.Context, p *Request) error {
	query := `
		INSERT INTO payout_requests (id, device_id, amount_usd, status, signature, nonce, decision_id, requested_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $8)
	`
	_, err := postgres.Conn(ctx, r.db).Exec(ctx, query,
		p.ID, p.DeviceID, p.AmountUSD.String(), string(p.Status), p.Signature, p.Nonce, p.DecisionID, p.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания заявки: %w", err)
	}
	return nil
}

// HasNonce — у устройства есть заявка с таким nonce, в любом статусе.
func (r *Repository) HasNonce(ctx context.Context, deviceID, nonce string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM payout_requests WHERE device_id = $1 AND nonce = $2)`
	if err := postgres.Conn(ctx, r.db).QueryRow(ctx, query, deviceID, nonce).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки nonce заявки: %w", err)
	}
	return exists, nil
}

// Get возвращает заявку по id или common.ErrNotFound.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM payout_requests WHERE id = $1`
	p, err := scanRequest(postgres.Conn(ctx, r.db).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заявки: %w", err)
	}
	return p, nil
}

// Settle переводит заявку из pending в терминальный статус одним условным UPDATE.
// Возвращает false, если заявка уже не pending (или её нет).
func (r *Repository) Settle(ctx context.Context, id uuid.UUID, status Status, txRef, reason string, at time.Time) (bool, error) {
	query := `
		UPDATE payout_requests
		SET status = $2,
		    tx_ref = NULLIF($3, ''),
		    reason = NULLIF($4, ''),
		    paid_at = CASE WHEN $2 = 'paid' THEN $5::timestamptz ELSE NULL END,
		    updated_at = $5
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := postgres.Conn(ctx, r.db).Exec(ctx, query, id, string(status), txRef, reason, at)
	if err != nil {
		return false, fmt.Errorf("ошибка смены статуса заявки: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SumCommitted суммирует pending и paid заявки, поданные в [from, to).
func (r *Repository) SumCommitted(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount_usd), 0)::text
		FROM payout_requests
		WHERE status IN ('pending', 'paid') AND requested_at >= $1 AND requested_at < $2
	`
	var sum string
	if err := postgres.Conn(ctx, r.db).QueryRow(ctx, query, from, to).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("ошибка подсчёта выплат: %w", err)
	}
	return decimal.NewFromString(sum)
}

// ListByDevice возвращает заявки устройства, новые первыми.
// Пустой status — все статусы.
func (r *Repository) ListByDevice(ctx context.Context, deviceID string, status Status, offset, limit int) ([]Request, int, error) {
	conn := postgres.Conn(ctx, r.db)

	var total int
	countQuery := `SELECT COUNT(*) FROM payout_requests WHERE device_id = $1 AND ($2 = '' OR status = $2)`
	if err := conn.QueryRow(ctx, countQuery, deviceID, string(status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта заявок: %w", err)
	}

	query := `
		SELECT ` + requestColumns + `
		FROM payout_requests
		WHERE device_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY requested_at DESC
		OFFSET $3 LIMIT $4
	`
	items, err := r.list(ctx, query, deviceID, string(status), offset, limit)
	return items, total, err
}

// ListPending возвращает очередь ожидающих заявок, старые первыми.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM payout_requests
		WHERE status = 'pending'
		ORDER BY requested_at ASC
		LIMIT $1
	`
	return r.list(ctx, query, limit)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Request, error) {
	rows, err := postgres.Conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заявок: %w", err)
	}
	defer rows.Close()

	var items []Request
	for rows.Next() {
		p, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования заявки: %w", err)
		}
		items = append(items, *p)
	}
	return items, rows.Err()
}
