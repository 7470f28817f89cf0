// Package identity — repository.go работает с таблицами devices и used_nonces.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dawinz/learn-earn-backend/internal/common"
	"github.com/Dawinz/learn-earn-backend/internal/db/postgres"
)

// Repository — Postgres-реализация Store.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий устройств.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateDevice регистрирует устройство. Повторная регистрация того же ключа
// ничего не меняет и возвращает false.
func (r *Repository) CreateDevice(ctx context.Context, d *Device) (bool, error) {
	query := `
		INSERT INTO devices (device_id, public_key, is_emulator, status, created_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (device_id) DO NOTHING
	`
	tag, err := postgres.Conn(ctx, r.db).Exec(ctx, query,
		d.DeviceID, d.PublicKey, d.IsEmulator, string(d.Status), d.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("ошибка регистрации устройства: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetDevice возвращает устройство по deviceId.
func (r *Repository) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	query := `
		SELECT device_id, public_key, is_emulator, status, payout_destination_hash,
		       destination_locked_until, created_at, last_active_at
		FROM devices WHERE device_id = $1
	`
	var d Device
	var status string
	err := postgres.Conn(ctx, r.db).QueryRow(ctx, query, deviceID).Scan(
		&d.DeviceID, &d.PublicKey, &d.IsEmulator, &status, &d.PayoutDestinationHash,
		&d.DestinationLockedUntil, &d.CreatedAt, &d.LastActiveAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения устройства: %w", err)
	}
	d.Status = Status(status)
	return &d, nil
}

// TouchDevice обновляет время последней активности.
func (r *Repository) TouchDevice(ctx context.Context, deviceID string, at time.Time) error {
	query := `UPDATE devices SET last_active_at = $2 WHERE device_id = $1`
	_, err := postgres.Conn(ctx, r.db).Exec(ctx, query, deviceID, at)
	return err
}

// SetDeviceStatus блокирует или разблокирует устройство.
func (r *Repository) SetDeviceStatus(ctx context.Context, deviceID string, status Status) error {
	query := `UPDATE devices SET status = $2 WHERE device_id = $1`
	tag, err := postgres.Conn(ctx, r.db).Exec(ctx, query, deviceID, string(status))
	if err != nil {
		return fmt.Errorf("ошибка смены статуса устройства: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

// SetDestination записывает реквизиты одним условным UPDATE:
// менять можно, только если их ещё нет или блокировка истекла.
func (r *Repository) SetDestination(ctx context.Context, deviceID, hash string, lockedUntil, now time.Time) error {
	query := `
		UPDATE devices
		SET payout_destination_hash = $2, destination_locked_until = $3
		WHERE device_id = $1
		  AND (payout_destination_hash IS NULL
		       OR destination_locked_until IS NULL
		       OR destination_locked_until <= $4)
	`
	conn := postgres.Conn(ctx, r.db)
	tag, err := conn.Exec(ctx, query, deviceID, hash, lockedUntil, now)
	if err != nil {
		return fmt.Errorf("ошибка записи реквизитов: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Разбираемся, почему не обновилось: нет устройства или реквизиты заблокированы
	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM devices WHERE device_id = $1)`, deviceID).Scan(&exists); err != nil {
		return fmt.Errorf("ошибка проверки устройства: %w", err)
	}
	if !exists {
		return common.ErrNotFound
	}
	return common.ErrDestinationLocked
}

// ConsumeNonce помечает nonce использованным до expiresAt.
// Возвращает false, если такой nonce уже использован и ещё не истёк.
// Истёкшая запись перезаписывается — это не повтор.
func (r *Repository) ConsumeNonce(ctx context.Context, deviceID, nonce string, now, expiresAt time.Time) (bool, error) {
	query := `
		INSERT INTO used_nonces (device_id, nonce, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id, nonce) DO UPDATE
		SET expires_at = EXCLUDED.expires_at
		WHERE used_nonces.expires_at <= $4
	`
	tag, err := postgres.Conn(ctx, r.db).Exec(ctx, query, deviceID, nonce, expiresAt, now)
	if err != nil {
		return false, fmt.Errorf("ошибка записи nonce: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseNonce удаляет запись об использованном nonce.
func (r *Repository) ReleaseNonce(ctx context.Context, deviceID, nonce string) error {
	_, err := postgres.Conn(ctx, r.db).Exec(ctx,
		`DELETE FROM used_nonces WHERE device_id = $1 AND nonce = $2`, deviceID, nonce)
	if err != nil {
		return fmt.Errorf("ошибка возврата nonce: %w", err)
	}
	return nil
}

// PurgeExpiredNonces удаляет истёкшие nonce.
func (r *Repository) PurgeExpiredNonces(ctx context.Context, now time.Time) (int64, error) {
	tag, err := postgres.Conn(ctx, r.db).Exec(ctx, `DELETE FROM used_nonces WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки nonce: %w", err)
	}
	return tag.RowsAffected(), nil
}
