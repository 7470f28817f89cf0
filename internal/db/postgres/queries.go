// Package postgres — queries.go содержит общие утилиты для выполнения запросов:
// транзакцию с advisory-блокировками и выбор соединения из контекста.
package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX — общее подмножество *pgxpool.Pool и pgx.Tx.
// Репозитории работают через него и не знают, есть ли вокруг транзакция.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// Conn возвращает транзакцию из контекста, если она есть, иначе пул.
func Conn(ctx context.Context, pool *pgxpool.Pool) DBTX {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// TxManager выполняет решение о допуске в одной транзакции.
type TxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager создаёт менеджер транзакций.
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// WithinLocks открывает транзакцию, берёт pg_advisory_xact_lock на каждый ключ
// и вызывает fn с контекстом, в котором лежит транзакция.
// Если fn вернула ошибку — всё откатывается, ни одна запись не остаётся.
//
// Ключи блокируются в отсортированном порядке, чтобы два решения
// с пересекающимися ключами не взаимоблокировались.
// Блокировки снимаются автоматически при COMMIT/ROLLBACK.
func (m *TxManager) WithinLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	// Уже внутри транзакции — просто добираем блокировки
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		if err := lockKeys(ctx, tx, keys); err != nil {
			return err
		}
		return fn(ctx)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	// Откатываем транзакцию, если что-то пошло не так
	defer tx.Rollback(ctx)

	if err := lockKeys(ctx, tx, keys); err != nil {
		return err
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

func lockKeys(ctx context.Context, tx pgx.Tx, keys []string) error {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for _, key := range sorted {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return fmt.Errorf("ошибка блокировки %q: %w", key, err)
		}
	}
	return nil
}
