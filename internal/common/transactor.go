package common

import "context"

// Transactor выполняет fn атомарно, удерживая блокировки по ключам.
// Ошибка из fn откатывает все записи, сделанные внутри.
// Вложенный вызов присоединяется к внешней транзакции.
type Transactor interface {
	WithinLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}
