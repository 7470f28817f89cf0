// Package payouts — заявки на выплату и их административное закрытие.
package payouts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status — статус заявки. Переходы только pending → paid | rejected.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusRejected Status = "rejected"
)

// Valid — статус из допустимого списка.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusPaid || s == StatusRejected
}

// Terminal — из статуса больше нет переходов.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusRejected
}

// Request — заявка на выплату.
type Request struct {
	ID          uuid.UUID       `db:"id"`
	DeviceID    string          `db:"device_id"`
	AmountUSD   decimal.Decimal `db:"amount_usd"`
	Status      Status          `db:"status"`
	Signature   string          `db:"signature"`
	Nonce       string          `db:"nonce"`
	Reason      string          `db:"reason"` // причина отклонения
	TxRef       string          `db:"tx_ref"` // ссылка на перевод
	DecisionID  string          `db:"decision_id"`
	RequestedAt time.Time       `db:"requested_at"`
	PaidAt      *time.Time      `db:"paid_at"`
}

// Page — страница истории заявок.
type Page struct {
	Items []Request
	Total int
	Page  int
	Limit int
}

// Pages — количество страниц.
func (p Page) Pages() int {
	if p.Limit <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}
