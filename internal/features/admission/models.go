// Package admission — решение о допуске начисления или выплаты.
// Контроллер проверяет подлинность, кулдауны, дневной лимит и бюджет,
// и только при успехе всех проверок записывает результат.
package admission

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Dawinz/learn-earn-backend/internal/features/earnings"
)

// Типы решений (метки метрик)
const (
	KindEarning = "earning"
	KindPayout  = "payout"
)

// EarningClaim — заявка на начисление, уже разобранная обработчиком запроса.
type EarningClaim struct {
	DeviceID string
	Source   earnings.Source

	// ad-reward: рекламный блок, он же входит в подпись
	AdUnitID string

	// Остальные источники: ссылка на урок/квиз/день стрика
	RefID string

	// Только для квиза
	Score            int
	TimeSpentSeconds int

	Nonce     string
	Signature string // base64 Ed25519
}

// EarningResult — принятое начисление.
type EarningResult struct {
	DecisionID      string
	EarningID       int64
	Source          earnings.Source
	Coins           int64
	USD             decimal.Decimal
	EarnedToday     decimal.Decimal
	Remaining       decimal.Decimal
	Tier            int
	PauseMinutes    int
	CooldownMinutes int
}

// EarningBody — JSON-ответ клиенту.
type EarningBody struct {
	Success         bool            `json:"success"`
	DecisionID      string          `json:"decisionId"`
	Source          string          `json:"source"`
	Coins           int64           `json:"coins"`
	USD             decimal.Decimal `json:"usd"`
	EarnedToday     decimal.Decimal `json:"earnedToday"`
	Remaining       decimal.Decimal `json:"remaining"`
	Tier            int             `json:"tier"`
	PauseMinutes    int             `json:"pauseMinutes"`
	CooldownMinutes int             `json:"cooldownMinutes"`
}

// Body формирует ответ {success: true, ...}.
func (r *EarningResult) Body() EarningBody {
	return EarningBody{
		Success:         true,
		DecisionID:      r.DecisionID,
		Source:          string(r.Source),
		Coins:           r.Coins,
		USD:             r.USD,
		EarnedToday:     r.EarnedToday,
		Remaining:       r.Remaining,
		Tier:            r.Tier,
		PauseMinutes:    r.PauseMinutes,
		CooldownMinutes: r.CooldownMinutes,
	}
}

// PayoutClaim — заявка на выплату.
// Amount — сумма ровно в том виде, в каком её подписал клиент (JSON-число).
type PayoutClaim struct {
	DeviceID  string
	Amount    string
	Nonce     string
	Signature string
}

// PayoutResult — принятая заявка на выплату.
type PayoutResult struct {
	DecisionID      string
	PayoutID        uuid.UUID
	AmountUSD       decimal.Decimal
	Status          string
	RequestedAt     time.Time
	RemainingBudget decimal.Decimal
	CooldownEndsAt  time.Time
}

// PayoutBody — JSON-ответ клиенту.
type PayoutBody struct {
	Success        bool            `json:"success"`
	DecisionID     string          `json:"decisionId"`
	PayoutID       string          `json:"payoutId"`
	AmountUSD      decimal.Decimal `json:"amountUsd"`
	Status         string          `json:"status"`
	RequestedAt    time.Time       `json:"requestedAt"`
	CooldownEndsAt time.Time       `json:"cooldownEndsAt,omitempty"`
}

// Body формирует ответ {success: true, ...}.
func (r *PayoutResult) Body() PayoutBody {
	return PayoutBody{
		Success:        true,
		DecisionID:     r.DecisionID,
		PayoutID:       r.PayoutID.String(),
		AmountUSD:      r.AmountUSD,
		Status:         r.Status,
		RequestedAt:    r.RequestedAt,
		CooldownEndsAt: r.CooldownEndsAt,
	}
}
