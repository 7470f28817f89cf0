package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/Dawinz/learn-earn-backend/internal/features/payouts"
)

const publishTimeout = 5 * time.Second

// Типы событий
const (
	TypeEarningRecorded = "earning.recorded"
	TypePayoutRequested = "payout.requested"
	TypePayoutSettled   = "payout.settled"
)

// EarningRecorded — начисление записано.
type EarningRecorded struct {
	Type        string          `json:"type"`
	DecisionID  string          `json:"decision_id"`
	DeviceID    string          `json:"device_id"`
	Source      string          `json:"source"`
	Coins       int64           `json:"coins"`
	USD         decimal.Decimal `json:"usd"`
	EarnedToday decimal.Decimal `json:"earned_today"`
	Tier        int             `json:"tier"`
	At          time.Time       `json:"at"`
}

// PayoutRequested — принята заявка на выплату.
type PayoutRequested struct {
	Type       string          `json:"type"`
	DecisionID string          `json:"decision_id"`
	PayoutID   string          `json:"payout_id"`
	DeviceID   string          `json:"device_id"`
	AmountUSD  decimal.Decimal `json:"amount_usd"`
	At         time.Time       `json:"at"`
}

// PayoutSettled — заявка закрыта администратором.
type PayoutSettled struct {
	Type      string          `json:"type"`
	PayoutID  string          `json:"payout_id"`
	DeviceID  string          `json:"device_id"`
	Status    string          `json:"status"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	TxRef     string          `json:"tx_ref,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	At        time.Time       `json:"at"`
}

// Emitter отправляет доменные события. Ошибки отправки только логируются:
// событие — побочный канал, на решение о допуске оно не влияет.
type Emitter struct {
	pub           Publisher
	earningsTopic string
	payoutsTopic  string
}

// NewEmitter создаёт отправителя событий.
func NewEmitter(pub Publisher, earningsTopic, payoutsTopic string) *Emitter {
	return &Emitter{pub: pub, earningsTopic: earningsTopic, payoutsTopic: payoutsTopic}
}

// EarningRecorded публикует событие начисления.
func (e *Emitter) EarningRecorded(ctx context.Context, ev EarningRecorded) {
	ev.Type = TypeEarningRecorded
	e.publish(ctx, e.earningsTopic, ev.DeviceID, ev)
}

// PayoutRequested публикует событие новой заявки.
func (e *Emitter) PayoutRequested(ctx context.Context, ev PayoutRequested) {
	ev.Type = TypePayoutRequested
	e.publish(ctx, e.payoutsTopic, ev.DeviceID, ev)
}

// PayoutSettled публикует закрытие заявки.
func (e *Emitter) PayoutSettled(ctx context.Context, p payouts.Request) {
	ev := PayoutSettled{
		Type:      TypePayoutSettled,
		PayoutID:  p.ID.String(),
		DeviceID:  p.DeviceID,
		Status:    string(p.Status),
		AmountUSD: p.AmountUSD,
		TxRef:     p.TxRef,
		Reason:    p.Reason,
		At:        time.Now(),
	}
	e.publish(ctx, e.payoutsTopic, p.DeviceID, ev)
}

func (e *Emitter) publish(ctx context.Context, topic, key string, event any) {
	// Запрос мог уже завершиться, а событие всё равно нужно отправить
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := e.pub.Publish(ctx, topic, key, event); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("Ошибка публикации события")
	}
}
