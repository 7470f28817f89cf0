// Package payouts — service.go: создание заявок и их закрытие администратором.
package payouts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/Dawinz/learn-earn-backend/internal/common"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Store — хранилище заявок.
type Store interface {
	Insert(ctx context.Context, p *Request) error
	Get(ctx context.Context, id uuid.UUID) (*Request, error)
	Settle(ctx context.Context, id uuid.UUID, status Status, txRef, reason string, at time.Time) (bool, error)
	SumCommitted(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
	ListByDevice(ctx context.Context, deviceID string, status Status, offset, limit int) ([]Request, int, error)
	ListPending(ctx context.Context, limit int) ([]Request, error)
	HasNonce(ctx context.Context, deviceID, nonce string) (bool, error)
}

// SettleObserver получает закрытые заявки (события, уведомления).
type SettleObserver interface {
	PayoutSettled(ctx context.Context, p Request)
}

// Service управляет заявками на выплату.
type Service struct {
	store     Store
	observers []SettleObserver
	now       func() time.Time
}

// NewService создаёт сервис заявок.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// SetClock подменяет часы (для тестов).
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// AddObserver подключает получателя закрытых заявок.
// Вызывается при сборке приложения, до начала работы.
func (s *Service) AddObserver(o SettleObserver) {
	s.observers = append(s.observers, o)
}

// Create сохраняет новую заявку в статусе pending.
func (s *Service) Create(ctx context.Context, p *Request) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Status = StatusPending
	p.RequestedAt = s.now()
	return s.store.Insert(ctx, p)
}

// NonceUsed сообщает, подавало ли устройство заявку с этим nonce.
// Заявки хранятся бессрочно, поэтому повтор подписанной заявки ловится
// и после того, как nonce вычищен из used_nonces.
func (s *Service) NonceUsed(ctx context.Context, deviceID, nonce string) (bool, error) {
	return s.store.HasNonce(ctx, deviceID, nonce)
}

// MarkPaid закрывает заявку как выплаченную.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, txRef string) (*Request, error) {
	return s.settle(ctx, id, StatusPaid, txRef, "")
}

// Reject отклоняет заявку. Бюджет, зарезервированный заявкой, освобождается.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) (*Request, error) {
	return s.settle(ctx, id, StatusRejected, "", reason)
}

func (s *Service) settle(ctx context.Context, id uuid.UUID, status Status, txRef, reason string) (*Request, error) {
	ok, err := s.store.Settle(ctx, id, status, txRef, reason, s.now())
	if err != nil {
		return nil, err
	}

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// Заявка есть, но уже не pending — обратных переходов нет
	if !ok {
		return nil, common.ErrInvalidTransition
	}

	log.WithFields(log.Fields{
		"payout_id": id,
		"device_id": p.DeviceID,
		"status":    status,
		"amount":    p.AmountUSD.String(),
	}).Info("Заявка на выплату закрыта")

	for _, o := range s.observers {
		o.PayoutSettled(ctx, *p)
	}
	return p, nil
}

// Get возвращает заявку.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	return s.store.Get(ctx, id)
}

// History возвращает страницу заявок устройства.
func (s *Service) History(ctx context.Context, deviceID string, status Status, page, limit int) (*Page, error) {
	if status != "" && !status.Valid() {
		return nil, errors.New("неизвестный статус заявки: " + string(status))
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	items, total, err := s.store.ListByDevice(ctx, deviceID, status, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// Pending возвращает очередь ожидающих заявок.
func (s *Service) Pending(ctx context.Context, limit int) ([]Request, error) {
	if limit <= 0 || limit > maxPageLimit {
		limit = defaultPageLimit
	}
	return s.store.ListPending(ctx, limit)
}
