// Package cooldown — service.go реализует проверку, взведение
// и досрочное снятие кулдаунов.
package cooldown

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Dawinz/learn-earn-backend/internal/common"
)

const manualReason = "Manual cooldown"

// Store — хранилище кулдаунов.
type Store interface {
	FindActive(ctx context.Context, deviceID string, action ActionKind) (*Entry, error)
	DeactivateActive(ctx context.Context, deviceID string, action ActionKind, at time.Time) error
	Insert(ctx context.Context, e *Entry) error
	Deactivate(ctx context.Context, id uuid.UUID, at time.Time) (*Entry, error)
	ListActive(ctx context.Context, deviceID string, now time.Time) ([]Entry, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// Service — журнал кулдаунов.
type Service struct {
	store  Store
	tx     common.Transactor
	policy Policy
	now    func() time.Time
}

// NewService создаёт сервис кулдаунов.
func NewService(store Store, tx common.Transactor, policy Policy) *Service {
	return &Service{
		store:  store,
		tx:     tx,
		policy: policy,
		now:    time.Now,
	}
}

// SetClock подменяет часы (для тестов).
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Policy возвращает политику базовых длительностей.
func (s *Service) Policy() Policy {
	return s.policy
}

// Check проверяет, действует ли кулдаун.
// Истёкшая, но ещё активная запись гасится прямо здесь, и кулдауна нет.
func (s *Service) Check(ctx context.Context, deviceID string, action ActionKind) (Status, error) {
	entry, err := s.store.FindActive(ctx, deviceID, action)
	if errors.Is(err, common.ErrNotFound) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}

	now := s.now()
	if entry.Expired(now) {
		if _, err := s.store.Deactivate(ctx, entry.ID, now); err != nil {
			return Status{}, err
		}
		return Status{}, nil
	}

	return Status{
		InCooldown:       true,
		RemainingMinutes: entry.RemainingMinutes(now),
		Entry:            entry,
	}, nil
}

// Arm взводит кулдаун на minutes минут, заменяя активный кулдаун того же вида.
// Снятие старой записи и вставка новой идут под блокировкой ключа
// в одной транзакции: двух активных записей не бывает.
// minutes <= 0 — ничего не взводится.
func (s *Service) Arm(ctx context.Context, deviceID string, action ActionKind, minutes int, reason string) (*Entry, error) {
	if minutes <= 0 {
		return nil, nil
	}
	if reason == "" {
		reason = manualReason
	}

	now := s.now()
	entry := &Entry{
		ID:              uuid.New(),
		DeviceID:        deviceID,
		Action:          action,
		DurationMinutes: minutes,
		EndsAt:          now.Add(time.Duration(minutes) * time.Minute),
		Reason:          reason,
		IsActive:        true,
		CreatedAt:       now,
	}

	key := "cooldown:" + deviceID + ":" + string(action)
	err := s.tx.WithinLocks(ctx, []string{key}, func(ctx context.Context) error {
		if err := s.store.DeactivateActive(ctx, deviceID, action, now); err != nil {
			return err
		}
		return s.store.Insert(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"device_id": deviceID,
		"action":    action,
		"minutes":   minutes,
		"reason":    reason,
	}).Debug("Кулдаун взведён")
	return entry, nil
}

// ArmDefault взводит кулдаун базовой длительности для вида действия.
func (s *Service) ArmDefault(ctx context.Context, deviceID string, action ActionKind) (*Entry, error) {
	return s.Arm(ctx, deviceID, action, s.policy.BaseDuration(action), Reason(action))
}

// EndEarly снимает кулдаун досрочно (администратор). Повторный вызов безопасен.
func (s *Service) EndEarly(ctx context.Context, id uuid.UUID) (*Entry, error) {
	entry, err := s.store.Deactivate(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"device_id":   entry.DeviceID,
		"action":      entry.Action,
		"cooldown_id": id,
	}).Info("Кулдаун снят администратором")
	return entry, nil
}

// Active возвращает действующие кулдауны устройства по возрастанию endsAt.
func (s *Service) Active(ctx context.Context, deviceID string) ([]Entry, error) {
	return s.store.ListActive(ctx, deviceID, s.now())
}

// ReapExpired гасит все истёкшие кулдауны. Вызывается планировщиком.
func (s *Service) ReapExpired(ctx context.Context) (int64, error) {
	return s.store.DeactivateExpired(ctx, s.now())
}
