// Package identity — service.go: регистрация устройств, аутентификация
// подписанных запросов и реквизиты выплаты.
package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Dawinz/learn-earn-backend/internal/common"
	"github.com/Dawinz/learn-earn-backend/internal/config"
)

// Store — хранилище устройств и использованных nonce.
type Store interface {
	CreateDevice(ctx context.Context, d *Device) (bool, error)
	GetDevice(ctx context.Context, deviceID string) (*Device, error)
	TouchDevice(ctx context.Context, deviceID string, at time.Time) error
	SetDeviceStatus(ctx context.Context, deviceID string, status Status) error
	SetDestination(ctx context.Context, deviceID, hash string, lockedUntil, now time.Time) error
	ConsumeNonce(ctx context.Context, deviceID, nonce string, now, expiresAt time.Time) (bool, error)
	ReleaseNonce(ctx context.Context, deviceID, nonce string) error
	PurgeExpiredNonces(ctx context.Context, now time.Time) (int64, error)
}

// E.164 без «+»: от 2 до 15 цифр, первая не ноль
var destinationPattern = regexp.MustCompile(`^[1-9]\d{1,14}$`)

// Service управляет устройствами.
type Service struct {
	store    Store
	pepper   string
	nonceTTL time.Duration
	lockFor  time.Duration
	now      func() time.Time
}

// NewService создаёт сервис идентичности.
func NewService(store Store, cfg *config.Config) *Service {
	return &Service{
		store:    store,
		pepper:   cfg.AppPepper,
		nonceTTL: cfg.NonceTTL,
		lockFor:  time.Duration(cfg.DestinationLockDays) * 24 * time.Hour,
		now:      time.Now,
	}
}

// SetClock подменяет часы (для тестов).
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Register регистрирует устройство по публичному ключу.
// Повторная регистрация того же ключа возвращает уже существующее устройство.
func (s *Service) Register(ctx context.Context, publicKey string, isEmulator bool) (*Device, error) {
	if _, err := ParsePublicKey(publicKey); err != nil {
		return nil, common.Reject(common.ErrInvalidSignature, common.CodeInvalidSignature)
	}

	now := s.now()
	device := &Device{
		DeviceID:     DeriveDeviceID(publicKey, s.pepper),
		PublicKey:    publicKey,
		IsEmulator:   isEmulator,
		Status:       StatusActive,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	created, err := s.store.CreateDevice(ctx, device)
	if err != nil {
		return nil, err
	}
	if created {
		log.WithFields(log.Fields{
			"device_id": device.DeviceID,
			"emulator":  isEmulator,
		}).Info("Зарегистрировано новое устройство")
	}

	return s.store.GetDevice(ctx, device.DeviceID)
}

// RequireActive возвращает устройство, если оно зарегистрировано и не заблокировано.
func (s *Service) RequireActive(ctx context.Context, deviceID string) (*Device, error) {
	device, err := s.store.GetDevice(ctx, deviceID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.Reject(common.ErrDeviceNotRegistered, common.CodeDeviceNotRegistered)
	}
	if err != nil {
		return nil, err
	}
	if !device.Active() {
		return nil, common.Reject(common.ErrDeviceBlocked, common.CodeDeviceBlocked)
	}
	return device, nil
}

// Device возвращает устройство без проверки статуса (для администратора).
func (s *Service) Device(ctx context.Context, deviceID string) (*Device, error) {
	return s.store.GetDevice(ctx, deviceID)
}

// Authenticate проверяет подпись сообщения и гасит nonce.
// Nonce гасится только после успешной проверки подписи: чужой запрос
// с подобранным nonce не может «сжечь» его владельцу.
func (s *Service) Authenticate(ctx context.Context, device *Device, message []byte, signature, nonce string) error {
	if nonce == "" || len(message) == 0 || !Verify(message, signature, device.PublicKey) {
		return common.Reject(common.ErrInvalidSignature, common.CodeInvalidSignature)
	}

	now := s.now()
	fresh, err := s.store.ConsumeNonce(ctx, device.DeviceID, nonce, now, now.Add(s.nonceTTL))
	if err != nil {
		return err
	}
	if !fresh {
		log.WithField("device_id", device.DeviceID).Warn("Повторное использование nonce")
		return common.Reject(common.ErrNonceReplayed, common.CodeNonceReplayed)
	}
	return nil
}

// ReleaseNonce возвращает nonce устройству после сбоя инфраструктуры:
// решение не зафиксировано, клиент может повторить тот же подписанный запрос.
// Отказы nonce не возвращают.
func (s *Service) ReleaseNonce(ctx context.Context, deviceID, nonce string) {
	if err := s.store.ReleaseNonce(ctx, deviceID, nonce); err != nil {
		log.WithError(err).WithField("device_id", deviceID).Warn("Не удалось вернуть nonce")
	}
}

// Touch обновляет lastActiveAt. Ошибка не критична и только логируется.
func (s *Service) Touch(ctx context.Context, deviceID string) {
	if err := s.store.TouchDevice(ctx, deviceID, s.now()); err != nil {
		log.WithError(err).WithField("device_id", deviceID).Warn("Не удалось обновить активность устройства")
	}
}

// SetPayoutDestination задаёт номер мобильного кошелька и блокирует его смену.
// Возвращает момент, до которого номер нельзя поменять.
func (s *Service) SetPayoutDestination(ctx context.Context, deviceID, number string) (time.Time, error) {
	normalized := NormalizeDestination(number)
	if normalized == "" {
		return time.Time{}, common.Reject(common.ErrNoDestination, common.CodeNoDestination)
	}
	if !destinationPattern.MatchString(normalized) {
		return time.Time{}, common.Reject(common.ErrBadDestination, common.CodeBadDestination)
	}

	now := s.now()
	lockedUntil := now.Add(s.lockFor)
	err := s.store.SetDestination(ctx, deviceID, HashDestination(normalized, s.pepper), lockedUntil, now)
	switch {
	case errors.Is(err, common.ErrNotFound):
		return time.Time{}, common.Reject(common.ErrDeviceNotRegistered, common.CodeDeviceNotRegistered)
	case errors.Is(err, common.ErrDestinationLocked):
		return time.Time{}, common.Reject(common.ErrDestinationLocked, common.CodeDestinationLocked)
	case err != nil:
		return time.Time{}, err
	}

	log.WithFields(log.Fields{
		"device_id":    deviceID,
		"locked_until": lockedUntil,
	}).Info("Реквизиты выплаты заданы")
	return lockedUntil, nil
}

// Block блокирует устройство (административное действие).
func (s *Service) Block(ctx context.Context, deviceID string) error {
	if err := s.store.SetDeviceStatus(ctx, deviceID, StatusBlocked); err != nil {
		return fmt.Errorf("блокировка устройства %s: %w", deviceID, err)
	}
	log.WithField("device_id", deviceID).Warn("Устройство заблокировано")
	return nil
}

// Unblock снимает блокировку.
func (s *Service) Unblock(ctx context.Context, deviceID string) error {
	if err := s.store.SetDeviceStatus(ctx, deviceID, StatusActive); err != nil {
		return fmt.Errorf("разблокировка устройства %s: %w", deviceID, err)
	}
	log.WithField("device_id", deviceID).Info("Устройство разблокировано")
	return nil
}

// PurgeNonces удаляет истёкшие nonce. Вызывается планировщиком.
func (s *Service) PurgeNonces(ctx context.Context) (int64, error) {
	return s.store.PurgeExpiredNonces(ctx, s.now())
}
