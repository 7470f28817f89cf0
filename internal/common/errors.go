// Package common — errors.go определяет ошибки ядра допуска начислений и выплат.
// Каждая причина отказа — отдельная sentinel-ошибка, сгруппированная по категории.
// Обработчики сравнивают их через errors.Is и отдают клиенту код из Rejection.
package common

import "errors"

// Category — класс отказа. Определяет, кто может исправить ситуацию.
type Category string

const (
	CategoryAuthentication Category = "authentication" // подпись, регистрация, эмулятор
	CategoryThrottling     Category = "throttling"     // кулдауны, паузы, дневной лимит
	CategoryBudget         Category = "budget"         // бюджет выплат исчерпан
	CategoryValidation     Category = "validation"     // исправимо клиентом
	CategoryInfrastructure Category = "infrastructure" // БД недоступна и т.п.
)

// Ошибки аутентификации устройства
var (
	ErrDeviceNotRegistered = errors.New("device not registered")
	ErrDeviceBlocked       = errors.New("device is blocked")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrNonceReplayed       = errors.New("nonce already used")
	ErrEmulatorBlocked     = errors.New("payouts disabled for emulator devices")
)

// Ошибки троттлинга
var (
	ErrCooldownActive       = errors.New("you are in cooldown period, please wait before trying again")
	ErrDailyEarningPaused   = errors.New("daily earning pause active")
	ErrDailyCapReached      = errors.New("daily earning cap reached")
	ErrWouldExceedCap       = errors.New("daily earning cap would be exceeded")
	ErrPayoutCooldownActive = errors.New("payout cooldown active")
	ErrRateLimited          = errors.New("too many requests, please slow down")
)

// Ошибки бюджета
var (
	ErrBudgetExceeded = errors.New("insufficient payout budget")
)

// Ошибки валидации
var (
	ErrInvalidAmount     = errors.New("payout amount is below the minimum")
	ErrNoDestination     = errors.New("payout destination not set")
	ErrDestinationLocked = errors.New("payout destination is locked and cannot be changed")
	ErrBadDestination    = errors.New("invalid mobile number format")
	ErrInvalidClaim      = errors.New("invalid earning claim")
	ErrQuizNotPassed     = errors.New("quiz not passed")
	ErrAlreadyClaimed    = errors.New("reward already claimed")
)

// Инфраструктурные ошибки
var (
	// ErrTryLater — единственная ошибка, которая уходит клиенту при внутреннем сбое.
	ErrTryLater = errors.New("temporarily unavailable, try again later")
)

// Ошибки админских операций (не уходят мобильному клиенту)
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidSettings   = errors.New("invalid settings value")
)

// categories сопоставляет sentinel-ошибку с категорией.
var categories = map[error]Category{
	ErrDeviceNotRegistered:  CategoryAuthentication,
	ErrDeviceBlocked:        CategoryAuthentication,
	ErrInvalidSignature:     CategoryAuthentication,
	ErrNonceReplayed:        CategoryAuthentication,
	ErrEmulatorBlocked:      CategoryAuthentication,
	ErrCooldownActive:       CategoryThrottling,
	ErrDailyEarningPaused:   CategoryThrottling,
	ErrDailyCapReached:      CategoryThrottling,
	ErrWouldExceedCap:       CategoryThrottling,
	ErrPayoutCooldownActive: CategoryThrottling,
	ErrRateLimited:          CategoryThrottling,
	ErrBudgetExceeded:       CategoryBudget,
	ErrInvalidAmount:        CategoryValidation,
	ErrNoDestination:        CategoryValidation,
	ErrDestinationLocked:    CategoryValidation,
	ErrBadDestination:       CategoryValidation,
	ErrInvalidClaim:         CategoryValidation,
	ErrQuizNotPassed:        CategoryValidation,
	ErrAlreadyClaimed:       CategoryValidation,
	ErrTryLater:             CategoryInfrastructure,
}

// CategoryOf возвращает категорию sentinel-ошибки.
// Всё неизвестное считается инфраструктурным сбоем.
func CategoryOf(err error) Category {
	for sentinel, c := range categories {
		if errors.Is(err, sentinel) {
			return c
		}
	}
	return CategoryInfrastructure
}
