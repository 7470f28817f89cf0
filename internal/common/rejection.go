// Package common — rejection.go описывает типизированный отказ в допуске.
// Rejection безопасен для показа клиенту: в нём нет внутренних ошибок,
// только код, сообщение и детали (сколько ждать, сколько осталось).
package common

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Коды отказов, которые видит мобильный клиент.
const (
	CodeDeviceNotRegistered      = "DEVICE_NOT_REGISTERED"
	CodeDeviceBlocked            = "DEVICE_BLOCKED"
	CodeInvalidSignature         = "INVALID_SIGNATURE"
	CodeNonceReplayed            = "NONCE_REPLAYED"
	CodeEmulatorBlocked          = "EMULATOR_BLOCKED"
	CodeCooldownActive           = "COOLDOWN_ACTIVE"
	CodeAdCooldownActive         = "AD_COOLDOWN_ACTIVE"
	CodeQuizCooldownActive       = "QUIZ_COOLDOWN_ACTIVE"
	CodeLessonCooldownActive     = "LESSON_COOLDOWN_ACTIVE"
	CodeDailyBonusCooldownActive = "DAILY_BONUS_COOLDOWN_ACTIVE"
	CodeDailyEarningPaused       = "DAILY_EARNING_PAUSED"
	CodeDailyCapReached          = "DAILY_CAP_REACHED"
	CodeDailyCapExceeded         = "DAILY_CAP_EXCEEDED"
	CodePayoutCooldownActive     = "PAYOUT_COOLDOWN_ACTIVE"
	CodeRateLimited              = "RATE_LIMITED"
	CodeBudgetExceeded           = "BUDGET_EXCEEDED"
	CodeInvalidAmount            = "INVALID_AMOUNT"
	CodeNoDestination            = "NO_DESTINATION"
	CodeDestinationLocked        = "DESTINATION_LOCKED"
	CodeBadDestination           = "INVALID_DESTINATION"
	CodeInvalidClaim             = "INVALID_CLAIM"
	CodeQuizNotPassed            = "QUIZ_NOT_PASSED"
	CodeAlreadyClaimed           = "ALREADY_CLAIMED"
	CodeTryLater                 = "TRY_LATER"
)

// Rejection — отказ в допуске запроса на начисление или выплату.
type Rejection struct {
	Code     string
	Category Category

	// Необязательные детали
	RemainingMinutes int              // сколько минут до снятия кулдауна/паузы
	Remaining        *decimal.Decimal // сколько ещё можно заработать сегодня, USD
	RemainingBudget  *decimal.Decimal // остаток бюджета выплат, USD
	RequestedAmount  *decimal.Decimal // запрошенная сумма выплаты, USD

	reason error
}

// Reject создаёт отказ по sentinel-ошибке и коду.
func Reject(reason error, code string) *Rejection {
	return &Rejection{
		Code:     code,
		Category: CategoryOf(reason),
		reason:   reason,
	}
}

// TryLater — отказ для любого внутреннего сбоя.
func TryLater() *Rejection {
	return Reject(ErrTryLater, CodeTryLater)
}

// WithMinutes добавляет оставшееся время ожидания.
func (r *Rejection) WithMinutes(minutes int) *Rejection {
	r.RemainingMinutes = minutes
	return r
}

// WithRemaining добавляет остаток дневного лимита.
func (r *Rejection) WithRemaining(usd decimal.Decimal) *Rejection {
	r.Remaining = &usd
	return r
}

// WithBudget добавляет остаток бюджета и запрошенную сумму.
func (r *Rejection) WithBudget(remaining, requested decimal.Decimal) *Rejection {
	r.RemainingBudget = &remaining
	r.RequestedAmount = &requested
	return r
}

func (r *Rejection) Error() string {
	return r.reason.Error()
}

func (r *Rejection) Unwrap() error {
	return r.reason
}

// Body — JSON-ответ для клиента: {error, code, ...}.
type Body struct {
	Error            string           `json:"error"`
	Code             string           `json:"code"`
	RemainingMinutes int              `json:"remainingMinutes,omitempty"`
	Remaining        *decimal.Decimal `json:"remaining,omitempty"`
	RemainingBudget  *decimal.Decimal `json:"remainingBudget,omitempty"`
	RequestedAmount  *decimal.Decimal `json:"requestedAmount,omitempty"`
}

// Body формирует тело ответа.
func (r *Rejection) Body() Body {
	return Body{
		Error:            r.reason.Error(),
		Code:             r.Code,
		RemainingMinutes: r.RemainingMinutes,
		Remaining:        r.Remaining,
		RemainingBudget:  r.RemainingBudget,
		RequestedAmount:  r.RequestedAmount,
	}
}

// AsRejection достаёт Rejection из цепочки ошибок.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
