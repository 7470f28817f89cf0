// Package identity — устройства, их подписи и защита от повтора nonce.
// models.go описывает устройство и подписываемые сообщения.
package identity

import (
	"encoding/json"
	"time"
)

// Status — административный статус устройства.
type Status string

const (
	StatusActive  Status = "active"
	StatusBlocked Status = "blocked"
)

// Device — якорь идентичности. Создаётся один раз при регистрации,
// никогда не удаляется, только блокируется администратором.
type Device struct {
	DeviceID               string     `db:"device_id"`  // sha256(pepper || publicKey), hex
	PublicKey              string     `db:"public_key"` // PEM (SPKI) или base64 сырого ключа
	IsEmulator             bool       `db:"is_emulator"`
	Status                 Status     `db:"status"`
	PayoutDestinationHash  *string    `db:"payout_destination_hash"`  // nil — реквизиты не заданы
	DestinationLockedUntil *time.Time `db:"destination_locked_until"` // до какого момента нельзя менять
	CreatedAt              time.Time  `db:"created_at"`
	LastActiveAt           time.Time  `db:"last_active_at"`
}

// Active сообщает, что устройство не заблокировано.
func (d *Device) Active() bool {
	return d.Status != StatusBlocked
}

func (d *Device) HasDestination() bool {
	return d.PayoutDestinationHash != nil && *d.PayoutDestinationHash != ""
}

// Подписываемые сообщения. Порядок полей важен: клиент подписывает
// компактный JSON ровно в этом порядке ключей.

// AdRewardMessage — подпись под наградой за просмотр рекламы.
type AdRewardMessage struct {
	Nonce    string `json:"nonce"`
	AdUnitID string `json:"adUnitId"`
	DeviceID string `json:"deviceId"`
}

// ClaimMessage — подпись под остальными начислениями (урок, квиз, стрик, бонус).
type ClaimMessage struct {
	Nonce    string `json:"nonce"`
	Source   string `json:"source"`
	RefID    string `json:"refId"`
	DeviceID string `json:"deviceId"`
}

// PayoutMessage — подпись под заявкой на выплату.
// Сумма — JSON-число, как его сериализует клиент.
type PayoutMessage struct {
	Nonce     string      `json:"nonce"`
	AmountUSD json.Number `json:"amountUsd"`
	DeviceID  string      `json:"deviceId"`
}

// Bytes сериализует сообщение в каноничный JSON.
func (m AdRewardMessage) Bytes() []byte { return mustMarshal(m) }

// Bytes сериализует сообщение в каноничный JSON.
func (m ClaimMessage) Bytes() []byte { return mustMarshal(m) }

// Bytes сериализует сообщение в каноничный JSON.
func (m PayoutMessage) Bytes() []byte { return mustMarshal(m) }

// mustMarshal: структуры из строк не могут не сериализоваться,
// кроме PayoutMessage с битым json.Number — тогда подпись просто не сойдётся.
func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
