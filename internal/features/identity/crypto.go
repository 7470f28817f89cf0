// Package identity — crypto.go: вывод deviceId, проверка Ed25519-подписи
// и хеш реквизитов выплаты.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
)

var errBadPublicKey = errors.New("bad public key")

// DeriveDeviceID вычисляет deviceId = hex(sha256(pepper || publicKey)).
// Детерминирован и необратим: один ключ — один deviceId.
func DeriveDeviceID(publicKey, pepper string) string {
	sum := sha256.Sum256([]byte(pepper + publicKey))
	return hex.EncodeToString(sum[:])
}

// ParsePublicKey разбирает Ed25519-ключ в формате SPKI PEM
// или base64 от 32 сырых байт.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	s = strings.TrimSpace(s)
	if block, _ := pem.Decode([]byte(s)); block != nil {
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, errBadPublicKey
		}
		key, ok := parsed.(ed25519.PublicKey)
		if !ok {
			return nil, errBadPublicKey
		}
		return key, nil
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, errBadPublicKey
	}
	return ed25519.PublicKey(raw), nil
}

// Verify проверяет base64-подпись message ключом publicKey.
// Любая проблема (битый ключ, битый base64, несовпадение) — просто false:
// наружу не должно утечь, что именно было не так.
func Verify(message []byte, signature, publicKey string) bool {
	key, err := ParsePublicKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(key, message, sig)
}

// Параметры argon2id для хеша реквизитов.
// Соль — pepper: хеш обязан быть детерминированным, чтобы сравнивать номера.
const (
	destTime    uint32 = 1
	destMemory  uint32 = 64 * 1024 // 64 MB
	destThreads uint8  = 2
	destKeyLen  uint32 = 32
)

// HashDestination превращает номер мобильного кошелька в отпечаток.
// Сам номер нигде не хранится.
func HashDestination(number, pepper string) string {
	normalized := NormalizeDestination(number)
	key := argon2.IDKey([]byte(normalized), []byte(pepper), destTime, destMemory, destThreads, destKeyLen)
	return hex.EncodeToString(key)
}

// NormalizeDestination убирает пробелы, дефисы и ведущий «+».
func NormalizeDestination(number string) string {
	number = strings.TrimSpace(number)
	number = strings.TrimPrefix(number, "+")
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(number)
}
