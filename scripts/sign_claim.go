//go:build ignore

// sign_claim.go — утилита для ручной проверки сервера: ключи устройства и подписи.
//
//	go run scripts/sign_claim.go keygen <pepper>
//	go run scripts/sign_claim.go ad <seed> <deviceId> <nonce> <adUnitId>
//	go run scripts/sign_claim.go claim <seed> <deviceId> <nonce> <source> <refId>
//	go run scripts/sign_claim.go payout <seed> <deviceId> <nonce> <amountUsd>
//
// seed — base64 приватного ключа из keygen.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Dawinz/learn-earn-backend/internal/features/identity"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "keygen":
		need(3)
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			fmt.Printf("Ошибка генерации ключа: %v\n", err)
			os.Exit(1)
		}
		publicKey := base64.StdEncoding.EncodeToString(pub)
		fmt.Println("publicKey:", publicKey)
		fmt.Println("seed:     ", base64.StdEncoding.EncodeToString(priv.Seed()))
		fmt.Println("deviceId: ", identity.DeriveDeviceID(publicKey, os.Args[2]))

	case "ad":
		need(6)
		printSignature(os.Args[2], identity.AdRewardMessage{
			Nonce: os.Args[4], AdUnitID: os.Args[5], DeviceID: os.Args[3],
		}.Bytes())

	case "claim":
		need(7)
		printSignature(os.Args[2], identity.ClaimMessage{
			Nonce: os.Args[4], Source: os.Args[5], RefID: os.Args[6], DeviceID: os.Args[3],
		}.Bytes())

	case "payout":
		need(6)
		printSignature(os.Args[2], identity.PayoutMessage{
			Nonce: os.Args[4], AmountUSD: json.Number(os.Args[5]), DeviceID: os.Args[3],
		}.Bytes())

	default:
		usage()
	}
}

func need(n int) {
	if len(os.Args) < n {
		usage()
	}
}

func usage() {
	fmt.Println("Использование: go run scripts/sign_claim.go keygen|ad|claim|payout ...")
	os.Exit(1)
}

func printSignature(seed string, message []byte) {
	raw, err := base64.StdEncoding.DecodeString(seed)
	if err != nil || len(raw) != ed25519.SeedSize {
		fmt.Println("Некорректный seed")
		os.Exit(1)
	}
	if message == nil {
		fmt.Println("Некорректная сумма")
		os.Exit(1)
	}

	priv := ed25519.NewKeyFromSeed(raw)
	fmt.Println("message:  ", string(message))
	fmt.Println("signature:", base64.StdEncoding.EncodeToString(ed25519.Sign(priv, message)))
}
