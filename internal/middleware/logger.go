// Package middleware содержит промежуточные обработчики для логирования,
// восстановления после паники и rate-limiting.
package middleware

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// LogMessage логирует входящую команду администратора.
// Аргументы команд (txRef, причины) короткие, обрезаем на всякий случай.
func LogMessage(message *tgbotapi.Message) {
	if message == nil || message.From == nil || message.Chat == nil {
		return
	}

	text := message.Text
	if len([]rune(text)) > 80 {
		text = string([]rune(text)[:80]) + "..."
	}

	log.WithFields(log.Fields{
		"admin_id": message.From.ID,
		"chat_id":  message.Chat.ID,
		"username": message.From.UserName,
		"text":     text,
	}).Debug("Входящая команда")
}
