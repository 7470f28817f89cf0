// Package filters — проверка доступа к админ-боту.
package filters

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// AdminFilter пропускает только личные сообщения администраторов из ADMIN_IDS.
type AdminFilter struct {
	admins map[int64]struct{}
}

func NewAdminFilter(adminIDs []int64) *AdminFilter {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &AdminFilter{admins: admins}
}

// IsAdmin — пользователь в списке администраторов.
func (f *AdminFilter) IsAdmin(userID int64) bool {
	_, ok := f.admins[userID]
	return ok
}

// Admins возвращает id администраторов (для рассылки уведомлений).
func (f *AdminFilter) Admins() []int64 {
	ids := make([]int64, 0, len(f.admins))
	for id := range f.admins {
		ids = append(ids, id)
	}
	return ids
}

func (f *AdminFilter) CheckAccess(message *tgbotapi.Message) bool {
	if message == nil || message.Chat == nil {
		log.WithField("component", "AdminFilter").Warn("nil message/chat")
		return false
	}
	if message.From == nil {
		log.WithFields(log.Fields{
			"component": "AdminFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
		}).Warn("nil message.From (service/channel message?)")
		return false
	}

	logger := log.WithFields(log.Fields{
		"component": "AdminFilter",
		"chat_id":   message.Chat.ID,
		"chat_type": message.Chat.Type,
		"user_id":   message.From.ID,
	})

	// Группы и каналы не обслуживаем: ответы содержат deviceId и суммы
	if !message.Chat.IsPrivate() {
		logger.Debug("deny: not private")
		return false
	}
	if !f.IsAdmin(message.From.ID) {
		logger.Info("deny: not an admin")
		return false
	}
	return true
}
