// Package bot — административный Telegram-бот: закрытие выплат, кулдауны,
// блокировки устройств и настройки экономики.
// bot.go держит polling, доступ и уведомления, сами команды — в commands.go.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"github.com/Dawinz/learn-earn-backend/internal/bot/filters"
	"github.com/Dawinz/learn-earn-backend/internal/common"
	"github.com/Dawinz/learn-earn-backend/internal/config"
	"github.com/Dawinz/learn-earn-backend/internal/features/payouts"
	"github.com/Dawinz/learn-earn-backend/internal/middleware"
)

// AdminBot — бот администраторов.
type AdminBot struct {
	api *tgbotapi.BotAPI
	cfg *config.Config

	adminFilter *filters.AdminFilter
	rateLimiter *middleware.RateLimiter

	commands *Commands
	parser   *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
}

// New создаёт бота.
func New(api *tgbotapi.BotAPI, cfg *config.Config, commands *Commands) *AdminBot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 16
	}

	return &AdminBot{
		api:         api,
		cfg:         cfg,
		adminFilter: filters.NewAdminFilter(cfg.AdminIDs),
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitAdminRequests, cfg.RateLimitAdminWindow),
		commands:    commands,
		parser:      NewCommandParser(),
		inflight:    make(chan struct{}, maxInFlight),
	}
}

// Start запускает polling обновлений от Telegram.
func (b *AdminBot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.BotUpdateTimeoutSeconds

	updates := b.api.GetUpdatesChan(u)

	log.WithFields(log.Fields{
		"max_inflight": cap(b.inflight),
		"timeout_sec":  b.cfg.BotUpdateTimeoutSeconds,
		"admins":       len(b.cfg.AdminIDs),
	}).Info("Админ-бот запущен")

	for {
		select {
		case <-ctx.Done():
			log.Info("Админ-бот останавливается (ctx done)...")
			b.api.StopReceivingUpdates()
			b.rateLimiter.Close()
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				b.rateLimiter.Close()
				return
			}

			// лимит параллелизма
			b.inflight <- struct{}{}
			go func(upd tgbotapi.Update) {
				defer func() { <-b.inflight }()
				middleware.Safe("bot", func() { b.handleUpdate(ctx, upd) })
			}(update)
		}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *AdminBot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	message := update.Message

	middleware.LogMessage(message)

	if !b.adminFilter.CheckAccess(message) {
		return
	}

	adminID := message.From.ID
	if !b.rateLimiter.Allow(strconv.FormatInt(adminID, 10)) {
		log.WithField("admin_id", adminID).Debug("rate limited")
		return
	}

	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	if !isCommand {
		return
	}

	reply, ok := b.commands.Handle(ctx, cmd, args)
	if !ok {
		reply = "Неизвестная команда. /help — список команд"
	}

	log.WithFields(log.Fields{
		"admin_id": adminID,
		"cmd":      cmd,
		"args":     len(args),
	}).Info("Команда администратора")

	b.sendMessage(message.Chat.ID, reply)
}

// NotifyPayout рассылает администраторам новую заявку на выплату.
// Отправка идёт в фоне: запрос клиента её не ждёт.
func (b *AdminBot) NotifyPayout(_ context.Context, p payouts.Request) {
	text := fmt.Sprintf("💸 Новая заявка на выплату\n%s\nУстройство: %s\nСумма: %s\n/paid %s <txref>",
		p.ID, p.DeviceID, common.FormatUSD(p.AmountUSD), p.ID)

	go middleware.Safe("bot-notify", func() {
		for _, id := range b.adminFilter.Admins() {
			b.sendMessage(id, text)
		}
	})
}

// sendMessage — утилита для отправки сообщений.
func (b *AdminBot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

// CommandParser разбирает команды вида /cmd и /cmd@botname с аргументами.
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"/", "!"},
	}
}

// ParseCommand разбирает текст на команду и аргументы.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}

	if !hasPrefix {
		return "", nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	// В группах Telegram дописывает имя бота: /pending@earn_admin_bot
	command, _, _ := strings.Cut(parts[0], "@")
	command = strings.ToLower(command)
	if command == "" {
		return "", nil, false
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return command, args, true
}
