// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: БД-пул и миграции, репозитории, сервисы,
// контроллер допуска, события, админ-бот и планировщик.
package app

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/Dawinz/learn-earn-backend/internal/bot"
	"github.com/Dawinz/learn-earn-backend/internal/common"
	"github.com/Dawinz/learn-earn-backend/internal/config"
	"github.com/Dawinz/learn-earn-backend/internal/db/postgres"
	"github.com/Dawinz/learn-earn-backend/internal/events"
	"github.com/Dawinz/learn-earn-backend/internal/features/admission"
	"github.com/Dawinz/learn-earn-backend/internal/features/budget"
	"github.com/Dawinz/learn-earn-backend/internal/features/cooldown"
	"github.com/Dawinz/learn-earn-backend/internal/features/earnings"
	"github.com/Dawinz/learn-earn-backend/internal/features/identity"
	"github.com/Dawinz/learn-earn-backend/internal/features/payouts"
	"github.com/Dawinz/learn-earn-backend/internal/features/settings"
	"github.com/Dawinz/learn-earn-backend/internal/jobs"
	"github.com/Dawinz/learn-earn-backend/internal/metrics"
)

// App содержит все компоненты приложения.
type App struct {
	// Controller — вход для обработчиков запросов мобильного клиента
	Controller *admission.Controller
	Identity   *identity.Service

	Bot       *bot.AdminBot // nil, если бот выключен
	Scheduler *jobs.Scheduler
	Publisher events.Publisher
	Registry  *prometheus.Registry
	DB        *pgxpool.Pool
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	loc := common.LoadLocation(cfg.AppTimezone)

	// === 1. База данных ===
	if err := postgres.RunMigrations(cfg.DatabaseDSN()); err != nil {
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	tx := postgres.NewTxManager(pool)

	// === 2. Метрики и события ===
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers)
		log.WithField("brokers", cfg.KafkaBrokers).Info("События публикуются в Kafka")
	} else {
		log.Warn("KAFKA_BROKERS не задан, события не публикуются")
	}
	emitter := events.NewEmitter(publisher, cfg.KafkaEarningsTopic, cfg.KafkaPayoutsTopic)

	// === 3. Репозитории ===
	identityRepo := identity.NewRepository(pool)
	cooldownRepo := cooldown.NewRepository(pool)
	earningsRepo := earnings.NewRepository(pool)
	settingsRepo := settings.NewRepository(pool)
	payoutsRepo := payouts.NewRepository(pool)

	// === 4. Сервисы ===
	identityService := identity.NewService(identityRepo, cfg)
	cooldownService := cooldown.NewService(cooldownRepo, tx, cooldown.NewPolicy(cfg))
	earningsService := earnings.NewService(earningsRepo, cooldownService, loc)
	settingsService := settings.NewService(settingsRepo, tx)
	budgetService := budget.NewService(payoutsRepo, loc)
	payoutsService := payouts.NewService(payoutsRepo)
	payoutsService.AddObserver(emitter)
	payoutsService.AddObserver(m)

	// === 5. Админ-бот ===
	var adminBot *bot.AdminBot
	if cfg.BotEnabled() {
		botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
		}
		botAPI.Debug = cfg.AppEnv == "development"
		log.Infof("Авторизован как @%s", botAPI.Self.UserName)

		commands := bot.NewCommands(bot.Services{
			Identity:  identityService,
			Cooldowns: cooldownService,
			Earnings:  earningsService,
			Budget:    budgetService,
			Settings:  settingsService,
			Payouts:   payoutsService,
		}, loc)
		adminBot = bot.New(botAPI, cfg, commands)
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN не задан, админ-бот выключен")
	}

	// === 6. Контроллер допуска ===
	deps := admission.Deps{
		Identity:  identityService,
		Cooldowns: cooldownService,
		Earnings:  earningsService,
		Budget:    budgetService,
		Settings:  settingsService,
		Payouts:   payoutsService,
		Tx:        tx,
		Metrics:   m,
		Events:    emitter,
	}
	if adminBot != nil {
		deps.Notifier = adminBot
	}
	controller, err := admission.New(deps, cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка создания контроллера: %w", err)
	}

	// === 7. Планировщик задач ===
	scheduler := jobs.NewScheduler(loc, cooldownService, identityService, settingsService, m, cfg.JobsResetImpressions)

	return &App{
		Controller: controller,
		Identity:   identityService,
		Bot:        adminBot,
		Scheduler:  scheduler,
		Publisher:  publisher,
		Registry:   registry,
		DB:         pool,
	}, nil
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() {
	a.Controller.Close()
	if err := a.Publisher.Close(); err != nil {
		log.WithError(err).Warn("Ошибка закрытия публикатора событий")
	}
	a.DB.Close()
}
