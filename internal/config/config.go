// Package config загружает конфигурацию сервиса из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры,
// а godotenv подхватывает .env при локальном запуске.
//
// Экономические параметры (лимиты, eCPM, маржа) здесь НЕ хранятся —
// это Settings в базе, их меняет администратор.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Database ---
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"earn"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"learn_earn"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	// Граница суток для дневного лимита и бюджета выплат
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"UTC"`

	// --- Identity ---
	// Секрет, которым солится deviceId и хеш реквизитов выплаты
	AppPepper           string        `envconfig:"APP_PEPPER" required:"true"`
	NonceTTL            time.Duration `envconfig:"NONCE_TTL" default:"168h"`
	DestinationLockDays int           `envconfig:"DESTINATION_LOCK_DAYS" default:"30"`

	// --- Cooldowns (минуты) ---
	CooldownQuizMinutes       int `envconfig:"COOLDOWN_QUIZ_MINUTES" default:"30"`
	CooldownAdRewardMinutes   int `envconfig:"COOLDOWN_AD_REWARD_MINUTES" default:"15"`
	CooldownLessonMinutes     int `envconfig:"COOLDOWN_LESSON_MINUTES" default:"60"`
	CooldownDailyBonusMinutes int `envconfig:"COOLDOWN_DAILY_BONUS_MINUTES" default:"1440"`
	// Для неизвестных действий. Молчаливый дефолт сохранён, но вынесен в конфиг.
	CooldownDefaultMinutes int `envconfig:"COOLDOWN_DEFAULT_MINUTES" default:"30"`

	// --- Rewards ---
	RewardAdCoins    int64    `envconfig:"REWARD_AD_COINS" default:"25"`
	RewardAdUnitsRaw string   `envconfig:"REWARD_AD_UNIT_IDS" default:""`
	RewardAdUnitIDs  []string `ignored:"true"` // заполним вручную
	QuizPassScore    int      `envconfig:"QUIZ_PASS_SCORE" default:"70"`

	// --- Rate Limiting ---
	RateLimitEarnRequests   int           `envconfig:"RATE_LIMIT_EARN_REQUESTS" default:"10"`
	RateLimitEarnWindow     time.Duration `envconfig:"RATE_LIMIT_EARN_WINDOW" default:"1m"`
	RateLimitPayoutRequests int           `envconfig:"RATE_LIMIT_PAYOUT_REQUESTS" default:"3"`
	RateLimitPayoutWindow   time.Duration `envconfig:"RATE_LIMIT_PAYOUT_WINDOW" default:"1h"`
	RateLimitAdminRequests  int           `envconfig:"RATE_LIMIT_ADMIN_REQUESTS" default:"30"`
	RateLimitAdminWindow    time.Duration `envconfig:"RATE_LIMIT_ADMIN_WINDOW" default:"1m"`

	// --- Kafka ---
	KafkaBrokersRaw    string   `envconfig:"KAFKA_BROKERS" default:""`
	KafkaBrokers       []string `ignored:"true"`
	KafkaEarningsTopic string   `envconfig:"KAFKA_EARNINGS_TOPIC" default:"earnings"`
	KafkaPayoutsTopic  string   `envconfig:"KAFKA_PAYOUTS_TOPIC" default:"payouts"`

	// --- Metrics ---
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// --- Admin bot ---
	// Пустой токен выключает бота
	TelegramBotToken        string  `envconfig:"TELEGRAM_BOT_TOKEN" default:""`
	AdminIDsRaw             string  `envconfig:"ADMIN_IDS" default:""`
	AdminIDs                []int64 `ignored:"true"`
	BotMaxInflight          int     `envconfig:"BOT_MAX_INFLIGHT" default:"16"`
	BotUpdateTimeoutSeconds int     `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Jobs ---
	JobsResetImpressions bool `envconfig:"JOBS_RESET_IMPRESSIONS" default:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// BotEnabled — включён ли админ-бот.
func (c *Config) BotEnabled() bool {
	return c.TelegramBotToken != ""
}

// LongestEarningCooldown — самый длинный из кулдаунов начислений.
func (c *Config) LongestEarningCooldown() time.Duration {
	longest := max(
		c.CooldownQuizMinutes,
		c.CooldownAdRewardMinutes,
		c.CooldownLessonMinutes,
		c.CooldownDailyBonusMinutes,
		c.CooldownDefaultMinutes,
	)
	return time.Duration(longest) * time.Minute
}

// Validate проверяет согласованность значений.
func (c *Config) Validate() error {
	if len(c.AppPepper) < 16 {
		return fmt.Errorf("APP_PEPPER должен быть не короче 16 символов")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.NonceTTL <= 0 {
		return fmt.Errorf("NONCE_TTL должен быть > 0")
	}
	// Пока действует кулдаун, повтор запроса должен ловиться по nonce
	if longest := c.LongestEarningCooldown(); c.NonceTTL < longest {
		return fmt.Errorf("NONCE_TTL (%s) не может быть короче самого длинного кулдауна начислений (%s)", c.NonceTTL, longest)
	}
	if c.DestinationLockDays < 0 {
		return fmt.Errorf("DESTINATION_LOCK_DAYS не может быть отрицательным")
	}
	for name, v := range map[string]int{
		"COOLDOWN_QUIZ_MINUTES":        c.CooldownQuizMinutes,
		"COOLDOWN_AD_REWARD_MINUTES":   c.CooldownAdRewardMinutes,
		"COOLDOWN_LESSON_MINUTES":      c.CooldownLessonMinutes,
		"COOLDOWN_DAILY_BONUS_MINUTES": c.CooldownDailyBonusMinutes,
		"COOLDOWN_DEFAULT_MINUTES":     c.CooldownDefaultMinutes,
	} {
		if v < 0 {
			return fmt.Errorf("%s не может быть отрицательным", name)
		}
	}
	if c.RewardAdCoins <= 0 {
		return fmt.Errorf("REWARD_AD_COINS должен быть > 0")
	}
	if c.QuizPassScore < 0 || c.QuizPassScore > 100 {
		return fmt.Errorf("QUIZ_PASS_SCORE должен быть в диапазоне 0..100")
	}
	if c.RateLimitEarnRequests <= 0 || c.RateLimitPayoutRequests <= 0 || c.RateLimitAdminRequests <= 0 {
		return fmt.Errorf("лимиты RATE_LIMIT_*_REQUESTS должны быть > 0")
	}
	if c.BotEnabled() {
		if len(c.AdminIDs) == 0 {
			return fmt.Errorf("ADMIN_IDS обязателен, если задан TELEGRAM_BOT_TOKEN")
		}
		if c.BotMaxInflight <= 0 || c.BotUpdateTimeoutSeconds <= 0 {
			return fmt.Errorf("BOT_MAX_INFLIGHT и BOT_UPDATE_TIMEOUT_SECONDS должны быть > 0")
		}
	}
	return nil
}

// Load читает .env (если есть) и переменные окружения, заполняет структуру Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("не удалось прочитать .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids
	cfg.RewardAdUnitIDs = parseStringCSV(cfg.RewardAdUnitsRaw)
	cfg.KafkaBrokers = parseStringCSV(cfg.KafkaBrokersRaw)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	parts := parseStringCSV(s)
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseStringCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
