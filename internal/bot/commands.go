package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Dawinz/learn-earn-backend/internal/common"
	"github.com/Dawinz/learn-earn-backend/internal/features/budget"
	"github.com/Dawinz/learn-earn-backend/internal/features/cooldown"
	"github.com/Dawinz/learn-earn-backend/internal/features/earnings"
	"github.com/Dawinz/learn-earn-backend/internal/features/identity"
	"github.com/Dawinz/learn-earn-backend/internal/features/payouts"
	"github.com/Dawinz/learn-earn-backend/internal/features/settings"
)

const (
	defaultPendingLimit = 10
	maxPendingLimit     = 50
)

const helpText = `Команды администратора:
/pending [N] — ожидающие выплаты
/paid <id> <txref> — отметить выплату проведённой
/reject <id> <причина> — отклонить выплату
/cooldowns <deviceId> — активные кулдауны
/endcooldown <id> — снять кулдаун досрочно
/block <deviceId>, /unblock <deviceId>
/status <deviceId> — дневной лимит устройства
/budget — бюджет выплат на сегодня
/settings — текущие настройки
/set <поле> <значение>
/impressions <N> — добавить показы рекламы`

// Services — сервисы, с которыми работают команды.
type Services struct {
	Identity  *identity.Service
	Cooldowns *cooldown.Service
	Earnings  *earnings.Service
	Budget    *budget.Service
	Settings  *settings.Service
	Payouts   *payouts.Service
}

// Commands выполняет административные команды и возвращает текст ответа.
// От Telegram не зависит.
type Commands struct {
	svc Services
	loc *time.Location
}

// NewCommands создаёт обработчик команд. loc — часовой пояс для вывода времени.
func NewCommands(svc Services, loc *time.Location) *Commands {
	return &Commands{svc: svc, loc: loc}
}

// Handle выполняет команду. ok=false — команда неизвестна.
func (c *Commands) Handle(ctx context.Context, cmd string, args []string) (reply string, ok bool) {
	switch cmd {
	case "start", "help":
		return helpText, true
	case "pending":
		return c.pending(ctx, args), true
	case "paid":
		return c.paid(ctx, args), true
	case "reject":
		return c.reject(ctx, args), true
	case "cooldowns":
		return c.cooldowns(ctx, args), true
	case "endcooldown":
		return c.endCooldown(ctx, args), true
	case "block":
		return c.setBlocked(ctx, args, true), true
	case "unblock":
		return c.setBlocked(ctx, args, false), true
	case "status":
		return c.status(ctx, args), true
	case "budget":
		return c.budget(ctx), true
	case "settings":
		return c.settings(ctx), true
	case "set":
		return c.set(ctx, args), true
	case "impressions":
		return c.impressions(ctx, args), true
	}
	return "", false
}

func (c *Commands) pending(ctx context.Context, args []string) string {
	limit := defaultPendingLimit
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return "❌ Использование: /pending [N]"
		}
		limit = min(n, maxPendingLimit)
	}

	items, err := c.svc.Payouts.Pending(ctx, limit)
	if err != nil {
		return c.fail("pending", err)
	}
	if len(items) == 0 {
		return "Ожидающих выплат нет"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "⏳ Ожидают выплаты (%d):\n", len(items))
	for _, p := range items {
		sb.WriteString(c.formatPayout(p))
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (c *Commands) paid(ctx context.Context, args []string) string {
	if len(args) < 2 {
		return "❌ Использование: /paid <id> <txref>"
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return "❌ Некорректный id заявки"
	}

	p, err := c.svc.Payouts.MarkPaid(ctx, id, args[1])
	if err != nil {
		return c.settleError("paid", err)
	}
	return fmt.Sprintf("✅ Выплата %s %s отмечена проведённой (%s)", p.ID, common.FormatUSD(p.AmountUSD), p.TxRef)
}

func (c *Commands) reject(ctx context.Context, args []string) string {
	if len(args) < 2 {
		return "❌ Использование: /reject <id> <причина>"
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return "❌ Некорректный id заявки"
	}

	p, err := c.svc.Payouts.Reject(ctx, id, strings.Join(args[1:], " "))
	if err != nil {
		return c.settleError("reject", err)
	}
	return fmt.Sprintf("🚫 Выплата %s %s отклонена: %s", p.ID, common.FormatUSD(p.AmountUSD), p.Reason)
}

func (c *Commands) settleError(cmd string, err error) string {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return "❌ Заявка не найдена"
	case errors.Is(err, common.ErrInvalidTransition):
		return "❌ Заявка уже закрыта"
	}
	return c.fail(cmd, err)
}

func (c *Commands) cooldowns(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "❌ Использование: /cooldowns <deviceId>"
	}
	entries, err := c.svc.Cooldowns.Active(ctx, args[0])
	if err != nil {
		return c.fail("cooldowns", err)
	}
	if len(entries) == 0 {
		return "Активных кулдаунов нет"
	}

	var sb strings.Builder
	sb.WriteString("⏱ Активные кулдауны:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "• %s %s до %s (%s)\n", e.ID, e.Action, c.formatTime(e.EndsAt), e.Reason)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (c *Commands) endCooldown(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "❌ Использование: /endcooldown <id>"
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return "❌ Некорректный id кулдауна"
	}

	entry, err := c.svc.Cooldowns.EndEarly(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return "❌ Кулдаун не найден"
	}
	if err != nil {
		return c.fail("endcooldown", err)
	}
	return fmt.Sprintf("✅ Кулдаун %s снят для %s", entry.Action, shortID(entry.DeviceID))
}

func (c *Commands) setBlocked(ctx context.Context, args []string, blocked bool) string {
	if len(args) != 1 {
		if blocked {
			return "❌ Использование: /block <deviceId>"
		}
		return "❌ Использование: /unblock <deviceId>"
	}

	var err error
	if blocked {
		err = c.svc.Identity.Block(ctx, args[0])
	} else {
		err = c.svc.Identity.Unblock(ctx, args[0])
	}
	if errors.Is(err, common.ErrNotFound) {
		return "❌ Устройство не найдено"
	}
	if err != nil {
		return c.fail("block", err)
	}

	if blocked {
		return "🔒 Устройство " + shortID(args[0]) + " заблокировано"
	}
	return "🔓 Устройство " + shortID(args[0]) + " разблокировано"
}

func (c *Commands) status(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "❌ Использование: /status <deviceId>"
	}
	device, err := c.svc.Identity.Device(ctx, args[0])
	if errors.Is(err, common.ErrNotFound) {
		return "❌ Устройство не найдено"
	}
	if err != nil {
		return c.fail("status", err)
	}

	snap, err := c.svc.Settings.Snapshot(ctx)
	if err != nil {
		return c.fail("status", err)
	}
	st, err := c.svc.Earnings.DailyStatus(ctx, device.DeviceID, snap)
	if err != nil {
		return c.fail("status", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📱 %s (%s", shortID(device.DeviceID), device.Status)
	if device.IsEmulator {
		sb.WriteString(", эмулятор")
	}
	sb.WriteString(")\n")
	fmt.Fprintf(&sb, "Сегодня: %s из %s, %d монет, %d начислений\n",
		common.FormatUSD(st.Earned.USD), common.FormatUSD(st.MaxDailyUSD), st.Earned.Coins, st.Earned.Count)
	fmt.Fprintf(&sb, "Осталось: %s, тир %d", common.FormatUSD(st.RemainingUSD), st.Tier)
	if st.IsPaused {
		fmt.Fprintf(&sb, "\nПауза: ещё %d мин", st.PauseRemainingMinutes)
	}
	return sb.String()
}

func (c *Commands) budget(ctx context.Context) string {
	snap, err := c.svc.Settings.Snapshot(ctx)
	if err != nil {
		return c.fail("budget", err)
	}
	st, err := c.svc.Budget.Status(ctx, snap)
	if err != nil {
		return c.fail("budget", err)
	}
	return fmt.Sprintf("💰 Выручка: %s\nБюджет выплат: %s\nОбещано: %s\nОстаток: %s",
		common.FormatUSD(st.RevenueToday),
		common.FormatUSD(st.PayoutBudgetToday),
		common.FormatUSD(st.CommittedToday),
		common.FormatUSD(st.Remaining),
	)
}

func (c *Commands) settings(ctx context.Context) string {
	s, err := c.svc.Settings.Snapshot(ctx)
	if err != nil {
		return c.fail("settings", err)
	}
	return formatSettings(s)
}

func (c *Commands) set(ctx context.Context, args []string) string {
	if len(args) != 2 {
		return "❌ Использование: /set <поле> <значение>\nПоля: " + strings.Join(settings.Fields, ", ")
	}
	patch, err := settings.ParsePatch(args[0], args[1])
	if err != nil {
		return "❌ " + err.Error()
	}

	updated, err := c.svc.Settings.Update(ctx, patch)
	if errors.Is(err, common.ErrInvalidSettings) {
		return "❌ " + err.Error()
	}
	if err != nil {
		return c.fail("set", err)
	}
	return "✅ Настройки обновлены\n" + formatSettings(updated)
}

func (c *Commands) impressions(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "❌ Использование: /impressions <N>"
	}
	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || n <= 0 {
		return "❌ N должно быть положительным целым"
	}

	total, err := c.svc.Settings.AddImpressions(ctx, n)
	if err != nil {
		return c.fail("impressions", err)
	}
	return fmt.Sprintf("✅ Показов сегодня: %d\n%s", total, c.budget(ctx))
}

// fail логирует внутреннюю ошибку. Администратору — только общий текст.
func (c *Commands) fail(cmd string, err error) string {
	log.WithError(err).WithField("cmd", cmd).Error("Ошибка выполнения команды")
	return "⚠️ Внутренняя ошибка, попробуйте позже"
}

func (c *Commands) formatPayout(p payouts.Request) string {
	return fmt.Sprintf("• %s %s %s %s", p.ID, shortID(p.DeviceID), common.FormatUSD(p.AmountUSD), c.formatTime(p.RequestedAt))
}

func (c *Commands) formatTime(t time.Time) string {
	return t.In(c.loc).Format("02.01 15:04")
}

func formatSettings(s settings.Settings) string {
	return fmt.Sprintf(`⚙️ Настройки:
minPayoutUsd = %s
payoutCooldownHours = %d
maxDailyEarnUsd = %s
safetyMargin = %s
eCPM_USD = %s
impressionsToday = %d
coinToUsdRate = %s
emulatorPayoutsAllowed = %t`,
		s.MinPayoutUSD, s.PayoutCooldownHours, s.MaxDailyEarnUSD, s.SafetyMargin,
		s.ECPMUSD, s.ImpressionsToday, s.CoinToUSDRate, s.EmulatorPayoutsAllowed)
}

// shortID — первые 12 символов deviceId для сообщений.
func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
