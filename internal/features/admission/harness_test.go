package admission_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dawinz/learn-earn-backend/internal/common"
	"github.com/Dawinz/learn-earn-backend/internal/config"
	"github.com/Dawinz/learn-earn-backend/internal/events"
	"github.com/Dawinz/learn-earn-backend/internal/features/admission"
	"github.com/Dawinz/learn-earn-backend/internal/features/budget"
	"github.com/Dawinz/learn-earn-backend/internal/features/cooldown"
	"github.com/Dawinz/learn-earn-backend/internal/features/earnings"
	"github.com/Dawinz/learn-earn-backend/internal/features/identity"
	"github.com/Dawinz/learn-earn-backend/internal/features/payouts"
	"github.com/Dawinz/learn-earn-backend/internal/features/settings"
	"github.com/Dawinz/learn-earn-backend/internal/memstore"
	"github.com/Dawinz/learn-earn-backend/internal/metrics"
)

const adUnit = "rewarded-main"

type harness struct {
	t  *testing.T
	db *memstore.DB

	mu  sync.Mutex
	now time.Time

	ctrl      *admission.Controller
	identity  *identity.Service
	cooldowns *cooldown.Service
	earnings  *earnings.Service
	settings  *settings.Service
	payouts   *payouts.Service
	metrics   *metrics.AdmissionMetrics

	published *publisher
	notified  *notifier

	nonces atomic.Int64
}

type device struct {
	id   string
	priv ed25519.PrivateKey
}

type publisher struct {
	mu   sync.Mutex
	sent []any
}

func (p *publisher) Publish(_ context.Context, _, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, event)
	return nil
}

func (p *publisher) Close() error { return nil }

func (p *publisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type notifier struct {
	mu   sync.Mutex
	sent []payouts.Request
}

func (n *notifier) NotifyPayout(_ context.Context, p payouts.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, p)
}

func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func testConfig() *config.Config {
	return &config.Config{
		AppPepper:           "0123456789abcdef-pepper",
		NonceTTL:            time.Hour,
		DestinationLockDays: 30,

		CooldownQuizMinutes:       30,
		CooldownAdRewardMinutes:   15,
		CooldownLessonMinutes:     60,
		CooldownDailyBonusMinutes: 1440,
		CooldownDefaultMinutes:    30,

		RewardAdCoins: 300,
		QuizPassScore: 70,

		RateLimitEarnRequests:   1000,
		RateLimitEarnWindow:     time.Minute,
		RateLimitPayoutRequests: 1000,
		RateLimitPayoutWindow:   time.Hour,
	}
}

// newHarness собирает контроллер поверх хранилища в памяти.
// mutate может поправить конфигурацию до сборки.
func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	db := memstore.New()
	h := &harness{
		t:         t,
		db:        db,
		now:       time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		published: &publisher{},
		notified:  &notifier{},
		metrics:   metrics.New(nil),
	}

	h.identity = identity.NewService(db.Identity(), cfg)
	h.identity.SetClock(h.clock)
	h.cooldowns = cooldown.NewService(db.Cooldowns(), db, cooldown.NewPolicy(cfg))
	h.cooldowns.SetClock(h.clock)
	h.earnings = earnings.NewService(db.Earnings(), h.cooldowns, time.UTC)
	h.earnings.SetClock(h.clock)
	h.settings = settings.NewService(db.Settings(), db)
	h.settings.SetClock(h.clock)
	budgetService := budget.NewService(db.Payouts(), time.UTC)
	budgetService.SetClock(h.clock)
	h.payouts = payouts.NewService(db.Payouts())
	h.payouts.SetClock(h.clock)

	ctrl, err := admission.New(admission.Deps{
		Identity:  h.identity,
		Cooldowns: h.cooldowns,
		Earnings:  h.earnings,
		Budget:    budgetService,
		Settings:  h.settings,
		Payouts:   h.payouts,
		Tx:        db,
		Metrics:   h.metrics,
		Events:    events.NewEmitter(h.published, "earnings", "payouts"),
		Notifier:  h.notified,
	}, cfg)
	require.NoError(t, err)
	ctrl.SetClock(h.clock)
	t.Cleanup(ctrl.Close)

	h.ctrl = ctrl
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

func (h *harness) nonce() string {
	return fmt.Sprintf("nonce-%d", h.nonces.Add(1))
}

func (h *harness) register(isEmulator bool) device {
	h.t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(h.t, err)
	d, err := h.identity.Register(context.Background(), base64.StdEncoding.EncodeToString(pub), isEmulator)
	require.NoError(h.t, err)
	return device{id: d.DeviceID, priv: priv}
}

func (h *harness) registerWithDestination(isEmulator bool) device {
	h.t.Helper()
	d := h.register(isEmulator)
	_, err := h.identity.SetPayoutDestination(context.Background(), d.id, "+255 712 345 678")
	require.NoError(h.t, err)
	return d
}

func (h *harness) update(field, value string) {
	h.t.Helper()
	patch, err := settings.ParsePatch(field, value)
	require.NoError(h.t, err)
	_, err = h.settings.Update(context.Background(), patch)
	require.NoError(h.t, err)
}

func (h *harness) impressions(n int64) {
	h.t.Helper()
	_, err := h.settings.AddImpressions(context.Background(), n)
	require.NoError(h.t, err)
}

func sign(priv ed25519.PrivateKey, message []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, message))
}

func (h *harness) adClaim(d device) admission.EarningClaim {
	return h.adClaimWithNonce(d, h.nonce())
}

func (h *harness) adClaimWithNonce(d device, nonce string) admission.EarningClaim {
	msg := identity.AdRewardMessage{Nonce: nonce, AdUnitID: adUnit, DeviceID: d.id}
	return admission.EarningClaim{
		DeviceID:  d.id,
		Source:    earnings.SourceAdReward,
		AdUnitID:  adUnit,
		Nonce:     nonce,
		Signature: sign(d.priv, msg.Bytes()),
	}
}

func (h *harness) refClaim(d device, source earnings.Source, refID string) admission.EarningClaim {
	return h.refClaimWithNonce(d, source, refID, h.nonce())
}

func (h *harness) refClaimWithNonce(d device, source earnings.Source, refID, nonce string) admission.EarningClaim {
	msg := identity.ClaimMessage{Nonce: nonce, Source: string(source), RefID: refID, DeviceID: d.id}
	return admission.EarningClaim{
		DeviceID:  d.id,
		Source:    source,
		RefID:     refID,
		Nonce:     nonce,
		Signature: sign(d.priv, msg.Bytes()),
	}
}

func (h *harness) quizClaim(d device, refID string, score, seconds int) admission.EarningClaim {
	c := h.refClaim(d, earnings.SourceQuiz, refID)
	c.Score = score
	c.TimeSpentSeconds = seconds
	return c
}

func (h *harness) payoutClaim(d device, amount string) admission.PayoutClaim {
	return h.payoutClaimWithNonce(d, amount, h.nonce())
}

func (h *harness) payoutClaimWithNonce(d device, amount, nonce string) admission.PayoutClaim {
	msg := identity.PayoutMessage{Nonce: nonce, AmountUSD: json.Number(amount), DeviceID: d.id}
	return admission.PayoutClaim{
		DeviceID:  d.id,
		Amount:    amount,
		Nonce:     nonce,
		Signature: sign(d.priv, msg.Bytes()),
	}
}

func (h *harness) earnedToday(d device) string {
	h.t.Helper()
	total, err := h.earnings.TotalEarnedToday(context.Background(), d.id)
	require.NoError(h.t, err)
	return total.StringFixed(2)
}

func requireRejection(t *testing.T, err error, code string) *common.Rejection {
	t.Helper()
	require.Error(t, err)
	rej, ok := common.AsRejection(err)
	require.True(t, ok, "ожидался отказ %s, получено %v", code, err)
	assert.Equal(t, code, rej.Code)
	return rej
}
