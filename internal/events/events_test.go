package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dawinz/learn-earn-backend/internal/events"
	"github.com/Dawinz/learn-earn-backend/internal/features/payouts"
)

type message struct {
	topic string
	key   string
	event any
	ctx   context.Context
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []message
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, topic, key string, event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message{topic: topic, key: key, event: event, ctx: ctx})
	return f.err
}

func (f *fakePublisher) Close() error { return nil }

func TestEmitterRoutesByTopic(t *testing.T) {
	pub := &fakePublisher{}
	em := events.NewEmitter(pub, "earnings", "payouts")
	ctx := context.Background()

	em.EarningRecorded(ctx, events.EarningRecorded{DeviceID: "d1", Coins: 300, USD: decimal.RequireFromString("0.30"), Tier: 3})
	em.PayoutRequested(ctx, events.PayoutRequested{DeviceID: "d2", AmountUSD: decimal.NewFromInt(5)})

	require.Len(t, pub.sent, 2)
	assert.Equal(t, "earnings", pub.sent[0].topic)
	assert.Equal(t, "d1", pub.sent[0].key)
	earning, ok := pub.sent[0].event.(events.EarningRecorded)
	require.True(t, ok)
	assert.Equal(t, events.TypeEarningRecorded, earning.Type)
	assert.Equal(t, 3, earning.Tier)

	assert.Equal(t, "payouts", pub.sent[1].topic)
	assert.Equal(t, "d2", pub.sent[1].key)
	payout, ok := pub.sent[1].event.(events.PayoutRequested)
	require.True(t, ok)
	assert.Equal(t, events.TypePayoutRequested, payout.Type)
}

func TestEmitterPayoutSettled(t *testing.T) {
	pub := &fakePublisher{}
	em := events.NewEmitter(pub, "earnings", "payouts")

	id := uuid.New()
	em.PayoutSettled(context.Background(), payouts.Request{
		ID:        id,
		DeviceID:  "d1",
		Status:    payouts.StatusPaid,
		AmountUSD: decimal.NewFromInt(5),
		TxRef:     "tx-9",
	})

	require.Len(t, pub.sent, 1)
	ev, ok := pub.sent[0].event.(events.PayoutSettled)
	require.True(t, ok)
	assert.Equal(t, events.TypePayoutSettled, ev.Type)
	assert.Equal(t, id.String(), ev.PayoutID)
	assert.Equal(t, "paid", ev.Status)
	assert.Equal(t, "tx-9", ev.TxRef)
}

func TestEmitterOutlivesRequestContext(t *testing.T) {
	pub := &fakePublisher{}
	em := events.NewEmitter(pub, "earnings", "payouts")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	em.PayoutRequested(ctx, events.PayoutRequested{DeviceID: "d1"})

	require.Len(t, pub.sent, 1)
	sentCtx := pub.sent[0].ctx
	assert.NoError(t, sentCtx.Err())
	deadline, ok := sentCtx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)
}

func TestEmitterSwallowsPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	em := events.NewEmitter(pub, "earnings", "payouts")

	assert.NotPanics(t, func() {
		em.EarningRecorded(context.Background(), events.EarningRecorded{DeviceID: "d1"})
	})
	assert.Len(t, pub.sent, 1)
}

func TestNopPublisher(t *testing.T) {
	var pub events.Publisher = events.NopPublisher{}
	assert.NoError(t, pub.Publish(context.Background(), "t", "k", struct{}{}))
	assert.NoError(t, pub.Close())
}
