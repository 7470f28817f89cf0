package middleware_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Dawinz/learn-earn-backend/internal/middleware"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := middleware.NewRateLimiter(3, time.Minute)
	defer rl.Close()
	rl.SetClock(func() time.Time { return now })

	assert.True(t, rl.Allow("d1"))
	assert.True(t, rl.Allow("d1"))
	assert.True(t, rl.Allow("d1"))
	assert.False(t, rl.Allow("d1"))

	// Другой ключ считается отдельно
	assert.True(t, rl.Allow("d2"))

	now = now.Add(30 * time.Second)
	assert.False(t, rl.Allow("d1"))

	// Первые запросы вышли из окна
	now = now.Add(31 * time.Second)
	assert.True(t, rl.Allow("d1"))
}

func TestRateLimiterRejectedRequestsDoNotExtendWindow(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := middleware.NewRateLimiter(1, time.Minute)
	defer rl.Close()
	rl.SetClock(func() time.Time { return now })

	assert.True(t, rl.Allow("d1"))
	for i := 0; i < 5; i++ {
		now = now.Add(10 * time.Second)
		assert.False(t, rl.Allow("d1"))
	}

	now = now.Add(11 * time.Second)
	assert.True(t, rl.Allow("d1"))
}

func TestRateLimiterCloseTwice(t *testing.T) {
	rl := middleware.NewRateLimiter(1, time.Second)
	rl.Close()
	assert.NotPanics(t, rl.Close)
}

func TestSafe(t *testing.T) {
	var panicked bool
	assert.NotPanics(t, func() {
		panicked = middleware.Safe("test", func() { panic("boom") })
	})
	assert.True(t, panicked)

	ran := false
	assert.False(t, middleware.Safe("test", func() { ran = true }))
	assert.True(t, ran)
}
