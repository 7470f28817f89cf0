package common_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dawinz/learn-earn-backend/internal/common"
)

func TestRejectionUnwrapsToSentinel(t *testing.T) {
	rej := common.Reject(common.ErrCooldownActive, common.CodeAdCooldownActive).WithMinutes(7)

	wrapped := fmt.Errorf("decision: %w", rej)
	assert.ErrorIs(t, wrapped, common.ErrCooldownActive)

	got, ok := common.AsRejection(wrapped)
	require.True(t, ok)
	assert.Equal(t, common.CodeAdCooldownActive, got.Code)
	assert.Equal(t, common.CategoryThrottling, got.Category)
	assert.Equal(t, 7, got.RemainingMinutes)
}

func TestRejectionBody(t *testing.T) {
	rej := common.Reject(common.ErrBudgetExceeded, common.CodeBudgetExceeded).
		WithBudget(decimal.NewFromInt(9), decimal.NewFromInt(10))

	raw, err := json.Marshal(rej.Body())
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "BUDGET_EXCEEDED", body["code"])
	assert.Equal(t, common.ErrBudgetExceeded.Error(), body["error"])
	assert.Equal(t, "9", body["remainingBudget"])
	assert.Equal(t, "10", body["requestedAmount"])
	assert.NotContains(t, body, "remainingMinutes")
	assert.NotContains(t, body, "remaining")
}

func TestTryLater(t *testing.T) {
	rej := common.TryLater()
	assert.Equal(t, common.CodeTryLater, rej.Code)
	assert.Equal(t, common.CategoryInfrastructure, rej.Category)
}

func TestAsRejectionOnPlainError(t *testing.T) {
	_, ok := common.AsRejection(errors.New("connection refused"))
	assert.False(t, ok)
}

func TestCategoryOf(t *testing.T) {
	cases := []struct {
		err  error
		want common.Category
	}{
		{common.ErrInvalidSignature, common.CategoryAuthentication},
		{common.ErrDeviceBlocked, common.CategoryAuthentication},
		{common.ErrDailyCapReached, common.CategoryThrottling},
		{common.ErrBudgetExceeded, common.CategoryBudget},
		{common.ErrInvalidAmount, common.CategoryValidation},
		{fmt.Errorf("wrapped: %w", common.ErrNoDestination), common.CategoryValidation},
		{errors.New("db down"), common.CategoryInfrastructure},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, common.CategoryOf(tc.err), tc.err.Error())
	}
}

func TestDayBounds(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	// 22:30 UTC — уже следующие сутки по UTC+3
	at := time.Date(2026, 3, 10, 22, 30, 0, 0, time.UTC)

	from, to := common.DayBounds(at, loc)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, loc), from)
	assert.Equal(t, time.Date(2026, 3, 12, 0, 0, 0, 0, loc), to)
	assert.False(t, at.Before(from))
	assert.True(t, at.Before(to))
}

func TestCeilMinutes(t *testing.T) {
	assert.Equal(t, 0, common.CeilMinutes(-time.Second))
	assert.Equal(t, 0, common.CeilMinutes(0))
	assert.Equal(t, 1, common.CeilMinutes(time.Second))
	assert.Equal(t, 15, common.CeilMinutes(15*time.Minute))
	assert.Equal(t, 16, common.CeilMinutes(15*time.Minute+time.Millisecond))
}

func TestFormatUSD(t *testing.T) {
	assert.Equal(t, "$9.00", common.FormatUSD(decimal.NewFromInt(9)))
	assert.Equal(t, "$0.30", common.FormatUSD(decimal.RequireFromString("0.3")))
}
