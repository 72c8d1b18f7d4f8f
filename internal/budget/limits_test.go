package budget

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

func TestStaticLimits_DefaultAndPerOrg(t *testing.T) {
	s := NewStaticLimits(
		models.BudgetLimits{DailyLimitUSD: 10, MonthlyLimitUSD: 100},
		map[string]models.BudgetLimits{"acme": {DailyLimitUSD: 2, MonthlyLimitUSD: 50}},
	)

	got, err := s.Limits(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, models.BudgetLimits{DailyLimitUSD: 2, MonthlyLimitUSD: 50}, got)

	got, _ = s.Limits(context.Background(), "other")
	assert.Equal(t, models.BudgetLimits{DailyLimitUSD: 10, MonthlyLimitUSD: 100}, got, "default limits")
}

func TestStaticLimits_Replace(t *testing.T) {
	perOrg := map[string]models.BudgetLimits{"acme": {DailyLimitUSD: 2}}
	s := NewStaticLimits(models.BudgetLimits{}, perOrg)

	// Mutating the caller's map must not leak into the table.
	perOrg["acme"] = models.BudgetLimits{DailyLimitUSD: 99}
	got, _ := s.Limits(context.Background(), "acme")
	assert.Equal(t, 2.0, got.DailyLimitUSD)

	s.Replace(models.BudgetLimits{DailyLimitUSD: 5}, nil)
	got, _ = s.Limits(context.Background(), "acme")
	assert.Equal(t, 5.0, got.DailyLimitUSD, "new default after replace")
}

func TestRedisLimits_NilCache_FallsBack(t *testing.T) {
	static := NewStaticLimits(models.BudgetLimits{DailyLimitUSD: 3}, nil)
	r := NewRedisLimits(nil, static)

	got, err := r.Limits(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.DailyLimitUSD)
}

func TestRedisLimits_NilCacheAndFallback_Unlimited(t *testing.T) {
	r := NewRedisLimits(nil, nil)
	got, err := r.Limits(context.Background(), "acme")
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestRedisLimits_NilCache_ReadOnly(t *testing.T) {
	r := NewRedisLimits(nil, nil)
	assert.ErrorIs(t, r.SetLimits(context.Background(), "acme", models.BudgetLimits{DailyLimitUSD: 1}), ErrReadOnly)
	assert.ErrorIs(t, r.ResetLimits(context.Background(), "acme"), ErrReadOnly)
}

func TestExceeded(t *testing.T) {
	tests := []struct {
		spend, limit float64
		want         bool
	}{
		{2.01, 2.00, true},
		{2.00, 2.00, true},
		{1.99, 2.00, false},
		{1000, 0, false},
		{5, -1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Exceeded(tt.spend, tt.limit), "Exceeded(%v, %v)", tt.spend, tt.limit)
	}
}

func TestPercentage(t *testing.T) {
	assert.Greater(t, Percentage(2.01, 2.00), 100.0)
	assert.Equal(t, 25.0, Percentage(1, 4))
	assert.Zero(t, Percentage(10, 0), "unlimited")
}
