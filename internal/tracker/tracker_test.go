package tracker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

var testNow = time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)

func newSQLiteTracker(t *testing.T, limits budget.LimitSource) (*Tracker, *database.SQLiteStore) {
	t.Helper()
	store, err := database.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, limits, Options{Now: func() time.Time { return testNow }}), store
}

func response(id string, provider models.Provider, tier models.Tier, cost float64, at time.Time) *models.OptimizationResponse {
	return &models.OptimizationResponse{
		Content:   "ok",
		Model:     "m-" + string(provider),
		Provider:  provider,
		Tier:      tier,
		Usage:     models.TokenUsage{Input: 100, Output: 50, Total: 150},
		Cost:      models.CostBreakdown{Input: cost / 2, Output: cost / 2, Total: cost},
		LatencyMs: 400,
		Savings:   models.Savings{AmountUSD: 0.5, BaselineModel: "gpt-4o"},
		Complexity: models.ComplexityScore{
			Score:      20,
			Confidence: 0.9,
		},
		Timestamp: at,
		RequestID: id,
	}
}

func request(org string) models.OptimizationRequest {
	return models.OptimizationRequest{OrganizationID: org, Prompt: "What is 2+2?", UserID: "u-1"}
}

// fakeStore records inserts and can be told to fail.
type fakeStore struct {
	mu       sync.Mutex
	inserted []models.CostTrackingRecord
	fail     error
}

func (f *fakeStore) Insert(_ context.Context, rec *models.CostTrackingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.inserted = append(f.inserted, *rec)
	return nil
}

func (f *fakeStore) ListRecords(context.Context, string, time.Time, time.Time) ([]models.CostTrackingRecord, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return nil, nil
}

func (f *fakeStore) RecentRecords(context.Context, string, int) ([]models.CostTrackingRecord, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return nil, nil
}

func TestLogRequestBuildsRecord(t *testing.T) {
	store := &fakeStore{}
	tr := New(store, nil, Options{Now: func() time.Time { return testNow }})

	resp := response("req-1", models.ProviderOpenAI, models.TierMid, 0.02, testNow)
	resp.Fallback = true
	resp.FinishReason = "stop"
	tr.LogRequest(context.Background(), request("acme"), resp)

	require.Len(t, store.inserted, 1)
	rec := store.inserted[0]
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "acme", rec.OrganizationID)
	require.NotNil(t, rec.UserID)
	assert.Equal(t, "u-1", *rec.UserID)
	assert.Equal(t, "req-1", rec.RequestID)
	assert.Equal(t, "What is 2+2?", rec.PromptExcerpt)
	assert.Equal(t, int64(100), rec.PromptTokens)
	assert.Equal(t, int64(50), rec.CompletionTokens)
	assert.Equal(t, "m-openai", rec.ModelUsed)
	assert.Equal(t, 0.02, rec.CostUSD)
	assert.Equal(t, 0.5, rec.SavingsUSD)
	assert.Equal(t, 20, rec.ComplexityScore)
	assert.Equal(t, true, rec.Metadata["fallback"])
	assert.Equal(t, "stop", rec.Metadata["finish_reason"])
	assert.True(t, rec.CreatedAt.Equal(testNow))
}

func TestLogRequestTruncatesExcerpt(t *testing.T) {
	store := &fakeStore{}
	tr := New(store, nil, Options{})

	req := request("acme")
	req.UserID = ""
	req.Prompt = strings.Repeat("数", 600)
	tr.LogRequest(context.Background(), req, response("req-1", models.ProviderQwen, models.TierPremium, 0.1, testNow))

	require.Len(t, store.inserted, 1)
	assert.Equal(t, 500, len([]rune(store.inserted[0].PromptExcerpt)))
	assert.Nil(t, store.inserted[0].UserID)
}

func TestLogRequestSwallowsStoreErrors(t *testing.T) {
	store := &fakeStore{fail: errors.New("disk full")}
	tr := New(store, nil, Options{})

	assert.NotPanics(t, func() {
		tr.LogRequest(context.Background(), request("acme"), response("req-1", models.ProviderOpenAI, models.TierMid, 0.01, testNow))
	})
	assert.Empty(t, store.inserted)
}

func TestLogRequestSurvivesCancelledContext(t *testing.T) {
	store := &fakeStore{}
	tr := New(store, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr.LogRequest(ctx, request("acme"), response("req-1", models.ProviderOpenAI, models.TierMid, 0.01, testNow))
	assert.Len(t, store.inserted, 1)
}

func TestGetStatsEmpty(t *testing.T) {
	tr, _ := newSQLiteTracker(t, nil)

	stats, err := tr.GetStats(context.Background(), "acme", models.PeriodDaily)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.RequestCount)
	assert.Zero(t, stats.TotalCost)
	assert.Zero(t, stats.AverageCost)
	assert.Zero(t, stats.SavingsPercentage)
	assert.NotNil(t, stats.ByProvider)
	assert.NotNil(t, stats.ByTier)
	assert.Equal(t, "acme", stats.OrganizationID)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), stats.From)
}

func TestGetStatsAggregates(t *testing.T) {
	tr, _ := newSQLiteTracker(t, nil)
	ctx := context.Background()

	tr.LogRequest(ctx, request("acme"), response("a", models.ProviderGemini, models.TierFree, 0, testNow.Add(-time.Hour)))
	tr.LogRequest(ctx, request("acme"), response("b", models.ProviderOpenAI, models.TierMid, 0.3, testNow.Add(-2*time.Hour)))
	tr.LogRequest(ctx, request("acme"), response("c", models.ProviderOpenAI, models.TierMid, 0.1, testNow.Add(-3*time.Hour)))
	tr.LogRequest(ctx, request("acme"), response("old", models.ProviderQwen, models.TierPremium, 9, testNow.AddDate(0, 0, -1)))
	tr.LogRequest(ctx, request("other"), response("x", models.ProviderOpenAI, models.TierMid, 5, testNow))

	stats, err := tr.GetStats(ctx, "acme", models.PeriodDaily)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.RequestCount)
	assert.InDelta(t, 0.4, stats.TotalCost, 1e-9)
	assert.InDelta(t, 0.4/3, stats.AverageCost, 1e-9)
	assert.InDelta(t, 400, stats.AverageLatencyMs, 1e-9)
	assert.InDelta(t, 1.5, stats.TotalSavings, 1e-9)
	assert.InDelta(t, 1.5/1.9*100, stats.SavingsPercentage, 1e-9)

	openai := stats.ByProvider[models.ProviderOpenAI]
	assert.Equal(t, int64(2), openai.Requests)
	assert.InDelta(t, 0.4, openai.Cost, 1e-9)
	assert.Equal(t, int64(200), openai.InputTokens)
	assert.Equal(t, int64(100), openai.OutputTokens)
	assert.InDelta(t, 400, openai.AverageLatencyMs, 1e-9)

	free := stats.ByTier[models.TierFree]
	assert.Equal(t, int64(1), free.Requests)
	assert.InDelta(t, 100.0/3, free.Percentage, 1e-9)
	_, hasPremium := stats.ByTier[models.TierPremium]
	assert.False(t, hasPremium)

	weekly, err := tr.GetStats(ctx, "acme", models.PeriodWeekly)
	require.NoError(t, err)
	assert.Equal(t, int64(4), weekly.RequestCount)
}

func TestGetStatsInvalidPeriod(t *testing.T) {
	tr := New(&fakeStore{}, nil, Options{})
	_, err := tr.GetStats(context.Background(), "acme", models.Period("yearly"))
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestGetStatsStoreError(t *testing.T) {
	tr := New(&fakeStore{fail: errors.New("connection refused")}, nil, Options{})
	_, err := tr.GetStats(context.Background(), "acme", models.PeriodDaily)
	assert.Error(t, err)
}

func TestCheckBudgetDailyExceeded(t *testing.T) {
	limits := budget.NewStaticLimits(models.BudgetLimits{}, map[string]models.BudgetLimits{
		"acme": {DailyLimitUSD: 2.00, MonthlyLimitUSD: 100},
	})
	tr, _ := newSQLiteTracker(t, limits)
	ctx := context.Background()

	tr.LogRequest(ctx, request("acme"), response("a", models.ProviderQwen, models.TierPremium, 2.01, testNow.Add(-time.Minute)))
	tr.LogRequest(ctx, request("acme"), response("b", models.ProviderQwen, models.TierPremium, 1.00, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	tr.LogRequest(ctx, request("acme"), response("c", models.ProviderQwen, models.TierPremium, 50, time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC)))

	b, err := tr.CheckBudget(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, b.DailyExceeded)
	assert.Greater(t, b.DailyPercentage, 100.0)
	assert.InDelta(t, 2.01, b.DailySpend, 1e-9)
	assert.False(t, b.MonthlyExceeded)
	assert.InDelta(t, 3.01, b.MonthlySpend, 1e-9)
	assert.InDelta(t, 3.01, b.MonthlyPercentage, 1e-9)
	assert.Equal(t, 2.00, b.DailyLimit)
}

func TestGetStatsIncludesBudget(t *testing.T) {
	limits := budget.NewStaticLimits(models.BudgetLimits{}, map[string]models.BudgetLimits{
		"acme": {DailyLimitUSD: 2.00, MonthlyLimitUSD: 100},
	})
	tr, _ := newSQLiteTracker(t, limits)
	ctx := context.Background()
	tr.LogRequest(ctx, request("acme"), response("a", models.ProviderQwen, models.TierPremium, 2.01, testNow.Add(-time.Minute)))

	stats, err := tr.GetStats(ctx, "acme", models.PeriodDaily)
	require.NoError(t, err)
	assert.InDelta(t, 2.01, stats.TotalCost, 1e-9)
	assert.Equal(t, 2.00, stats.Budget.DailyLimit)
	assert.Equal(t, 100.0, stats.Budget.MonthlyLimit)
	assert.InDelta(t, 2.01, stats.Budget.DailySpend, 1e-9)
	assert.True(t, stats.Budget.DailyExceeded)
	assert.False(t, stats.Budget.MonthlyExceeded)

	// The snapshot covers today and this month whatever the period asked for.
	hourly, err := tr.GetStats(ctx, "acme", models.PeriodHourly)
	require.NoError(t, err)
	assert.True(t, hourly.Budget.DailyExceeded)
}

func TestGetStatsLimitError(t *testing.T) {
	tr := New(&fakeStore{}, failingLimits{}, Options{})
	_, err := tr.GetStats(context.Background(), "acme", models.PeriodDaily)
	assert.Error(t, err)
}

func TestCheckBudgetUnlimited(t *testing.T) {
	tr, _ := newSQLiteTracker(t, nil)
	ctx := context.Background()
	tr.LogRequest(ctx, request("acme"), response("a", models.ProviderQwen, models.TierPremium, 1000, testNow))

	b, err := tr.CheckBudget(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, b.DailyExceeded)
	assert.False(t, b.MonthlyExceeded)
	assert.Zero(t, b.DailyPercentage)
}

type failingLimits struct{}

func (failingLimits) Limits(context.Context, string) (models.BudgetLimits, error) {
	return models.BudgetLimits{}, errors.New("limits unavailable")
}

func TestCheckBudgetLimitError(t *testing.T) {
	tr := New(&fakeStore{}, failingLimits{}, Options{})
	_, err := tr.CheckBudget(context.Background(), "acme")
	assert.Error(t, err)
}

func TestRecentClampsLimit(t *testing.T) {
	tr, _ := newSQLiteTracker(t, nil)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		tr.LogRequest(ctx, request("acme"), response(id, models.ProviderOpenAI, models.TierMid, 0.01, testNow.Add(time.Duration(i)*time.Second)))
	}

	recs, err := tr.Recent(ctx, "acme", 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "c", recs[0].RequestID)

	recs, err = tr.Recent(ctx, "acme", 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestPeriodStart(t *testing.T) {
	now := time.Date(2026, 3, 3, 15, 45, 12, 0, time.UTC)
	tests := []struct {
		period models.Period
		want   time.Time
	}{
		{models.PeriodHourly, time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)},
		{models.PeriodDaily, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)},
		{models.PeriodWeekly, time.Date(2026, 2, 24, 0, 0, 0, 0, time.UTC)},
		{models.PeriodMonthly, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			assert.Equal(t, tt.want, periodStart(tt.period, now))
		})
	}
}

func TestPeriodStartHonoursLocation(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// 20:00 UTC on the 9th is 05:00 on the 10th in UTC+9.
	now := time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC).In(loc)
	start := periodStart(models.PeriodDaily, now)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, loc), start)
}
