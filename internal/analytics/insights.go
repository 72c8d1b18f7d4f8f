// Package analytics turns an organization's cost statistics into a summary
// report and actionable insights: budget warnings, cost spikes, premium-tier
// concentration and the savings routing has already found.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

// InsightType categorizes the kind of insight generated.
type InsightType string

const (
	InsightCostSpike     InsightType = "cost_spike"
	InsightTierSwitch    InsightType = "tier_switch"
	InsightBudgetWarning InsightType = "budget_warning"
	InsightSavingsFound  InsightType = "savings_found"
)

// Severity indicates the urgency of an insight.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	// SpikeThreshold is how many times the trailing daily average today's
	// spend must reach to count as a spike.
	SpikeThreshold = 2.0
	// criticalSpike escalates a spike to critical.
	criticalSpike = 5.0
	// BudgetWarningPercent is the consumption at which a budget warning fires.
	BudgetWarningPercent = 80.0
	// premiumShareThreshold is the share of monthly cost on the premium tier
	// above which a tier switch is suggested.
	premiumShareThreshold = 50.0
	// midTierSavingRatio approximates the saving of moving premium traffic
	// to the mid tier.
	midTierSavingRatio = 0.75
)

// Insight represents an actionable recommendation or alert.
type Insight struct {
	ID              string      `json:"id"`
	Type            InsightType `json:"type"`
	Severity        Severity    `json:"severity"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	EstimatedSaving float64     `json:"estimated_saving"`
	AffectedEntity  string      `json:"affected_entity"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Source provides the aggregates insights are derived from. tracker.Tracker
// implements it.
type Source interface {
	GetStats(ctx context.Context, orgID string, period models.Period) (*models.CostStats, error)
	CheckBudget(ctx context.Context, orgID string) (models.Budget, error)
}

// InsightsEngine generates cost insights.
type InsightsEngine struct {
	src Source
	now func() time.Time
}

// NewInsightsEngine creates a new InsightsEngine.
func NewInsightsEngine(src Source) *InsightsEngine {
	return &InsightsEngine{src: src, now: time.Now}
}

// Insights returns every current insight for orgID, most severe first.
func (e *InsightsEngine) Insights(ctx context.Context, orgID string) ([]Insight, error) {
	var (
		daily, weekly, monthly *models.CostStats
		budget                 models.Budget
	)
	g, gctx := errgroup.WithContext(ctx)
	for period, dst := range map[models.Period]**models.CostStats{
		models.PeriodDaily:   &daily,
		models.PeriodWeekly:  &weekly,
		models.PeriodMonthly: &monthly,
	} {
		g.Go(func() error {
			s, err := e.src.GetStats(gctx, orgID, period)
			if err != nil {
				return fmt.Errorf("loading %s stats: %w", period, err)
			}
			*dst = s
			return nil
		})
	}
	g.Go(func() error {
		b, err := e.src.CheckBudget(gctx, orgID)
		if err != nil {
			return fmt.Errorf("checking budget: %w", err)
		}
		budget = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := e.now()
	insights := BudgetWarnings(orgID, budget, now)
	if in, ok := DetectSpike(orgID, daily, weekly, now); ok {
		insights = append(insights, in)
	}
	if in, ok := RecommendTierSwitch(orgID, monthly, now); ok {
		insights = append(insights, in)
	}
	if in, ok := SavingsFound(orgID, monthly, now); ok {
		insights = append(insights, in)
	}

	sort.SliceStable(insights, func(i, j int) bool {
		return severityRank(insights[i].Severity) > severityRank(insights[j].Severity)
	})
	return insights, nil
}

// BudgetWarnings reports windows at or above BudgetWarningPercent. An
// exhausted window is critical.
func BudgetWarnings(orgID string, b models.Budget, now time.Time) []Insight {
	insights := []Insight{}
	windows := []struct {
		name       string
		spend      float64
		limit      float64
		percentage float64
		exceeded   bool
	}{
		{"daily", b.DailySpend, b.DailyLimit, b.DailyPercentage, b.DailyExceeded},
		{"monthly", b.MonthlySpend, b.MonthlyLimit, b.MonthlyPercentage, b.MonthlyExceeded},
	}
	for _, w := range windows {
		if w.limit <= 0 || (!w.exceeded && w.percentage < BudgetWarningPercent) {
			continue
		}
		severity, title := SeverityWarning, fmt.Sprintf("%s budget %.0f%% used", w.name, w.percentage)
		if w.exceeded {
			severity, title = SeverityCritical, fmt.Sprintf("%s budget exceeded", w.name)
		}
		insights = append(insights, Insight{
			ID:       fmt.Sprintf("budget-%s-%s-%s", orgID, w.name, now.Format("2006-01-02")),
			Type:     InsightBudgetWarning,
			Severity: severity,
			Title:    title,
			Description: fmt.Sprintf(
				"Organization %s has spent $%.4f of its $%.2f %s limit. New requests are rejected once the limit is reached.",
				orgID, w.spend, w.limit, w.name,
			),
			AffectedEntity: orgID,
			CreatedAt:      now,
		})
	}
	return insights
}

// DetectSpike compares today's spend with the trailing daily average of the
// weekly window.
func DetectSpike(orgID string, daily, weekly *models.CostStats, now time.Time) (Insight, bool) {
	if daily == nil || weekly == nil {
		return Insight{}, false
	}
	avg := (weekly.TotalCost - daily.TotalCost) / 7
	if avg <= 0 || daily.TotalCost < avg*SpikeThreshold {
		return Insight{}, false
	}

	multiple := daily.TotalCost / avg
	severity := SeverityWarning
	if multiple >= criticalSpike {
		severity = SeverityCritical
	}
	return Insight{
		ID:       fmt.Sprintf("spike-%s-%s", orgID, now.Format("2006-01-02")),
		Type:     InsightCostSpike,
		Severity: severity,
		Title:    fmt.Sprintf("Cost spike detected: %.1fx above average", multiple),
		Description: fmt.Sprintf(
			"Today's spend of $%.4f is %.1fx the trailing daily average of $%.4f.",
			daily.TotalCost, multiple, avg,
		),
		EstimatedSaving: round2(daily.TotalCost - avg),
		AffectedEntity:  orgID,
		CreatedAt:       now,
	}, true
}

// RecommendTierSwitch fires when most of the month's cost is premium tier.
func RecommendTierSwitch(orgID string, monthly *models.CostStats, now time.Time) (Insight, bool) {
	if monthly == nil || monthly.TotalCost <= 0 {
		return Insight{}, false
	}
	premium := monthly.ByTier[models.TierPremium]
	share := premium.Cost / monthly.TotalCost * 100
	if share <= premiumShareThreshold {
		return Insight{}, false
	}
	saving := premium.Cost * midTierSavingRatio
	return Insight{
		ID:       fmt.Sprintf("tier-%s-%s", orgID, now.Format("2006-01")),
		Type:     InsightTierSwitch,
		Severity: SeverityInfo,
		Title:    fmt.Sprintf("%.0f%% of this month's spend is premium tier", share),
		Description: fmt.Sprintf(
			"%d premium requests cost $%.2f. Forcing the mid tier for requests that do not need the specialized model could save ~$%.2f.",
			premium.Requests, premium.Cost, saving,
		),
		EstimatedSaving: round2(saving),
		AffectedEntity:  string(models.TierPremium),
		CreatedAt:       now,
	}, true
}

// SavingsFound summarizes what routing saved against the baseline model.
func SavingsFound(orgID string, monthly *models.CostStats, now time.Time) (Insight, bool) {
	if monthly == nil || monthly.TotalSavings <= 0 {
		return Insight{}, false
	}
	return Insight{
		ID:       fmt.Sprintf("savings-%s-%s", orgID, now.Format("2006-01")),
		Type:     InsightSavingsFound,
		Severity: SeverityInfo,
		Title:    fmt.Sprintf("Routing saved $%.2f this month", monthly.TotalSavings),
		Description: fmt.Sprintf(
			"%d requests cost $%.4f, %.1f%% less than sending them all to the baseline model. %.1f%% were served by the free tier.",
			monthly.RequestCount, monthly.TotalCost, monthly.SavingsPercentage, freeShare(monthly),
		),
		EstimatedSaving: round2(monthly.TotalSavings),
		AffectedEntity:  orgID,
		CreatedAt:       now,
	}, true
}

// GenerateReport summarizes an organization's usage over period.
func (e *InsightsEngine) GenerateReport(ctx context.Context, orgID string, period models.Period) (*Report, error) {
	stats, err := e.src.GetStats(ctx, orgID, period)
	if err != nil {
		return nil, fmt.Errorf("generating report: %w", err)
	}
	return NewReport(stats), nil
}

// NewReport builds a Report from stats.
func NewReport(stats *models.CostStats) *Report {
	r := &Report{
		OrganizationID:    stats.OrganizationID,
		Period:            stats.Period,
		From:              stats.From,
		To:                stats.To,
		TotalCostUSD:      stats.TotalCost,
		TotalRequests:     stats.RequestCount,
		AvgLatencyMs:      stats.AverageLatencyMs,
		TotalSavingsUSD:   stats.TotalSavings,
		SavingsPercentage: stats.SavingsPercentage,
		FreeTierPercent:   freeShare(stats),
	}
	// Top provider by request count, ties broken by name.
	var top int64
	for name, p := range stats.ByProvider {
		r.TotalTokens += p.InputTokens + p.OutputTokens
		if r.TopProvider == "" || p.Requests > top || (p.Requests == top && name < r.TopProvider) {
			top, r.TopProvider = p.Requests, name
		}
	}
	return r
}

// Report is a summary of usage and costs over a time period.
type Report struct {
	OrganizationID    string          `json:"organization_id"`
	Period            models.Period   `json:"period"`
	From              time.Time       `json:"from"`
	To                time.Time       `json:"to"`
	TotalCostUSD      float64         `json:"total_cost_usd"`
	TotalRequests     int64           `json:"total_requests"`
	TotalTokens       int64           `json:"total_tokens"`
	AvgLatencyMs      float64         `json:"avg_latency_ms"`
	TotalSavingsUSD   float64         `json:"total_savings_usd"`
	SavingsPercentage float64         `json:"savings_percentage"`
	FreeTierPercent   float64         `json:"free_tier_percent"`
	TopProvider       models.Provider `json:"top_provider,omitempty"`
}

func freeShare(stats *models.CostStats) float64 {
	return stats.ByTier[models.TierFree].Percentage
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	}
	return 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
