package providers

import (
	"math"
	"strings"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

// Savings are reported against a fixed premium baseline.
const (
	BaselineModel            = "gpt-4o"
	baselineInputPerMillion  = 2.50
	baselineOutputPerMillion = 10.00
)

// ComputeCost prices a call. Free-tier providers always cost zero.
func ComputeCost(cfg models.ProviderConfig, usage models.TokenUsage) models.CostBreakdown {
	if cfg.Tier == models.TierFree {
		return models.CostBreakdown{}
	}
	in := float64(usage.Input) / 1_000_000 * cfg.CostPerInputToken
	out := float64(usage.Output) / 1_000_000 * cfg.CostPerOutputToken
	return models.CostBreakdown{Input: in, Output: out, Total: in + out}
}

// ComputeSavings compares the actual cost of a call with what the baseline
// model would have charged for the same tokens. Negative savings are
// reported as zero.
func ComputeSavings(usage models.TokenUsage, cost models.CostBreakdown) models.Savings {
	baseline := BaselineCost(usage)
	s := models.Savings{BaselineModel: BaselineModel}
	if baseline <= 0 {
		return s
	}
	s.AmountUSD = math.Max(0, baseline-cost.Total)
	s.Percentage = s.AmountUSD / baseline * 100
	return s
}

// BaselineCost is the cost of usage on the baseline model.
func BaselineCost(usage models.TokenUsage) float64 {
	return float64(usage.Input)/1_000_000*baselineInputPerMillion +
		float64(usage.Output)/1_000_000*baselineOutputPerMillion
}

// EstimateOutputTokens approximates the token count of a completion when the
// upstream did not report usage.
func EstimateOutputTokens(content string) int64 {
	return int64(math.Ceil(float64(len(strings.Fields(content))) * 1.3))
}
