package tracker

import "github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"

func aggregate(recs []models.CostTrackingRecord) *models.CostStats {
	stats := &models.CostStats{
		ByProvider: map[models.Provider]models.ProviderBreakdown{},
		ByTier:     map[models.Tier]models.TierBreakdown{},
	}
	if len(recs) == 0 {
		return stats
	}

	var totalLatency int64
	latency := map[models.Provider]int64{}
	for _, r := range recs {
		stats.RequestCount++
		stats.TotalCost += r.CostUSD
		stats.TotalSavings += r.SavingsUSD
		totalLatency += r.LatencyMs

		p := stats.ByProvider[r.Provider]
		p.Requests++
		p.Cost += r.CostUSD
		p.InputTokens += r.PromptTokens
		p.OutputTokens += r.CompletionTokens
		stats.ByProvider[r.Provider] = p
		latency[r.Provider] += r.LatencyMs

		tb := stats.ByTier[r.Tier]
		tb.Requests++
		tb.Cost += r.CostUSD
		stats.ByTier[r.Tier] = tb
	}

	n := float64(stats.RequestCount)
	stats.AverageCost = stats.TotalCost / n
	stats.AverageLatencyMs = float64(totalLatency) / n

	for name, p := range stats.ByProvider {
		p.AverageLatencyMs = float64(latency[name]) / float64(p.Requests)
		stats.ByProvider[name] = p
	}
	for tier, tb := range stats.ByTier {
		tb.Percentage = float64(tb.Requests) / n * 100
		stats.ByTier[tier] = tb
	}

	// Savings share of what the baseline model would have cost.
	if baseline := stats.TotalCost + stats.TotalSavings; baseline > 0 {
		stats.SavingsPercentage = stats.TotalSavings / baseline * 100
	}
	return stats
}
