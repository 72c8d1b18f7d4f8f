package router

import "github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"

// DefaultProviders returns the built-in provider table. Costs are USD per
// one million tokens. Free-tier providers are priced at zero.
func DefaultProviders() []models.ProviderConfig {
	return []models.ProviderConfig{
		{
			Name: models.ProviderGemini, Tier: models.TierFree, DisplayName: "Google Gemini",
			MaxContextTokens: 1_048_576, AvgLatencyMs: 600, Enabled: true, RequestsPerMinute: 15,
			Models: []models.ModelOption{
				{ID: "gemini-2.0-flash", Recommended: true},
				{ID: "gemini-1.5-flash"},
			},
		},
		{
			Name: models.ProviderOpenAI, Tier: models.TierMid, DisplayName: "OpenAI",
			CostPerInputToken: 0.15, CostPerOutputToken: 0.60,
			MaxContextTokens: 128_000, AvgLatencyMs: 800, Enabled: true,
			Models: []models.ModelOption{
				{ID: "gpt-4o-mini", Recommended: true},
				{ID: "gpt-4o"},
			},
		},
		{
			Name: models.ProviderAnthropic, Tier: models.TierMid, DisplayName: "Anthropic Claude",
			CostPerInputToken: 0.80, CostPerOutputToken: 4.00,
			MaxContextTokens: 200_000, AvgLatencyMs: 900, Enabled: true,
			Models: []models.ModelOption{
				{ID: "claude-3-5-haiku-20241022", Recommended: true},
				{ID: "claude-3-5-sonnet-20241022"},
			},
		},
		{
			Name: models.ProviderQwen, Tier: models.TierPremium, DisplayName: "Alibaba Qwen",
			CostPerInputToken: 1.60, CostPerOutputToken: 6.40,
			MaxContextTokens: 32_768, AvgLatencyMs: 1500, Enabled: true,
			Models: []models.ModelOption{
				{ID: "qwen-max", Recommended: true},
				{ID: "qwen-plus"},
			},
		},
		{
			Name: models.ProviderOllama, Tier: models.TierFree, DisplayName: "Ollama (self-hosted)",
			MaxContextTokens: 8_192, AvgLatencyMs: 2000, Enabled: true,
			BaseURL: "http://localhost:11434",
			Models: []models.ModelOption{
				{ID: "llama3.1", Recommended: true},
			},
		},
	}
}

// BaseLatencies extracts each provider's average latency for the analyzer.
func BaseLatencies(configs []models.ProviderConfig) map[models.Provider]int64 {
	out := make(map[models.Provider]int64, len(configs))
	for _, c := range configs {
		out[c.Name] = c.AvgLatencyMs
	}
	return out
}
