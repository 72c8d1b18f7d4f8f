// Package models defines the core data structures used across the optimizer.
package models

import "time"

// Tier is a cost class grouping providers of similar price and capability.
type Tier string

const (
	TierFree    Tier = "free"
	TierMid     Tier = "mid"
	TierPremium Tier = "premium"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierMid, TierPremium:
		return true
	}
	return false
}

// Provider names a backend completion service.
type Provider string

const (
	ProviderGemini    Provider = "gemini"    // free tier
	ProviderOpenAI    Provider = "openai"    // general mid tier
	ProviderAnthropic Provider = "anthropic" // reasoning mid tier
	ProviderQwen      Provider = "qwen"      // specialized (Chinese) premium tier
	ProviderOllama    Provider = "ollama"    // self-hosted free tier, terminal fallback
)

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content"`
}

// OptimizationRequest is a single inbound request to the optimizer.
// It is treated as immutable once created.
type OptimizationRequest struct {
	OrganizationID string    `json:"organization_id" binding:"required"`
	Prompt         string    `json:"prompt" binding:"required"`
	History        []Message `json:"history,omitempty"`
	SystemMessage  string    `json:"system_message,omitempty"`
	MaxTokens      int       `json:"max_tokens,omitempty"`
	Temperature    *float64  `json:"temperature,omitempty"`
	ForceProvider  Provider  `json:"force_provider,omitempty"`
	ForceTier      Tier      `json:"force_tier,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
}

// ComplexityScore is the analyzer's verdict for one request.
type ComplexityScore struct {
	Score               int      `json:"score"`
	TokenCount          int      `json:"token_count"`
	HasComplexKeywords  bool     `json:"has_complex_keywords"`
	HasSimpleKeywords   bool     `json:"has_simple_keywords"`
	HasTargetLanguage   bool     `json:"has_target_language"`
	DetectedKeywords    []string `json:"detected_keywords"`
	RecommendedTier     Tier     `json:"recommended_tier"`
	RecommendedProvider Provider `json:"recommended_provider"`
	Confidence          float64  `json:"confidence"`
	Reasoning           string   `json:"reasoning"`
	EstimatedLatencyMs  int64    `json:"estimated_latency_ms"`
}

// ModelOption is one candidate model a provider can serve.
type ModelOption struct {
	ID          string `json:"id" yaml:"id"`
	Recommended bool   `json:"recommended" yaml:"recommended"`
}

// ProviderConfig is the static configuration of one provider.
// Costs are USD per one million tokens.
type ProviderConfig struct {
	Name               Provider      `json:"name" yaml:"name"`
	Tier               Tier          `json:"tier" yaml:"tier"`
	DisplayName        string        `json:"display_name" yaml:"display_name"`
	CostPerInputToken  float64       `json:"cost_per_input_token" yaml:"cost_per_input_token"`
	CostPerOutputToken float64       `json:"cost_per_output_token" yaml:"cost_per_output_token"`
	MaxContextTokens   int           `json:"max_context_tokens" yaml:"max_context_tokens"`
	AvgLatencyMs       int64         `json:"avg_latency_ms" yaml:"avg_latency_ms"`
	Enabled            bool          `json:"enabled" yaml:"enabled"`
	Models             []ModelOption `json:"models" yaml:"models"`
	BaseURL            string        `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	RequestsPerMinute  int           `json:"requests_per_minute,omitempty" yaml:"requests_per_minute,omitempty"`
	APIKey             string        `json:"-" yaml:"-"`
}

// RecommendedModel returns the model flagged as recommended, or the first
// model when none is flagged.
func (p ProviderConfig) RecommendedModel() string {
	for _, m := range p.Models {
		if m.Recommended {
			return m.ID
		}
	}
	if len(p.Models) > 0 {
		return p.Models[0].ID
	}
	return ""
}

// TokenUsage holds token counts for one call.
type TokenUsage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

// CostBreakdown holds the USD cost of one call. Total is always Input+Output.
type CostBreakdown struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
	Total  float64 `json:"total"`
}

// Savings is the cost delta against the baseline model, never negative.
type Savings struct {
	AmountUSD     float64 `json:"amount_usd"`
	Percentage    float64 `json:"percentage"`
	BaselineModel string  `json:"baseline_model"`
}

// OptimizationResponse is the result of a served request.
type OptimizationResponse struct {
	Content      string          `json:"content"`
	Model        string          `json:"model"`
	Provider     Provider        `json:"provider"`
	Tier         Tier            `json:"tier"`
	Usage        TokenUsage      `json:"usage"`
	Cost         CostBreakdown   `json:"cost"`
	LatencyMs    int64           `json:"latency_ms"`
	Savings      Savings         `json:"savings"`
	Complexity   ComplexityScore `json:"complexity"`
	Timestamp    time.Time       `json:"timestamp"`
	RequestID    string          `json:"request_id"`
	Cached       bool            `json:"cached"`
	FinishReason string          `json:"finish_reason"`
	Fallback     bool            `json:"fallback"`
}

// CostTrackingRecord is one persisted row per executed request.
// Records are append-only.
type CostTrackingRecord struct {
	ID               string         `json:"id" db:"id"`
	OrganizationID   string         `json:"organization_id" db:"organization_id"`
	UserID           *string        `json:"user_id,omitempty" db:"user_id"`
	RequestID        string         `json:"request_id" db:"request_id"`
	PromptExcerpt    string         `json:"prompt_excerpt" db:"prompt_excerpt"`
	PromptTokens     int64          `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int64          `json:"completion_tokens" db:"completion_tokens"`
	ModelUsed        string         `json:"model_used" db:"model_used"`
	Provider         Provider       `json:"provider" db:"provider"`
	Tier             Tier           `json:"tier" db:"tier"`
	ComplexityScore  int            `json:"complexity_score" db:"complexity_score"`
	CostUSD          float64        `json:"cost_usd" db:"cost_usd"`
	LatencyMs        int64          `json:"latency_ms" db:"latency_ms"`
	Cached           bool           `json:"cached" db:"cached"`
	SavingsUSD       float64        `json:"savings_usd" db:"savings_usd"`
	Metadata         map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
}

// Period is an aggregation window for CostStats.
type Period string

const (
	PeriodHourly  Period = "hourly"
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Valid reports whether p is one of the known periods.
func (p Period) Valid() bool {
	switch p {
	case PeriodHourly, PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// ProviderBreakdown aggregates records for one provider.
type ProviderBreakdown struct {
	Requests         int64   `json:"requests"`
	Cost             float64 `json:"cost"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
}

// TierBreakdown aggregates records for one tier.
type TierBreakdown struct {
	Requests   int64   `json:"requests"`
	Cost       float64 `json:"cost"`
	Percentage float64 `json:"percentage"`
}

// BudgetLimits are the configured spend limits of an organization.
type BudgetLimits struct {
	DailyLimitUSD   float64 `json:"daily_limit_usd" yaml:"daily_limit_usd"`
	MonthlyLimitUSD float64 `json:"monthly_limit_usd" yaml:"monthly_limit_usd"`
}

// Budget is a snapshot of an organization's spend against its limits.
type Budget struct {
	DailyLimit        float64 `json:"daily_limit"`
	MonthlyLimit      float64 `json:"monthly_limit"`
	DailySpend        float64 `json:"daily_spend"`
	MonthlySpend      float64 `json:"monthly_spend"`
	DailyPercentage   float64 `json:"daily_percentage"`
	MonthlyPercentage float64 `json:"monthly_percentage"`
	DailyExceeded     bool    `json:"daily_exceeded"`
	MonthlyExceeded   bool    `json:"monthly_exceeded"`
}

// CostStats aggregates an organization's records over a period.
type CostStats struct {
	OrganizationID    string                         `json:"organization_id"`
	Period            Period                         `json:"period"`
	From              time.Time                      `json:"from"`
	To                time.Time                      `json:"to"`
	RequestCount      int64                          `json:"request_count"`
	TotalCost         float64                        `json:"total_cost"`
	AverageCost       float64                        `json:"average_cost"`
	AverageLatencyMs  float64                        `json:"average_latency_ms"`
	ByProvider        map[Provider]ProviderBreakdown `json:"by_provider"`
	ByTier            map[Tier]TierBreakdown         `json:"by_tier"`
	TotalSavings      float64                        `json:"total_savings"`
	SavingsPercentage float64                        `json:"savings_percentage"`
	Budget            Budget                         `json:"budget"`
}
