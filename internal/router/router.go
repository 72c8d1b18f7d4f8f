// Package router implements the provider routing engine.
//
// The engine runs the complexity analyzer on every request, honours forced
// provider and tier overrides, checks provider availability (enabled and
// healthy) and falls back along a fixed per-tier chain so that routing always
// resolves to some provider. It also ranks the other available providers by
// estimated cost for dry-run callers.
package router

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/analyzer"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/providers"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

// defaultOutputEstimate is the output token count assumed for cost estimates
// when the request sets no max tokens.
const defaultOutputEstimate = 1000

// RouteResult is a routing decision.
type RouteResult struct {
	Provider         models.ProviderConfig  `json:"provider"`
	Model            string                 `json:"model"`
	Tier             models.Tier            `json:"tier"`
	Complexity       models.ComplexityScore `json:"complexity"`
	EstimatedCostUSD float64                `json:"estimated_cost_usd"`
	Reasoning        string                 `json:"reasoning"`
	Forced           bool                   `json:"forced"`
	Rerouted         bool                   `json:"rerouted"` // true if the chosen provider was unavailable
	Degraded         bool                   `json:"degraded"` // true if no chain entry was available
	Alternatives     []Alternative          `json:"alternatives"`
}

// Alternative is another available provider with its estimated cost.
type Alternative struct {
	Provider           models.Provider `json:"provider"`
	Model              string          `json:"model"`
	Tier               models.Tier     `json:"tier"`
	EstimatedCostUSD   float64         `json:"estimated_cost_usd"`
	EstimatedLatencyMs int64           `json:"estimated_latency_ms"`
	Tradeoffs          []string        `json:"tradeoffs"`
}

// QualityMetrics tracks observed call outcomes for one provider.
type QualityMetrics struct {
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	ErrorRate    float64 `json:"error_rate"`
	RequestCount int64   `json:"request_count"`
}

// ProviderStatus is a snapshot of one provider's configuration and state.
type ProviderStatus struct {
	models.ProviderConfig
	Healthy bool           `json:"healthy"`
	Metrics QualityMetrics `json:"metrics"`
}

type entry struct {
	cfg     models.ProviderConfig
	healthy atomic.Bool
	enabled atomic.Bool

	mu      sync.Mutex
	metrics QualityMetrics
}

// Engine turns requests into provider decisions. It is safe for concurrent use.
type Engine struct {
	analyzer *analyzer.Analyzer
	order    []models.Provider
	entries  map[models.Provider]*entry
	chains   map[models.Tier][]models.Provider
}

// NewEngine creates an Engine over the given provider table. Every provider
// starts healthy; enabled comes from its config.
func NewEngine(a *analyzer.Analyzer, configs []models.ProviderConfig) *Engine {
	e := &Engine{
		analyzer: a,
		entries:  make(map[models.Provider]*entry, len(configs)),
		chains:   DefaultFallbackChains(),
	}
	for _, cfg := range configs {
		if _, dup := e.entries[cfg.Name]; dup {
			continue
		}
		en := &entry{cfg: cfg}
		en.healthy.Store(true)
		en.enabled.Store(cfg.Enabled)
		e.entries[cfg.Name] = en
		e.order = append(e.order, cfg.Name)
	}
	return e
}

// DefaultFallbackChains returns the per-tier fallback order. The last entry
// of every chain is the self-hosted free provider.
func DefaultFallbackChains() map[models.Tier][]models.Provider {
	return map[models.Tier][]models.Provider{
		models.TierFree:    {models.ProviderGemini, models.ProviderOpenAI, models.ProviderOllama},
		models.TierMid:     {models.ProviderOpenAI, models.ProviderGemini, models.ProviderOllama},
		models.TierPremium: {models.ProviderQwen, models.ProviderOpenAI, models.ProviderOllama},
	}
}

// Analyzer returns the analyzer the engine routes with.
func (e *Engine) Analyzer() *analyzer.Analyzer {
	return e.analyzer
}

// Route picks the provider for req.
func (e *Engine) Route(req models.OptimizationRequest) (*RouteResult, error) {
	complexity := e.analyzer.Analyze(req.Prompt, &analyzer.Context{
		History:       req.History,
		SystemMessage: req.SystemMessage,
	})

	var (
		chosen  *entry
		reasons []string
		forced  bool
	)
	switch {
	case req.ForceProvider != "":
		en, ok := e.entries[req.ForceProvider]
		if !ok {
			return nil, &RoutingError{Provider: req.ForceProvider, Reason: "unknown provider"}
		}
		// Forced providers are used verbatim, regardless of health.
		return e.result(en, complexity, req, "forced provider "+string(en.cfg.Name), true, false, false), nil

	case req.ForceTier != "":
		if !req.ForceTier.Valid() {
			return nil, &RoutingError{Tier: req.ForceTier, Reason: "unknown tier"}
		}
		chosen = e.cheapestInTier(req.ForceTier)
		if chosen == nil {
			return nil, &RoutingError{Tier: req.ForceTier, Reason: "no enabled provider in tier"}
		}
		forced = true
		reasons = append(reasons, fmt.Sprintf("forced tier %s: cheapest enabled provider %s", req.ForceTier, chosen.cfg.Name))

	default:
		chosen = e.entries[complexity.RecommendedProvider]
		reasons = append(reasons, complexity.Reasoning)
	}

	tier := complexity.RecommendedTier
	if forced {
		tier = req.ForceTier
	}

	rerouted, degraded := false, false
	if chosen == nil || !chosen.available() {
		from := complexity.RecommendedProvider
		if chosen != nil {
			from = chosen.cfg.Name
		}
		sub, ok := e.firstAvailable(tier)
		switch {
		case ok:
			reasons = append(reasons, fmt.Sprintf("%s unavailable; fell back to %s", from, sub.cfg.Name))
		case sub != nil:
			degraded = true
			reasons = append(reasons, fmt.Sprintf("%s unavailable and no %s-tier fallback available; degraded to %s", from, tier, sub.cfg.Name))
		default:
			return nil, &RoutingError{Tier: tier, Reason: "fallback chain has no configured provider"}
		}
		chosen, rerouted = sub, true
	}

	res := e.result(chosen, complexity, req, strings.Join(reasons, "; "), forced, rerouted, degraded)
	if degraded {
		log.WithFields(log.Fields{
			"component": "router",
			"provider":  chosen.cfg.Name,
			"tier":      tier,
		}).Warn("no provider available in fallback chain; routing degraded")
	}
	return res, nil
}

// GetRecommendation returns the decision Route would make, for dry-run callers.
func (e *Engine) GetRecommendation(req models.OptimizationRequest) (*RouteResult, error) {
	return e.Route(req)
}

// Provider returns the config of the named provider.
func (e *Engine) Provider(name models.Provider) (models.ProviderConfig, bool) {
	en, ok := e.entries[name]
	if !ok {
		return models.ProviderConfig{}, false
	}
	cfg := en.cfg
	cfg.Enabled = en.enabled.Load()
	return cfg, true
}

// Providers returns a snapshot of every provider in configuration order.
func (e *Engine) Providers() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(e.order))
	for _, name := range e.order {
		en := e.entries[name]
		cfg := en.cfg
		cfg.Enabled = en.enabled.Load()
		en.mu.Lock()
		m := en.metrics
		en.mu.Unlock()
		out = append(out, ProviderStatus{ProviderConfig: cfg, Healthy: en.healthy.Load(), Metrics: m})
	}
	return out
}

// UpdateProviderHealth records a health-check outcome. Unknown providers are ignored.
func (e *Engine) UpdateProviderHealth(name models.Provider, healthy bool) bool {
	en, ok := e.entries[name]
	if !ok {
		return false
	}
	if en.healthy.Swap(healthy) != healthy {
		log.WithFields(log.Fields{
			"component": "router",
			"provider":  name,
			"healthy":   healthy,
		}).Info("provider health changed")
	}
	return true
}

// SetProviderEnabled toggles a provider at runtime. It reports whether the
// provider exists.
func (e *Engine) SetProviderEnabled(name models.Provider, enabled bool) bool {
	en, ok := e.entries[name]
	if !ok {
		return false
	}
	en.enabled.Store(enabled)
	return true
}

// RecordOutcome folds one call's latency and success into the provider's
// running metrics.
func (e *Engine) RecordOutcome(name models.Provider, latencyMs int64, success bool) {
	en, ok := e.entries[name]
	if !ok {
		return
	}
	en.mu.Lock()
	defer en.mu.Unlock()

	m := &en.metrics
	m.RequestCount++

	// Exponential moving average for latency
	const alpha = 0.1
	if m.RequestCount == 1 {
		m.AvgLatencyMs = float64(latencyMs)
	} else {
		m.AvgLatencyMs = alpha*float64(latencyMs) + (1-alpha)*m.AvgLatencyMs
	}

	if success {
		m.SuccessRate = (m.SuccessRate*float64(m.RequestCount-1) + 1.0) / float64(m.RequestCount)
	} else {
		m.SuccessRate = (m.SuccessRate * float64(m.RequestCount-1)) / float64(m.RequestCount)
	}
	m.ErrorRate = 1.0 - m.SuccessRate
}

func (en *entry) available() bool {
	return en.enabled.Load() && en.healthy.Load()
}

// cheapestInTier returns the enabled provider of tier with the lowest input
// cost; ties keep configuration order.
func (e *Engine) cheapestInTier(tier models.Tier) *entry {
	var best *entry
	for _, name := range e.order {
		en := e.entries[name]
		if en.cfg.Tier != tier || !en.enabled.Load() {
			continue
		}
		if best == nil || en.cfg.CostPerInputToken < best.cfg.CostPerInputToken {
			best = en
		}
	}
	return best
}

// firstAvailable walks the tier's fallback chain. When nothing is available
// it returns the last configured chain entry with ok=false.
func (e *Engine) firstAvailable(tier models.Tier) (en *entry, ok bool) {
	chain := e.chains[tier]
	if len(chain) == 0 {
		chain = e.chains[models.TierMid]
	}
	var last *entry
	for _, name := range chain {
		cand, exists := e.entries[name]
		if !exists {
			continue
		}
		if cand.available() {
			return cand, true
		}
		last = cand
	}
	return last, false
}

func (e *Engine) result(chosen *entry, complexity models.ComplexityScore, req models.OptimizationRequest, reasoning string, forced, rerouted, degraded bool) *RouteResult {
	cfg := chosen.cfg
	cfg.Enabled = chosen.enabled.Load()

	outTokens := int64(defaultOutputEstimate)
	if req.MaxTokens > 0 {
		outTokens = int64(req.MaxTokens)
	}
	inTokens := int64(complexity.TokenCount)

	res := &RouteResult{
		Provider:         cfg,
		Model:            cfg.RecommendedModel(),
		Tier:             cfg.Tier,
		Complexity:       complexity,
		EstimatedCostUSD: estimateCost(cfg, inTokens, outTokens),
		Reasoning:        reasoning,
		Forced:           forced,
		Rerouted:         rerouted,
		Degraded:         degraded,
	}
	res.Alternatives = e.alternatives(cfg, inTokens, outTokens, complexity.Score)
	return res
}

// alternatives ranks every other available provider by estimated cost.
func (e *Engine) alternatives(selected models.ProviderConfig, inTokens, outTokens int64, score int) []Alternative {
	alts := make([]Alternative, 0, len(e.order))
	for _, name := range e.order {
		en := e.entries[name]
		if name == selected.Name || !en.available() {
			continue
		}
		cfg := en.cfg
		alts = append(alts, Alternative{
			Provider:           cfg.Name,
			Model:              cfg.RecommendedModel(),
			Tier:               cfg.Tier,
			EstimatedCostUSD:   estimateCost(cfg, inTokens, outTokens),
			EstimatedLatencyMs: cfg.AvgLatencyMs + inTokens + int64(score*5),
			Tradeoffs:          tradeoffs(selected, cfg, inTokens+outTokens),
		})
	}
	sort.SliceStable(alts, func(i, j int) bool {
		return alts[i].EstimatedCostUSD < alts[j].EstimatedCostUSD
	})
	return alts
}

func estimateCost(cfg models.ProviderConfig, inTokens, outTokens int64) float64 {
	return providers.ComputeCost(cfg, models.TokenUsage{Input: inTokens, Output: outTokens, Total: inTokens + outTokens}).Total
}

// tradeoffs describes how alt compares with the selected provider.
func tradeoffs(selected, alt models.ProviderConfig, tokens int64) []string {
	var notes []string
	switch d := alt.AvgLatencyMs - selected.AvgLatencyMs; {
	case d < 0:
		notes = append(notes, fmt.Sprintf("faster by ~%dms", -d))
	case d > 0:
		notes = append(notes, fmt.Sprintf("slower by ~%dms", d))
	}
	if alt.MaxContextTokens > 0 && int64(alt.MaxContextTokens) < tokens {
		notes = append(notes, fmt.Sprintf("context window of %d tokens may be too small", alt.MaxContextTokens))
	} else if alt.MaxContextTokens > 0 && alt.MaxContextTokens < selected.MaxContextTokens {
		notes = append(notes, fmt.Sprintf("smaller context window (%d tokens)", alt.MaxContextTokens))
	}
	if alt.Tier == models.TierFree {
		if alt.RequestsPerMinute > 0 {
			notes = append(notes, fmt.Sprintf("free tier rate limited to %d requests/min", alt.RequestsPerMinute))
		} else {
			notes = append(notes, "free tier; throughput depends on local capacity")
		}
	}
	if alt.Tier == models.TierPremium && selected.Tier != models.TierPremium {
		notes = append(notes, "premium tier; higher quality at higher cost")
	}
	return notes
}
