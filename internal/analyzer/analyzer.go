// Package analyzer implements the request complexity classifier.
//
// The analyzer turns a prompt, its conversation history and system message
// into a 0-100 complexity score plus an initial tier and provider
// recommendation. Scoring is deterministic: the same input always yields the
// same score and recommendation.
package analyzer

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

// Score thresholds used by the routing decision.
const (
	freeScoreCeiling     = 30
	freeTokenCeiling     = 100
	midScoreCeiling      = 60
	premiumScoreFloor    = 80
	premiumTokenFloor    = 500
	maxTokenScore        = 40.0
	maxKeywordBoost      = 40
	keywordBoostEach     = 10
	simplePenalty        = 20
	defaultBaseLatency   = 1000
	latencyPerToken      = 1
	latencyAtFullScore   = 500
	defaultEstimateScore = 50
)

// complexKeywords are analytical, design, problem-solving, creative,
// reasoning and code-complexity terms.
var complexKeywords = []string{
	"analyze", "analyse", "analysis", "evaluate", "compare", "critique", "synthesize",
	"design", "architecture", "algorithm", "distributed system", "scalability",
	"optimize", "optimization", "refactor", "implement", "debug", "concurrency",
	"trade-off", "tradeoff", "strategy", "research", "creative", "brainstorm",
	"reasoning", "step by step", "prove", "proof", "derive", "mathematical", "explain why",
	"complexity", "data structure",
}

// simpleKeywords open factual queries.
var simpleKeywords = []string{
	"what is", "what's", "who is", "who was", "where is", "when is", "when was",
	"define", "definition of", "meaning of", "how many", "capital of",
}

// targetLanguageKeywords mark requests that need the specialized model.
// Any CJK ideograph also counts.
var targetLanguageKeywords = []string{
	"chinese", "mandarin", "cantonese", "pinyin", "hanzi", "zhongwen",
}

// Roles maps the analyzer's abstract provider roles to concrete providers.
type Roles struct {
	FreeTier    models.Provider
	GeneralMid  models.Provider
	Reasoning   models.Provider
	Specialized models.Provider
}

// DefaultRoles returns the built-in role assignment.
func DefaultRoles() Roles {
	return Roles{
		FreeTier:    models.ProviderGemini,
		GeneralMid:  models.ProviderOpenAI,
		Reasoning:   models.ProviderAnthropic,
		Specialized: models.ProviderQwen,
	}
}

// Context carries the optional parts of a request that feed the analysis.
type Context struct {
	History       []models.Message
	SystemMessage string
}

// Analyzer scores request complexity.
type Analyzer struct {
	counter     TokenCounter
	roles       Roles
	baseLatency map[models.Provider]int64
}

// New creates an Analyzer. A nil counter selects EstimateCounter. baseLatency
// holds each provider's average latency in milliseconds; providers missing
// from it use a 1s default.
func New(counter TokenCounter, roles Roles, baseLatency map[models.Provider]int64) *Analyzer {
	if counter == nil {
		counter = EstimateCounter{}
	}
	latency := make(map[models.Provider]int64, len(baseLatency))
	for p, ms := range baseLatency {
		latency[p] = ms
	}
	return &Analyzer{counter: counter, roles: roles, baseLatency: latency}
}

// Roles returns the analyzer's provider role assignment.
func (a *Analyzer) Roles() Roles {
	return a.roles
}

// Analyze scores the prompt and recommends a tier and provider. It never
// fails; tokenizer errors fall back to a word-count estimate.
func (a *Analyzer) Analyze(prompt string, ctx *Context) models.ComplexityScore {
	var history, system string
	if ctx != nil {
		history = joinHistory(ctx.History)
		system = ctx.SystemMessage
	}

	tokens := a.count(prompt) + a.count(history) + a.count(system)

	raw := strings.Join([]string{prompt, history, system}, "\n")
	text := normalize(raw)
	complexHits := matchKeywords(text, complexKeywords)
	simpleHits := matchKeywords(text, simpleKeywords)
	targetHits := matchKeywords(text, targetLanguageKeywords)
	// Ideographs are checked before normalization: NFKC maps compatibility
	// ideographs into the unified block.
	hasTarget := len(targetHits) > 0 || containsCJK(raw)

	score := scoreOf(tokens, len(complexHits), len(simpleHits) > 0)

	result := models.ComplexityScore{
		Score:              score,
		TokenCount:         tokens,
		HasComplexKeywords: len(complexHits) > 0,
		HasSimpleKeywords:  len(simpleHits) > 0,
		HasTargetLanguage:  hasTarget,
		DetectedKeywords:   complexHits,
	}
	if result.DetectedKeywords == nil {
		result.DetectedKeywords = []string{}
	}

	a.decide(&result)
	result.EstimatedLatencyMs = a.estimateLatency(result.RecommendedProvider, tokens, score)
	return result
}

// Estimated builds a stand-in score for paths that never ran the analysis,
// such as the fallback attempt or a disabled optimizer. Its token count is the
// word-count estimate of every input part.
func (a *Analyzer) Estimated(req models.OptimizationRequest, tier models.Tier, provider models.Provider) models.ComplexityScore {
	tokens := WordEstimate(req.Prompt) + WordEstimate(joinHistory(req.History)) + WordEstimate(req.SystemMessage)
	return models.ComplexityScore{
		Score:               defaultEstimateScore,
		TokenCount:          tokens,
		DetectedKeywords:    []string{},
		RecommendedTier:     tier,
		RecommendedProvider: provider,
		Confidence:          0.5,
		Reasoning:           "estimated complexity: analysis was not available for this attempt",
		EstimatedLatencyMs:  a.estimateLatency(provider, tokens, defaultEstimateScore),
	}
}

// decide applies the routing rules in priority order.
func (a *Analyzer) decide(s *models.ComplexityScore) {
	switch {
	case s.HasTargetLanguage:
		s.RecommendedTier = models.TierPremium
		s.RecommendedProvider = a.roles.Specialized
		s.Confidence = 0.95
		s.Reasoning = "target language detected; routing to the specialized model"

	case s.Score < freeScoreCeiling && s.TokenCount < freeTokenCeiling:
		s.RecommendedTier = models.TierFree
		s.RecommendedProvider = a.roles.FreeTier
		s.Confidence = 0.7
		if s.HasSimpleKeywords {
			s.Confidence = 0.9
		}
		s.Reasoning = fmt.Sprintf("low complexity (score %d, %d tokens); free tier is sufficient", s.Score, s.TokenCount)

	case s.Score < midScoreCeiling:
		s.RecommendedTier = models.TierMid
		s.RecommendedProvider = a.roles.GeneralMid
		s.Reasoning = fmt.Sprintf("moderate complexity (score %d); general mid-tier model", s.Score)
		if s.HasComplexKeywords {
			s.RecommendedProvider = a.roles.Reasoning
			s.Reasoning = fmt.Sprintf("moderate complexity (score %d) with reasoning keywords %v; reasoning model", s.Score, s.DetectedKeywords)
		}
		s.Confidence = 0.8

	default:
		s.RecommendedTier = models.TierMid
		s.RecommendedProvider = a.roles.Reasoning
		s.Confidence = 0.85
		s.Reasoning = fmt.Sprintf("high complexity (score %d); reasoning model", s.Score)
		// The premium upgrade is unconditional once both thresholds are met.
		if s.Score >= premiumScoreFloor && s.TokenCount > premiumTokenFloor {
			s.RecommendedTier = models.TierPremium
			s.RecommendedProvider = a.roles.Specialized
			s.Confidence = 0.75
			s.Reasoning = fmt.Sprintf("very high complexity (score %d, %d tokens); premium model", s.Score, s.TokenCount)
		}
	}
}

func (a *Analyzer) count(text string) int {
	if text == "" {
		return 0
	}
	n, err := a.counter.Count(text)
	if err != nil {
		return WordEstimate(text)
	}
	return n
}

func (a *Analyzer) estimateLatency(provider models.Provider, tokens, score int) int64 {
	base, ok := a.baseLatency[provider]
	if !ok {
		base = defaultBaseLatency
	}
	return base + int64(tokens*latencyPerToken) + int64(math.Round(float64(score)/100*latencyAtFullScore))
}

// scoreOf computes the clamped 0-100 complexity score.
func scoreOf(tokens, complexCount int, hasSimple bool) int {
	score := tokenScore(tokens) + structureScore()
	if complexCount > 0 {
		score += float64(min(maxKeywordBoost, keywordBoostEach*complexCount))
	} else if hasSimple {
		score = math.Max(0, score-simplePenalty)
	}
	return int(math.Round(math.Max(0, math.Min(100, score))))
}

// tokenScore is the piecewise-linear token contribution, 0 to 40.
func tokenScore(tokens int) float64 {
	t := float64(tokens)
	switch {
	case tokens < 50:
		return t / 50 * 10
	case tokens < 100:
		return 10 + (t-50)/50*10
	case tokens <= 200:
		return 20 + (t-100)/100*10
	default:
		return math.Min(maxTokenScore, 30+(t-200)/800*10)
	}
}

// structureScore is the hook for structural signals (code blocks, question
// count, sentence count). It contributes nothing today.
func structureScore() float64 {
	return 0
}

// normalize folds compatibility forms (full-width letters and the like) and
// lower-cases the text before keyword matching.
func normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// matchKeywords returns the vocabulary entries found in text, in vocabulary order.
func matchKeywords(text string, vocabulary []string) []string {
	var hits []string
	for _, kw := range vocabulary {
		if strings.Contains(text, kw) {
			hits = append(hits, kw)
		}
	}
	return hits
}

func joinHistory(history []models.Message) string {
	if len(history) == 0 {
		return ""
	}
	parts := make([]string, 0, len(history))
	for _, m := range history {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}
