package analyzer

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

// fixedCounter reports the same count for every non-empty text.
type fixedCounter int

func (f fixedCounter) Count(text string) (int, error) { return int(f), nil }

// lenCounter reports the byte length of the text.
type lenCounter struct{}

func (lenCounter) Count(text string) (int, error) { return len(text), nil }

type failingCounter struct{}

func (failingCounter) Count(string) (int, error) { return 0, errors.New("tokenizer unavailable") }

func newTestAnalyzer(counter TokenCounter) *Analyzer {
	return New(counter, DefaultRoles(), map[models.Provider]int64{
		models.ProviderGemini:    300,
		models.ProviderOpenAI:    800,
		models.ProviderAnthropic: 900,
		models.ProviderQwen:      1500,
	})
}

func TestAnalyze_ScenarioSimpleFactualQuery(t *testing.T) {
	a := newTestAnalyzer(nil)
	got := a.Analyze("What is the capital of France?", nil)

	assert.Equal(t, models.TierFree, got.RecommendedTier)
	assert.Equal(t, models.ProviderGemini, got.RecommendedProvider)
	assert.Equal(t, 0, got.Score)
	assert.True(t, got.HasSimpleKeywords)
	assert.False(t, got.HasComplexKeywords)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	assert.Equal(t, int64(300+got.TokenCount), got.EstimatedLatencyMs)
}

func TestAnalyze_ScenarioComplexDesignPrompt(t *testing.T) {
	a := newTestAnalyzer(nil)
	prompt := "Design an algorithm to optimize the architecture of this distributed system"
	got := a.Analyze(prompt, nil)

	require.GreaterOrEqual(t, len(got.DetectedKeywords), 4)
	assert.GreaterOrEqual(t, got.Score, 40)
	assert.Less(t, got.Score, 60)
	assert.Equal(t, models.TierMid, got.RecommendedTier)
	assert.Equal(t, models.ProviderAnthropic, got.RecommendedProvider)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
	assert.Contains(t, got.DetectedKeywords, "distributed system")
}

func TestAnalyze_ScenarioChineseText(t *testing.T) {
	a := newTestAnalyzer(nil)
	got := a.Analyze("请翻译这段文字", nil)

	assert.True(t, got.HasTargetLanguage)
	assert.Equal(t, models.TierPremium, got.RecommendedTier)
	assert.Equal(t, models.ProviderQwen, got.RecommendedProvider)
	assert.InDelta(t, 0.95, got.Confidence, 1e-9)
	assert.Equal(t, 7, got.TokenCount)
}

func TestAnalyze_CJKAlwaysPremium(t *testing.T) {
	a := newTestAnalyzer(fixedCounter(2000))
	prompts := []string{
		"What is 你好?",
		"Design an algorithm for 分布式 systems and analyze its complexity step by step",
		"一",
		"鿿",
	}
	for _, p := range prompts {
		got := a.Analyze(p, nil)
		assert.Equal(t, models.TierPremium, got.RecommendedTier, p)
		assert.Equal(t, models.ProviderQwen, got.RecommendedProvider, p)
		assert.InDelta(t, 0.95, got.Confidence, 1e-9, p)
	}
}

func TestAnalyze_CompatibilityIdeographsAreNotTargetLanguage(t *testing.T) {
	a := newTestAnalyzer(nil)
	// U+F900 normalizes to U+8C48 under NFKC but is outside the unified block.
	got := a.Analyze("\uF900", nil)
	assert.False(t, got.HasTargetLanguage)
	assert.NotEqual(t, models.TierPremium, got.RecommendedTier)
}

func TestAnalyze_TargetLanguageKeywordAndHistory(t *testing.T) {
	a := newTestAnalyzer(nil)

	got := a.Analyze("Please answer in MANDARIN", nil)
	assert.Equal(t, models.TierPremium, got.RecommendedTier)

	got = a.Analyze("Translate the last answer", &Context{
		History: []models.Message{{Role: "user", Content: "早上好"}},
	})
	assert.Equal(t, models.ProviderQwen, got.RecommendedProvider)
}

func TestAnalyze_ShortPromptsWithoutComplexKeywordsAreFree(t *testing.T) {
	a := newTestAnalyzer(nil)
	prompts := []string{
		"hello there",
		"Tell me a joke about cats",
		"Who is the president of Brazil?",
		"Summarize this sentence in five words please",
		"Give me three names for a dog",
	}
	for _, p := range prompts {
		got := a.Analyze(p, nil)
		require.Less(t, got.TokenCount, 50, p)
		assert.Equal(t, models.TierFree, got.RecommendedTier, p)
	}
}

func TestAnalyze_FreeConfidenceWithoutSimpleKeywords(t *testing.T) {
	a := newTestAnalyzer(nil)
	got := a.Analyze("Tell me a joke about cats", nil)
	assert.Equal(t, models.TierFree, got.RecommendedTier)
	assert.InDelta(t, 0.7, got.Confidence, 1e-9)
}

func TestAnalyze_MidGeneralForLongPlainPrompt(t *testing.T) {
	a := newTestAnalyzer(fixedCounter(150))
	got := a.Analyze("Tell me a long story about a lighthouse keeper", nil)

	assert.Equal(t, 25, got.Score)
	assert.Equal(t, models.TierMid, got.RecommendedTier)
	assert.Equal(t, models.ProviderOpenAI, got.RecommendedProvider)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
}

func TestAnalyze_HighComplexityStaysMidBelowTokenFloor(t *testing.T) {
	a := newTestAnalyzer(fixedCounter(300))
	got := a.Analyze("design an algorithm, optimize it and evaluate the architecture", nil)

	assert.Equal(t, 71, got.Score)
	assert.Equal(t, models.TierMid, got.RecommendedTier)
	assert.Equal(t, models.ProviderAnthropic, got.RecommendedProvider)
	assert.InDelta(t, 0.85, got.Confidence, 1e-9)
}

func TestAnalyze_VeryHighComplexityUpgradesToPremium(t *testing.T) {
	a := newTestAnalyzer(fixedCounter(1200))
	got := a.Analyze("design an algorithm, optimize it and evaluate the architecture", nil)

	assert.Equal(t, 80, got.Score)
	assert.Equal(t, models.TierPremium, got.RecommendedTier)
	assert.Equal(t, models.ProviderQwen, got.RecommendedProvider)
	assert.InDelta(t, 0.75, got.Confidence, 1e-9)
}

func TestAnalyze_TokenCountSumsEachPart(t *testing.T) {
	a := newTestAnalyzer(lenCounter{})
	got := a.Analyze("abc", &Context{
		History:       []models.Message{{Role: "user", Content: "x"}, {Role: "assistant", Content: "yz"}},
		SystemMessage: "de",
	})
	// "abc" + "x\nyz" + "de"
	assert.Equal(t, 9, got.TokenCount)
}

func TestAnalyze_CounterErrorFallsBackToWordEstimate(t *testing.T) {
	a := newTestAnalyzer(failingCounter{})
	got := a.Analyze("one two three", nil)
	assert.Equal(t, 4, got.TokenCount)
}

func TestAnalyze_Deterministic(t *testing.T) {
	a := newTestAnalyzer(nil)
	ctx := &Context{
		History:       []models.Message{{Role: "user", Content: "we discussed the database schema"}},
		SystemMessage: "You are a senior engineer.",
	}
	prompt := "Compare the tradeoffs and refactor the query layer"
	first := a.Analyze(prompt, ctx)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, a.Analyze(prompt, ctx))
	}
}

func TestAnalyze_FullWidthKeywordsAreNormalized(t *testing.T) {
	a := newTestAnalyzer(nil)
	got := a.Analyze("Ｄｅｓｉｇｎ a cache", nil)
	assert.Contains(t, got.DetectedKeywords, "design")
}

func TestTokenScoreCurve(t *testing.T) {
	tests := []struct {
		tokens int
		want   float64
	}{
		{0, 0},
		{25, 5},
		{50, 10},
		{75, 15},
		{100, 20},
		{150, 25},
		{200, 30},
		{600, 35},
		{1000, 40},
		{50000, 40},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, tokenScore(tt.tokens), 1e-9, "tokens=%d", tt.tokens)
	}
}

func TestScoreOf(t *testing.T) {
	assert.Equal(t, 0, scoreOf(10, 0, true), "simple penalty floors at zero")
	assert.Equal(t, 10, scoreOf(200, 0, true), "simple penalty applied")
	assert.Equal(t, 30, scoreOf(200, 0, false))
	assert.Equal(t, 70, scoreOf(200, 7, true), "complex keywords cancel the simple penalty and cap at 40")
	assert.Equal(t, 80, scoreOf(5000, 9, false))
}

func TestEstimateCounter(t *testing.T) {
	c := EstimateCounter{}

	n, err := c.Count("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = c.Count("你好世界")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = c.Count(strings.Repeat("word ", 100))
	require.NoError(t, err)
	assert.Greater(t, n, 100)

	_, err = c.Count(string([]byte{0xff, 0xfe}))
	assert.ErrorIs(t, err, ErrInvalidText)
}

func TestEstimated(t *testing.T) {
	a := newTestAnalyzer(nil)
	got := a.Estimated(models.OptimizationRequest{Prompt: "one two three four five"}, models.TierMid, models.ProviderOpenAI)

	assert.Equal(t, models.TierMid, got.RecommendedTier)
	assert.Equal(t, models.ProviderOpenAI, got.RecommendedProvider)
	assert.Equal(t, 7, got.TokenCount)
	assert.Equal(t, int64(800+7+250), got.EstimatedLatencyMs)
}
