package analyzer

import (
	"errors"
	"math"
	"strings"
	"unicode/utf8"
)

// ErrInvalidText is returned by EstimateCounter for input that is not valid UTF-8.
var ErrInvalidText = errors.New("analyzer: text is not valid UTF-8")

// TokenCounter counts tokens in a piece of text. Implementations only need to
// approximate a vendor tokenizer; the analyzer tolerates errors.
type TokenCounter interface {
	Count(text string) (int, error)
}

// EstimateCounter is the default TokenCounter. Each CJK ideograph counts as
// one token; the remaining text uses a blend of the word count and the
// ~4 bytes per token heuristic for English.
type EstimateCounter struct{}

// Count implements TokenCounter.
func (EstimateCounter) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	if !utf8.ValidString(text) {
		return 0, ErrInvalidText
	}

	ideographs := 0
	var rest strings.Builder
	for _, r := range text {
		if isCJKIdeograph(r) {
			ideographs++
			rest.WriteRune(' ')
			continue
		}
		rest.WriteRune(r)
	}

	latin := rest.String()
	words := len(strings.Fields(latin))
	chars := len(strings.TrimSpace(latin))

	estimate := (words + int(math.Ceil(float64(chars)/4))) / 2
	if estimate == 0 && words > 0 {
		estimate = 1
	}
	return ideographs + estimate, nil
}

// WordEstimate is the fallback used when a TokenCounter fails:
// ceil(wordCount * 1.3).
func WordEstimate(text string) int {
	return int(math.Ceil(float64(len(strings.Fields(text))) * 1.3))
}

// isCJKIdeograph reports whether r is in the CJK Unified Ideographs block
// (U+4E00 to U+9FFF).
func isCJKIdeograph(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}

// containsCJK reports whether any rune of s is a CJK ideograph.
func containsCJK(s string) bool {
	for _, r := range s {
		if isCJKIdeograph(r) {
			return true
		}
	}
	return false
}
