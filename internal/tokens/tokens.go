// Package tokens estimates token counts for retrieval budgeting and chunk sizing.
//
// The default estimator is a conservative heuristic that needs no tokenizer:
// it takes the larger of a character based and a word based estimate. An exact
// tiktoken based estimator can be swapped in behind the same interface.
package tokens

import (
	"math"
	"strings"
	"unicode/utf8"
)

const (
	// charsPerToken is the average number of characters per token.
	charsPerToken = 4.0

	// tokensPerWord is the average number of tokens per whitespace-separated word.
	tokensPerWord = 1.3

	// DefaultCompletionReserve is the number of tokens kept free for the model's answer.
	DefaultCompletionReserve = 2048

	// DefaultSafetyBuffer absorbs drift between the estimate and the real tokenizer.
	DefaultSafetyBuffer = 512

	// DefaultContextLimit applies to models that are not listed in contextLimits.
	DefaultContextLimit = 128000
)

// Estimator turns text into an estimated token count.
type Estimator interface {
	Estimate(text string) int
}

// EstimatorFunc adapts a plain function to the Estimator interface.
type EstimatorFunc func(text string) int

// Estimate calls f(text).
func (f EstimatorFunc) Estimate(text string) int {
	return f(text)
}

// Heuristic is the default Estimator backed by Estimate.
var Heuristic Estimator = EstimatorFunc(Estimate)

// Estimate returns max(ceil(chars/4), ceil(words*1.3)) for the trimmed text.
// Empty or whitespace-only text costs zero tokens.
func Estimate(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}

	byChars := int(math.Ceil(float64(utf8.RuneCountInString(trimmed)) / charsPerToken))
	byWords := int(math.Ceil(float64(len(strings.Fields(trimmed))) * tokensPerWord))

	return max(byChars, byWords)
}

var contextLimits = map[string]int{
	"gpt-4o":       128000,
	"gpt-4o-mini":  128000,
	"gpt-4.1":      1047576,
	"gpt-4.1-mini": 1047576,
	"gpt-4.1-nano": 1047576,
}

// ContextLimit returns the context window size of model.
func ContextLimit(model string) int {
	if limit, ok := contextLimits[model]; ok {
		return limit
	}
	return DefaultContextLimit
}

// Available returns how many tokens are left for retrieved context once the
// prompt, the completion reserve and the safety buffer are accounted for.
// The result is never negative.
func Available(model string, promptTokens, reserve, buffer int) int {
	return max(0, ContextLimit(model)-promptTokens-reserve-buffer)
}
