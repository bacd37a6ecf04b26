package metrics

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/chatter-ai/chatterflow/pkg/llm"
)

// TokenCounter estimates token counts for prompt accounting when a
// provider does not report usage. OpenAI-family models go through
// tiktoken; everything else falls back to per-model character ratios.
type TokenCounter struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken

	// tokens-per-character ratios for models tiktoken cannot encode
	ratios map[string]float64
}

func NewTokenCounter() *TokenCounter {
	return &TokenCounter{
		encodings: make(map[string]*tiktoken.Tiktoken),
		ratios: map[string]float64{
			"claude-3-opus":   0.25,
			"claude-3-sonnet": 0.25,
			"claude-3-haiku":  0.25,
			"llama2":          0.3,
			"llama3":          0.28,
			"mixtral":         0.27,
			"qwen":            0.3,
			"qwen2":           0.28,
			"qwen3":           0.28,
			"default":         0.25,
		},
	}
}

// CountTokens returns the token count for text under the given model.
func (tc *TokenCounter) CountTokens(text, model string) int {
	if text == "" {
		return 0
	}
	if enc := tc.encoding(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return tc.estimate(text, model)
}

// CountMessageTokens sums the token counts of a message list, adding
// the per-message role and separator overhead.
func (tc *TokenCounter) CountMessageTokens(messages []llm.Message, model string) int {
	total := 0
	for _, msg := range messages {
		total += 2 // role
		total += tc.CountTokens(msg.Content, model)
		total += 3 // separator
	}
	return total
}

func (tc *TokenCounter) encoding(model string) *tiktoken.Tiktoken {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if enc, ok := tc.encodings[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Cache the miss so unknown models skip the lookup next time.
		tc.encodings[model] = nil
		return nil
	}
	tc.encodings[model] = enc
	return enc
}

func (tc *TokenCounter) estimate(text, model string) int {
	modelLower := strings.ToLower(model)
	ratio, ok := tc.ratios[modelLower]
	if !ok {
		for key, val := range tc.ratios {
			if key != "default" && strings.Contains(modelLower, key) {
				ratio = val
				break
			}
		}
		if ratio == 0 {
			ratio = tc.ratios["default"]
		}
	}

	estimated := int(float64(utf8.RuneCountInString(text)) * ratio)
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}
