package llm

import (
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// Usage is the token accounting of one model response.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	CachedTokens     int64
}

// price is USD per million tokens.
type price struct {
	prompt     float64
	completion float64
	cached     float64
}

// prices are matched by model name prefix, longest first.
var prices = []struct {
	prefix string
	price  price
}{
	{"gpt-4o-mini", price{0.15, 0.60, 0.075}},
	{"gpt-4o", price{2.50, 10.00, 1.25}},
	{"gpt-4.1-mini", price{0.40, 1.60, 0.10}},
	{"gpt-4.1", price{2.00, 8.00, 0.50}},
	{"claude-3-5-haiku", price{0.80, 4.00, 0.08}},
	{"claude-3-5-sonnet", price{3.00, 15.00, 0.30}},
	{"claude-3-7-sonnet", price{3.00, 15.00, 0.30}},
	{"gemini-1.5-flash", price{0.075, 0.30, 0.01875}},
	{"gemini-1.5-pro", price{1.25, 5.00, 0.3125}},
	{"mistral-large", price{2.00, 6.00, 2.00}},
	{"mistral-small", price{0.20, 0.60, 0.20}},
}

// Cost returns the USD cost of u for model. Unknown models cost 0.
func Cost(model string, u Usage) float64 {
	name := strings.ToLower(model)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	for _, p := range prices {
		if strings.HasPrefix(name, p.prefix) {
			uncached := u.PromptTokens - u.CachedTokens
			if uncached < 0 {
				uncached = 0
			}
			return (float64(uncached)*p.price.prompt +
				float64(u.CachedTokens)*p.price.cached +
				float64(u.CompletionTokens)*p.price.completion) / 1_000_000
		}
	}
	return 0
}

// UsageFromResponse reads token counts from the generation info of the first choice.
// Providers report counts under different keys; missing keys count as zero.
func UsageFromResponse(resp *llms.ContentResponse) Usage {
	var u Usage
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return u
	}
	info := resp.Choices[0].GenerationInfo
	u.PromptTokens = firstInt(info, "PromptTokens", "InputTokens", "input_tokens", "prompt_tokens")
	u.CompletionTokens = firstInt(info, "CompletionTokens", "OutputTokens", "output_tokens", "completion_tokens")
	u.CachedTokens = firstInt(info, "PromptCachedTokens", "CacheReadInputTokens", "cached_tokens", "cached_content_tokens")
	return u
}

func firstInt(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		case float32:
			return int64(v)
		}
	}
	return 0
}
