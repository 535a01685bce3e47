package pipeline

import "math"

// ModelRate prices one chat model in USD per million tokens.
type ModelRate struct {
	PromptPerM     float64
	CompletionPerM float64
}

// Rates prices the external services one run consumes. LLM spend is priced
// per model; image generation is a flat per-prediction rate.
type Rates struct {
	Models       map[string]ModelRate
	Fallback     ModelRate
	ImageFlatUSD float64
}

// DefaultRates returns the built-in price table.
// 价格表需要跟着上游调价走，这里只是兜底默认值
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"gpt-4o-mini":  {PromptPerM: 0.15, CompletionPerM: 0.60},
			"gpt-4o":       {PromptPerM: 2.50, CompletionPerM: 10.00},
			"gpt-4.1":      {PromptPerM: 2.00, CompletionPerM: 8.00},
			"gpt-4.1-mini": {PromptPerM: 0.40, CompletionPerM: 1.60},
		},
		Fallback:     ModelRate{PromptPerM: 0.50, CompletionPerM: 1.50},
		ImageFlatUSD: 0.01,
	}
}

// LLMCost prices one batch of chat-completion tokens for the given model.
func (r Rates) LLMCost(model string, tokensIn, tokensOut int) float64 {
	rate, ok := r.Models[model]
	if !ok {
		rate = r.Fallback
	}
	cost := float64(tokensIn)/1_000_000*rate.PromptPerM + float64(tokensOut)/1_000_000*rate.CompletionPerM
	return round6(cost)
}

// ImageCost prices one finished prediction.
func (r Rates) ImageCost() float64 {
	return r.ImageFlatUSD
}

// round6 keeps cost arithmetic aligned with the DECIMAL(12,6) columns that
// store it.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
