package llm

import "github.com/craftwork-ai/loom/pkg/config"

// EstimateCost computes the USD cost of one call from per-MTok pricing.
func EstimateCost(p config.ModelPricing, u Usage) float64 {
	const mtok = 1_000_000.0
	return float64(u.InputTokens)/mtok*p.InputPerMTok +
		float64(u.OutputTokens)/mtok*p.OutputPerMTok +
		float64(u.CacheReadTokens)/mtok*p.CacheReadPerMTok +
		float64(u.CacheWriteTokens)/mtok*p.CacheWritePerMTok
}
