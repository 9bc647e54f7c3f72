package llm

import "math"

// Normalize L2-normalizes an embedding vector in place. A zero vector is
// left unchanged rather than dividing by zero.
func Normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i, x := range v {
		v[i] = float32(float64(x) / norm)
	}
}

// ModelPricing is the per-million-token cost of a chat model, used to
// compute CostUSD for persisted messages.
type ModelPricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// CostUSD estimates the dollar cost of a completion given its token
// usage and the pricing entry for the model that produced it. An unknown
// model (zero-value pricing) costs 0, which callers should treat as
// "unpriced" rather than "free".
func CostUSD(pricing ModelPricing, promptTokens, completionTokens int) float64 {
	in := float64(promptTokens) / 1_000_000 * pricing.InputPerMTok
	out := float64(completionTokens) / 1_000_000 * pricing.OutputPerMTok
	return in + out
}
