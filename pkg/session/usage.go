package session

import (
	"github.com/shopspring/decimal"

	"github.com/snowcode-dev/snowcode/internal/pricing"
)

// ProviderUsage is raw token accounting as reported by a provider, before
// cache normalization.
type ProviderUsage struct {
	InputTokens      int64
	OutputTokens     int64
	ReasoningTokens  int64
	CacheReadTokens  int64
	CacheWriteTokens int64
}

// Usage is the normalized result: token counts plus a decimal cost. Costs
// accumulate across thousands of messages, so arithmetic stays in decimals
// until a caller explicitly asks for a float.
type Usage struct {
	Cost   decimal.Decimal
	Tokens TokenUsage
}

var million = decimal.NewFromInt(1_000_000)

// ComputeUsage normalizes raw provider usage and prices it.
//
// Cache normalization: some providers report input tokens inclusive of
// cached tokens (the cached count is a subset of input), others report them
// separately. For inclusive providers the cached count is subtracted from
// input so that, either way, Tokens.Input + Tokens.Cache.Read equals the
// true total input token count.
//
// Cost is Σ(tokens.kind × price.kind) / 1e6 over input, output, cache read
// and cache write. Models missing from the catalog price at zero.
func ComputeUsage(modelID, providerID string, raw ProviderUsage) Usage {
	tokens := TokenUsage{
		Input:     raw.InputTokens,
		Output:    raw.OutputTokens,
		Reasoning: raw.ReasoningTokens,
		Cache: CacheUsage{
			Read:  raw.CacheReadTokens,
			Write: raw.CacheWriteTokens,
		},
	}

	if pricing.CacheInclusive(providerID) {
		tokens.Input = max(0, raw.InputTokens-raw.CacheReadTokens)
	}

	usage := Usage{Tokens: tokens}

	price, ok := pricing.Lookup(modelID)
	if !ok {
		return usage
	}

	usage.Cost = decimal.Sum(
		tokenCost(tokens.Input, price.InputPer1M),
		tokenCost(tokens.Output, price.OutputPer1M),
		tokenCost(tokens.Cache.Read, price.CacheReadPer1M),
		tokenCost(tokens.Cache.Write, price.CacheWritePer1M),
	)
	return usage
}

func tokenCost(tokens int64, per1M float64) decimal.Decimal {
	return decimal.NewFromInt(tokens).Mul(decimal.NewFromFloat(per1M)).Div(million)
}
