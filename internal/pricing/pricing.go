// Package pricing holds the model price catalog and provider cache-token
// accounting rules used for usage computation.
package pricing

import (
	"sort"
	"strings"
	"sync"
)

// ModelPricing contains pricing for a specific model, in USD per 1M tokens.
type ModelPricing struct {
	Model           string
	InputPer1M      float64
	OutputPer1M     float64
	CacheReadPer1M  float64
	CacheWritePer1M float64
}

var (
	mu      sync.RWMutex
	catalog = map[string]*ModelPricing{}
)

// Prices as of mid 2025 - update periodically.
func init() {
	models := []*ModelPricing{
		// OpenAI
		{Model: "gpt-4", InputPer1M: 30.0, OutputPer1M: 60.0},
		{Model: "gpt-4-turbo", InputPer1M: 10.0, OutputPer1M: 30.0},
		{Model: "gpt-4o", InputPer1M: 2.5, OutputPer1M: 10.0, CacheReadPer1M: 1.25},
		{Model: "gpt-4o-mini", InputPer1M: 0.15, OutputPer1M: 0.60, CacheReadPer1M: 0.075},
		{Model: "gpt-4.1", InputPer1M: 2.0, OutputPer1M: 8.0, CacheReadPer1M: 0.5},
		{Model: "gpt-4.1-mini", InputPer1M: 0.4, OutputPer1M: 1.6, CacheReadPer1M: 0.1},
		{Model: "o1", InputPer1M: 15.0, OutputPer1M: 60.0, CacheReadPer1M: 7.5},
		{Model: "o3-mini", InputPer1M: 1.1, OutputPer1M: 4.4, CacheReadPer1M: 0.55},

		// Anthropic
		{Model: "claude-3-opus", InputPer1M: 15.0, OutputPer1M: 75.0, CacheReadPer1M: 1.5, CacheWritePer1M: 18.75},
		{Model: "claude-3-5-sonnet", InputPer1M: 3.0, OutputPer1M: 15.0, CacheReadPer1M: 0.3, CacheWritePer1M: 3.75},
		{Model: "claude-3-7-sonnet", InputPer1M: 3.0, OutputPer1M: 15.0, CacheReadPer1M: 0.3, CacheWritePer1M: 3.75},
		{Model: "claude-3-5-haiku", InputPer1M: 0.8, OutputPer1M: 4.0, CacheReadPer1M: 0.08, CacheWritePer1M: 1.0},
		{Model: "claude-sonnet-4", InputPer1M: 3.0, OutputPer1M: 15.0, CacheReadPer1M: 0.3, CacheWritePer1M: 3.75},
		{Model: "claude-opus-4", InputPer1M: 15.0, OutputPer1M: 75.0, CacheReadPer1M: 1.5, CacheWritePer1M: 18.75},

		// Google
		{Model: "gemini-1.5-pro", InputPer1M: 1.25, OutputPer1M: 5.0, CacheReadPer1M: 0.3125},
		{Model: "gemini-1.5-flash", InputPer1M: 0.075, OutputPer1M: 0.3, CacheReadPer1M: 0.01875},
		{Model: "gemini-2.0-flash", InputPer1M: 0.1, OutputPer1M: 0.4, CacheReadPer1M: 0.025},
		{Model: "gemini-2.5-pro", InputPer1M: 1.25, OutputPer1M: 10.0, CacheReadPer1M: 0.31},

		// DeepSeek
		{Model: "deepseek-chat", InputPer1M: 0.27, OutputPer1M: 1.1, CacheReadPer1M: 0.07},
		{Model: "deepseek-reasoner", InputPer1M: 0.55, OutputPer1M: 2.19, CacheReadPer1M: 0.14},

		// Local models - no cost
		{Model: "ollama/", InputPer1M: 0, OutputPer1M: 0},
	}
	for _, m := range models {
		catalog[m.Model] = m
	}
}

// Add registers or replaces pricing for a model.
func Add(p *ModelPricing) {
	if p == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	catalog[p.Model] = p
}

// Lookup retrieves pricing for a model, trying an exact match first and then
// the longest matching prefix (so dated releases like
// "claude-3-5-sonnet-20241022" resolve to their family entry).
func Lookup(model string) (*ModelPricing, bool) {
	mu.RLock()
	defer mu.RUnlock()

	if p, ok := catalog[model]; ok {
		cp := *p
		return &cp, true
	}

	keys := make([]string, 0, len(catalog))
	for k := range catalog {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	for _, key := range keys {
		if strings.HasPrefix(model, key) {
			cp := *catalog[key]
			return &cp, true
		}
	}
	return nil, false
}

// cacheInclusiveProviders report input token counts that already contain
// cached tokens; everyone else reports cached tokens separately.
var cacheInclusiveProviders = map[string]bool{
	"openai":     true,
	"azure":      true,
	"deepseek":   true,
	"xai":        true,
	"openrouter": true,
}

// CacheInclusive reports whether providerID counts cached tokens inside its
// reported input token total.
func CacheInclusive(providerID string) bool {
	return cacheInclusiveProviders[strings.ToLower(providerID)]
}
