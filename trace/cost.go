package trace

import "sync"

// ModelPrice is the per-1K-token price of one provider/model pair.
type ModelPrice struct {
	Provider    string
	Model       string
	PriceInput  float64 // USD per 1K tokens
	PriceOutput float64 // USD per 1K tokens
}

// CostCalculator prices token usage. Defaults can be overridden from
// configuration at service start; lookups are safe for concurrent use.
type CostCalculator struct {
	mu     sync.RWMutex
	prices map[string]ModelPrice // key: provider:model
}

// NewCostCalculator creates a calculator preloaded with default prices.
func NewCostCalculator() *CostCalculator {
	c := &CostCalculator{prices: make(map[string]ModelPrice)}
	c.loadDefaultPrices()
	return c
}

func (c *CostCalculator) loadDefaultPrices() {
	defaults := []ModelPrice{
		{Provider: "openai", Model: "gpt-4o", PriceInput: 0.005, PriceOutput: 0.015},
		{Provider: "openai", Model: "gpt-4o-mini", PriceInput: 0.00015, PriceOutput: 0.0006},
		{Provider: "openai", Model: "gpt-4-turbo", PriceInput: 0.01, PriceOutput: 0.03},
		{Provider: "openai", Model: "gpt-3.5-turbo", PriceInput: 0.0005, PriceOutput: 0.0015},
		{Provider: "claude", Model: "claude-3-5-sonnet-20241022", PriceInput: 0.003, PriceOutput: 0.015},
		{Provider: "claude", Model: "claude-3-opus-20240229", PriceInput: 0.015, PriceOutput: 0.075},
		{Provider: "claude", Model: "claude-3-haiku-20240307", PriceInput: 0.00025, PriceOutput: 0.00125},
		{Provider: "gemini", Model: "gemini-1.5-pro", PriceInput: 0.00125, PriceOutput: 0.005},
		{Provider: "gemini", Model: "gemini-1.5-flash", PriceInput: 0.000075, PriceOutput: 0.0003},
		{Provider: "qwen", Model: "qwen-turbo", PriceInput: 0.0008, PriceOutput: 0.002},
		{Provider: "qwen", Model: "qwen-plus", PriceInput: 0.004, PriceOutput: 0.012},
		{Provider: "glm", Model: "glm-4", PriceInput: 0.014, PriceOutput: 0.014},
	}
	for _, p := range defaults {
		c.SetPrice(p.Provider, p.Model, p.PriceInput, p.PriceOutput)
	}
}

// SetPrice sets or overrides one model's price.
func (c *CostCalculator) SetPrice(provider, model string, priceInput, priceOutput float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[provider+":"+model] = ModelPrice{
		Provider:    provider,
		Model:       model,
		PriceInput:  priceInput,
		PriceOutput: priceOutput,
	}
}

// UpdatePrices applies a batch of overrides, typically from configuration.
func (c *CostCalculator) UpdatePrices(prices []ModelPrice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range prices {
		c.prices[p.Provider+":"+p.Model] = p
	}
}

// Calculate prices a token count. Unknown models cost zero rather than
// failing the export.
func (c *CostCalculator) Calculate(provider, model string, tokensInput, tokensOutput int) float64 {
	c.mu.RLock()
	price, ok := c.prices[provider+":"+model]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	return float64(tokensInput)/1000*price.PriceInput +
		float64(tokensOutput)/1000*price.PriceOutput
}
