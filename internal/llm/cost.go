package llm

import "sync"

// PriceTable maps a model identifier to its per-million-token pricing. It is
// intentionally simple: production deployments can swap in a live pricing
// feed, but the shape the rest of the system depends on (cost accrues onto
// CallMeta.CostUSD) never changes.
type PriceTable map[string]ModelPrice

// ModelPrice is quoted per one million tokens, matching how providers publish
// pricing.
type ModelPrice struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Cost computes the USD cost of usage against the table, falling back to
// zero for unrecognized models rather than erroring: cost accounting must
// never block an LLM call from returning its result.
func (t PriceTable) Cost(model string, u Usage) float64 {
	price, ok := t[model]
	if !ok {
		return 0
	}
	return float64(u.InputTokens)/1_000_000*price.InputPerMillion +
		float64(u.OutputTokens)/1_000_000*price.OutputPerMillion
}

// DefaultPrices seeds a PriceTable with the model identifiers the bundled
// provider adapters default to. Deployments override entries via
// PriceTable.Merge or by constructing their own table.
func DefaultPrices() PriceTable {
	return PriceTable{
		"claude-sonnet-4-5":  {InputPerMillion: 3.0, OutputPerMillion: 15.0},
		"claude-haiku-4-5":   {InputPerMillion: 0.8, OutputPerMillion: 4.0},
		"gpt-4.1":            {InputPerMillion: 2.0, OutputPerMillion: 8.0},
		"gpt-4.1-mini":       {InputPerMillion: 0.4, OutputPerMillion: 1.6},
		"bedrock-claude-3-7": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	}
}

// Merge overlays other on top of t, returning a new table.
func (t PriceTable) Merge(other PriceTable) PriceTable {
	out := make(PriceTable, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Accumulator sums cost and token usage across many calls within a single
// turn or experiment run. It is safe for concurrent use because agents,
// tools, and the scheduler may all attribute cost from different goroutines.
type Accumulator struct {
	mu           sync.Mutex
	costUSD      float64
	inputTokens  int
	outputTokens int
}

// Add attributes a single call's cost/usage to the accumulator.
func (a *Accumulator) Add(meta CallMeta) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.costUSD += meta.CostUSD
	a.inputTokens += meta.Usage.InputTokens
	a.outputTokens += meta.Usage.OutputTokens
}

// Totals returns the running totals.
func (a *Accumulator) Totals() (costUSD float64, inputTokens, outputTokens int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.costUSD, a.inputTokens, a.outputTokens
}
