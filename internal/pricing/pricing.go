// Package pricing maps model token counts to monetary cost estimates using a
// per-model unit price table.
package pricing

import (
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// ModelPrice holds per-1K-token prices in USD for one model tier.
type ModelPrice struct {
	PromptPer1K     float64 `koanf:"prompt_per_1k"`
	CompletionPer1K float64 `koanf:"completion_per_1k"`
}

// DefaultPrice is the GPT-4 Turbo price point used when a model has no
// configured entry.
var DefaultPrice = ModelPrice{PromptPer1K: 0.01, CompletionPer1K: 0.03}

// Table is a pure cost model: the same table is used for fresh calls and for
// recomputing the original cost of cached hits, so savings figures stay
// consistent. Recomputation always applies the current table to historically
// stored token counts; price-table changes therefore shift recomputed
// originals, which is accepted.
type Table struct {
	models   map[string]ModelPrice
	fallback ModelPrice
}

// NewTable builds a cost table. Model names are matched case-insensitively,
// exact first, then by prefix (so "gpt-4-0125-preview" picks up a "gpt-4"
// entry). Unknown models fall back to the provided default.
func NewTable(models map[string]ModelPrice, fallback ModelPrice) *Table {
	normalized := make(map[string]ModelPrice, len(models))
	for name, p := range models {
		normalized[strings.ToLower(name)] = p
	}
	return &Table{models: normalized, fallback: fallback}
}

// NewDefaultTable builds a table with only the default price point.
func NewDefaultTable() *Table {
	return NewTable(nil, DefaultPrice)
}

// Price resolves the price entry for a model.
func (t *Table) Price(model string) ModelPrice {
	model = strings.ToLower(model)
	if p, ok := t.models[model]; ok {
		return p
	}
	// Longest configured prefix wins.
	var best string
	for name := range t.models {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return t.models[best]
	}
	return t.fallback
}

// Cost computes the USD cost of a call. Decimal arithmetic avoids the drift
// float summation would introduce across a long ledger.
func (t *Table) Cost(model string, promptTokens, completionTokens int) float64 {
	p := t.Price(model)

	ctx := apd.BaseContext.WithPrecision(20)
	prompt := tokenCost(ctx, promptTokens, p.PromptPer1K)
	completion := tokenCost(ctx, completionTokens, p.CompletionPer1K)

	total := new(apd.Decimal)
	_, _ = ctx.Add(total, prompt, completion)

	f, _ := total.Float64()
	return f
}

func tokenCost(ctx *apd.Context, tokens int, per1K float64) *apd.Decimal {
	count := apd.New(int64(tokens), 0)
	price := new(apd.Decimal)
	_, _ = price.SetFloat64(per1K)

	cost := new(apd.Decimal)
	_, _ = ctx.Mul(cost, count, price)
	_, _ = ctx.Quo(cost, cost, apd.New(1000, 0))
	return cost
}
