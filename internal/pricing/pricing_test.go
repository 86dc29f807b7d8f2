package pricing

import (
	"math"
	"testing"
)

func TestCost_DefaultTable(t *testing.T) {
	table := NewDefaultTable()

	// 1000 prompt tokens at $0.01/1K + 1000 completion tokens at $0.03/1K.
	got := table.Cost("gpt-4-turbo", 1000, 1000)
	if math.Abs(got-0.04) > 1e-12 {
		t.Errorf("Cost(1000, 1000) = %v, want 0.04", got)
	}
}

func TestCost_ZeroTokens(t *testing.T) {
	table := NewDefaultTable()
	if got := table.Cost("gpt-4-turbo", 0, 0); got != 0 {
		t.Errorf("Cost(0, 0) = %v, want 0", got)
	}
}

func TestCost_ExactFractions(t *testing.T) {
	table := NewDefaultTable()

	// 123 prompt tokens: 123 * 0.01 / 1000 = 0.00123
	// 456 completion tokens: 456 * 0.03 / 1000 = 0.01368
	got := table.Cost("gpt-4-turbo", 123, 456)
	if math.Abs(got-0.01491) > 1e-12 {
		t.Errorf("Cost(123, 456) = %v, want 0.01491", got)
	}
}

func TestPrice_Lookup(t *testing.T) {
	table := NewTable(map[string]ModelPrice{
		"gpt-4":       {PromptPer1K: 0.03, CompletionPer1K: 0.06},
		"gpt-4-turbo": {PromptPer1K: 0.01, CompletionPer1K: 0.03},
	}, ModelPrice{PromptPer1K: 0.001, CompletionPer1K: 0.002})

	tests := []struct {
		model string
		want  float64 // prompt price
	}{
		{"gpt-4-turbo", 0.01},
		{"GPT-4-Turbo", 0.01},             // case-insensitive
		{"gpt-4-turbo-2024-04-09", 0.01},  // longest prefix wins
		{"gpt-4-0125-preview", 0.03},      // falls back to gpt-4 prefix
		{"gpt-3.5-turbo", 0.001},          // unknown -> fallback
	}
	for _, tt := range tests {
		if got := table.Price(tt.model).PromptPer1K; got != tt.want {
			t.Errorf("Price(%q).PromptPer1K = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestCost_SameTableForFreshAndRecomputed(t *testing.T) {
	table := NewDefaultTable()

	fresh := table.Cost("gpt-4-turbo", 500, 200)
	recomputed := table.Cost("gpt-4-turbo", 500, 200)
	if fresh != recomputed {
		t.Errorf("cost is not a pure function: %v vs %v", fresh, recomputed)
	}
}
