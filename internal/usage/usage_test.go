package usage_test

import (
	"context"
	"math"
	"testing"

	"github.com/tjfontaine/invoice-extractor/internal/domain"
	"github.com/tjfontaine/invoice-extractor/internal/storage/memory"
	"github.com/tjfontaine/invoice-extractor/internal/usage"
)

func TestComputeEmpty(t *testing.T) {
	stats := usage.Compute(nil)
	if stats.TotalRequests != 0 || stats.CacheHitRate != 0 || stats.SavedCost != 0 {
		t.Errorf("expected zero stats, got %+v", stats)
	}
}

func TestComputeMixedLedger(t *testing.T) {
	recs := []*domain.UsageRecord{
		{TotalTokens: 1500, Cost: 0.025},
		{TotalTokens: 3000, Cost: 0.05},
		{CacheHit: true, OriginalTotalTokens: 1500, OriginalCost: 0.025},
		{CacheHit: true, OriginalTotalTokens: 3000, OriginalCost: 0.05},
	}
	stats := usage.Compute(recs)

	if stats.TotalRequests != 4 || stats.CacheHits != 2 {
		t.Errorf("counts wrong: %+v", stats)
	}
	if stats.TotalTokens != 4500 {
		t.Errorf("total tokens = %d, want 4500", stats.TotalTokens)
	}
	if stats.SavedTokens != 4500 {
		t.Errorf("saved tokens = %d, want 4500", stats.SavedTokens)
	}
	if stats.CacheHitRate != 0.5 {
		t.Errorf("hit rate = %v, want 0.5", stats.CacheHitRate)
	}
	if math.Abs(stats.SavedCost-0.075) > 1e-9 {
		t.Errorf("saved cost = %v, want 0.075", stats.SavedCost)
	}
}

// Savings never exceed what full extractions actually cost: every hit row's
// originals correspond to some prior charged miss.
func TestComputeSavingsConservation(t *testing.T) {
	recs := []*domain.UsageRecord{
		{TotalTokens: 1000, Cost: 0.02},
	}
	for i := 0; i < 5; i++ {
		recs = append(recs, &domain.UsageRecord{
			CacheHit: true, OriginalTotalTokens: 1000, OriginalCost: 0.02,
		})
	}
	stats := usage.Compute(recs)
	if stats.TotalTokens != 1000 {
		t.Errorf("total tokens = %d, want 1000", stats.TotalTokens)
	}
	if stats.SavedTokens != 5000 {
		t.Errorf("saved tokens = %d, want 5000", stats.SavedTokens)
	}
}

func TestServiceRoundTrip(t *testing.T) {
	store := memory.New()
	svc := usage.NewService(store)
	ctx := context.Background()

	store.AppendUsage(ctx, &domain.UsageRecord{TotalTokens: 100, Cost: 0.001})
	store.AppendUsage(ctx, &domain.UsageRecord{CacheHit: true, OriginalTotalTokens: 100, OriginalCost: 0.001})

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalRequests != 2 || stats.SavedTokens != 100 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	recent, err := svc.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("got %d records, want 2", len(recent))
	}

	n, err := svc.Reset(ctx)
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if n != 2 {
		t.Errorf("reset removed %d, want 2", n)
	}
}
