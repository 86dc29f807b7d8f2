// Package usage exposes the cost-accounting read side: aggregate statistics
// over the append-only usage ledger.
package usage

import (
	"context"
	"fmt"

	"github.com/tjfontaine/invoice-extractor/internal/domain"
	"github.com/tjfontaine/invoice-extractor/internal/storage"
)

// Compute aggregates ledger records. Totals sum actual charged usage only;
// savings sum the original usage carried on cache-hit rows. An empty ledger
// yields all zeros with a zero hit rate.
func Compute(recs []*domain.UsageRecord) domain.UsageStats {
	var stats domain.UsageStats
	for _, rec := range recs {
		stats.TotalRequests++
		stats.TotalTokens += rec.TotalTokens
		stats.TotalCost += rec.Cost
		if rec.CacheHit {
			stats.CacheHits++
			stats.SavedTokens += rec.OriginalTotalTokens
			stats.SavedCost += rec.OriginalCost
		}
	}
	if stats.TotalRequests > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(stats.TotalRequests)
	}
	return stats
}

// Service answers usage queries against a ledger store.
type Service struct {
	store storage.UsageStore
}

func NewService(store storage.UsageStore) *Service {
	return &Service{store: store}
}

// Stats returns the aggregate usage statistics.
func (s *Service) Stats(ctx context.Context) (domain.UsageStats, error) {
	stats, err := s.store.UsageStats(ctx)
	if err != nil {
		return domain.UsageStats{}, fmt.Errorf("usage stats: %w", err)
	}
	return stats, nil
}

// Recent returns the newest ledger records.
func (s *Service) Recent(ctx context.Context, limit int) ([]*domain.UsageRecord, error) {
	return s.store.ListUsage(ctx, limit)
}

// Reset clears the ledger and returns the number of records removed.
func (s *Service) Reset(ctx context.Context) (int64, error) {
	return s.store.DeleteAllUsage(ctx)
}
