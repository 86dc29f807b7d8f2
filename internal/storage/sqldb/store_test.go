package sqldb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/invoice-extractor/internal/domain"
	"github.com/tjfontaine/invoice-extractor/internal/storage"
)

var memDBCounter int

func newTestStore(t *testing.T) *Store {
	t.Helper()
	memDBCounter++
	dsn := fmt.Sprintf("file:sqldbtest%d?mode=memory&cache=shared", memDBCounter)
	s, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCacheEntryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := &domain.CacheEntry{
		Fingerprint: "abc123",
		RawPrompt:   "INVOICE #42 Total: $100.00",
		Result:      `{"invoiceNumber":"42"}`,
		Usage:       `{"promptTokens":100,"completionTokens":50,"totalTokens":150,"cost":0.0025}`,
	}
	if err := s.UpsertEntry(ctx, entry); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := s.LookupEntry(ctx, "abc123")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got.Result != entry.Result {
		t.Errorf("result = %q, want %q", got.Result, entry.Result)
	}
	if got.Usage != entry.Usage {
		t.Errorf("usage = %q, want %q", got.Usage, entry.Usage)
	}
	if got.RawPrompt != entry.RawPrompt {
		t.Errorf("raw prompt = %q, want %q", got.RawPrompt, entry.RawPrompt)
	}
	if got.ID == "" {
		t.Error("expected generated id")
	}
}

func TestLookupEntryNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LookupEntry(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertEntryOverwritesNotDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &domain.CacheEntry{Fingerprint: "fp", RawPrompt: "p", Result: "r1", Usage: "u1"}
	if err := s.UpsertEntry(ctx, first); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	second := &domain.CacheEntry{Fingerprint: "fp", RawPrompt: "p", Result: "r2", Usage: "u2"}
	if err := s.UpsertEntry(ctx, second); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	got, err := s.LookupEntry(ctx, "fp")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got.Result != "r2" || got.Usage != "u2" {
		t.Errorf("entry not overwritten: result=%q usage=%q", got.Result, got.Usage)
	}
	// Conflict path keeps the original row identity.
	if got.ID != first.ID {
		t.Errorf("id changed on upsert: %q -> %q", first.ID, got.ID)
	}

	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM prompt_cache WHERE fingerprint = 'fp'`); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}
}

func TestUpsertEntryConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			entry := &domain.CacheEntry{
				Fingerprint: "shared",
				RawPrompt:   "p",
				Result:      fmt.Sprintf("r%d", n),
				Usage:       "u",
			}
			errs <- s.UpsertEntry(ctx, entry)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent upsert failed: %v", err)
		}
	}

	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM prompt_cache WHERE fingerprint = 'shared'`); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}
}

func TestPurgeEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := &domain.CacheEntry{
			Fingerprint: fmt.Sprintf("fp%d", i), RawPrompt: "p", Result: "r", Usage: "u",
		}
		if err := s.UpsertEntry(ctx, entry); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	n, err := s.PurgeEntries(ctx)
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if n != 3 {
		t.Errorf("purged %d entries, want 3", n)
	}
	if _, err := s.LookupEntry(ctx, "fp0"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after purge, got %v", err)
	}
}

func TestUsageStatsAggregation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two misses charged in full, one hit charged nothing but carrying the
	// original usage of the entry it reused.
	records := []*domain.UsageRecord{
		{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500, Cost: 0.025, Operation: "invoice_extraction"},
		{PromptTokens: 2000, CompletionTokens: 1000, TotalTokens: 3000, Cost: 0.05, Operation: "invoice_extraction"},
		{
			Operation: "invoice_extraction", Cached: true, CacheHit: true, CacheKey: "fp",
			OriginalPromptTokens: 1000, OriginalCompletionTokens: 500,
			OriginalTotalTokens: 1500, OriginalCost: 0.025,
		},
	}
	for _, rec := range records {
		if err := s.AppendUsage(ctx, rec); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	stats, err := s.UsageStats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalRequests != 3 {
		t.Errorf("total requests = %d, want 3", stats.TotalRequests)
	}
	if stats.TotalTokens != 4500 {
		t.Errorf("total tokens = %d, want 4500", stats.TotalTokens)
	}
	if math.Abs(stats.TotalCost-0.075) > 1e-9 {
		t.Errorf("total cost = %v, want 0.075", stats.TotalCost)
	}
	if stats.CacheHits != 1 {
		t.Errorf("cache hits = %d, want 1", stats.CacheHits)
	}
	if math.Abs(stats.CacheHitRate-1.0/3.0) > 1e-9 {
		t.Errorf("hit rate = %v, want 1/3", stats.CacheHitRate)
	}
	if stats.SavedTokens != 1500 {
		t.Errorf("saved tokens = %d, want 1500", stats.SavedTokens)
	}
	if math.Abs(stats.SavedCost-0.025) > 1e-9 {
		t.Errorf("saved cost = %v, want 0.025", stats.SavedCost)
	}
}

func TestUsageStatsEmpty(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.UsageStats(context.Background())
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalRequests != 0 || stats.TotalTokens != 0 || stats.CacheHitRate != 0 {
		t.Errorf("expected zero stats, got %+v", stats)
	}
}

func TestListAndDeleteUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		rec := &domain.UsageRecord{
			TotalTokens: i, Operation: "invoice_extraction",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.AppendUsage(ctx, rec); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	recs, err := s.ListUsage(ctx, 3)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].TotalTokens != 4 {
		t.Errorf("newest record total tokens = %d, want 4", recs[0].TotalTokens)
	}

	n, err := s.DeleteAllUsage(ctx)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if n != 5 {
		t.Errorf("deleted %d records, want 5", n)
	}
}

func TestInvoiceLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	due := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	inv := &domain.Invoice{
		CustomerName:    "Acme Corp",
		VendorName:      "Office Supplies Inc",
		InvoiceNumber:   "INV-001",
		InvoiceDate:     time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		DueDate:         &due,
		Amount:          45000,
		Currency:        "USD",
		Status:          "processed",
		OriginalFileURL: "https://example.com/inv.pdf",
		Confidence:      0.95,
	}
	if err := s.SaveInvoice(ctx, inv); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if inv.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := s.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.CustomerName != "Acme Corp" || got.Amount != 45000 {
		t.Errorf("unexpected invoice: %+v", got)
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Errorf("due date = %v, want %v", got.DueDate, due)
	}

	// Updating through Save keeps one row.
	inv.Status = "error"
	if err := s.SaveInvoice(ctx, inv); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, err = s.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get after update failed: %v", err)
	}
	if got.Status != "error" {
		t.Errorf("status = %q, want error", got.Status)
	}

	byNum, err := s.FindInvoiceByNumber(ctx, "INV-001")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if byNum.ID != inv.ID {
		t.Errorf("found id = %q, want %q", byNum.ID, inv.ID)
	}

	if _, err := s.GetInvoice(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.FindInvoiceByNumber(ctx, "INV-999"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListAndSearchInvoices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	vendors := []string{"Office Supplies Inc", "Cloud Hosting LLC", "Office Furniture Co"}
	for i, v := range vendors {
		inv := &domain.Invoice{
			CustomerName:  "Acme Corp",
			VendorName:    v,
			InvoiceNumber: fmt.Sprintf("INV-%03d", i+1),
			InvoiceDate:   time.Now().UTC(),
			Currency:      "USD",
			Status:        "processed",
		}
		if err := s.SaveInvoice(ctx, inv); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	all, err := s.ListInvoices(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d invoices, want 3", len(all))
	}

	page, err := s.ListInvoices(ctx, 2, 2)
	if err != nil {
		t.Fatalf("paged list failed: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("got %d invoices on second page, want 1", len(page))
	}

	office, err := s.SearchInvoices(ctx, "Office", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(office) != 2 {
		t.Errorf("got %d matches for Office, want 2", len(office))
	}

	byNumber, err := s.SearchInvoices(ctx, "INV-002", 10)
	if err != nil {
		t.Fatalf("search by number failed: %v", err)
	}
	if len(byNumber) != 1 || byNumber[0].VendorName != "Cloud Hosting LLC" {
		t.Errorf("unexpected matches for INV-002: %+v", byNumber)
	}

	n, err := s.DeleteAllInvoices(ctx)
	if err != nil {
		t.Fatalf("delete all failed: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted %d invoices, want 3", n)
	}
}

func TestSessionTranscript(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnsureSession(ctx, "sess-1"); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	// Idempotent.
	if err := s.EnsureSession(ctx, "sess-1"); err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}

	turns := []struct{ role, content string }{
		{"user", "What invoices are due this month?"},
		{"assistant", "One invoice from Office Supplies Inc is due February 15."},
	}
	base := time.Now().UTC().Add(-time.Minute)
	for i, turn := range turns {
		msg := &domain.SessionMessage{
			SessionID: "sess-1",
			Role:      turn.role,
			Content:   turn.content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	sess, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(sess.Messages))
	}
	if sess.Messages[0].Role != "user" || sess.Messages[1].Role != "assistant" {
		t.Errorf("messages out of order: %+v", sess.Messages)
	}

	if _, err := s.GetSession(ctx, "unknown"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
