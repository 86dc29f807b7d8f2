// Package memory provides an in-memory implementation of the storage
// interfaces, used in tests and as a zero-dependency fallback.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/invoice-extractor/internal/domain"
	"github.com/tjfontaine/invoice-extractor/internal/storage"
	"github.com/tjfontaine/invoice-extractor/internal/usage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu sync.RWMutex

	entries  map[string]*domain.CacheEntry // keyed by fingerprint
	usage    []*domain.UsageRecord
	invoices map[string]*domain.Invoice
	sessions map[string]*domain.Session
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		entries:  make(map[string]*domain.CacheEntry),
		invoices: make(map[string]*domain.Invoice),
		sessions: make(map[string]*domain.Session),
	}
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

func (s *Store) LookupEntry(_ context.Context, fp string) (*domain.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[fp]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (s *Store) UpsertEntry(_ context.Context, entry *domain.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.entries[entry.Fingerprint]; ok {
		existing.RawPrompt = entry.RawPrompt
		existing.Result = entry.Result
		existing.Usage = entry.Usage
		existing.UpdatedAt = now
		return nil
	}
	cp := *entry
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.entries[entry.Fingerprint] = &cp
	return nil
}

func (s *Store) PurgeEntries(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.entries))
	s.entries = make(map[string]*domain.CacheEntry)
	return n, nil
}

func (s *Store) AppendUsage(_ context.Context, rec *domain.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	s.usage = append(s.usage, &cp)
	return nil
}

func (s *Store) UsageStats(_ context.Context) (domain.UsageStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return usage.Compute(s.usage), nil
}

func (s *Store) ListUsage(_ context.Context, limit int) ([]*domain.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}

	recs := make([]*domain.UsageRecord, len(s.usage))
	for i, rec := range s.usage {
		cp := *rec
		recs[i] = &cp
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp.After(recs[j].Timestamp)
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (s *Store) DeleteAllUsage(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.usage))
	s.usage = nil
	return n, nil
}

func (s *Store) SaveInvoice(_ context.Context, inv *domain.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if inv.ID == "" {
		inv.ID = uuid.New().String()
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now
	cp := *inv
	s.invoices[inv.ID] = &cp
	return nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *Store) FindInvoiceByNumber(_ context.Context, number string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *domain.Invoice
	for _, inv := range s.invoices {
		if inv.InvoiceNumber != number {
			continue
		}
		if best == nil || inv.UpdatedAt.After(best.UpdatedAt) {
			best = inv
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *Store) ListInvoices(_ context.Context, limit, offset int) ([]*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}

	invs := make([]*domain.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		cp := *inv
		invs = append(invs, &cp)
	}
	sort.SliceStable(invs, func(i, j int) bool {
		return invs[i].CreatedAt.After(invs[j].CreatedAt)
	})
	if offset >= len(invs) {
		return nil, nil
	}
	invs = invs[offset:]
	if len(invs) > limit {
		invs = invs[:limit]
	}
	return invs, nil
}

func (s *Store) SearchInvoices(_ context.Context, q string, limit int) ([]*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}

	q = strings.ToLower(q)
	var invs []*domain.Invoice
	for _, inv := range s.invoices {
		if strings.Contains(strings.ToLower(inv.CustomerName), q) ||
			strings.Contains(strings.ToLower(inv.VendorName), q) ||
			strings.Contains(strings.ToLower(inv.InvoiceNumber), q) {
			cp := *inv
			invs = append(invs, &cp)
		}
	}
	sort.SliceStable(invs, func(i, j int) bool {
		return invs[i].CreatedAt.After(invs[j].CreatedAt)
	})
	if len(invs) > limit {
		invs = invs[:limit]
	}
	return invs, nil
}

func (s *Store) DeleteAllInvoices(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.invoices))
	s.invoices = make(map[string]*domain.Invoice)
	return n, nil
}

func (s *Store) EnsureSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		return nil
	}
	now := time.Now().UTC()
	s.sessions[id] = &domain.Session{ID: id, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *sess
	cp.Messages = append([]domain.SessionMessage(nil), sess.Messages...)
	return &cp, nil
}

func (s *Store) AppendMessage(_ context.Context, msg *domain.SessionMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[msg.SessionID]
	if !ok {
		return storage.ErrNotFound
	}
	cp := *msg
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	sess.Messages = append(sess.Messages, cp)
	sess.UpdatedAt = time.Now().UTC()
	return nil
}
