// Package storage defines the persistence interfaces for the prompt cache,
// the usage ledger, persisted invoices, and chat session transcripts.
package storage

import (
	"context"
	"errors"

	"github.com/tjfontaine/invoice-extractor/internal/domain"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("not found")

// CacheStore is the durable fingerprint -> extraction result mapping. Upsert
// must be atomic on the fingerprint (insert-or-replace-on-conflict) so two
// concurrent misses on the same key never produce a uniqueness violation.
type CacheStore interface {
	// LookupEntry returns the entry for a fingerprint, or ErrNotFound.
	LookupEntry(ctx context.Context, fingerprint string) (*domain.CacheEntry, error)

	// UpsertEntry inserts or overwrites the entry keyed by entry.Fingerprint.
	// On conflict the result, usage, and updated_at are replaced in place;
	// created_at and the row identifier are preserved.
	UpsertEntry(ctx context.Context, entry *domain.CacheEntry) error

	// PurgeEntries removes all cache entries (administrative purge only).
	PurgeEntries(ctx context.Context) (int64, error)
}

// UsageStore is the append-only token usage ledger.
type UsageStore interface {
	AppendUsage(ctx context.Context, rec *domain.UsageRecord) error
	UsageStats(ctx context.Context) (domain.UsageStats, error)
	ListUsage(ctx context.Context, limit int) ([]*domain.UsageRecord, error)
	DeleteAllUsage(ctx context.Context) (int64, error)
}

// InvoiceStore persists processed invoices.
type InvoiceStore interface {
	SaveInvoice(ctx context.Context, inv *domain.Invoice) error
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	FindInvoiceByNumber(ctx context.Context, number string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, limit, offset int) ([]*domain.Invoice, error)
	SearchInvoices(ctx context.Context, query string, limit int) ([]*domain.Invoice, error)
	DeleteAllInvoices(ctx context.Context) (int64, error)
}

// SessionStore persists chat session transcripts keyed by caller-supplied
// session identifiers, replacing process-lifetime in-memory chat state.
type SessionStore interface {
	// EnsureSession creates the session if it does not exist.
	EnsureSession(ctx context.Context, id string) error

	// GetSession returns a session with its ordered messages, or ErrNotFound.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	AppendMessage(ctx context.Context, msg *domain.SessionMessage) error
}

// Store is the full persistence surface backing the service.
type Store interface {
	CacheStore
	UsageStore
	InvoiceStore
	SessionStore

	Close() error
}
