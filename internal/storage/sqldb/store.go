// Package sqldb is the SQL implementation of the storage interfaces,
// supporting SQLite and PostgreSQL through the dialect abstraction.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/invoice-extractor/internal/domain"
	"github.com/tjfontaine/invoice-extractor/internal/storage"
	"github.com/tjfontaine/invoice-extractor/internal/storage/dialect"
)

// Store is a SQL implementation of storage.Store.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ storage.Store = (*Store)(nil)

// Config holds database connection configuration.
type Config struct {
	Driver string // sqlite, postgres
	DSN    string
}

// New creates a new SQL store.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	s := &Store{db: db, dialect: d}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewSQLite creates a SQLite-backed store.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

func (s *Store) initSchema() error {
	boolT := s.dialect.BooleanType()
	tsT := s.dialect.TimestampType()

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS prompt_cache (
id TEXT PRIMARY KEY,
fingerprint TEXT NOT NULL UNIQUE,
raw_prompt TEXT NOT NULL,
result TEXT NOT NULL,
token_usage TEXT NOT NULL,
created_at %[1]s NOT NULL,
updated_at %[1]s NOT NULL
)`, tsT),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS usage_ledger (
id TEXT PRIMARY KEY,
prompt_tokens INTEGER NOT NULL,
completion_tokens INTEGER NOT NULL,
total_tokens INTEGER NOT NULL,
cost REAL NOT NULL,
timestamp %[1]s NOT NULL,
operation TEXT NOT NULL,
invoice_id TEXT,
cached %[2]s NOT NULL DEFAULT 0,
cache_key TEXT NOT NULL DEFAULT '',
cache_hit %[2]s NOT NULL DEFAULT 0,
original_prompt_tokens INTEGER NOT NULL DEFAULT 0,
original_completion_tokens INTEGER NOT NULL DEFAULT 0,
original_total_tokens INTEGER NOT NULL DEFAULT 0,
original_cost REAL NOT NULL DEFAULT 0
)`, tsT, boolT),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS invoices (
id TEXT PRIMARY KEY,
created_at %[1]s NOT NULL,
updated_at %[1]s NOT NULL,
customer_name TEXT NOT NULL,
vendor_name TEXT NOT NULL,
invoice_number TEXT NOT NULL,
invoice_date %[1]s NOT NULL,
due_date %[1]s,
amount INTEGER NOT NULL,
currency TEXT NOT NULL DEFAULT 'USD',
status TEXT NOT NULL,
original_file_url TEXT NOT NULL,
confidence REAL NOT NULL DEFAULT 0,
extraction_method TEXT NOT NULL DEFAULT '',
processing_errors TEXT NOT NULL DEFAULT ''
)`, tsT),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sessions (
id TEXT PRIMARY KEY,
created_at %[1]s NOT NULL,
updated_at %[1]s NOT NULL
)`, tsT),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS session_messages (
id TEXT PRIMARY KEY,
session_id TEXT NOT NULL,
role TEXT NOT NULL,
content TEXT NOT NULL,
created_at %[1]s NOT NULL,
FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
)`, tsT),
		`CREATE INDEX IF NOT EXISTS idx_usage_ledger_timestamp ON usage_ledger(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_ledger_cache_hit ON usage_ledger(cache_hit)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_number ON invoices(invoice_number)`,
		`CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages(session_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// LookupEntry returns the cache entry for a fingerprint.
func (s *Store) LookupEntry(ctx context.Context, fp string) (*domain.CacheEntry, error) {
	query := s.dialect.Rebind(`SELECT id, fingerprint, raw_prompt, result, token_usage, created_at, updated_at
FROM prompt_cache WHERE fingerprint = ?`)

	var entry domain.CacheEntry
	if err := s.db.GetContext(ctx, &entry, query, fp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("lookup cache entry: %w", err)
	}
	return &entry, nil
}

// UpsertEntry inserts or replaces the entry for entry.Fingerprint atomically.
// Two callers racing on the same fingerprint resolve last-writer-wins at the
// database, not with a read-then-write sequence.
func (s *Store) UpsertEntry(ctx context.Context, entry *domain.CacheEntry) error {
	now := time.Now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now

	upsert := s.dialect.UpsertClause("fingerprint", []string{"result", "token_usage", "updated_at"})
	query := s.dialect.Rebind(fmt.Sprintf(`INSERT INTO prompt_cache
(id, fingerprint, raw_prompt, result, token_usage, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?) %s`, upsert))

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.Fingerprint, entry.RawPrompt, entry.Result, entry.Usage,
		entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// PurgeEntries deletes all cache entries.
func (s *Store) PurgeEntries(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM prompt_cache`)
	if err != nil {
		return 0, fmt.Errorf("purge cache: %w", err)
	}
	return res.RowsAffected()
}

// AppendUsage appends one record to the usage ledger.
func (s *Store) AppendUsage(ctx context.Context, rec *domain.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	query := s.dialect.Rebind(`INSERT INTO usage_ledger
(id, prompt_tokens, completion_tokens, total_tokens, cost, timestamp, operation,
 invoice_id, cached, cache_key, cache_hit,
 original_prompt_tokens, original_completion_tokens, original_total_tokens, original_cost)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.Cost,
		rec.Timestamp, rec.Operation, rec.InvoiceID, rec.Cached, rec.CacheKey, rec.CacheHit,
		rec.OriginalPromptTokens, rec.OriginalCompletionTokens, rec.OriginalTotalTokens, rec.OriginalCost)
	if err != nil {
		return fmt.Errorf("append usage: %w", err)
	}
	return nil
}

// UsageStats aggregates the ledger. Totals sum actual charged usage; savings
// sum the original usage carried on hit rows only.
func (s *Store) UsageStats(ctx context.Context) (domain.UsageStats, error) {
	query := `SELECT
COALESCE(SUM(total_tokens), 0) AS total_tokens,
COALESCE(SUM(cost), 0) AS total_cost,
COUNT(*) AS total_requests,
COALESCE(SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END), 0) AS cache_hits,
COALESCE(SUM(CASE WHEN cache_hit THEN original_total_tokens ELSE 0 END), 0) AS saved_tokens,
COALESCE(SUM(CASE WHEN cache_hit THEN original_cost ELSE 0 END), 0) AS saved_cost
FROM usage_ledger`

	var row struct {
		TotalTokens   int     `db:"total_tokens"`
		TotalCost     float64 `db:"total_cost"`
		TotalRequests int     `db:"total_requests"`
		CacheHits     int     `db:"cache_hits"`
		SavedTokens   int     `db:"saved_tokens"`
		SavedCost     float64 `db:"saved_cost"`
	}
	if err := s.db.GetContext(ctx, &row, query); err != nil {
		return domain.UsageStats{}, fmt.Errorf("usage stats: %w", err)
	}

	stats := domain.UsageStats{
		TotalTokens:   row.TotalTokens,
		TotalCost:     row.TotalCost,
		TotalRequests: row.TotalRequests,
		CacheHits:     row.CacheHits,
		SavedTokens:   row.SavedTokens,
		SavedCost:     row.SavedCost,
	}
	if stats.TotalRequests > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(stats.TotalRequests)
	}
	return stats, nil
}

// ListUsage returns the most recent ledger records.
func (s *Store) ListUsage(ctx context.Context, limit int) ([]*domain.UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.dialect.Rebind(`SELECT id, prompt_tokens, completion_tokens, total_tokens, cost,
timestamp, operation, invoice_id, cached, cache_key, cache_hit,
original_prompt_tokens, original_completion_tokens, original_total_tokens, original_cost
FROM usage_ledger ORDER BY timestamp DESC LIMIT ?`)

	var recs []*domain.UsageRecord
	if err := s.db.SelectContext(ctx, &recs, query, limit); err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	return recs, nil
}

// DeleteAllUsage clears the ledger.
func (s *Store) DeleteAllUsage(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_ledger`)
	if err != nil {
		return 0, fmt.Errorf("delete usage: %w", err)
	}
	return res.RowsAffected()
}

// SaveInvoice inserts or updates an invoice by id.
func (s *Store) SaveInvoice(ctx context.Context, inv *domain.Invoice) error {
	now := time.Now().UTC()
	if inv.ID == "" {
		inv.ID = uuid.New().String()
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now

	upsert := s.dialect.UpsertClause("id", []string{
		"updated_at", "customer_name", "vendor_name", "invoice_number", "invoice_date",
		"due_date", "amount", "currency", "status", "confidence", "extraction_method",
		"processing_errors",
	})
	query := s.dialect.Rebind(fmt.Sprintf(`INSERT INTO invoices
(id, created_at, updated_at, customer_name, vendor_name, invoice_number, invoice_date,
 due_date, amount, currency, status, original_file_url, confidence, extraction_method, processing_errors)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) %s`, upsert))

	_, err := s.db.ExecContext(ctx, query,
		inv.ID, inv.CreatedAt, inv.UpdatedAt, inv.CustomerName, inv.VendorName,
		inv.InvoiceNumber, inv.InvoiceDate, inv.DueDate, inv.Amount, inv.Currency,
		inv.Status, inv.OriginalFileURL, inv.Confidence, inv.ExtractionMethod, inv.ProcessingErrors)
	if err != nil {
		return fmt.Errorf("save invoice: %w", err)
	}
	return nil
}

const invoiceColumns = `id, created_at, updated_at, customer_name, vendor_name, invoice_number,
invoice_date, due_date, amount, currency, status, original_file_url, confidence,
extraction_method, processing_errors`

// GetInvoice returns an invoice by id.
func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	query := s.dialect.Rebind(`SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`)

	var inv domain.Invoice
	if err := s.db.GetContext(ctx, &inv, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return &inv, nil
}

// FindInvoiceByNumber returns the most recently updated invoice with the
// given invoice number.
func (s *Store) FindInvoiceByNumber(ctx context.Context, number string) (*domain.Invoice, error) {
	query := s.dialect.Rebind(`SELECT ` + invoiceColumns + ` FROM invoices
WHERE invoice_number = ? ORDER BY updated_at DESC LIMIT 1`)

	var inv domain.Invoice
	if err := s.db.GetContext(ctx, &inv, query, number); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("find invoice: %w", err)
	}
	return &inv, nil
}

// ListInvoices returns invoices ordered by creation time, newest first.
func (s *Store) ListInvoices(ctx context.Context, limit, offset int) ([]*domain.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.dialect.Rebind(`SELECT ` + invoiceColumns + ` FROM invoices
ORDER BY created_at DESC LIMIT ? OFFSET ?`)

	var invs []*domain.Invoice
	if err := s.db.SelectContext(ctx, &invs, query, limit, offset); err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return invs, nil
}

// SearchInvoices matches a substring against customer, vendor, and invoice
// number.
func (s *Store) SearchInvoices(ctx context.Context, q string, limit int) ([]*domain.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + q + "%"
	query := s.dialect.Rebind(`SELECT ` + invoiceColumns + ` FROM invoices
WHERE customer_name LIKE ? OR vendor_name LIKE ? OR invoice_number LIKE ?
ORDER BY created_at DESC LIMIT ?`)

	var invs []*domain.Invoice
	if err := s.db.SelectContext(ctx, &invs, query, pattern, pattern, pattern, limit); err != nil {
		return nil, fmt.Errorf("search invoices: %w", err)
	}
	return invs, nil
}

// DeleteAllInvoices removes all invoices.
func (s *Store) DeleteAllInvoices(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invoices`)
	if err != nil {
		return 0, fmt.Errorf("delete invoices: %w", err)
	}
	return res.RowsAffected()
}

// EnsureSession creates the session row if it does not exist.
func (s *Store) EnsureSession(ctx context.Context, id string) error {
	now := time.Now().UTC()
	upsert := s.dialect.UpsertClause("id", nil)
	query := s.dialect.Rebind(fmt.Sprintf(
		`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?) %s`, upsert))

	if _, err := s.db.ExecContext(ctx, query, id, now, now); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

// GetSession returns a session with its ordered transcript.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var row struct {
		ID        string    `db:"id"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	query := s.dialect.Rebind(`SELECT id, created_at, updated_at FROM sessions WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var msgs []domain.SessionMessage
	msgQuery := s.dialect.Rebind(`SELECT id, session_id, role, content, created_at
FROM session_messages WHERE session_id = ? ORDER BY created_at ASC`)
	if err := s.db.SelectContext(ctx, &msgs, msgQuery, id); err != nil {
		return nil, fmt.Errorf("get session messages: %w", err)
	}

	return &domain.Session{
		ID:        row.ID,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		Messages:  msgs,
	}, nil
}

// AppendMessage appends one turn to a session transcript.
func (s *Store) AppendMessage(ctx context.Context, msg *domain.SessionMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	query := s.dialect.Rebind(`INSERT INTO session_messages
(id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.CreatedAt); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	touch := s.dialect.Rebind(`UPDATE sessions SET updated_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, touch, time.Now().UTC(), msg.SessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}
