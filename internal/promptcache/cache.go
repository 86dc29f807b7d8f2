// Package promptcache fronts the cache store with fingerprint-keyed lookups
// of prior extraction results. Cache failures never fail a request: a broken
// lookup degrades to a miss and a broken write is dropped, both logged.
package promptcache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/tjfontaine/invoice-extractor/internal/domain"
	"github.com/tjfontaine/invoice-extractor/internal/fingerprint"
	"github.com/tjfontaine/invoice-extractor/internal/storage"
)

// Cache wraps a CacheStore with serialization and soft-failure semantics.
// The enabled flag is fixed at construction; a disabled cache answers every
// lookup with a miss and drops every save.
type Cache struct {
	store   storage.CacheStore
	enabled bool
	logger  *slog.Logger
}

// Hit is a successful cache lookup: the stored result plus the usage of the
// extraction call that originally populated the entry.
type Hit struct {
	Result        domain.ExtractedResult
	OriginalUsage domain.TokenUsage
}

// New creates a cache around the given store.
func New(store storage.CacheStore, enabled bool, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, enabled: enabled, logger: logger}
}

// Enabled reports whether the cache participates in processing.
func (c *Cache) Enabled() bool { return c.enabled }

// Lookup returns the hit for a fingerprint, or nil on a miss. Disabled
// caches, store errors, and undecodable entries all report as misses.
func (c *Cache) Lookup(ctx context.Context, fp fingerprint.Fingerprint) *Hit {
	if !c.enabled {
		return nil
	}

	entry, err := c.store.LookupEntry(ctx, string(fp))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.WarnContext(ctx, "cache lookup failed, treating as miss",
				"fingerprint", string(fp), "error", err)
		}
		return nil
	}

	var hit Hit
	if err := json.Unmarshal([]byte(entry.Result), &hit.Result); err != nil {
		c.logger.WarnContext(ctx, "cache entry result undecodable, treating as miss",
			"fingerprint", string(fp), "error", err)
		return nil
	}
	if err := json.Unmarshal([]byte(entry.Usage), &hit.OriginalUsage); err != nil {
		c.logger.WarnContext(ctx, "cache entry usage undecodable, treating as miss",
			"fingerprint", string(fp), "error", err)
		return nil
	}
	return &hit
}

// Save persists a fresh extraction result under its fingerprint. Failures are
// logged and swallowed; the caller's result is already in hand.
func (c *Cache) Save(ctx context.Context, fp fingerprint.Fingerprint, rawPrompt string, result domain.ExtractedResult, usage domain.TokenUsage) {
	if !c.enabled {
		return
	}

	// The cached copy must replay without the presentation-only envelope.
	result.Usage = nil

	resultJSON, err := json.Marshal(result)
	if err != nil {
		c.logger.WarnContext(ctx, "cache save skipped: result not serializable", "error", err)
		return
	}
	usageJSON, err := json.Marshal(usage)
	if err != nil {
		c.logger.WarnContext(ctx, "cache save skipped: usage not serializable", "error", err)
		return
	}

	entry := &domain.CacheEntry{
		Fingerprint: string(fp),
		RawPrompt:   rawPrompt,
		Result:      string(resultJSON),
		Usage:       string(usageJSON),
	}
	if err := c.store.UpsertEntry(ctx, entry); err != nil {
		c.logger.WarnContext(ctx, "cache save failed", "fingerprint", string(fp), "error", err)
	}
}

// Purge removes every cached entry and returns the count removed.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	return c.store.PurgeEntries(ctx)
}
