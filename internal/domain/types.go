// Package domain provides the canonical types shared across the extraction
// pipeline: extraction inputs, structured results, usage accounting, and the
// cache and ledger row shapes.
package domain

import "time"

// InputKind distinguishes how a document's content reaches the model.
type InputKind string

const (
	// InputText is content already reduced to normalized text (e.g. a parsed PDF).
	InputText InputKind = "text"

	// InputImage is content referenced by a dereferenceable URL and sent to the
	// model's vision path as-is.
	InputImage InputKind = "image"
)

// ExtractionInput is the immutable unit handed to the fingerprint and
// extraction stages. Exactly one of NormalizedText or Reference is the
// fingerprinted value, selected by Kind.
type ExtractionInput struct {
	Kind InputKind

	// NormalizedText is whitespace-collapsed, newline-normalized document text.
	// Set when Kind is InputText.
	NormalizedText string

	// Reference is the stable URL of the document. Always set; it is the
	// fingerprinted value when Kind is InputImage.
	Reference string
}

// TextInput builds a text extraction input.
func TextInput(normalized, reference string) ExtractionInput {
	return ExtractionInput{Kind: InputText, NormalizedText: normalized, Reference: reference}
}

// ImageInput builds an image extraction input.
func ImageInput(reference string) ExtractionInput {
	return ExtractionInput{Kind: InputImage, Reference: reference}
}

// ExtractionMethod records which path produced a result.
type ExtractionMethod string

const (
	MethodText             ExtractionMethod = "text"
	MethodVision           ExtractionMethod = "vision"
	MethodValidationFailed ExtractionMethod = "validation_failed"
	MethodFailed           ExtractionMethod = "failed"
)

// Well-known placeholder values for text fields the pipeline could not fill.
const (
	PlaceholderNotFound     = "[Not Found]"
	PlaceholderNotInvoice   = "[Not an Invoice]"
	PlaceholderProcessError = "[Processing Error]"
)

// ExtractedResult is the unit of work product returned by the orchestrator.
// It is always well-formed, even for rejected or failed extractions.
type ExtractedResult struct {
	CustomerName     string           `json:"customerName"`
	VendorName       string           `json:"vendorName"`
	InvoiceNumber    string           `json:"invoiceNumber"`
	InvoiceDate      time.Time        `json:"invoiceDate"`
	DueDate          *time.Time       `json:"dueDate"`
	Amount           int64            `json:"amount"` // minor currency units
	Currency         string           `json:"currency"`
	Confidence       float64          `json:"confidence"`
	ExtractionMethod ExtractionMethod `json:"extractionMethod"`
	ProcessingErrors []string         `json:"processingErrors"`
	OriginalFileURL  string           `json:"originalFileUrl"`
	Usage            *UsageEnvelope   `json:"usage,omitempty"`
}

// TokenUsage is the raw token accounting for a single model call.
type TokenUsage struct {
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
	Cost             float64 `json:"cost"`
}

// UsageEnvelope is the usage attached to a result. On a miss the actual fields
// carry the charged usage and Cached is false. On a hit the actual fields are
// zero (nothing was charged) and the Original* fields carry the usage of the
// extraction that populated the cache, so savings aggregation stays
// well-defined.
type UsageEnvelope struct {
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
	Cost             float64 `json:"cost"`
	Cached           bool    `json:"cached"`

	OriginalPromptTokens     int     `json:"originalPromptTokens,omitempty"`
	OriginalCompletionTokens int     `json:"originalCompletionTokens,omitempty"`
	OriginalTotalTokens      int     `json:"originalTotalTokens,omitempty"`
	OriginalCost             float64 `json:"originalCost,omitempty"`
}

// MissEnvelope wraps fresh-call usage into an envelope.
func MissEnvelope(u TokenUsage) *UsageEnvelope {
	return &UsageEnvelope{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		Cost:             u.Cost,
		Cached:           false,
	}
}

// HitEnvelope builds the envelope for a cache hit: zero marginal usage plus
// the original usage recorded when the entry was created.
func HitEnvelope(original TokenUsage) *UsageEnvelope {
	return &UsageEnvelope{
		Cached:                   true,
		OriginalPromptTokens:     original.PromptTokens,
		OriginalCompletionTokens: original.CompletionTokens,
		OriginalTotalTokens:      original.TotalTokens,
		OriginalCost:             original.Cost,
	}
}

// CacheEntry is a durable mapping from content fingerprint to a prior
// extraction result. The raw prompt is retained for audit and debugging.
type CacheEntry struct {
	ID          string    `db:"id"`
	Fingerprint string    `db:"fingerprint"`
	RawPrompt   string    `db:"raw_prompt"`
	Result      string    `db:"result"` // serialized ExtractedResult
	Usage       string    `db:"token_usage"` // serialized TokenUsage
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// UsageRecord is one row of the append-only usage ledger. Hit rows store zero
// actual usage plus the original usage in the Original* columns; miss rows
// store the charged usage and zero originals.
type UsageRecord struct {
	ID               string    `db:"id"`
	PromptTokens     int       `db:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens"`
	TotalTokens      int       `db:"total_tokens"`
	Cost             float64   `db:"cost"`
	Timestamp        time.Time `db:"timestamp"`
	Operation        string    `db:"operation"`
	InvoiceID        *string   `db:"invoice_id"`
	Cached           bool      `db:"cached"`
	CacheKey         string    `db:"cache_key"`
	CacheHit         bool      `db:"cache_hit"`

	OriginalPromptTokens     int     `db:"original_prompt_tokens"`
	OriginalCompletionTokens int     `db:"original_completion_tokens"`
	OriginalTotalTokens      int     `db:"original_total_tokens"`
	OriginalCost             float64 `db:"original_cost"`
}

// UsageStats is the read-side aggregation over the usage ledger.
type UsageStats struct {
	TotalTokens   int     `json:"totalTokens"`
	TotalCost     float64 `json:"totalCost"`
	TotalRequests int     `json:"totalRequests"`
	CacheHits     int     `json:"cacheHits"`
	CacheHitRate  float64 `json:"cacheHitRate"`
	SavedTokens   int     `json:"savedTokens"`
	SavedCost     float64 `json:"savedCost"`
}

// Invoice is a persisted, processed invoice document.
type Invoice struct {
	ID               string     `db:"id" json:"id"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
	CustomerName     string     `db:"customer_name" json:"customerName"`
	VendorName       string     `db:"vendor_name" json:"vendorName"`
	InvoiceNumber    string     `db:"invoice_number" json:"invoiceNumber"`
	InvoiceDate      time.Time  `db:"invoice_date" json:"invoiceDate"`
	DueDate          *time.Time `db:"due_date" json:"dueDate"`
	Amount           int64      `db:"amount" json:"amount"` // minor currency units
	Currency         string     `db:"currency" json:"currency"`
	Status           string     `db:"status" json:"status"` // pending, processed, error
	OriginalFileURL  string     `db:"original_file_url" json:"originalFileUrl"`
	Confidence       float64    `db:"confidence" json:"confidence"`
	ExtractionMethod string     `db:"extraction_method" json:"extractionMethod"`
	ProcessingErrors string     `db:"processing_errors" json:"processingErrors"`
}

// Session is a chat session transcript keyed by a caller-supplied identifier.
type Session struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Messages  []SessionMessage `json:"messages"`
}

// SessionMessage is one turn in a session transcript.
type SessionMessage struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"sessionId"`
	Role      string    `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
