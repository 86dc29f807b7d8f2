// Package extractor implements the invoice extraction pipeline: classify the
// document, pre-validate it with a cheap model judgment, consult the prompt
// cache, and only then pay for a structured extraction call.
package extractor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/invoice-extractor/internal/api/openai"
	"github.com/tjfontaine/invoice-extractor/internal/domain"
	"github.com/tjfontaine/invoice-extractor/internal/doctext"
	"github.com/tjfontaine/invoice-extractor/internal/fingerprint"
	"github.com/tjfontaine/invoice-extractor/internal/pricing"
	"github.com/tjfontaine/invoice-extractor/internal/promptcache"
	"github.com/tjfontaine/invoice-extractor/internal/storage"
	"github.com/tjfontaine/invoice-extractor/internal/tokens"
)

// validationExcerptLimit caps how much document text the pre-validation call
// sees. Classification does not need the whole document.
const validationExcerptLimit = 4000

// ChatClient is the slice of the OpenAI client the processor needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error)
}

// Fetcher dereferences a document reference into bytes.
type Fetcher interface {
	Fetch(ctx context.Context, reference string) ([]byte, error)
}

// HTTPFetcher fetches document bytes over HTTP.
type HTTPFetcher struct {
	Client *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context, reference string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reference, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid document reference: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch document: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Config holds the processor's model selection.
type Config struct {
	TextModel   string
	VisionModel string
	MaxTokens   int
}

func (c Config) withDefaults() Config {
	if c.TextModel == "" {
		c.TextModel = "gpt-4-turbo-preview"
	}
	if c.VisionModel == "" {
		c.VisionModel = "gpt-4-vision-preview"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1000
	}
	return c
}

// Deps are the processor's collaborators.
type Deps struct {
	LLM     ChatClient
	Cache   *promptcache.Cache
	Usage   storage.UsageStore
	Prices  *pricing.Table
	Counter *tokens.Counter
	Fetcher Fetcher
	Logger  *slog.Logger
	Config  Config
}

// Processor runs documents through the extraction state machine.
type Processor struct {
	llm     ChatClient
	cache   *promptcache.Cache
	usage   storage.UsageStore
	prices  *pricing.Table
	counter *tokens.Counter
	fetcher Fetcher
	logger  *slog.Logger
	tracer  trace.Tracer
	cfg     Config
}

// New creates a processor. Nil optional deps get working defaults.
func New(deps Deps) *Processor {
	if deps.Prices == nil {
		deps.Prices = pricing.NewDefaultTable()
	}
	if deps.Counter == nil {
		deps.Counter = tokens.NewCounter()
	}
	if deps.Fetcher == nil {
		deps.Fetcher = &HTTPFetcher{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Cache == nil {
		deps.Cache = promptcache.New(nil, false, deps.Logger)
	}
	return &Processor{
		llm:     deps.LLM,
		cache:   deps.Cache,
		usage:   deps.Usage,
		prices:  deps.Prices,
		counter: deps.Counter,
		fetcher: deps.Fetcher,
		logger:  deps.Logger,
		tracer:  otel.Tracer("invoice-extractor/extractor"),
		cfg:     deps.Config.withDefaults(),
	}
}

// ProcessOptions tune a single document submission.
type ProcessOptions struct {
	// ForceNoCache bypasses the cache lookup. A fresh extraction still
	// refreshes the cache entry.
	ForceNoCache bool

	// InvoiceID, when set, is stamped onto the ledger rows this submission
	// produces.
	InvoiceID *string
}

// ProcessDocument runs one document through the pipeline. It returns an error
// only when the document bytes cannot be fetched; every other failure mode,
// model calls included, is recovered into a well-formed result whose
// ExtractionMethod and ProcessingErrors describe what happened.
func (p *Processor) ProcessDocument(ctx context.Context, reference string, opts ProcessOptions) (*domain.ExtractedResult, error) {
	ctx, span := p.tracer.Start(ctx, "process_document",
		trace.WithAttributes(attribute.String("document.reference", reference)))
	defer span.End()

	input, failed, err := p.prepareInput(ctx, reference)
	if err != nil {
		return nil, err
	}
	if failed != nil {
		span.SetAttributes(attribute.String("extraction.method", string(failed.ExtractionMethod)))
		return failed, nil
	}
	span.SetAttributes(attribute.String("document.kind", string(input.Kind)))

	if !p.validate(ctx, input) {
		p.logger.InfoContext(ctx, "document rejected as non-invoice", "reference", reference)
		span.SetAttributes(attribute.Bool("validation.rejected", true))
		result := rejectedResult(reference)
		return &result, nil
	}

	fp := fingerprint.New(input)
	span.SetAttributes(attribute.String("document.fingerprint", fp.String()))

	if !opts.ForceNoCache {
		if hit := p.cache.Lookup(ctx, fp); hit != nil {
			p.logger.InfoContext(ctx, "cache hit", "reference", reference, "fingerprint", fp.String())
			span.SetAttributes(attribute.Bool("cache.hit", true))

			result := hit.Result
			result.OriginalFileURL = reference
			result.Usage = domain.HitEnvelope(hit.OriginalUsage)
			p.recordUsage(ctx, &domain.UsageRecord{
				Operation: "invoice_extraction",
				InvoiceID: opts.InvoiceID,
				Cached:    true,
				CacheKey:  fp.String(),
				CacheHit:  true,

				OriginalPromptTokens:     hit.OriginalUsage.PromptTokens,
				OriginalCompletionTokens: hit.OriginalUsage.CompletionTokens,
				OriginalTotalTokens:      hit.OriginalUsage.TotalTokens,
				OriginalCost:             hit.OriginalUsage.Cost,
			})
			return &result, nil
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	result, usage := p.extract(ctx, input)

	result.OriginalFileURL = reference
	result.Usage = domain.MissEnvelope(usage)
	// A call that never completed charged nothing, so it leaves no ledger row.
	if usage.TotalTokens > 0 {
		p.recordUsage(ctx, &domain.UsageRecord{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
			Cost:             usage.Cost,
			Operation:        "invoice_extraction",
			InvoiceID:        opts.InvoiceID,
			CacheKey:         fp.String(),
		})
	}

	// Only clean extractions are worth replaying; failed ones should retry
	// on resubmission.
	if result.ExtractionMethod != domain.MethodFailed && usage.TotalTokens > 0 {
		p.cache.Save(ctx, fp, fingerprint.RawPrompt(input), *result, usage)
	}

	span.SetAttributes(
		attribute.String("extraction.method", string(result.ExtractionMethod)),
		attribute.Int("usage.total_tokens", usage.TotalTokens),
	)
	return result, nil
}

// prepareInput classifies the reference and reduces it to an extraction
// input. Unreadable documents come back as a recovered failed result.
func (p *Processor) prepareInput(ctx context.Context, reference string) (domain.ExtractionInput, *domain.ExtractedResult, error) {
	if doctext.IsImageReference(reference) {
		return domain.ImageInput(reference), nil, nil
	}

	data, err := p.fetcher.Fetch(ctx, reference)
	if err != nil {
		return domain.ExtractionInput{}, nil, domain.ErrTransport("fetch document", err)
	}

	text, err := doctext.ExtractPDFText(data)
	if err != nil {
		p.logger.WarnContext(ctx, "document text extraction failed", "reference", reference, "error", err)
		result := failedResult(reference, fmt.Sprintf("failed to parse document: %v", err))
		return domain.ExtractionInput{}, &result, nil
	}

	normalized := doctext.Normalize(text)
	if normalized == "" {
		result := failedResult(reference, "document contains no extractable text")
		return domain.ExtractionInput{}, &result, nil
	}
	return domain.TextInput(normalized, reference), nil, nil
}

// validate runs the pre-validation judgment. Its usage is logged but kept out
// of the extraction ledger.
func (p *Processor) validate(ctx context.Context, input domain.ExtractionInput) bool {
	ctx, span := p.tracer.Start(ctx, "validate_document")
	defer span.End()

	var userMsg openai.Message
	var userText string
	model := p.cfg.TextModel
	if input.Kind == domain.InputImage {
		model = p.cfg.VisionModel
		userText = validationImagePrompt
		userMsg = openai.VisionMessage(validationImagePrompt, input.Reference)
	} else {
		userText = validationTextPrompt + truncateExcerpt(input.NormalizedText, validationExcerptLimit)
		userMsg = openai.TextMessage("user", userText)
	}

	resp, err := p.llm.CreateChatCompletion(ctx, &openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.Message{
			openai.TextMessage("system", validationSystemPrompt),
			userMsg,
		},
		MaxTokens: 5,
	})
	if err != nil {
		// A validation call that cannot complete is treated as a negative
		// judgment, not a process fault.
		p.logger.WarnContext(ctx, "validation call failed", "model", model, "error", err)
		return false
	}

	usage := p.resolveUsage(model, resp, validationSystemPrompt, userText)
	span.SetAttributes(attribute.Int("usage.total_tokens", usage.TotalTokens))
	p.logger.InfoContext(ctx, "validation call complete",
		"operation", "invoice_validation",
		"total_tokens", usage.TotalTokens,
		"cost", usage.Cost)

	return isAffirmative(resp.Content())
}

// extract performs the paid extraction call and decodes its output. Every
// failure mode is recovered into a failed result; when the call itself fails
// nothing was charged and the usage comes back zero.
func (p *Processor) extract(ctx context.Context, input domain.ExtractionInput) (*domain.ExtractedResult, domain.TokenUsage) {
	ctx, span := p.tracer.Start(ctx, "extract_document")
	defer span.End()

	var userMsg openai.Message
	var userText string
	model := p.cfg.TextModel
	method := domain.MethodText
	if input.Kind == domain.InputImage {
		model = p.cfg.VisionModel
		method = domain.MethodVision
		userText = extractionImagePrompt
		userMsg = openai.VisionMessage(extractionImagePrompt, input.Reference)
	} else {
		userText = extractionTextPrompt + input.NormalizedText
		userMsg = openai.TextMessage("user", userText)
	}

	resp, err := p.llm.CreateChatCompletion(ctx, &openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.Message{
			openai.TextMessage("system", extractionSystemPrompt),
			userMsg,
		},
		MaxTokens:      p.cfg.MaxTokens,
		ResponseFormat: openai.JSONObjectFormat(),
	})
	if err != nil {
		p.logger.WarnContext(ctx, "extraction call failed", "model", model, "error", err)
		result := failedResult(input.Reference, fmt.Sprintf("extraction call failed: %v", err))
		return &result, domain.TokenUsage{}
	}

	usage := p.resolveUsage(model, resp, extractionSystemPrompt, userText)

	content := resp.Content()
	if content == "" {
		p.logger.WarnContext(ctx, "extraction returned empty completion", "model", model)
		result := failedResult(input.Reference, domain.ErrEmptyCompletion.Error())
		return &result, usage
	}

	result, err := decodeExtraction(content)
	if err != nil {
		p.logger.WarnContext(ctx, "extraction output undecodable", "model", model, "error", err)
		failed := failedResult(input.Reference, err.Error())
		return &failed, usage
	}

	result.ExtractionMethod = method
	return &result, usage
}

// resolveUsage prefers provider-reported usage and falls back to a local
// token count so recorded usage is never silently zero.
func (p *Processor) resolveUsage(model string, resp *openai.ChatCompletionResponse, system, userText string) domain.TokenUsage {
	promptTokens := resp.Usage.PromptTokens
	completionTokens := resp.Usage.CompletionTokens
	if promptTokens == 0 && completionTokens == 0 {
		promptTokens, _ = p.counter.CountMessages(model, system, userText)
		completionTokens, _ = p.counter.Count(model, resp.Content())
	}
	return domain.TokenUsage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		Cost:             p.prices.Cost(model, promptTokens, completionTokens),
	}
}

// recordUsage appends a ledger row; the ledger never fails a request.
func (p *Processor) recordUsage(ctx context.Context, rec *domain.UsageRecord) {
	rec.Timestamp = time.Now().UTC()
	if err := p.usage.AppendUsage(ctx, rec); err != nil {
		p.logger.ErrorContext(ctx, "failed to record usage", "error", err)
	}
}

// truncateExcerpt caps s at limit bytes without splitting a UTF-8 sequence.
func truncateExcerpt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isAffirmative(content string) bool {
	s := strings.ToLower(strings.TrimSpace(content))
	s = strings.Trim(s, `."'!`)
	return s == "yes" || s == "y" || s == "true"
}

// rejectedResult is the well-formed result for a document that failed
// pre-validation.
func rejectedResult(reference string) domain.ExtractedResult {
	return domain.ExtractedResult{
		CustomerName:     domain.PlaceholderNotInvoice,
		VendorName:       domain.PlaceholderNotInvoice,
		InvoiceNumber:    domain.PlaceholderNotInvoice,
		InvoiceDate:      time.Now().UTC(),
		Amount:           0,
		Currency:         "USD",
		Confidence:       0,
		ExtractionMethod: domain.MethodValidationFailed,
		ProcessingErrors: []string{"document was not recognized as an invoice"},
		OriginalFileURL:  reference,
	}
}

// failedResult is the well-formed result for an extraction that could not
// complete.
func failedResult(reference, detail string) domain.ExtractedResult {
	return domain.ExtractedResult{
		CustomerName:     domain.PlaceholderProcessError,
		VendorName:       domain.PlaceholderProcessError,
		InvoiceNumber:    domain.PlaceholderProcessError,
		InvoiceDate:      time.Now().UTC(),
		Amount:           0,
		Currency:         "USD",
		Confidence:       0,
		ExtractionMethod: domain.MethodFailed,
		ProcessingErrors: []string{detail},
		OriginalFileURL:  reference,
	}
}
