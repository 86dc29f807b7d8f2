package extractor

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tjfontaine/invoice-extractor/internal/domain"
)

// extractionSchema type-checks the model's output before any field is
// trusted. Fields are optional (missing ones are default-filled) but a
// present field with the wrong type is a decode failure.
const extractionSchema = `{
  "type": "object",
  "properties": {
    "customerName": {"type": ["string", "null"]},
    "vendorName": {"type": ["string", "null"]},
    "invoiceNumber": {"type": ["string", "null"]},
    "invoiceDate": {"type": ["string", "null"]},
    "dueDate": {"type": ["string", "null"]},
    "amount": {"type": ["number", "null"]},
    "currency": {"type": ["string", "null"]},
    "confidence": {"type": ["number", "null"]}
  }
}`

var compiledExtractionSchema = jsonschema.MustCompileString("extraction.json", extractionSchema)

type rawExtraction struct {
	CustomerName  *string  `json:"customerName"`
	VendorName    *string  `json:"vendorName"`
	InvoiceNumber *string  `json:"invoiceNumber"`
	InvoiceDate   *string  `json:"invoiceDate"`
	DueDate       *string  `json:"dueDate"`
	Amount        *float64 `json:"amount"`
	Currency      *string  `json:"currency"`
	Confidence    *float64 `json:"confidence"`
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "01/02/2006", "2006-01-02 15:04:05"}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// stripCodeFences removes a markdown fence wrapper if the model added one
// despite instructions, then falls back to the outermost JSON object.
func stripCodeFences(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		if idx := strings.IndexByte(content, '\n'); idx >= 0 {
			content = content[idx+1:]
		}
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}
	if !strings.HasPrefix(content, "{") {
		start := strings.IndexByte(content, '{')
		end := strings.LastIndexByte(content, '}')
		if start >= 0 && end > start {
			content = content[start : end+1]
		}
	}
	return content
}

// decodeExtraction turns raw model output into a well-formed result.
// Missing fields get documented defaults; malformed JSON or wrong types
// return an error for the caller to recover into a failed result.
func decodeExtraction(content string) (domain.ExtractedResult, error) {
	cleaned := stripCodeFences(content)

	var untyped any
	if err := json.Unmarshal([]byte(cleaned), &untyped); err != nil {
		return domain.ExtractedResult{}, fmt.Errorf("model output is not valid JSON: %w", err)
	}
	if err := compiledExtractionSchema.Validate(untyped); err != nil {
		return domain.ExtractedResult{}, fmt.Errorf("model output failed schema validation: %w", err)
	}

	var raw rawExtraction
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return domain.ExtractedResult{}, fmt.Errorf("model output undecodable: %w", err)
	}

	result := domain.ExtractedResult{
		CustomerName:  stringOrNotFound(raw.CustomerName),
		VendorName:    stringOrNotFound(raw.VendorName),
		InvoiceNumber: stringOrNotFound(raw.InvoiceNumber),
		Currency:      "USD",
		Confidence:    0.5,
	}

	if raw.Amount != nil {
		result.Amount = int64(math.Round(*raw.Amount))
	}
	if raw.Currency != nil && strings.TrimSpace(*raw.Currency) != "" {
		result.Currency = strings.ToUpper(strings.TrimSpace(*raw.Currency))
	}
	if raw.Confidence != nil && *raw.Confidence >= 0 && *raw.Confidence <= 1 {
		result.Confidence = *raw.Confidence
	}

	if raw.InvoiceDate != nil {
		if t, ok := parseDate(*raw.InvoiceDate); ok {
			result.InvoiceDate = t
		}
	}
	if result.InvoiceDate.IsZero() {
		result.InvoiceDate = time.Now().UTC()
		result.ProcessingErrors = append(result.ProcessingErrors, "invoice date missing or unparseable")
	}

	if raw.DueDate != nil {
		if t, ok := parseDate(*raw.DueDate); ok {
			result.DueDate = &t
		}
	}

	return result, nil
}

func stringOrNotFound(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return domain.PlaceholderNotFound
	}
	return strings.TrimSpace(*s)
}
