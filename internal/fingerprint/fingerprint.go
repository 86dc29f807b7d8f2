// Package fingerprint computes deterministic content fingerprints used as
// cache keys for extraction results.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/tjfontaine/invoice-extractor/internal/domain"
)

// Fingerprint is a hex-encoded SHA-256 digest of an extraction input's
// canonical byte representation.
type Fingerprint string

// New computes the fingerprint for an extraction input. Text inputs hash the
// normalized text, so documents differing only in incidental whitespace (which
// normalization removes upstream) share a key. Image inputs hash the reference
// string — image bytes are not re-fetched for hashing, so two URLs serving
// identical bytes get distinct keys.
func New(input domain.ExtractionInput) Fingerprint {
	var canonical string
	switch input.Kind {
	case domain.InputImage:
		canonical = input.Reference
	default:
		canonical = input.NormalizedText
	}
	sum := sha256.Sum256([]byte(canonical))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// RawPrompt returns the stored-prompt form of an input, retained alongside the
// cache entry for audit.
func RawPrompt(input domain.ExtractionInput) string {
	if input.Kind == domain.InputImage {
		return input.Reference
	}
	return input.NormalizedText
}

func (f Fingerprint) String() string { return string(f) }
