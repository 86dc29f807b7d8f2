// Package doctext turns raw document bytes into normalized text and decides
// which extraction path (text or vision) a reference should take.
package doctext

import (
	"path"
	"strings"
	"unicode"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// IsImageReference reports whether a file path or URL points at an image,
// by extension heuristic. Everything else is treated as a text document.
func IsImageReference(ref string) bool {
	// Strip query/fragment noise from URLs before looking at the extension.
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	return imageExtensions[strings.ToLower(path.Ext(ref))]
}

// Normalize collapses runs of whitespace to single spaces, normalizes line
// endings, and trims. Two documents differing only in incidental whitespace
// normalize to identical text, which is what the content fingerprint hashes.
func Normalize(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		sb.WriteRune(r)
		prevSpace = false
	}
	return strings.TrimRight(sb.String(), " ")
}
