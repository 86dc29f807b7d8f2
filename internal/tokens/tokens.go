// Package tokens provides local token counting so usage accounting never
// silently records zero when a provider response omits usage. It prefers
// tiktoken encodings and falls back to a character-ratio estimate for models
// without a known encoding.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens for a model's text content.
type Counter struct {
	mu         sync.RWMutex
	codecCache map[tokenizer.Encoding]tokenizer.Codec

	// charsPerToken drives the fallback estimate when no encoding is known.
	charsPerToken float64
}

// NewCounter creates a token counter.
func NewCounter() *Counter {
	return &Counter{
		codecCache:    make(map[tokenizer.Encoding]tokenizer.Codec),
		charsPerToken: 4.0,
	}
}

// Count returns the token count of text for a model, and whether the value is
// an estimate rather than an exact tiktoken count.
func (c *Counter) Count(model, text string) (count int, estimated bool) {
	codec, err := c.codec(model)
	if err != nil {
		return int(float64(len(text)) / c.charsPerToken), true
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return int(float64(len(text)) / c.charsPerToken), true
	}
	return len(ids), false
}

// CountMessages approximates chat-message token accounting: per-message and
// role overhead plus assistant priming, per OpenAI's documented scheme for
// gpt-4/gpt-3.5 class models.
func (c *Counter) CountMessages(model, system string, userContents ...string) (count int, estimated bool) {
	const (
		tokensPerMessage = 3
		tokensPerRole    = 1
		assistantPriming = 3
	)

	total := assistantPriming
	if system != "" {
		n, est := c.Count(model, system)
		total += n + tokensPerMessage + tokensPerRole
		estimated = estimated || est
	}
	for _, content := range userContents {
		n, est := c.Count(model, content)
		total += n + tokensPerMessage + tokensPerRole
		estimated = estimated || est
	}
	return total, estimated
}

func (c *Counter) codec(model string) (tokenizer.Codec, error) {
	if codec, err := tokenizer.ForModel(tokenizer.Model(strings.ToLower(model))); err == nil {
		return codec, nil
	}

	encoding := modelEncoding(model)

	c.mu.RLock()
	cached, ok := c.codecCache[encoding]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.codecCache[encoding] = codec
	c.mu.Unlock()
	return codec, nil
}

func modelEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "gpt-5"), strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}
