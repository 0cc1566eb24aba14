package llm

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used to estimate prompt size.
const DefaultEncoding = "cl100k_base"

// TokenCounter counts prompt tokens. The zero value and a nil counter
// fall back to a four-characters-per-token estimate.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads encoding. When the encoding cannot be loaded the
// counter estimates instead of failing.
func NewTokenCounter(encoding string) *TokenCounter {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		slog.Warn("Token encoding unavailable, estimating token counts", "encoding", encoding, "error", err)
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

// Count returns the number of tokens in text.
func (c *TokenCounter) Count(text string) int {
	if c == nil || c.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountMessages returns the token count of every message content.
func (c *TokenCounter) CountMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += c.Count(m.Content)
	}
	return total
}
