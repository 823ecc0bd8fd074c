// Package tokens counts dialogue tokens with tiktoken, falling back to a
// character heuristic when the encoding is unavailable (tiktoken downloads
// its BPE tables on first use).
package tokens

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/MrWong99/katia/pkg/types"
)

const (
	// charsPerToken is the heuristic ratio used when no encoding is loaded.
	charsPerToken = 4

	// perMessageOverhead accounts for the role and separator tokens that chat
	// formats add around every message.
	perMessageOverhead = 4

	// replyPriming is added once per conversation for the assistant reply header.
	replyPriming = 3

	defaultEncoding = "cl100k_base"
)

// encodingByPrefix maps model name prefixes to tiktoken encodings. Longer
// prefixes are listed first so that "gpt-4o" wins over "gpt-4".
var encodingByPrefix = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", "o200k_base"},
	{"o1", "o200k_base"},
	{"o3", "o200k_base"},
	{"gpt-4", "cl100k_base"},
	{"gpt-3.5", "cl100k_base"},
}

// EncodingFor returns the tiktoken encoding name for model. Unknown models use
// cl100k_base, which is a reasonable approximation for most chat models.
func EncodingFor(model string) string {
	lower := strings.ToLower(model)
	for _, e := range encodingByPrefix {
		if strings.HasPrefix(lower, e.prefix) {
			return e.encoding
		}
	}
	return defaultEncoding
}

// Counter counts tokens for one model. The zero value is not usable; call
// [NewCounter]. It is safe for concurrent use.
type Counter struct {
	encoding string
	load     func(string) (*tiktoken.Tiktoken, error)

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewCounter returns a counter for model. The encoding is loaded lazily.
func NewCounter(model string) *Counter {
	return &Counter{
		encoding: EncodingFor(model),
		load:     tiktoken.GetEncoding,
	}
}

// newEstimatingCounter returns a counter that never loads an encoding.
func newEstimatingCounter() *Counter {
	return &Counter{
		encoding: defaultEncoding,
		load: func(name string) (*tiktoken.Tiktoken, error) {
			return nil, fmt.Errorf("tokens: encoding %s disabled", name)
		},
	}
}

func (c *Counter) init() error {
	c.once.Do(func() {
		enc, err := c.load(c.encoding)
		if err != nil {
			c.initErr = fmt.Errorf("tokens: load encoding %s: %w", c.encoding, err)
			slog.Warn("tiktoken unavailable, falling back to estimate", "encoding", c.encoding, "err", err)
			return
		}
		c.enc = enc
	})
	return c.initErr
}

// Text returns the token count of s.
func (c *Counter) Text(s string) int {
	if c.init() != nil {
		return Estimate(s)
	}
	return len(c.enc.Encode(s, nil, nil))
}

// Messages returns the token count of a chat history including per-message
// overhead. It never returns an error; the signature matches
// llm.Provider.CountTokens so adapters can delegate directly.
func (c *Counter) Messages(messages []types.Message) (int, error) {
	total := replyPriming
	for _, m := range messages {
		total += perMessageOverhead
		total += c.Text(string(m.Role))
		total += c.Text(m.Content)
	}
	return total, nil
}

// Estimate approximates the token count of s using the 1-token-per-4-characters
// heuristic. Non-empty strings count as at least one token.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}
