package llm

import (
	"strings"
	"sync"

	"eino_agent_router/pkg"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens in a text. The governor and the compactor must
// share one instance so their arithmetic agrees.
type TokenCounter interface {
	Count(text string) int
}

// CountMessages sums the token cost of message contents
func CountMessages(c TokenCounter, msgs []pkg.Message) int {
	total := 0
	for _, m := range msgs {
		total += c.Count(m.Content)
	}
	return total
}

// DefaultEncoding is the BPE encoding used by the tiktoken counter
const DefaultEncoding = "cl100k_base"

// TiktokenCounter counts with a BPE encoding. When the encoding cannot be
// loaded it falls back to one token per three characters.
type TiktokenCounter struct {
	once     sync.Once
	encoding string
	enc      *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a counter for encoding. The encoding is loaded
// lazily on first use.
func NewTiktokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &TiktokenCounter{encoding: encoding}
}

// Count returns the number of tokens in text
func (t *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err == nil {
			t.enc = enc
		}
	})
	if t.enc == nil {
		return len(text) / 3
	}
	return len(t.enc.Encode(text, nil, nil))
}

// WordCounter counts whitespace-separated words scaled by a tokens-per-word
// ratio. It needs no encoding data, which makes it predictable in tests.
type WordCounter struct {
	Ratio float64
}

// Count returns the estimated number of tokens in text
func (w WordCounter) Count(text string) int {
	ratio := w.Ratio
	if ratio <= 0 {
		ratio = 1
	}
	return int(float64(len(strings.Fields(text))) * ratio)
}
