package tokens

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the encoding used by the OpenAI embedding and chat models.
const DefaultEncoding = "cl100k_base"

// Tiktoken counts tokens with the real BPE tokenizer.
type Tiktoken struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding. An empty name selects DefaultEncoding.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading tiktoken encoding %q: %w", encoding, err)
	}
	return &Tiktoken{encoding: enc}, nil
}

// Estimate returns the exact token count of the trimmed text.
func (t *Tiktoken) Estimate(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	return len(t.encoding.Encode(trimmed, nil, nil))
}

// New returns the estimator selected by name: "heuristic" (or empty) or "tiktoken".
func New(name string) (Estimator, error) {
	switch name {
	case "", "heuristic":
		return Heuristic, nil
	case "tiktoken":
		return NewTiktoken(DefaultEncoding)
	default:
		return nil, fmt.Errorf("unknown token estimator %q", name)
	}
}

var _ Estimator = (*Tiktoken)(nil)
