// Package tokenizer resolves model-specific token encodings.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding is used when a model has no registered encoding table.
const fallbackEncoding = "cl100k_base"

// Encoder counts tokens for a model. Implementations must be deterministic:
// the count is purely a function of (model, text).
type Encoder interface {
	Count(model, text string) int
}

// Tiktoken is an Encoder backed by BPE encoding tables, cached per model.
type Tiktoken struct {
	mu    sync.Mutex
	cache map[string]*tiktoken.Tiktoken
}

// NewTiktoken constructs an empty encoder cache.
func NewTiktoken() *Tiktoken {
	return &Tiktoken{cache: make(map[string]*tiktoken.Tiktoken)}
}

// Count returns the number of tokens in text under the model's encoding,
// falling back to cl100k_base for unknown models.
func (t *Tiktoken) Count(model, text string) int {
	enc := t.encodingFor(model)
	if enc == nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}

func (t *Tiktoken) encodingFor(model string) *tiktoken.Tiktoken {
	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok := t.cache[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil
		}
	}
	t.cache[model] = enc
	return enc
}
