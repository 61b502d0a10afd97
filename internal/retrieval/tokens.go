// Package retrieval implements two-stage context assembly: a coarse
// vector recall over the hierarchical index, a weighted rerank, greedy
// near-duplicate removal, and token-budget packing with optional
// age-based compression.
package retrieval

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"memcore/internal/logging"
)

// charsPerToken is the heuristic used when no tokenizer is available.
const charsPerToken = 4

// TokenCounter counts tokens with a real BPE tokenizer when one can be
// loaded, falling back to a characters-per-token estimate otherwise.
// The fallback overestimates slightly for English prose, which errs on
// the safe side of a budget.
type TokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter. The tokenizer is loaded lazily on
// first use so construction never touches the network.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (tc *TokenCounter) load() {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logging.RetrievalDebug("tokenizer unavailable, using %d chars/token heuristic: %v", charsPerToken, err)
		return
	}
	tc.enc = enc
}

// Count returns the token count of text. Empty text is zero; any other
// text counts at least one.
func (tc *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	tc.once.Do(tc.load)
	if tc.enc != nil {
		return len(tc.enc.Encode(text, nil, nil))
	}
	n := (len(text) + charsPerToken - 1) / charsPerToken
	if n < 1 {
		n = 1
	}
	return n
}
