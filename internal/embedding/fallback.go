package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

// Fallback is a deterministic hash embedding: each token and token
// bigram is hashed into a bucket with a hashed sign, then the vector is
// normalized. It captures lexical overlap only, but it is fast, needs
// no model, and always produces the same vector for the same text,
// which is exactly what tests and model-free deployments need.
type Fallback struct {
	dims int
}

// NewFallback creates a fallback engine. Dimensions below 8 are raised
// to 8.
func NewFallback(dims int) *Fallback {
	if dims < 8 {
		dims = 8
	}
	return &Fallback{dims: dims}
}

func (f *Fallback) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make([]float32, f.dims)
	tokens := tokenize(text)
	for i, tok := range tokens {
		f.add(v, tok)
		if i+1 < len(tokens) {
			f.add(v, tok+" "+tokens[i+1])
		}
	}
	Normalize(v)
	return v, nil
}

func (f *Fallback) add(v []float32, feature string) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(f.dims))
	if sum&(1<<63) != 0 {
		v[idx] -= 1
	} else {
		v[idx] += 1
	}
}

func (f *Fallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, f, texts)
}

func (f *Fallback) Dimensions() int { return f.dims }

func (f *Fallback) Name() string { return fmt.Sprintf("fallback-hash-%d", f.dims) }

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return ' '
	}, text)))
}
