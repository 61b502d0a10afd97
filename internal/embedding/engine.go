// Package embedding provides the vector embedding engines behind the
// semantic index. Three providers are supported: a local Ollama server,
// the Google GenAI API, and a deterministic hash fallback that needs no
// model at all. Provider failures surface as Dependency errors after
// bounded retries.
package embedding

import (
	"context"
	"fmt"
	"math"
	"time"

	"memcore/internal/config"
	"memcore/internal/errs"
	"memcore/internal/logging"
)

// Engine turns text into a fixed-dimension vector.
type Engine interface {
	// Embed returns the vector for text. Implementations must be safe
	// for concurrent use.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in order. The result has one vector per
	// input at the same position.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the length of every vector this engine produces.
	Dimensions() int

	// Name identifies the provider and model for logs and witnesses.
	Name() string
}

// embedEach implements EmbedBatch for providers whose API takes one
// text per call.
func embedEach(ctx context.Context, e Engine, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// New builds the configured engine.
func New(cfg config.EmbeddingConfig) (Engine, error) {
	switch cfg.Provider {
	case "", "fallback":
		return NewFallback(cfg.FallbackDimensions), nil
	case "ollama":
		return NewOllama(cfg.OllamaEndpoint, cfg.OllamaModel), nil
	case "genai":
		return NewGenAI(cfg.GenAIAPIKey, cfg.GenAIModel)
	default:
		return nil, errs.Validationf("unknown embedding provider %q", cfg.Provider)
	}
}

// CosineSimilarity computes the cosine of the angle between two
// vectors. Mismatched dimensions or zero vectors score zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize scales v to unit length in place. Zero vectors are left
// untouched.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// withRetry runs fn up to attempts times with exponential backoff,
// classifying the final failure. Context expiry is a Timeout; anything
// else from a provider is a Dependency error.
func withRetry(ctx context.Context, attempts int, op string, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	backoff := 100 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return errs.Timeoutf("%s canceled: %v", op, err)
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if i < attempts-1 {
			logging.EmbeddingDebug("%s attempt %d failed, retrying in %s: %v", op, i+1, backoff, lastErr)
			select {
			case <-ctx.Done():
				return errs.Timeoutf("%s canceled during backoff: %v", op, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return errs.Dependencyf("%s failed after %d attempts: %v", op, attempts, lastErr)
}
