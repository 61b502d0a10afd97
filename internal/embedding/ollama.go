package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"memcore/internal/errs"
)

// Ollama embeds through a local Ollama server's /api/embeddings
// endpoint. The vector dimension is whatever the model returns; it is
// learned from the first successful call.
type Ollama struct {
	endpoint string
	model    string
	client   *http.Client

	mu   sync.Mutex
	dims int
}

// NewOllama creates an Ollama engine. No connection is made until the
// first Embed.
func NewOllama(endpoint, model string) *Ollama {
	return &Ollama{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := withRetry(ctx, 3, "ollama embed", func() error {
		body, err := json.Marshal(ollamaRequest{Model: o.model, Prompt: text})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			o.endpoint+"/api/embeddings", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("ollama returned %d: %s", resp.StatusCode, data)
		}

		var parsed ollamaResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("failed to decode ollama response: %w", err)
		}
		if len(parsed.Embedding) == 0 {
			return fmt.Errorf("ollama returned an empty embedding")
		}
		vec = parsed.Embedding
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.dims == 0 {
		o.dims = len(vec)
	} else if o.dims != len(vec) {
		o.mu.Unlock()
		return nil, errs.Dependencyf("ollama dimension changed from %d to %d", o.dims, len(vec))
	}
	o.mu.Unlock()
	return vec, nil
}

// EmbedBatch embeds one text per request; the endpoint takes a single
// prompt at a time.
func (o *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, o, texts)
}

func (o *Ollama) Dimensions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dims
}

func (o *Ollama) Name() string { return "ollama/" + o.model }
