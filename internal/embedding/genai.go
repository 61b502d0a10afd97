package embedding

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"memcore/internal/errs"
)

// GenAI embeds through the Google GenAI API.
type GenAI struct {
	apiKey string
	model  string

	mu     sync.Mutex
	client *genai.Client
	dims   int
}

// NewGenAI creates a GenAI engine. The client is built lazily on the
// first Embed so that constructing a config with no network is cheap.
func NewGenAI(apiKey, model string) (*GenAI, error) {
	if apiKey == "" {
		return nil, errs.Validationf("genai provider requires an API key")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	return &GenAI{apiKey: apiKey, model: model}, nil
}

func (g *GenAI) getClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errs.Dependencyf("failed to create genai client: %v", err)
	}
	g.client = client
	return client, nil
}

func (g *GenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	client, err := g.getClient(ctx)
	if err != nil {
		return nil, err
	}

	var vec []float32
	err = withRetry(ctx, 3, "genai embed", func() error {
		resp, err := client.Models.EmbedContent(ctx, g.model, genai.Text(text), nil)
		if err != nil {
			return err
		}
		if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
			return fmt.Errorf("genai returned no embedding")
		}
		vec = resp.Embeddings[0].Values
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.dims == 0 {
		g.dims = len(vec)
	}
	g.mu.Unlock()
	return vec, nil
}

// EmbedBatch sends all texts in one EmbedContent call and unpacks the
// per-content embeddings in order.
func (g *GenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	client, err := g.getClient(ctx)
	if err != nil {
		return nil, err
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	var out [][]float32
	err = withRetry(ctx, 3, "genai embed batch", func() error {
		resp, err := client.Models.EmbedContent(ctx, g.model, contents, nil)
		if err != nil {
			return err
		}
		if len(resp.Embeddings) != len(texts) {
			return fmt.Errorf("genai returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
		}
		out = make([][]float32, len(texts))
		for i, emb := range resp.Embeddings {
			if len(emb.Values) == 0 {
				return fmt.Errorf("genai returned an empty embedding at %d", i)
			}
			out[i] = emb.Values
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.dims == 0 && len(out) > 0 {
		g.dims = len(out[0])
	}
	g.mu.Unlock()
	return out, nil
}

func (g *GenAI) Dimensions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dims
}

func (g *GenAI) Name() string { return "genai/" + g.model }
