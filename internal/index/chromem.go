package index

import (
	"context"
	"fmt"
	"sort"

	chromem "github.com/philippgille/chromem-go"

	"memcore/internal/errs"
)

// ChromemVectors persists embeddings through chromem-go, an embedded
// pure-Go vector database. Documents carry precomputed embeddings, so
// chromem's own embedding function is never invoked.
type ChromemVectors struct {
	db  *chromem.DB
	col *chromem.Collection
}

const collectionName = "memcore-nodes"

// NewChromemVectors opens a persistent vector store under dir. An empty
// dir keeps everything in memory.
func NewChromemVectors(dir string) (*ChromemVectors, error) {
	var (
		db  *chromem.DB
		err error
	)
	if dir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector database: %w", err)
		}
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector collection: %w", err)
	}
	return &ChromemVectors{db: db, col: col}, nil
}

func (c *ChromemVectors) Upsert(ctx context.Context, id string, vec []float32) error {
	err := c.col.AddDocument(ctx, chromem.Document{ID: id, Embedding: vec, Content: id})
	if err != nil {
		return errs.Dependencyf("failed to store vector %s: %v", id, err)
	}
	return nil
}

func (c *ChromemVectors) Query(ctx context.Context, vec []float32, k int) ([]Match, error) {
	// chromem rejects nResults above the collection size.
	if n := c.col.Count(); k > n {
		k = n
	}
	if k == 0 {
		return nil, nil
	}
	results, err := c.col.QueryEmbedding(ctx, vec, k, nil, nil)
	if err != nil {
		return nil, errs.Dependencyf("vector query failed: %v", err)
	}
	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{ID: r.ID, Similarity: float64(r.Similarity)}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
	return matches, nil
}

func (c *ChromemVectors) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.col.Delete(ctx, nil, nil, ids...); err != nil {
		return errs.Dependencyf("failed to delete vectors: %v", err)
	}
	return nil
}

func (c *ChromemVectors) Count() int { return c.col.Count() }
