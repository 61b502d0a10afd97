package index

import (
	"context"
	"sort"
	"sync"

	"memcore/internal/embedding"
)

// Match is one vector store hit.
type Match struct {
	ID         string
	Similarity float64
}

// VectorStore holds sentence embeddings and answers nearest-neighbor
// queries. Two implementations exist: an in-memory exact scan and a
// chromem-backed persistent store. Both return matches ordered by
// similarity descending with ascending id as the tie break, which keeps
// retrieval deterministic.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vec []float32) error
	Query(ctx context.Context, vec []float32, k int) ([]Match, error)
	Delete(ctx context.Context, ids ...string) error
	Count() int
}

// MemoryVectors is the exact-scan implementation.
type MemoryVectors struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewMemoryVectors creates an empty in-memory vector store.
func NewMemoryVectors() *MemoryVectors {
	return &MemoryVectors{vectors: make(map[string][]float32)}
}

func (m *MemoryVectors) Upsert(ctx context.Context, id string, vec []float32) error {
	cp := make([]float32, len(vec))
	copy(cp, vec)
	m.mu.Lock()
	m.vectors[id] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryVectors) Query(ctx context.Context, vec []float32, k int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	matches := make([]Match, 0, len(m.vectors))
	for id, v := range m.vectors {
		matches = append(matches, Match{ID: id, Similarity: embedding.CosineSimilarity(vec, v)})
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *MemoryVectors) Delete(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	for _, id := range ids {
		delete(m.vectors, id)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryVectors) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}
