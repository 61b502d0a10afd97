package index

import (
	"context"
	"fmt"
	"strings"

	"memcore/internal/embedding"
	"memcore/internal/errs"
	"memcore/internal/logging"
	"memcore/internal/store"
)

// Index builds and queries the hierarchical forest. It implements the
// store's IndexHook, so wiring it into a MemoryStore makes every
// qualifying write land here.
type Index struct {
	engine  embedding.Engine
	vectors VectorStore
	nodes   *NodeStore
}

// New creates an index over the given engine and vector store.
func New(engine embedding.Engine, vectors VectorStore) *Index {
	return &Index{
		engine:  engine,
		vectors: vectors,
		nodes:   NewNodeStore(),
	}
}

// Nodes exposes the node store for retrieval.
func (ix *Index) Nodes() *NodeStore { return ix.nodes }

// IndexAtom rebuilds the forest for one atom. A superseded atom's old
// forest is removed first, so the index always reflects the revision it
// last saw. Node ids are deterministic paths under the atom id.
func (ix *Index) IndexAtom(ctx context.Context, a *store.Atom) error {
	timer := logging.StartTimer(logging.CategoryIndex, "IndexAtom")
	defer timer.Stop()

	if a.Content.Inline == "" {
		return errs.Validationf("atom %s has no inline text to index", a.ID)
	}

	if old := ix.nodes.DeleteAtom(a.ID); len(old) > 0 {
		if err := ix.vectors.Delete(ctx, old...); err != nil {
			return err
		}
	}

	doc := &Node{
		ID:       a.ID,
		AtomID:   a.ID,
		Level:    LevelDocument,
		Text:     a.Content.Inline,
		Priority: a.Priority(),
		Created:  a.TTStart,
	}
	forest := []*Node{doc}

	for si, sec := range SplitSections(a.Content.Inline) {
		secText := strings.Join(sec.Paragraphs, "\n\n")
		if sec.Title != "" {
			secText = sec.Title + "\n\n" + secText
		}
		secNode := &Node{
			ID:       fmt.Sprintf("%s/s%d", a.ID, si),
			AtomID:   a.ID,
			Level:    LevelSection,
			ParentID: doc.ID,
			Text:     secText,
			Title:    sec.Title,
			Priority: doc.Priority,
			Created:  a.TTStart,
		}
		doc.ChildIDs = append(doc.ChildIDs, secNode.ID)
		forest = append(forest, secNode)

		for pi, para := range sec.Paragraphs {
			paraNode := &Node{
				ID:       fmt.Sprintf("%s/p%d", secNode.ID, pi),
				AtomID:   a.ID,
				Level:    LevelParagraph,
				ParentID: secNode.ID,
				Text:     para,
				Priority: doc.Priority,
				Created:  a.TTStart,
			}
			secNode.ChildIDs = append(secNode.ChildIDs, paraNode.ID)
			forest = append(forest, paraNode)

			for ti, sentence := range SplitSentences(para) {
				sentNode := &Node{
					ID:       fmt.Sprintf("%s/t%d", paraNode.ID, ti),
					AtomID:   a.ID,
					Level:    LevelSentence,
					ParentID: paraNode.ID,
					Text:     sentence,
					Priority: doc.Priority,
					Created:  a.TTStart,
				}
				paraNode.ChildIDs = append(paraNode.ChildIDs, sentNode.ID)
				forest = append(forest, sentNode)
			}
		}
	}

	texts := make([]string, len(forest))
	for i, n := range forest {
		texts[i] = n.Text
	}
	vecs, err := ix.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	for i, n := range forest {
		if err := ix.vectors.Upsert(ctx, n.ID, vecs[i]); err != nil {
			return err
		}
		ix.nodes.Put(n)
	}

	logging.IndexDebug("indexed atom %s: %d nodes", a.ID, len(forest))
	return nil
}

// RemoveAtom drops an atom's forest from nodes and vectors.
func (ix *Index) RemoveAtom(ctx context.Context, atomID string) error {
	old := ix.nodes.DeleteAtom(atomID)
	if len(old) == 0 {
		return nil
	}
	return ix.vectors.Delete(ctx, old...)
}

// Hit is a sentence node with its query similarity.
type Hit struct {
	Node       *Node
	Similarity float64
}

// Query embeds the query text and returns the k most similar nodes at
// the target level, most similar first.
func (ix *Index) Query(ctx context.Context, query string, level Level, k int) ([]Hit, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "Query")
	defer timer.Stop()

	vec, err := ix.engine.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return ix.QueryVector(ctx, vec, level, k)
}

// QueryVector is Query with a caller-supplied embedding, so the
// retriever can embed once and reuse the vector. The vector store holds
// every level, so the query over-fetches and keeps only nodes at the
// target level.
func (ix *Index) QueryVector(ctx context.Context, vec []float32, level Level, k int) ([]Hit, error) {
	matches, err := ix.vectors.Query(ctx, vec, k*4+16)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, k)
	for _, m := range matches {
		n := ix.nodes.Get(m.ID)
		if n == nil || n.Level != level {
			continue
		}
		hits = append(hits, Hit{Node: n, Similarity: m.Similarity})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Embed exposes the engine for callers that need the query vector.
func (ix *Index) Embed(ctx context.Context, text string) ([]float32, error) {
	return ix.engine.Embed(ctx, text)
}

// Stats summarizes the index contents.
type Stats struct {
	Atoms   int            `json:"atoms"`
	Nodes   map[string]int `json:"nodes"`
	Vectors int            `json:"vectors"`
}

// Stats returns current node and vector counts.
func (ix *Index) Stats() Stats {
	counts := ix.nodes.Count()
	named := make(map[string]int, len(counts))
	for lvl, n := range counts {
		named[lvl.String()] = n
	}
	return Stats{
		Atoms:   len(ix.nodes.Atoms()),
		Nodes:   named,
		Vectors: ix.vectors.Count(),
	}
}
