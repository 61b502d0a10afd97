package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"memcore/internal/compress"
	"memcore/internal/config"
	"memcore/internal/embedding"
	"memcore/internal/errs"
	"memcore/internal/index"
	"memcore/internal/logging"
)

// Request describes one retrieval.
type Request struct {
	Query string

	// TokenBudget overrides the configured budget when positive.
	TokenBudget int

	// Level overrides the configured target level when non-empty.
	Level string

	// Boosts are per-atom relevance nudges in [0,1], applied through
	// the boost weight.
	Boosts map[string]float64

	// Contradicts, when set together with the config flag, is consulted
	// during packing: a candidate contradicting an already selected
	// item is dropped.
	Contradicts func(a, b string) bool
}

// Item is one selected piece of context.
type Item struct {
	NodeID     string  `json:"node_id"`
	AtomID     string  `json:"atom_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
	Tokens     int     `json:"tokens"`
	Compressed bool    `json:"compressed"`
}

// Metrics reports what each stage did.
type Metrics struct {
	CoarseCount       int                   `json:"coarse_count"`
	AfterMinRelevance int                   `json:"after_min_relevance"`
	DuplicatesDropped int                   `json:"duplicates_dropped"`
	ConflictsDropped  int                   `json:"conflicts_dropped"`
	TokensUsed        int                   `json:"tokens_used"`
	TokenBudget       int                   `json:"token_budget"`
	CompressionAudit  []compress.AuditEntry `json:"compression_audit,omitempty"`
	Elapsed           time.Duration         `json:"elapsed"`
}

// Selection is the retrieval result.
type Selection struct {
	Items   []Item  `json:"items"`
	Metrics Metrics `json:"metrics"`
}

// Context renders the selection as a single prompt-ready string.
func (s *Selection) Context() string {
	parts := make([]string, len(s.Items))
	for i, item := range s.Items {
		parts[i] = item.Text
	}
	return strings.Join(parts, "\n\n")
}

// Retriever runs the pipeline over one index.
type Retriever struct {
	cfg    config.RetrievalConfig
	ix     *index.Index
	comp   *compress.Compressor
	tokens *TokenCounter
	clock  func() time.Time

	freshness time.Duration
}

// New creates a retriever.
func New(cfg *config.Config, ix *index.Index) *Retriever {
	return &Retriever{
		cfg:       cfg.Retrieval,
		ix:        ix,
		comp:      compress.New(cfg.Compression),
		tokens:    NewTokenCounter(),
		clock:     time.Now,
		freshness: time.Duration(cfg.Compression.FreshnessDays) * 24 * time.Hour,
	}
}

// SetClock replaces the wall clock. Test hook.
func (r *Retriever) SetClock(fn func() time.Time) { r.clock = fn }

type candidate struct {
	node       *index.Node
	similarity float64
	score      float64
	vector     []float32
}

// Retrieve runs coarse recall, rerank, dedup, and packing. Context
// expiry at any stage surfaces as a Timeout. A budget too small for
// even the best candidate is not an error: the selection comes back
// empty with its metrics filled in.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Selection, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "Retrieve")
	defer timer.Stop()
	started := r.clock()

	if strings.TrimSpace(req.Query) == "" {
		return nil, errs.Validationf("query is empty")
	}
	budget := req.TokenBudget
	if budget <= 0 {
		budget = r.cfg.TokenBudget
	}
	levelName := req.Level
	if levelName == "" {
		levelName = r.cfg.TargetLevel
	}
	if levelName == "" {
		levelName = "paragraph"
	}
	level, err := index.ParseLevel(levelName)
	if err != nil {
		return nil, errs.Validationf("%v", err)
	}

	queryVec, err := r.ix.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	if err := stageCheck(ctx, "coarse recall"); err != nil {
		return nil, err
	}

	// Stage one: coarse recall at the target level.
	hits, err := r.ix.QueryVector(ctx, queryVec, level, r.cfg.CoarseK)
	if err != nil {
		return nil, err
	}

	metrics := Metrics{CoarseCount: len(hits), TokenBudget: budget}
	candidates := make([]candidate, 0, len(hits))
	for _, h := range hits {
		if h.Similarity < r.cfg.MinRelevance {
			continue
		}
		candidates = append(candidates, candidate{node: h.Node, similarity: h.Similarity})
	}
	metrics.AfterMinRelevance = len(candidates)

	if err := stageCheck(ctx, "rerank"); err != nil {
		return nil, err
	}

	// Stage two: weighted rerank. Node id ascending breaks score ties
	// so the pipeline is deterministic.
	now := r.clock().UTC()
	for i := range candidates {
		c := &candidates[i]
		c.score = r.cfg.SemanticWeight*c.similarity +
			r.cfg.PriorityWeight*c.node.Priority +
			r.cfg.RecencyWeight*recency(now.Sub(c.node.Created)) +
			r.cfg.BoostWeight*req.Boosts[c.node.AtomID]
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].node.ID < candidates[j].node.ID
	})

	if err := stageCheck(ctx, "dedup"); err != nil {
		return nil, err
	}

	// Greedy near-duplicate removal against everything already kept.
	var kept []candidate
	for i := range candidates {
		c := candidates[i]
		vec, err := r.ix.Embed(ctx, c.node.Text)
		if err != nil {
			return nil, err
		}
		c.vector = vec
		dup := false
		for _, k := range kept {
			if embedding.CosineSimilarity(c.vector, k.vector) >= r.cfg.DedupSimilarity {
				dup = true
				break
			}
		}
		if dup {
			metrics.DuplicatesDropped++
			continue
		}
		kept = append(kept, c)
	}

	if err := stageCheck(ctx, "packing"); err != nil {
		return nil, err
	}

	// Packing: take the ranked survivors while the budget lasts,
	// compressing stale text first when enabled.
	var items []Item
	used := 0
	for _, c := range kept {
		text := c.node.Text
		compressed := false
		if r.cfg.EnableCompression {
			age := now.Sub(c.node.Created)
			if age > r.freshness {
				out := r.comp.ApplyWithAudit(c.node.ID, text, age, c.node.Priority, &metrics.CompressionAudit)
				compressed = out != text
				text = out
			}
		}

		if r.cfg.EnableConflictResolution && req.Contradicts != nil {
			conflict := false
			for _, sel := range items {
				if req.Contradicts(text, sel.Text) {
					conflict = true
					break
				}
			}
			if conflict {
				metrics.ConflictsDropped++
				continue
			}
		}

		n := r.tokens.Count(text)
		if used+n > budget && !compressed && r.cfg.EnableCompression {
			// Too big as is; try progressively heavier compression
			// before giving the slot away.
			for _, lvl := range []compress.Level{compress.LevelLight, compress.LevelMedium, compress.LevelHeavy} {
				shrunk := r.comp.Compress(text, lvl)
				cn := r.tokens.Count(shrunk)
				if used+cn <= budget {
					metrics.CompressionAudit = append(metrics.CompressionAudit, compress.AuditEntry{
						NodeID:          c.node.ID,
						Level:           lvl.String(),
						OriginalChars:   len(text),
						CompressedChars: len(shrunk),
					})
					text, n, compressed = shrunk, cn, true
					break
				}
			}
		}
		if used+n > budget {
			continue
		}
		items = append(items, Item{
			NodeID:     c.node.ID,
			AtomID:     c.node.AtomID,
			Text:       text,
			Score:      c.score,
			Similarity: c.similarity,
			Tokens:     n,
			Compressed: compressed,
		})
		used += n
	}

	if len(items) == 0 && len(kept) > 0 {
		logging.Retrieval("token budget %d cannot fit any of %d candidates, returning empty selection", budget, len(kept))
	}

	metrics.TokensUsed = used
	metrics.Elapsed = r.clock().Sub(started)
	logging.Retrieval("retrieved %d items (%d/%d tokens) from %d coarse hits",
		len(items), used, budget, metrics.CoarseCount)
	return &Selection{Items: items, Metrics: metrics}, nil
}

// recency maps age to (0,1], halving every thirty days.
func recency(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	days := age.Hours() / 24
	return math.Pow(0.5, days/30)
}

func stageCheck(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return errs.Timeoutf("retrieval canceled before %s: %v", stage, err)
	}
	return nil
}
