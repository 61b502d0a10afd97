package index

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memcore/internal/embedding"
	"memcore/internal/logging"
	"memcore/internal/store"
)

func TestMain(m *testing.M) {
	logging.InitializeForTest()
	os.Exit(m.Run())
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"simple", "One. Two. Three.", []string{"One.", "Two.", "Three."}},
		{"question and bang", "Really? Yes! Fine.", []string{"Really?", "Yes!", "Fine."}},
		{"abbreviation", "Dr. Smith arrived. He sat down.", []string{"Dr. Smith arrived.", "He sat down."}},
		{"decimal", "Pi is 3.14 roughly. Tau is larger.", []string{"Pi is 3.14 roughly.", "Tau is larger."}},
		{"no terminal", "trailing fragment without punctuation", []string{"trailing fragment without punctuation"}},
		{"empty", "   ", nil},
		{"quoted end", `He said "stop." Then left.`, []string{`He said "stop."`, "Then left."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSentences(tt.text))
		})
	}
}

func TestSplitParagraphs(t *testing.T) {
	text := "first paragraph\nstill first\n\nsecond paragraph\n\n\nthird"
	assert.Equal(t, []string{"first paragraph\nstill first", "second paragraph", "third"}, SplitParagraphs(text))
}

func TestSplitSections(t *testing.T) {
	text := "intro paragraph\n\n# Setup\n\nstep one\n\nstep two\n\n# Teardown\n\ncleanup"
	secs := SplitSections(text)
	require.Len(t, secs, 3)
	assert.Equal(t, "", secs[0].Title)
	assert.Equal(t, []string{"intro paragraph"}, secs[0].Paragraphs)
	assert.Equal(t, "Setup", secs[1].Title)
	assert.Equal(t, []string{"step one", "step two"}, secs[1].Paragraphs)
	assert.Equal(t, "Teardown", secs[2].Title)
}

func TestSplitSectionsNoHeadings(t *testing.T) {
	secs := SplitSections("just one blob of text")
	require.Len(t, secs, 1)
	assert.Empty(t, secs[0].Title)
}

func TestMemoryVectorsOrderAndTieBreak(t *testing.T) {
	ctx := context.Background()
	vs := NewMemoryVectors()

	// b and c are identical vectors; ascending id breaks the tie.
	require.NoError(t, vs.Upsert(ctx, "a", []float32{1, 0}))
	require.NoError(t, vs.Upsert(ctx, "c", []float32{0, 1}))
	require.NoError(t, vs.Upsert(ctx, "b", []float32{0, 1}))

	matches, err := vs.Query(ctx, []float32{0, 1}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "b", matches[0].ID)
	assert.Equal(t, "c", matches[1].ID)
	assert.Equal(t, "a", matches[2].ID)
}

func TestMemoryVectorsDelete(t *testing.T) {
	ctx := context.Background()
	vs := NewMemoryVectors()
	require.NoError(t, vs.Upsert(ctx, "x", []float32{1}))
	require.NoError(t, vs.Upsert(ctx, "y", []float32{1}))
	require.NoError(t, vs.Delete(ctx, "x"))
	assert.Equal(t, 1, vs.Count())
}

func testAtom(id, text string, priority float64) *store.Atom {
	return &store.Atom{
		ID:       id,
		Modality: "text",
		Content:  store.Content{Inline: text, MediaType: "text/plain"},
		Tags:     map[string]float64{"priority": priority},
		TTStart:  time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestIndexAtomBuildsForest(t *testing.T) {
	ctx := context.Background()
	ix := New(embedding.NewFallback(64), NewMemoryVectors())

	a := testAtom("atom01", "# Notes\n\nFirst point here. Second point here.\n\nAnother paragraph.", 0.8)
	require.NoError(t, ix.IndexAtom(ctx, a))

	counts := ix.nodes.Count()
	assert.Equal(t, 1, counts[LevelDocument])
	assert.Equal(t, 1, counts[LevelSection])
	assert.Equal(t, 2, counts[LevelParagraph])
	assert.Equal(t, 3, counts[LevelSentence])
	assert.Equal(t, 7, ix.vectors.Count(), "every node gets a vector")

	// Deterministic path ids.
	sent := ix.nodes.Get("atom01/s0/p0/t1")
	require.NotNil(t, sent)
	assert.Equal(t, "Second point here.", sent.Text)
	assert.Equal(t, "atom01/s0/p0", sent.ParentID)
	assert.Equal(t, 0.8, sent.Priority)
}

func TestIndexAtomRebuildReplaces(t *testing.T) {
	ctx := context.Background()
	ix := New(embedding.NewFallback(64), NewMemoryVectors())

	a := testAtom("atom02", "Old sentence one. Old sentence two.", 0.7)
	require.NoError(t, ix.IndexAtom(ctx, a))
	// One document, one section, one paragraph, two sentences.
	require.Equal(t, 5, ix.vectors.Count())

	a.Content.Inline = "New single sentence."
	require.NoError(t, ix.IndexAtom(ctx, a))
	assert.Equal(t, 4, ix.vectors.Count(), "old vectors removed on reindex")
	assert.Nil(t, ix.nodes.Get("atom02/s0/p0/t1"))
}

func TestIndexQueryTargetsLevel(t *testing.T) {
	ctx := context.Background()
	ix := New(embedding.NewFallback(128), NewMemoryVectors())

	require.NoError(t, ix.IndexAtom(ctx, testAtom("aa", "The database stores atoms durably.", 0.9)))
	require.NoError(t, ix.IndexAtom(ctx, testAtom("bb", "The cat sat on a warm windowsill.", 0.9)))

	hits, err := ix.Query(ctx, "durable database storage of atoms", LevelSentence, 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "aa", hits[0].Node.AtomID)
	for _, h := range hits {
		assert.Equal(t, LevelSentence, h.Node.Level)
	}

	paras, err := ix.Query(ctx, "durable database storage of atoms", LevelParagraph, 2)
	require.NoError(t, err)
	require.NotEmpty(t, paras)
	for _, h := range paras {
		assert.Equal(t, LevelParagraph, h.Node.Level)
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("paragraph")
	require.NoError(t, err)
	assert.Equal(t, LevelParagraph, lvl)
	_, err = ParseLevel("chapter")
	assert.Error(t, err)
}

func TestIndexRejectsRefOnlyAtom(t *testing.T) {
	ix := New(embedding.NewFallback(64), NewMemoryVectors())
	a := &store.Atom{ID: "ref1", Modality: "blob", Content: store.Content{Ref: "sha256:00", MediaType: "application/octet-stream"}}
	err := ix.IndexAtom(context.Background(), a)
	require.Error(t, err)
}

func TestIndexStats(t *testing.T) {
	ctx := context.Background()
	ix := New(embedding.NewFallback(64), NewMemoryVectors())
	require.NoError(t, ix.IndexAtom(ctx, testAtom("s1", "One. Two.", 0.9)))

	stats := ix.Stats()
	assert.Equal(t, 1, stats.Atoms)
	assert.Equal(t, 5, stats.Vectors)
	assert.Equal(t, 2, stats.Nodes["sentence"])
}

func TestChromemVectorsRoundTrip(t *testing.T) {
	ctx := context.Background()
	vs, err := NewChromemVectors("")
	require.NoError(t, err)

	require.NoError(t, vs.Upsert(ctx, "n1", []float32{1, 0, 0}))
	require.NoError(t, vs.Upsert(ctx, "n2", []float32{0, 1, 0}))

	matches, err := vs.Query(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "n1", matches[0].ID)

	require.NoError(t, vs.Delete(ctx, "n1"))
	assert.Equal(t, 1, vs.Count())
}

func TestChromemVectorsEmptyQuery(t *testing.T) {
	vs, err := NewChromemVectors("")
	require.NoError(t, err)
	matches, err := vs.Query(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
