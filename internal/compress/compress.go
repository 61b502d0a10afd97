// Package compress implements strategic, age-aware text compression.
// Compression is extractive and deterministic: sentences are scored,
// the best are kept in their original order until the level's retention
// ratio is met, and the same input always yields the same output.
package compress

import (
	"strings"
	"time"

	"memcore/internal/config"
	"memcore/internal/index"
	"memcore/internal/logging"
)

// Level is how aggressively a text is compressed.
type Level int

const (
	LevelFull   Level = iota // keep everything
	LevelLight               // ~70% retained
	LevelMedium              // ~40% retained
	LevelHeavy               // ~15% retained
)

func (l Level) String() string {
	switch l {
	case LevelFull:
		return "full"
	case LevelLight:
		return "light"
	case LevelMedium:
		return "medium"
	case LevelHeavy:
		return "heavy"
	default:
		return "unknown"
	}
}

// Ratio is the target fraction of characters retained.
func (l Level) Ratio() float64 {
	switch l {
	case LevelLight:
		return 0.70
	case LevelMedium:
		return 0.40
	case LevelHeavy:
		return 0.15
	default:
		return 1.0
	}
}

// AuditEntry records one compression decision for the caller's trail.
type AuditEntry struct {
	NodeID          string `json:"node_id"`
	Level           string `json:"level"`
	OriginalChars   int    `json:"original_chars"`
	CompressedChars int    `json:"compressed_chars"`
}

// Compressor selects compression levels from age and priority.
type Compressor struct {
	cfg config.CompressionConfig
}

// New creates a compressor.
func New(cfg config.CompressionConfig) *Compressor {
	return &Compressor{cfg: cfg}
}

// LevelFor maps an item's age to a level. Items tagged at or above the
// high-priority weight move one level gentler, so a critical fact ages
// into heavy compression a bucket later than everything else.
func (c *Compressor) LevelFor(age time.Duration, priority float64) Level {
	days := age.Hours() / 24
	var l Level
	switch {
	case days < 7:
		l = LevelFull
	case days < 30:
		l = LevelLight
	case days < 90:
		l = LevelMedium
	default:
		l = LevelHeavy
	}
	if priority >= c.cfg.HighPriorityTag && l > LevelFull {
		l--
	}
	return l
}

// Compress reduces text to the level's retention ratio. Sentences are
// scored by position and information density; survivors keep their
// original order. With PreserveEdges the first and last sentences are
// always kept.
func (c *Compressor) Compress(text string, level Level) string {
	if level == LevelFull {
		return text
	}
	sentences := index.SplitSentences(text)
	if len(sentences) <= 1 {
		return text
	}

	budget := int(float64(len(text)) * level.Ratio())
	keep := make([]bool, len(sentences))
	used := 0

	take := func(i int) {
		if !keep[i] {
			keep[i] = true
			used += len(sentences[i]) + 1
		}
	}

	if c.cfg.PreserveEdges {
		take(0)
		take(len(sentences) - 1)
	}

	// Rank the rest: earlier and denser sentences first, index as the
	// deterministic tie break.
	order := rankSentences(sentences)
	for _, i := range order {
		if keep[i] {
			continue
		}
		if used+len(sentences[i]) > budget {
			continue
		}
		take(i)
	}

	// Never emit nothing.
	any := false
	for _, k := range keep {
		any = any || k
	}
	if !any {
		take(0)
	}

	var b strings.Builder
	for i, s := range sentences {
		if !keep[i] {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}
	return b.String()
}

// ApplyWithAudit compresses one node's text for its age and priority,
// appending the decision to the caller's audit trail. LevelFull
// produces no entry.
func (c *Compressor) ApplyWithAudit(nodeID, text string, age time.Duration, priority float64, audit *[]AuditEntry) string {
	level := c.LevelFor(age, priority)
	if level == LevelFull {
		return text
	}
	out := c.Compress(text, level)
	if audit != nil {
		*audit = append(*audit, AuditEntry{
			NodeID:          nodeID,
			Level:           level.String(),
			OriginalChars:   len(text),
			CompressedChars: len(out),
		})
	}
	logging.Get(logging.CategoryCompress).Debugf("compressed node %s %s: %d -> %d chars",
		nodeID, level, len(text), len(out))
	return out
}

// rankSentences orders sentence indexes by descending score. The score
// favors early position and longer sentences, which keeps topic
// statements over filler.
func rankSentences(sentences []string) []int {
	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, s := range sentences {
		positional := 1.0 - float64(i)/float64(len(sentences))
		density := float64(len(strings.Fields(s)))
		ranked[i] = scored{idx: i, score: positional*10 + density}
	}
	// Insertion sort keeps ties in index order.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].score > ranked[j-1].score; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	out := make([]int, len(ranked))
	for i, r := range ranked {
		out[i] = r.idx
	}
	return out
}
