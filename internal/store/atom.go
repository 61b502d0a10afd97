// Package store implements the bitemporal atom store: immutable,
// content-addressed atoms with valid-time and transaction-time axes,
// snapshots over sets of atoms, and two interchangeable backends (an
// append-only journal and an embedded relational database) behind one
// contract.
package store

import (
	"errors"
	"strings"
	"time"

	"memcore/internal/canonical"
	"memcore/internal/errs"
)

// TimeLayout is the wire format for every timestamp that participates
// in a content hash: ISO-8601 UTC with nanosecond precision. Formatting
// and parsing must round-trip exactly or ids drift between processes.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned when no row exists for the requested id.
var ErrNotFound = errors.New("atom not found")

// FormatTime renders t in the canonical wire layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a canonical wire timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// Content is what an atom carries: either inline text or a reference to
// an external blob, never both, plus its media type.
type Content struct {
	Inline    string `json:"inline,omitempty"`
	Ref       string `json:"ref,omitempty"`
	MediaType string `json:"media_type"`
}

// Atom is one bitemporal row. Rows are keyed by (ID, TTStart); the
// logical atom id stays fixed across supersessions while each revision
// gets its own transaction-time interval. A nil TTEnd marks the current
// revision. Exactly one current revision exists per id.
type Atom struct {
	ID       string             `json:"id"`
	Modality string             `json:"modality"`
	Content  Content            `json:"content"`
	Tags     map[string]float64 `json:"tags,omitempty"`

	// CorrelationID is an externally supplied grouping key; Metadata is
	// a small opaque map (source, author, related atom ids). Neither
	// participates in the content address.
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`

	// Valid time: when the fact holds in the modeled world. Either
	// bound may be open.
	ValidFrom *time.Time `json:"valid_from,omitempty"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`

	// Transaction time: when this revision was recorded and, if closed,
	// superseded. Assigned by the store, monotonic per process.
	TTStart time.Time  `json:"tt_start"`
	TTEnd   *time.Time `json:"tt_end,omitempty"`
}

// IsCurrent reports whether this revision is the open one.
func (a *Atom) IsCurrent() bool { return a.TTEnd == nil }

// Filter narrows a listing. The zero value matches every atom.
type Filter struct {
	// Modality keeps only atoms of this modality when non-empty.
	Modality string

	// Tag keeps only atoms carrying this tag when non-empty, with a
	// weight in [MinWeight, MaxWeight]. A zero MaxWeight means 1.
	Tag       string
	MinWeight float64
	MaxWeight float64

	// CorrelationID keeps only atoms with this grouping key when
	// non-empty, so interrupted listings can restart on their group.
	CorrelationID string

	// ValidAt keeps only atoms whose valid-time interval contains this
	// instant. Open bounds always contain it.
	ValidAt *time.Time
}

// Matches reports whether a passes the filter.
func (f *Filter) Matches(a *Atom) bool {
	if f.Modality != "" && a.Modality != f.Modality {
		return false
	}
	if f.CorrelationID != "" && a.CorrelationID != f.CorrelationID {
		return false
	}
	if f.Tag != "" {
		w, ok := a.Tags[f.Tag]
		if !ok {
			return false
		}
		max := f.MaxWeight
		if max == 0 {
			max = 1
		}
		if w < f.MinWeight || w > max {
			return false
		}
	}
	if f.ValidAt != nil {
		if a.ValidFrom != nil && a.ValidFrom.After(*f.ValidAt) {
			return false
		}
		if a.ValidTo != nil && !a.ValidTo.After(*f.ValidAt) {
			return false
		}
	}
	return true
}

// Priority is the weight the indexer and retriever treat as the atom's
// importance: the "priority" tag when present, otherwise the heaviest
// tag, otherwise zero.
func (a *Atom) Priority() float64 {
	if w, ok := a.Tags["priority"]; ok {
		return w
	}
	max := 0.0
	for _, w := range a.Tags {
		if w > max {
			max = w
		}
	}
	return max
}

// Text returns the inline content, or empty for ref atoms.
func (a *Atom) Text() string { return a.Content.Inline }

// Draft is the caller-supplied part of an atom, before the store
// assigns identity and transaction time.
type Draft struct {
	Modality      string
	Content       Content
	Tags          map[string]float64
	ValidFrom     *time.Time
	ValidTo       *time.Time
	CorrelationID string
	Metadata      map[string]interface{}
}

// Validate rejects drafts that cannot become atoms.
func (d *Draft) Validate() error {
	if strings.TrimSpace(d.Modality) == "" {
		return errs.Validationf("atom modality is required")
	}
	if d.Content.Inline == "" && d.Content.Ref == "" {
		return errs.Validationf("atom content is empty")
	}
	if d.Content.Inline != "" && d.Content.Ref != "" {
		return errs.Validationf("atom content has both inline text and a ref")
	}
	if d.Content.MediaType == "" {
		return errs.Validationf("atom media_type is required")
	}
	for tag, w := range d.Tags {
		if tag == "" {
			return errs.Validationf("atom has an empty tag name")
		}
		if w < 0 || w > 1 {
			return errs.Validationf("tag %q weight %.3f outside [0,1]", tag, w)
		}
	}
	if d.ValidFrom != nil && d.ValidTo != nil && d.ValidTo.Before(*d.ValidFrom) {
		return errs.Validationf("valid_to precedes valid_from")
	}
	return nil
}

// ComputeID derives the 128-bit content address of a draft. The hash
// covers modality, content, tags, and both valid-time bounds; it covers
// neither transaction time nor correlation and metadata, so
// re-submitting the same draft always lands on the same id.
func (d *Draft) ComputeID() (string, error) {
	payload := map[string]interface{}{
		"modality": d.Modality,
		"content": map[string]interface{}{
			"inline":     d.Content.Inline,
			"ref":        d.Content.Ref,
			"media_type": d.Content.MediaType,
		},
		"tags":       d.Tags,
		"valid_from": formatOptional(d.ValidFrom),
		"valid_to":   formatOptional(d.ValidTo),
	}
	id, err := canonical.ContentID(payload)
	if err != nil {
		return "", errs.Validationf("failed to hash atom draft: %v", err)
	}
	return id, nil
}

func formatOptional(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// SnapshotStats summarizes a snapshot's membership.
type SnapshotStats struct {
	AtomCount  int            `json:"atom_count"`
	Modalities map[string]int `json:"modalities,omitempty"`
}

// Snapshot names an ordered set of atoms at a moment. Its id is the
// content address of the ordered atom ids plus the note; lineage and
// stats ride outside the hash so annotating a chain never changes ids.
type Snapshot struct {
	ID         string        `json:"id"`
	AtomIDs    []string      `json:"atom_ids"`
	Note       string        `json:"note,omitempty"`
	PreviousID string        `json:"previous_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	Stats      SnapshotStats `json:"stats"`
}

// ComputeSnapshotID derives the snapshot content address from the
// ordered atom ids and the note.
func ComputeSnapshotID(atomIDs []string, note string) (string, error) {
	payload := map[string]interface{}{
		"atom_ids": atomIDs,
		"note":     note,
	}
	id, err := canonical.ContentID(payload)
	if err != nil {
		return "", errs.Validationf("failed to hash snapshot: %v", err)
	}
	return id, nil
}
