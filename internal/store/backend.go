package store

import (
	"time"

	"memcore/internal/journal"
)

// Backend is the durability contract shared by the log-structured and
// relational implementations. Both expose identical semantics and
// identical error kinds; the facade layers concurrency, clocking, and
// indexing on top.
//
// Revision rules the backend enforces:
//   - Insert appends a new current revision. The id must not already
//     have a current revision.
//   - Supersede atomically closes the current revision at ttEnd and
//     appends next (same id, TTStart == ttEnd). Conflict if no current
//     revision exists.
type Backend interface {
	Insert(a *Atom) error
	Supersede(id string, ttEnd time.Time, next *Atom) error

	// Get returns the current revision of id, ErrNotFound if none.
	Get(id string) (*Atom, error)

	// GetAsOf returns the revision of id whose transaction-time
	// interval contains at, ErrNotFound if none.
	GetAsOf(id string, at time.Time) (*Atom, error)

	// List returns every current revision, ordered by TTStart then id.
	List() ([]*Atom, error)

	// ListAsOf returns every revision whose transaction-time interval
	// contains at, ordered by TTStart then id.
	ListAsOf(at time.Time) ([]*Atom, error)

	// History returns every revision of id, TTStart ascending.
	History(id string) ([]*Atom, error)

	PutSnapshot(s *Snapshot) error
	GetSnapshot(id string) (*Snapshot, error)
	ListSnapshots() ([]*Snapshot, error)

	// Integrity rescans durable storage and reports damage. The
	// relational backend reports through the same shape as the journal.
	Integrity() (*journal.IntegrityReport, error)

	Shutdown() error
}
