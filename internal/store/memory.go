package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"memcore/internal/config"
	"memcore/internal/errs"
	"memcore/internal/journal"
	"memcore/internal/logging"
)

// IndexHook receives newly written atoms that qualify for hierarchical
// indexing. Implemented by the index package; a nil hook disables
// indexing entirely.
type IndexHook interface {
	IndexAtom(ctx context.Context, a *Atom) error
}

// MemoryStore is the single entry point for the atom substrate. It
// serializes writes, assigns monotonic transaction timestamps, computes
// content ids, and feeds qualifying atoms to the index hook. Reads go
// straight to the backend and may run concurrently with a writer.
type MemoryStore struct {
	cfg     *config.Config
	backend Backend

	writeMu sync.Mutex
	clock   func() time.Time
	lastTT  time.Time

	hook     IndexHook
	indexCh  chan *Atom
	workerWG sync.WaitGroup

	audit *logging.AuditLog

	lastSnapshotMu sync.Mutex
	lastSnapshotID string
}

// Open creates a MemoryStore over the configured backend.
func Open(cfg *config.Config) (*MemoryStore, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case config.BackendRelational:
		backend, err = OpenSQLite(cfg.MemoryPath)
	default:
		backend, err = OpenLog(cfg.MemoryPath)
	}
	if err != nil {
		return nil, err
	}
	return NewWithBackend(cfg, backend)
}

// NewWithBackend wraps an already opened backend. Tests use this with
// an in-memory database or a temp-dir journal.
func NewWithBackend(cfg *config.Config, backend Backend) (*MemoryStore, error) {
	m := &MemoryStore{
		cfg:     cfg,
		backend: backend,
		clock:   time.Now,
	}

	// Seed the transaction clock past everything already stored so a
	// reopened store never reissues a timestamp.
	existing, err := backend.List()
	if err != nil {
		return nil, fmt.Errorf("failed to seed transaction clock: %w", err)
	}
	for _, a := range existing {
		if a.TTStart.After(m.lastTT) {
			m.lastTT = a.TTStart
		}
	}

	if snaps, err := backend.ListSnapshots(); err == nil && len(snaps) > 0 {
		m.lastSnapshotID = snaps[len(snaps)-1].ID
	}
	return m, nil
}

// SetClock replaces the wall clock. Test hook; call before any writes.
func (m *MemoryStore) SetClock(fn func() time.Time) { m.clock = fn }

// SetAudit attaches an audit trail. A nil trail is fine; events are
// discarded.
func (m *MemoryStore) SetAudit(a *logging.AuditLog) { m.audit = a }

// SetIndexHook installs the hierarchical indexer. In eager mode the
// hook runs synchronously on the writing goroutine; otherwise a single
// worker drains a bounded queue and a full queue means the atom is
// stored without being indexed.
func (m *MemoryStore) SetIndexHook(hook IndexHook) {
	m.hook = hook
	if hook == nil || m.cfg.EagerIndex {
		return
	}
	m.indexCh = make(chan *Atom, m.cfg.IndexQueueDepth)
	m.workerWG.Add(1)
	go func() {
		defer m.workerWG.Done()
		for a := range m.indexCh {
			if err := hook.IndexAtom(context.Background(), a); err != nil {
				logging.Get(logging.CategoryIndex).Warnf("async index of atom %s failed: %v", a.ID, err)
			}
		}
	}()
}

// nextTT issues a strictly increasing transaction timestamp. Caller
// holds writeMu.
func (m *MemoryStore) nextTT() time.Time {
	now := m.clock().UTC()
	if !now.After(m.lastTT) {
		now = m.lastTT.Add(time.Nanosecond)
	}
	m.lastTT = now
	return now
}

// CreateAtom writes a new atom from a draft. The id is the draft's
// content address; writing a draft whose id already has a current
// revision is a no-op that returns the stored atom. The bool result
// reports whether a write happened.
func (m *MemoryStore) CreateAtom(ctx context.Context, d *Draft) (*Atom, bool, error) {
	timer := logging.StartTimer(logging.CategoryStore, "CreateAtom")
	defer timer.Stop()

	if err := d.Validate(); err != nil {
		return nil, false, err
	}
	id, err := d.ComputeID()
	if err != nil {
		return nil, false, err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if existing, err := m.backend.Get(id); err == nil {
		logging.StoreDebug("atom %s already current, returning stored revision", id)
		return existing, false, nil
	}

	a := &Atom{
		ID:            id,
		Modality:      d.Modality,
		Content:       d.Content,
		Tags:          d.Tags,
		CorrelationID: d.CorrelationID,
		Metadata:      d.Metadata,
		ValidFrom:     d.ValidFrom,
		ValidTo:       d.ValidTo,
		TTStart:       m.nextTT(),
	}
	if err := m.backend.Insert(a); err != nil {
		return nil, false, err
	}
	logging.StoreDebug("created atom %s (%s)", a.ID, a.Modality)
	m.audit.Record(logging.AuditAtomCreate, a.ID, map[string]interface{}{"modality": a.Modality})
	m.offerIndex(ctx, a)
	return a, true, nil
}

// Supersede closes the current revision of id and records d as its
// replacement under the same logical id. Conflict if id has no current
// revision.
func (m *MemoryStore) Supersede(ctx context.Context, id string, d *Draft) (*Atom, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Supersede")
	defer timer.Stop()

	if err := d.Validate(); err != nil {
		return nil, err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	tt := m.nextTT()
	next := &Atom{
		ID:            id,
		Modality:      d.Modality,
		Content:       d.Content,
		Tags:          d.Tags,
		CorrelationID: d.CorrelationID,
		Metadata:      d.Metadata,
		ValidFrom:     d.ValidFrom,
		ValidTo:       d.ValidTo,
		TTStart:       tt,
	}
	if err := m.backend.Supersede(id, tt, next); err != nil {
		return nil, err
	}
	logging.Store("superseded atom %s at %s", id, FormatTime(tt))
	m.audit.Record(logging.AuditAtomSupersede, id, map[string]interface{}{"tt_start": FormatTime(tt)})
	m.offerIndex(ctx, next)
	return next, nil
}

// offerIndex routes a qualifying atom to the indexer. Indexing never
// fails the write: eager errors are logged, and a full async queue
// drops the offer.
func (m *MemoryStore) offerIndex(ctx context.Context, a *Atom) {
	if m.hook == nil || a.Priority() < m.cfg.LazyIndexThreshold || a.Content.Inline == "" {
		return
	}
	if m.cfg.EagerIndex {
		if err := m.hook.IndexAtom(ctx, a); err != nil {
			logging.Get(logging.CategoryIndex).Warnf("eager index of atom %s failed: %v", a.ID, err)
		}
		return
	}
	select {
	case m.indexCh <- a:
	default:
		logging.Get(logging.CategoryIndex).Warnf("index queue full, atom %s stored unindexed", a.ID)
	}
}

// Get returns the current revision of id.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Atom, error) {
	return m.backend.Get(id)
}

// GetAsOf returns the revision of id visible at transaction time at.
func (m *MemoryStore) GetAsOf(ctx context.Context, id string, at time.Time) (*Atom, error) {
	return m.backend.GetAsOf(id, at)
}

// List returns all current revisions, oldest first.
func (m *MemoryStore) List(ctx context.Context) ([]*Atom, error) {
	return m.backend.List()
}

// ListFiltered returns the current revisions matching f, oldest first.
func (m *MemoryStore) ListFiltered(ctx context.Context, f Filter) ([]*Atom, error) {
	all, err := m.backend.List()
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, a := range all {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// AsOfView materializes the whole store as it stood at t. With
// transaction time the view holds the revisions recorded and not yet
// superseded at t; with valid time it holds the current revisions whose
// valid interval contains t.
func (m *MemoryStore) AsOfView(ctx context.Context, t time.Time, useTransactionTime bool) ([]*Atom, error) {
	if useTransactionTime {
		return m.backend.ListAsOf(t)
	}
	return m.ListFiltered(ctx, Filter{ValidAt: &t})
}

// History returns every revision of id, oldest first.
func (m *MemoryStore) History(ctx context.Context, id string) ([]*Atom, error) {
	return m.backend.History(id)
}

// CreateSnapshot captures an atom set under a content-addressed id. A
// nil atomIDs captures every current atom. Each id must have a current
// revision. Members are ordered by ascending atom id, never insertion
// order, so the same set always hashes to the same snapshot id.
// Snapshots chain through PreviousID.
func (m *MemoryStore) CreateSnapshot(ctx context.Context, atomIDs []string, note string) (*Snapshot, error) {
	timer := logging.StartTimer(logging.CategoryStore, "CreateSnapshot")
	defer timer.Stop()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	var atoms []*Atom
	if atomIDs == nil {
		all, err := m.backend.List()
		if err != nil {
			return nil, err
		}
		atoms = all
		atomIDs = make([]string, len(all))
		for i, a := range all {
			atomIDs[i] = a.ID
		}
	} else {
		atomIDs = append([]string(nil), atomIDs...)
		for _, id := range atomIDs {
			a, err := m.backend.Get(id)
			if err != nil {
				return nil, errs.Validationf("snapshot references atom %s with no current revision", id)
			}
			atoms = append(atoms, a)
		}
	}
	sort.Strings(atomIDs)

	id, err := ComputeSnapshotID(atomIDs, note)
	if err != nil {
		return nil, err
	}

	stats := SnapshotStats{AtomCount: len(atoms), Modalities: make(map[string]int)}
	for _, a := range atoms {
		stats.Modalities[a.Modality]++
	}

	m.lastSnapshotMu.Lock()
	prev := m.lastSnapshotID
	m.lastSnapshotMu.Unlock()

	s := &Snapshot{
		ID:         id,
		AtomIDs:    atomIDs,
		Note:       note,
		PreviousID: prev,
		CreatedAt:  m.nextTT(),
		Stats:      stats,
	}
	if err := m.backend.PutSnapshot(s); err != nil {
		return nil, err
	}

	m.lastSnapshotMu.Lock()
	m.lastSnapshotID = id
	m.lastSnapshotMu.Unlock()

	logging.Store("snapshot %s created over %d atoms", id, len(atomIDs))
	m.audit.Record(logging.AuditSnapshot, id, map[string]interface{}{"atoms": len(atomIDs)})
	return s, nil
}

// ReplaySnapshot materializes the atoms a snapshot names, as they were
// when the snapshot was taken, and verifies the snapshot id against its
// recomputed content address. A mismatch or a missing member is an
// Integrity error.
func (m *MemoryStore) ReplaySnapshot(ctx context.Context, id string) (*Snapshot, []*Atom, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ReplaySnapshot")
	defer timer.Stop()

	s, err := m.backend.GetSnapshot(id)
	if err != nil {
		return nil, nil, err
	}

	recomputed, err := ComputeSnapshotID(s.AtomIDs, s.Note)
	if err != nil {
		return nil, nil, err
	}
	if recomputed != s.ID {
		return nil, nil, errs.Integrityf("snapshot %s does not match its content (recomputed %s)", s.ID, recomputed)
	}

	atoms := make([]*Atom, 0, len(s.AtomIDs))
	for _, atomID := range s.AtomIDs {
		a, err := m.backend.GetAsOf(atomID, s.CreatedAt)
		if err != nil {
			return nil, nil, errs.Integrityf("snapshot %s member %s is unavailable: %v", s.ID, atomID, err)
		}
		atoms = append(atoms, a)
	}
	return s, atoms, nil
}

// GetSnapshot returns a stored snapshot without replaying it.
func (m *MemoryStore) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	return m.backend.GetSnapshot(id)
}

// ListSnapshots returns all snapshots, oldest first.
func (m *MemoryStore) ListSnapshots(ctx context.Context) ([]*Snapshot, error) {
	return m.backend.ListSnapshots()
}

// StoreStats summarizes store contents.
type StoreStats struct {
	Atoms      int            `json:"atoms"`
	Modalities map[string]int `json:"modalities"`
	Snapshots  int            `json:"snapshots"`
}

// Stats counts current atoms by modality and stored snapshots.
func (m *MemoryStore) Stats(ctx context.Context) (*StoreStats, error) {
	atoms, err := m.backend.List()
	if err != nil {
		return nil, err
	}
	s := &StoreStats{Atoms: len(atoms), Modalities: make(map[string]int)}
	for _, a := range atoms {
		s.Modalities[a.Modality]++
	}
	snaps, err := m.backend.ListSnapshots()
	if err != nil {
		return nil, err
	}
	s.Snapshots = len(snaps)
	return s, nil
}

// Integrity rescans durable storage and reports damage.
func (m *MemoryStore) Integrity(ctx context.Context) (*journal.IntegrityReport, error) {
	return m.backend.Integrity()
}

// Close drains the index queue and shuts the backend down.
func (m *MemoryStore) Close() error {
	if m.indexCh != nil {
		close(m.indexCh)
		m.workerWG.Wait()
		m.indexCh = nil
	}
	return m.backend.Shutdown()
}
