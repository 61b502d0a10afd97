package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"memcore/internal/canonical"
	"memcore/internal/errs"
	"memcore/internal/journal"
	"memcore/internal/logging"
)

// ====== WIRE FORMAT ======

// atomRecord is the journal/file representation of one revision. Times
// travel as canonical wire strings so records hash and compare stably.
type atomRecord struct {
	ID            string                 `json:"id"`
	Modality      string                 `json:"modality"`
	Content       Content                `json:"content"`
	Tags          map[string]float64     `json:"tags,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	ValidFrom     *string                `json:"valid_from,omitempty"`
	ValidTo       *string                `json:"valid_to,omitempty"`
	TTStart       string                 `json:"tt_start"`
	TTEnd         *string                `json:"tt_end,omitempty"`
}

func recordFromAtom(a *Atom) *atomRecord {
	r := &atomRecord{
		ID:            a.ID,
		Modality:      a.Modality,
		Content:       a.Content,
		Tags:          a.Tags,
		CorrelationID: a.CorrelationID,
		Metadata:      a.Metadata,
		TTStart:       FormatTime(a.TTStart),
	}
	if a.ValidFrom != nil {
		s := FormatTime(*a.ValidFrom)
		r.ValidFrom = &s
	}
	if a.ValidTo != nil {
		s := FormatTime(*a.ValidTo)
		r.ValidTo = &s
	}
	if a.TTEnd != nil {
		s := FormatTime(*a.TTEnd)
		r.TTEnd = &s
	}
	return r
}

func (r *atomRecord) toAtom() (*Atom, error) {
	a := &Atom{
		ID:            r.ID,
		Modality:      r.Modality,
		Content:       r.Content,
		Tags:          r.Tags,
		CorrelationID: r.CorrelationID,
		Metadata:      r.Metadata,
	}
	var err error
	if a.TTStart, err = ParseTime(r.TTStart); err != nil {
		return nil, errs.Corruptionf("bad tt_start %q: %v", r.TTStart, err)
	}
	parse := func(s *string, field string) (*time.Time, error) {
		if s == nil {
			return nil, nil
		}
		t, err := ParseTime(*s)
		if err != nil {
			return nil, errs.Corruptionf("bad %s %q: %v", field, *s, err)
		}
		return &t, nil
	}
	if a.ValidFrom, err = parse(r.ValidFrom, "valid_from"); err != nil {
		return nil, err
	}
	if a.ValidTo, err = parse(r.ValidTo, "valid_to"); err != nil {
		return nil, err
	}
	if a.TTEnd, err = parse(r.TTEnd, "tt_end"); err != nil {
		return nil, err
	}
	return a, nil
}

// logRecord is one journal entry. "insert" carries a new current
// revision; "supersede" carries the close timestamp and the replacement
// revision in a single atomic append.
type logRecord struct {
	Op    string      `json:"op"`
	Atom  *atomRecord `json:"atom,omitempty"`
	ID    string      `json:"id,omitempty"`
	TTEnd string      `json:"tt_end,omitempty"`
}

const (
	opInsert    = "insert"
	opSupersede = "supersede"
)

// ====== LOG BACKEND ======

// LogBackend keeps every revision in an append-only CRC-guarded
// journal and rebuilds its in-memory view by scanning it at open.
// Snapshots live as individual JSON files beside the journal.
type LogBackend struct {
	mu        sync.RWMutex
	log       *journal.Log
	dir       string
	snapDir   string
	revisions map[string][]*Atom // per id, TTStart ascending
	current   map[string]*Atom
	bootScan  *journal.IntegrityReport
}

// OpenLog opens the journal under dir, replaying it into memory.
// Corrupt records are quarantined during the replay and the store
// continues with what survived.
func OpenLog(dir string) (*LogBackend, error) {
	timer := logging.StartTimer(logging.CategoryStore, "OpenLog")
	defer timer.Stop()

	b := &LogBackend{
		dir:       dir,
		snapDir:   filepath.Join(dir, "snapshots"),
		revisions: make(map[string][]*Atom),
		current:   make(map[string]*Atom),
	}
	log, err := journal.Open(filepath.Join(dir, "journal.log"), filepath.Join(dir, "quarantine"))
	if err != nil {
		return nil, err
	}
	b.log = log

	report, err := log.Scan(b.apply)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to replay journal: %w", err)
	}
	b.bootScan = report
	logging.Store("log backend opened: %d atoms current, %d records replayed, %d quarantined",
		len(b.current), report.ValidRecords, report.QuarantinedCount())
	return b, nil
}

// apply folds one journal payload into the in-memory view. Any failure
// here is Corruption so the scanner quarantines the record and moves on.
func (b *LogBackend) apply(payload []byte) error {
	var rec logRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return errs.Corruptionf("undecodable journal record: %v", err)
	}
	switch rec.Op {
	case opInsert:
		if rec.Atom == nil {
			return errs.Corruptionf("insert record without atom")
		}
		a, err := rec.Atom.toAtom()
		if err != nil {
			return err
		}
		if cur := b.current[a.ID]; cur != nil {
			return errs.Corruptionf("insert for id %s which already has a current revision", a.ID)
		}
		b.revisions[a.ID] = append(b.revisions[a.ID], a)
		b.current[a.ID] = a
	case opSupersede:
		if rec.Atom == nil || rec.ID == "" || rec.TTEnd == "" {
			return errs.Corruptionf("malformed supersede record")
		}
		cur := b.current[rec.ID]
		if cur == nil {
			return errs.Corruptionf("supersede for id %s with no current revision", rec.ID)
		}
		ttEnd, err := ParseTime(rec.TTEnd)
		if err != nil {
			return errs.Corruptionf("bad supersede tt_end %q: %v", rec.TTEnd, err)
		}
		next, err := rec.Atom.toAtom()
		if err != nil {
			return err
		}
		cur.TTEnd = &ttEnd
		b.revisions[next.ID] = append(b.revisions[next.ID], next)
		b.current[next.ID] = next
	default:
		return errs.Corruptionf("unknown journal op %q", rec.Op)
	}
	return nil
}

// appendRecord serializes and durably appends one journal entry.
func (b *LogBackend) appendRecord(rec *logRecord) error {
	payload, err := canonical.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize journal record: %w", err)
	}
	return b.log.Append(payload)
}

func (b *LogBackend) Insert(a *Atom) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current[a.ID] != nil {
		return errs.Conflictf("atom %s already has a current revision", a.ID)
	}
	if err := b.appendRecord(&logRecord{Op: opInsert, Atom: recordFromAtom(a)}); err != nil {
		return err
	}
	cp := *a
	b.revisions[a.ID] = append(b.revisions[a.ID], &cp)
	b.current[a.ID] = &cp
	return nil
}

func (b *LogBackend) Supersede(id string, ttEnd time.Time, next *Atom) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.current[id]
	if cur == nil {
		return errs.Conflictf("no current revision of atom %s to supersede", id)
	}
	rec := &logRecord{
		Op:    opSupersede,
		ID:    id,
		TTEnd: FormatTime(ttEnd),
		Atom:  recordFromAtom(next),
	}
	if err := b.appendRecord(rec); err != nil {
		return err
	}
	end := ttEnd
	cur.TTEnd = &end
	cp := *next
	b.revisions[id] = append(b.revisions[id], &cp)
	b.current[id] = &cp
	return nil
}

func (b *LogBackend) Get(id string) (*Atom, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a := b.current[id]
	if a == nil {
		return nil, fmt.Errorf("atom %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (b *LogBackend) GetAsOf(id string, at time.Time) (*Atom, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, rev := range b.revisions[id] {
		if rev.TTStart.After(at) {
			continue
		}
		if rev.TTEnd == nil || rev.TTEnd.After(at) {
			cp := *rev
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("atom %s as of %s: %w", id, FormatTime(at), ErrNotFound)
}

func (b *LogBackend) List() ([]*Atom, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Atom, 0, len(b.current))
	for _, a := range b.current {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TTStart.Equal(out[j].TTStart) {
			return out[i].TTStart.Before(out[j].TTStart)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (b *LogBackend) ListAsOf(at time.Time) ([]*Atom, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Atom
	for _, revs := range b.revisions {
		for _, rev := range revs {
			if rev.TTStart.After(at) {
				continue
			}
			if rev.TTEnd == nil || rev.TTEnd.After(at) {
				cp := *rev
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TTStart.Equal(out[j].TTStart) {
			return out[i].TTStart.Before(out[j].TTStart)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (b *LogBackend) History(id string) ([]*Atom, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	revs := b.revisions[id]
	if len(revs) == 0 {
		return nil, fmt.Errorf("atom %s: %w", id, ErrNotFound)
	}
	out := make([]*Atom, len(revs))
	for i, rev := range revs {
		cp := *rev
		out[i] = &cp
	}
	return out, nil
}

// ====== SNAPSHOTS ======

func (b *LogBackend) PutSnapshot(s *Snapshot) error {
	if err := os.MkdirAll(b.snapDir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	path := filepath.Join(b.snapDir, s.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", s.ID, err)
	}
	return nil
}

func (b *LogBackend) GetSnapshot(id string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(b.snapDir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read snapshot %s: %w", id, err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errs.Corruptionf("undecodable snapshot %s: %v", id, err)
	}
	return &s, nil
}

func (b *LogBackend) ListSnapshots() ([]*Snapshot, error) {
	entries, err := os.ReadDir(b.snapDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	var out []*Snapshot
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		s, err := b.GetSnapshot(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			logging.Get(logging.CategoryStore).Warnf("skipping snapshot file %s: %v", e.Name(), err)
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Integrity rescans the whole journal into a scratch view and reports
// what it found. The live view is untouched.
func (b *LogBackend) Integrity() (*journal.IntegrityReport, error) {
	scratch := &LogBackend{
		revisions: make(map[string][]*Atom),
		current:   make(map[string]*Atom),
	}
	return b.log.Scan(scratch.apply)
}

// BootReport returns the integrity report from the opening replay.
func (b *LogBackend) BootReport() *journal.IntegrityReport { return b.bootScan }

func (b *LogBackend) Shutdown() error {
	return b.log.Close()
}
