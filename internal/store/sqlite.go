package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/ristretto"
	_ "modernc.org/sqlite"

	"memcore/internal/errs"
	"memcore/internal/journal"
	"memcore/internal/logging"
)

// ====== SCHEMA ======

const schema = `
CREATE TABLE IF NOT EXISTS atoms (
	id             TEXT NOT NULL,
	tt_start       TEXT NOT NULL,
	tt_end         TEXT,
	modality       TEXT NOT NULL,
	content_inline TEXT NOT NULL DEFAULT '',
	content_ref    TEXT NOT NULL DEFAULT '',
	media_type     TEXT NOT NULL,
	tags           TEXT,
	correlation_id TEXT NOT NULL DEFAULT '',
	metadata       TEXT,
	valid_from     TEXT,
	valid_to       TEXT,
	PRIMARY KEY (id, tt_start)
);

CREATE INDEX IF NOT EXISTS idx_atoms_current ON atoms(id) WHERE tt_end IS NULL;
CREATE INDEX IF NOT EXISTS idx_atoms_tt ON atoms(tt_start);

CREATE TABLE IF NOT EXISTS snapshots (
	id          TEXT PRIMARY KEY,
	atom_ids    TEXT NOT NULL,
	note        TEXT NOT NULL DEFAULT '',
	previous_id TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	stats       TEXT
);
`

// SQLiteBackend stores revisions in an embedded relational database.
// WAL mode keeps readers unblocked by the single writer; a ristretto
// cache absorbs repeated current-revision reads.
type SQLiteBackend struct {
	db    *sql.DB
	cache *ristretto.Cache
}

// OpenSQLite opens (or creates) the database at dir/memcore.db.
func OpenSQLite(dir string) (*SQLiteBackend, error) {
	timer := logging.StartTimer(logging.CategoryStore, "OpenSQLite")
	defer timer.Stop()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	dsn := filepath.Join(dir, "memcore.db") +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     32 << 20,
		BufferItems: 64,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create read cache: %w", err)
	}

	logging.Store("relational backend opened at %s", dir)
	return &SQLiteBackend{db: db, cache: cache}, nil
}

// ====== ROW MAPPING ======

func scanAtom(scan func(dest ...interface{}) error) (*Atom, error) {
	var (
		a                  Atom
		ttStart            string
		ttEnd              sql.NullString
		tagsJSON, metaJSON sql.NullString
		validFrom, validTo sql.NullString
	)
	err := scan(&a.ID, &ttStart, &ttEnd, &a.Modality,
		&a.Content.Inline, &a.Content.Ref, &a.Content.MediaType,
		&tagsJSON, &a.CorrelationID, &metaJSON, &validFrom, &validTo)
	if err != nil {
		return nil, err
	}
	if a.TTStart, err = ParseTime(ttStart); err != nil {
		return nil, errs.Corruptionf("bad tt_start %q: %v", ttStart, err)
	}
	parse := func(ns sql.NullString, field string) (*time.Time, error) {
		if !ns.Valid || ns.String == "" {
			return nil, nil
		}
		t, err := ParseTime(ns.String)
		if err != nil {
			return nil, errs.Corruptionf("bad %s %q: %v", field, ns.String, err)
		}
		return &t, nil
	}
	if a.TTEnd, err = parse(ttEnd, "tt_end"); err != nil {
		return nil, err
	}
	if a.ValidFrom, err = parse(validFrom, "valid_from"); err != nil {
		return nil, err
	}
	if a.ValidTo, err = parse(validTo, "valid_to"); err != nil {
		return nil, err
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &a.Tags); err != nil {
			return nil, errs.Corruptionf("bad tags for atom %s: %v", a.ID, err)
		}
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &a.Metadata); err != nil {
			return nil, errs.Corruptionf("bad metadata for atom %s: %v", a.ID, err)
		}
	}
	return &a, nil
}

const atomColumns = "id, tt_start, tt_end, modality, content_inline, content_ref, media_type, tags, correlation_id, metadata, valid_from, valid_to"

const atomPlaceholders = "(?,?,?,?,?,?,?,?,?,?,?,?)"

func insertArgs(a *Atom) ([]interface{}, error) {
	var tags interface{}
	if len(a.Tags) > 0 {
		data, err := json.Marshal(a.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize tags: %w", err)
		}
		tags = string(data)
	}
	var meta interface{}
	if len(a.Metadata) > 0 {
		data, err := json.Marshal(a.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize metadata: %w", err)
		}
		meta = string(data)
	}
	opt := func(t *time.Time) interface{} {
		if t == nil {
			return nil
		}
		return FormatTime(*t)
	}
	return []interface{}{
		a.ID, FormatTime(a.TTStart), opt(a.TTEnd), a.Modality,
		a.Content.Inline, a.Content.Ref, a.Content.MediaType,
		tags, a.CorrelationID, meta, opt(a.ValidFrom), opt(a.ValidTo),
	}, nil
}

// ====== WRITES ======

func (b *SQLiteBackend) Insert(a *Atom) error {
	var existing int
	err := b.db.QueryRow("SELECT COUNT(*) FROM atoms WHERE id = ? AND tt_end IS NULL", a.ID).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to check current revision: %w", err)
	}
	if existing > 0 {
		return errs.Conflictf("atom %s already has a current revision", a.ID)
	}
	args, err := insertArgs(a)
	if err != nil {
		return err
	}
	_, err = b.db.Exec("INSERT INTO atoms ("+atomColumns+") VALUES "+atomPlaceholders, args...)
	if err != nil {
		return fmt.Errorf("failed to insert atom %s: %w", a.ID, err)
	}
	b.cache.Del(a.ID)
	return nil
}

func (b *SQLiteBackend) Supersede(id string, ttEnd time.Time, next *Atom) error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin supersession: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("UPDATE atoms SET tt_end = ? WHERE id = ? AND tt_end IS NULL",
		FormatTime(ttEnd), id)
	if err != nil {
		return fmt.Errorf("failed to close current revision of %s: %w", id, err)
	}
	closed, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count closed revisions: %w", err)
	}
	if closed == 0 {
		return errs.Conflictf("no current revision of atom %s to supersede", id)
	}

	args, err := insertArgs(next)
	if err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO atoms ("+atomColumns+") VALUES "+atomPlaceholders, args...); err != nil {
		return fmt.Errorf("failed to insert replacement revision of %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit supersession of %s: %w", id, err)
	}
	b.cache.Del(id)
	return nil
}

// ====== READS ======

func (b *SQLiteBackend) Get(id string) (*Atom, error) {
	if cached, ok := b.cache.Get(id); ok {
		cp := *cached.(*Atom)
		return &cp, nil
	}
	row := b.db.QueryRow("SELECT "+atomColumns+" FROM atoms WHERE id = ? AND tt_end IS NULL", id)
	a, err := scanAtom(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("atom %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	b.cache.Set(id, a, int64(len(a.Content.Inline)+len(a.Content.Ref)+64))
	cp := *a
	return &cp, nil
}

func (b *SQLiteBackend) GetAsOf(id string, at time.Time) (*Atom, error) {
	wire := FormatTime(at)
	row := b.db.QueryRow(
		"SELECT "+atomColumns+" FROM atoms WHERE id = ? AND tt_start <= ? AND (tt_end IS NULL OR tt_end > ?)",
		id, wire, wire)
	a, err := scanAtom(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("atom %s as of %s: %w", id, wire, ErrNotFound)
	}
	return a, err
}

func (b *SQLiteBackend) List() ([]*Atom, error) {
	rows, err := b.db.Query("SELECT " + atomColumns + " FROM atoms WHERE tt_end IS NULL ORDER BY tt_start, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list atoms: %w", err)
	}
	defer rows.Close()
	return collectAtoms(rows)
}

func (b *SQLiteBackend) ListAsOf(at time.Time) ([]*Atom, error) {
	wire := FormatTime(at)
	rows, err := b.db.Query(
		"SELECT "+atomColumns+" FROM atoms WHERE tt_start <= ? AND (tt_end IS NULL OR tt_end > ?) ORDER BY tt_start, id",
		wire, wire)
	if err != nil {
		return nil, fmt.Errorf("failed to list atoms as of %s: %w", wire, err)
	}
	defer rows.Close()
	return collectAtoms(rows)
}

func (b *SQLiteBackend) History(id string) ([]*Atom, error) {
	rows, err := b.db.Query("SELECT "+atomColumns+" FROM atoms WHERE id = ? ORDER BY tt_start", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of %s: %w", id, err)
	}
	defer rows.Close()
	out, err := collectAtoms(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("atom %s: %w", id, ErrNotFound)
	}
	return out, nil
}

func collectAtoms(rows *sql.Rows) ([]*Atom, error) {
	var out []*Atom
	for rows.Next() {
		a, err := scanAtom(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ====== SNAPSHOTS ======

func (b *SQLiteBackend) PutSnapshot(s *Snapshot) error {
	ids, err := json.Marshal(s.AtomIDs)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot atom ids: %w", err)
	}
	stats, err := json.Marshal(s.Stats)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot stats: %w", err)
	}
	_, err = b.db.Exec(
		"INSERT OR REPLACE INTO snapshots (id, atom_ids, note, previous_id, created_at, stats) VALUES (?,?,?,?,?,?)",
		s.ID, string(ids), s.Note, s.PreviousID, FormatTime(s.CreatedAt), string(stats))
	if err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", s.ID, err)
	}
	return nil
}

func (b *SQLiteBackend) GetSnapshot(id string) (*Snapshot, error) {
	row := b.db.QueryRow("SELECT id, atom_ids, note, previous_id, created_at, stats FROM snapshots WHERE id = ?", id)
	s, err := scanSnapshot(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	return s, err
}

func (b *SQLiteBackend) ListSnapshots() ([]*Snapshot, error) {
	rows, err := b.db.Query("SELECT id, atom_ids, note, previous_id, created_at, stats FROM snapshots ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()
	var out []*Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSnapshot(scan func(dest ...interface{}) error) (*Snapshot, error) {
	var (
		s            Snapshot
		ids, created string
		statsJSON    sql.NullString
	)
	if err := scan(&s.ID, &ids, &s.Note, &s.PreviousID, &created, &statsJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ids), &s.AtomIDs); err != nil {
		return nil, errs.Corruptionf("bad atom_ids for snapshot %s: %v", s.ID, err)
	}
	var err error
	if s.CreatedAt, err = ParseTime(created); err != nil {
		return nil, errs.Corruptionf("bad created_at for snapshot %s: %v", s.ID, err)
	}
	if statsJSON.Valid && statsJSON.String != "" {
		if err := json.Unmarshal([]byte(statsJSON.String), &s.Stats); err != nil {
			return nil, errs.Corruptionf("bad stats for snapshot %s: %v", s.ID, err)
		}
	}
	return &s, nil
}

// ====== INTEGRITY ======

// Integrity runs the database's own page-level check, then verifies the
// revision invariant: at most one open revision per id. Violations are
// reported in the same shape the journal scanner uses.
func (b *SQLiteBackend) Integrity() (*journal.IntegrityReport, error) {
	report := &journal.IntegrityReport{}

	var verdict string
	if err := b.db.QueryRow("PRAGMA integrity_check").Scan(&verdict); err != nil {
		return nil, fmt.Errorf("failed to run integrity check: %w", err)
	}
	if verdict != "ok" {
		report.Quarantined = append(report.Quarantined, journal.QuarantinedRecord{
			File: "memcore.db", Reason: "integrity_check: " + verdict,
		})
	}

	rows, err := b.db.Query("SELECT id, COUNT(*) FROM atoms WHERE tt_end IS NULL GROUP BY id HAVING COUNT(*) > 1")
	if err != nil {
		return nil, fmt.Errorf("failed to verify revision invariant: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		report.Quarantined = append(report.Quarantined, journal.QuarantinedRecord{
			File: "atoms", Reason: fmt.Sprintf("atom %s has %d open revisions", id, n),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := b.db.QueryRow("SELECT COUNT(*) FROM atoms").Scan(&report.ValidRecords); err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}
	return report, nil
}

func (b *SQLiteBackend) Shutdown() error {
	b.cache.Close()
	return b.db.Close()
}
