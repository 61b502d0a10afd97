package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memcore/internal/config"
	"memcore/internal/errs"
	"memcore/internal/logging"
)

func TestMain(m *testing.M) {
	logging.InitializeForTest()
	os.Exit(m.Run())
}

// backendCase builds a fresh store over each backend so every test runs
// against both implementations of the contract.
type backendCase struct {
	name string
	open func(t *testing.T) *MemoryStore
}

func backendCases() []backendCase {
	return []backendCase{
		{"log", func(t *testing.T) *MemoryStore {
			t.Helper()
			cfg := config.DefaultConfig()
			cfg.MemoryPath = t.TempDir()
			b, err := OpenLog(cfg.MemoryPath)
			require.NoError(t, err)
			m, err := NewWithBackend(cfg, b)
			require.NoError(t, err)
			t.Cleanup(func() { m.Close() })
			return m
		}},
		{"relational", func(t *testing.T) *MemoryStore {
			t.Helper()
			cfg := config.DefaultConfig()
			cfg.Backend = config.BackendRelational
			cfg.MemoryPath = t.TempDir()
			b, err := OpenSQLite(cfg.MemoryPath)
			require.NoError(t, err)
			m, err := NewWithBackend(cfg, b)
			require.NoError(t, err)
			t.Cleanup(func() { m.Close() })
			return m
		}},
	}
}

func textDraft(text string, tags map[string]float64) *Draft {
	return &Draft{
		Modality: "text",
		Content:  Content{Inline: text, MediaType: "text/plain"},
		Tags:     tags,
	}
}

func TestDraftValidate(t *testing.T) {
	vf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	vt := vf.Add(-time.Hour)

	tests := []struct {
		name  string
		draft Draft
		ok    bool
	}{
		{"valid inline", Draft{Modality: "text", Content: Content{Inline: "x", MediaType: "text/plain"}}, true},
		{"valid ref", Draft{Modality: "blob", Content: Content{Ref: "sha256:ab12", MediaType: "application/octet-stream"}}, true},
		{"missing modality", Draft{Content: Content{Inline: "x", MediaType: "text/plain"}}, false},
		{"empty content", Draft{Modality: "text", Content: Content{MediaType: "text/plain"}}, false},
		{"inline and ref", Draft{Modality: "text", Content: Content{Inline: "x", Ref: "r", MediaType: "text/plain"}}, false},
		{"missing media type", Draft{Modality: "text", Content: Content{Inline: "x"}}, false},
		{"tag weight above one", Draft{Modality: "text", Content: Content{Inline: "x", MediaType: "text/plain"}, Tags: map[string]float64{"priority": 1.5}}, false},
		{"empty tag name", Draft{Modality: "text", Content: Content{Inline: "x", MediaType: "text/plain"}, Tags: map[string]float64{"": 0.5}}, false},
		{"inverted valid time", Draft{Modality: "text", Content: Content{Inline: "x", MediaType: "text/plain"}, ValidFrom: &vf, ValidTo: &vt}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.draft.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, errs.IsValidation(err))
			}
		})
	}
}

func TestComputeIDDeterministic(t *testing.T) {
	d1 := textDraft("the same content", map[string]float64{"a": 0.5, "b": 0.7})
	d2 := textDraft("the same content", map[string]float64{"b": 0.7, "a": 0.5})

	id1, err := d1.ComputeID()
	require.NoError(t, err)
	id2, err := d2.ComputeID()
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "tag map order must not affect the id")
	assert.Len(t, id1, 32)

	d3 := textDraft("different content", nil)
	id3, err := d3.ComputeID()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestComputeIDCoversValidTime(t *testing.T) {
	vf := time.Date(2026, 1, 2, 3, 4, 5, 600000000, time.UTC)
	d1 := textDraft("fact", nil)
	d2 := textDraft("fact", nil)
	d2.ValidFrom = &vf

	id1, err := d1.ComputeID()
	require.NoError(t, err)
	id2, err := d2.ComputeID()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestCreateAtomIdempotent(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			m := bc.open(t)
			ctx := context.Background()

			a1, created, err := m.CreateAtom(ctx, textDraft("hello", nil))
			require.NoError(t, err)
			assert.True(t, created)

			a2, created, err := m.CreateAtom(ctx, textDraft("hello", nil))
			require.NoError(t, err)
			assert.False(t, created, "same draft must be a no-op")
			assert.Equal(t, a1.ID, a2.ID)
			assert.True(t, a1.TTStart.Equal(a2.TTStart))

			all, err := m.List(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestSupersedeKeepsHistory(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			m := bc.open(t)
			ctx := context.Background()

			orig, _, err := m.CreateAtom(ctx, textDraft("v1", nil))
			require.NoError(t, err)

			next, err := m.Supersede(ctx, orig.ID, textDraft("v2", nil))
			require.NoError(t, err)
			assert.Equal(t, orig.ID, next.ID, "logical id survives supersession")
			assert.True(t, next.TTStart.After(orig.TTStart))

			cur, err := m.Get(ctx, orig.ID)
			require.NoError(t, err)
			assert.Equal(t, "v2", cur.Text())
			assert.True(t, cur.IsCurrent())

			hist, err := m.History(ctx, orig.ID)
			require.NoError(t, err)
			require.Len(t, hist, 2)
			assert.Equal(t, "v1", hist[0].Text())
			require.NotNil(t, hist[0].TTEnd)
			assert.True(t, hist[0].TTEnd.Equal(next.TTStart), "old revision closes where the new one starts")
			assert.Equal(t, "v2", hist[1].Text())
			assert.Nil(t, hist[1].TTEnd)
		})
	}
}

func TestSupersedeMissingIsConflict(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			m := bc.open(t)
			_, err := m.Supersede(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeef", textDraft("x", nil))
			require.Error(t, err)
			assert.True(t, errs.IsConflict(err))
		})
	}
}

func TestGetAsOfSeesPastRevisions(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			m := bc.open(t)
			ctx := context.Background()

			now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
			m.SetClock(func() time.Time { return now })

			orig, _, err := m.CreateAtom(ctx, textDraft("before", nil))
			require.NoError(t, err)

			now = now.Add(time.Hour)
			_, err = m.Supersede(ctx, orig.ID, textDraft("after", nil))
			require.NoError(t, err)

			past, err := m.GetAsOf(ctx, orig.ID, orig.TTStart.Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, "before", past.Text())

			present, err := m.GetAsOf(ctx, orig.ID, now.Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, "after", present.Text())

			_, err = m.GetAsOf(ctx, orig.ID, orig.TTStart.Add(-time.Minute))
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestTransactionTimeMonotonicUnderFrozenClock(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			m := bc.open(t)
			ctx := context.Background()

			frozen := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
			m.SetClock(func() time.Time { return frozen })

			var last time.Time
			for i := 0; i < 5; i++ {
				a, _, err := m.CreateAtom(ctx, textDraft(string(rune('a'+i)), nil))
				require.NoError(t, err)
				assert.True(t, a.TTStart.After(last), "tt_start must strictly increase")
				last = a.TTStart
			}
		})
	}
}

func TestSnapshotCreateAndReplay(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			m := bc.open(t)
			ctx := context.Background()

			a1, _, err := m.CreateAtom(ctx, textDraft("fact one", nil))
			require.NoError(t, err)
			a2, _, err := m.CreateAtom(ctx, textDraft("fact two", nil))
			require.NoError(t, err)

			s, err := m.CreateSnapshot(ctx, []string{a1.ID, a2.ID}, "baseline")
			require.NoError(t, err)
			assert.Len(t, s.ID, 32)
			assert.Equal(t, 2, s.Stats.AtomCount)
			assert.Equal(t, 2, s.Stats.Modalities["text"])

			// The same member set under the same note reproduces the id.
			members := []string{a1.ID, a2.ID}
			sort.Strings(members)
			again, err := ComputeSnapshotID(members, "baseline")
			require.NoError(t, err)
			assert.Equal(t, s.ID, again)

			// Supersede a member; replay still shows the captured revision.
			_, err = m.Supersede(ctx, a1.ID, textDraft("fact one amended", nil))
			require.NoError(t, err)

			replayed, atoms, err := m.ReplaySnapshot(ctx, s.ID)
			require.NoError(t, err)
			assert.Equal(t, s.ID, replayed.ID)
			require.Len(t, atoms, 2)
			texts := []string{atoms[0].Text(), atoms[1].Text()}
			assert.ElementsMatch(t, []string{"fact one", "fact two"}, texts)
		})
	}
}

func TestSnapshotChainsThroughPrevious(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			m := bc.open(t)
			ctx := context.Background()

			a, _, err := m.CreateAtom(ctx, textDraft("x", nil))
			require.NoError(t, err)

			s1, err := m.CreateSnapshot(ctx, []string{a.ID}, "first")
			require.NoError(t, err)
			assert.Empty(t, s1.PreviousID)

			s2, err := m.CreateSnapshot(ctx, []string{a.ID}, "second")
			require.NoError(t, err)
			assert.Equal(t, s1.ID, s2.PreviousID)
		})
	}
}

func TestSnapshotOfAllCurrent(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			m := bc.open(t)
			ctx := context.Background()

			for _, text := range []string{"one", "two", "three"} {
				_, _, err := m.CreateAtom(ctx, textDraft(text, nil))
				require.NoError(t, err)
			}
			s, err := m.CreateSnapshot(ctx, nil, "everything")
			require.NoError(t, err)
			assert.Len(t, s.AtomIDs, 3)
		})
	}
}

func TestSnapshotOrdersByAtomID(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			m := bc.open(t)
			ctx := context.Background()

			var ids []string
			for _, text := range []string{"alpha", "bravo", "charlie", "delta", "echo"} {
				a, _, err := m.CreateAtom(ctx, textDraft(text, nil))
				require.NoError(t, err)
				ids = append(ids, a.ID)
			}

			// The full-store capture must not depend on insertion order.
			s, err := m.CreateSnapshot(ctx, nil, "ordered")
			require.NoError(t, err)
			assert.True(t, sort.StringsAreSorted(s.AtomIDs), "members sort by atom id")

			// An explicit member list hashes the same no matter how the
			// caller ordered it.
			reversed := append([]string(nil), ids...)
			sort.Sort(sort.Reverse(sort.StringSlice(reversed)))
			s2, err := m.CreateSnapshot(ctx, reversed, "explicit")
			require.NoError(t, err)
			s3, err := m.CreateSnapshot(ctx, ids, "explicit")
			require.NoError(t, err)
			assert.Equal(t, s2.ID, s3.ID)
			assert.True(t, sort.StringsAreSorted(s2.AtomIDs))
		})
	}
}

func TestCorrelationAndMetadataPersist(t *testing.T) {
	cases := []struct {
		name string
		open func(dir string) (Backend, error)
	}{
		{"log", func(dir string) (Backend, error) { return OpenLog(dir) }},
		{"relational", func(dir string) (Backend, error) { return OpenSQLite(dir) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := config.DefaultConfig()
			cfg.MemoryPath = dir
			ctx := context.Background()

			b, err := tc.open(dir)
			require.NoError(t, err)
			m, err := NewWithBackend(cfg, b)
			require.NoError(t, err)

			d := textDraft("grouped fact", nil)
			d.CorrelationID = "ingest-batch-7"
			d.Metadata = map[string]interface{}{"source": "crawler", "author": "ops"}
			a, _, err := m.CreateAtom(ctx, d)
			require.NoError(t, err)
			require.NoError(t, m.Close())

			// Both fields survive a reopen from durable state.
			b2, err := tc.open(dir)
			require.NoError(t, err)
			m2, err := NewWithBackend(cfg, b2)
			require.NoError(t, err)
			t.Cleanup(func() { m2.Close() })

			got, err := m2.Get(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, "ingest-batch-7", got.CorrelationID)
			assert.Equal(t, "crawler", got.Metadata["source"])

			// Correlation is not part of the content address.
			plain := textDraft("grouped fact", nil)
			id, err := plain.ComputeID()
			require.NoError(t, err)
			assert.Equal(t, a.ID, id)

			// Listings restart on the grouping key.
			_, _, err = m2.CreateAtom(ctx, textDraft("ungrouped fact", nil))
			require.NoError(t, err)
			matched, err := m2.ListFiltered(ctx, Filter{CorrelationID: "ingest-batch-7"})
			require.NoError(t, err)
			require.Len(t, matched, 1)
			assert.Equal(t, a.ID, matched[0].ID)
		})
	}
}

func TestSnapshotUnknownMemberIsValidation(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			m := bc.open(t)
			_, err := m.CreateSnapshot(context.Background(), []string{"0000000000000000000000000000dead"}, "")
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err))
		})
	}
}

func TestReplayTamperedSnapshotIsIntegrity(t *testing.T) {
	// Only the log backend keeps snapshots as editable files.
	cfg := config.DefaultConfig()
	cfg.MemoryPath = t.TempDir()
	b, err := OpenLog(cfg.MemoryPath)
	require.NoError(t, err)
	m, err := NewWithBackend(cfg, b)
	require.NoError(t, err)
	defer m.Close()
	ctx := context.Background()

	a, _, err := m.CreateAtom(ctx, textDraft("truth", nil))
	require.NoError(t, err)
	s, err := m.CreateSnapshot(ctx, []string{a.ID}, "sealed")
	require.NoError(t, err)

	// Rewrite the stored note without recomputing the id.
	path := filepath.Join(cfg.MemoryPath, "snapshots", s.ID+".json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk Snapshot
	require.NoError(t, json.Unmarshal(data, &onDisk))
	onDisk.Note = "tampered"
	tampered, err := json.Marshal(&onDisk)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	_, _, err = m.ReplaySnapshot(ctx, s.ID)
	require.Error(t, err)
	assert.True(t, errs.IsIntegrity(err))
}

func TestLogBackendSurvivesReopen(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MemoryPath = t.TempDir()
	ctx := context.Background()

	b, err := OpenLog(cfg.MemoryPath)
	require.NoError(t, err)
	m, err := NewWithBackend(cfg, b)
	require.NoError(t, err)

	a, _, err := m.CreateAtom(ctx, textDraft("persistent", map[string]float64{"priority": 0.9}))
	require.NoError(t, err)
	_, err = m.Supersede(ctx, a.ID, textDraft("persistent v2", nil))
	require.NoError(t, err)
	require.NoError(t, m.Close())

	b2, err := OpenLog(cfg.MemoryPath)
	require.NoError(t, err)
	m2, err := NewWithBackend(cfg, b2)
	require.NoError(t, err)
	defer m2.Close()

	cur, err := m2.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "persistent v2", cur.Text())

	hist, err := m2.History(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 2)

	// A new write after reopen continues past the replayed timestamps.
	n, _, err := m2.CreateAtom(ctx, textDraft("later", nil))
	require.NoError(t, err)
	assert.True(t, n.TTStart.After(hist[1].TTStart))
}

func TestLogBackendQuarantinesCorruptRecord(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MemoryPath = t.TempDir()
	ctx := context.Background()

	b, err := OpenLog(cfg.MemoryPath)
	require.NoError(t, err)
	m, err := NewWithBackend(cfg, b)
	require.NoError(t, err)
	_, _, err = m.CreateAtom(ctx, textDraft("kept", nil))
	require.NoError(t, err)
	require.NoError(t, m.Close())

	path := filepath.Join(cfg.MemoryPath, "journal.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"op\":\"insert\"}\t00000000\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	b2, err := OpenLog(cfg.MemoryPath)
	require.NoError(t, err)
	defer b2.Shutdown()

	report := b2.BootReport()
	require.NotNil(t, report)
	assert.Equal(t, 1, report.ValidRecords)
	assert.Equal(t, 1, report.QuarantinedCount())

	atoms, err := b2.List()
	require.NoError(t, err)
	assert.Len(t, atoms, 1, "valid records survive a corrupt neighbor")
}

func TestIntegrityReportClean(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			m := bc.open(t)
			ctx := context.Background()
			_, _, err := m.CreateAtom(ctx, textDraft("a", nil))
			require.NoError(t, err)

			report, err := m.Integrity(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, report.QuarantinedCount())
			assert.Equal(t, 1, report.ValidRecords)
		})
	}
}

type recordingHook struct {
	ids []string
}

func (h *recordingHook) IndexAtom(ctx context.Context, a *Atom) error {
	h.ids = append(h.ids, a.ID)
	return nil
}

func TestIndexHookThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MemoryPath = t.TempDir()
	cfg.EagerIndex = true
	cfg.LazyIndexThreshold = 0.6
	b, err := OpenLog(cfg.MemoryPath)
	require.NoError(t, err)
	m, err := NewWithBackend(cfg, b)
	require.NoError(t, err)
	defer m.Close()

	hook := &recordingHook{}
	m.SetIndexHook(hook)
	ctx := context.Background()

	hi, _, err := m.CreateAtom(ctx, textDraft("important", map[string]float64{"priority": 0.9}))
	require.NoError(t, err)
	_, _, err = m.CreateAtom(ctx, textDraft("minor", map[string]float64{"priority": 0.2}))
	require.NoError(t, err)

	assert.Equal(t, []string{hi.ID}, hook.ids, "only atoms at or above the threshold are indexed")
}

func TestListFiltered(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			m := bc.open(t)
			ctx := context.Background()

			_, _, err := m.CreateAtom(ctx, textDraft("a note", map[string]float64{"priority": 0.9}))
			require.NoError(t, err)
			_, _, err = m.CreateAtom(ctx, textDraft("a minor note", map[string]float64{"priority": 0.2}))
			require.NoError(t, err)
			_, _, err = m.CreateAtom(ctx, &Draft{
				Modality: "blob",
				Content:  Content{Ref: "sha256:ff", MediaType: "application/octet-stream"},
			})
			require.NoError(t, err)

			text, err := m.ListFiltered(ctx, Filter{Modality: "text"})
			require.NoError(t, err)
			assert.Len(t, text, 2)

			hot, err := m.ListFiltered(ctx, Filter{Tag: "priority", MinWeight: 0.5})
			require.NoError(t, err)
			require.Len(t, hot, 1)
			assert.Equal(t, "a note", hot[0].Content.Inline)

			cold, err := m.ListFiltered(ctx, Filter{Tag: "priority", MaxWeight: 0.5})
			require.NoError(t, err)
			require.Len(t, cold, 1)
			assert.Equal(t, "a minor note", cold[0].Content.Inline)

			all, err := m.ListFiltered(ctx, Filter{})
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func TestFilterValidTime(t *testing.T) {
	vf := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	vt := vf.Add(48 * time.Hour)
	a := &Atom{Modality: "text", ValidFrom: &vf, ValidTo: &vt}

	inside := vf.Add(time.Hour)
	before := vf.Add(-time.Hour)
	atEnd := vt

	assert.True(t, (&Filter{ValidAt: &inside}).Matches(a))
	assert.False(t, (&Filter{ValidAt: &before}).Matches(a))
	assert.False(t, (&Filter{ValidAt: &atEnd}).Matches(a), "valid intervals are closed-open")

	open := &Atom{Modality: "text"}
	assert.True(t, (&Filter{ValidAt: &inside}).Matches(open), "open bounds contain every instant")
}

func TestAsOfView(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			m := bc.open(t)
			ctx := context.Background()

			now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
			m.SetClock(func() time.Time { return now })

			first, _, err := m.CreateAtom(ctx, textDraft("first fact", nil))
			require.NoError(t, err)

			now = now.Add(time.Hour)
			second, err := m.Supersede(ctx, first.ID, textDraft("revised fact", nil))
			require.NoError(t, err)

			// Between the insert and the supersession only the first
			// revision is visible.
			between := first.TTStart.Add(time.Minute)
			view, err := m.AsOfView(ctx, between, true)
			require.NoError(t, err)
			require.Len(t, view, 1)
			assert.Equal(t, "first fact", view[0].Content.Inline)

			view, err = m.AsOfView(ctx, second.TTStart.Add(time.Minute), true)
			require.NoError(t, err)
			require.Len(t, view, 1)
			assert.Equal(t, "revised fact", view[0].Content.Inline)

			empty, err := m.AsOfView(ctx, first.TTStart.Add(-time.Minute), true)
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestAsOfViewValidTime(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			m := bc.open(t)
			ctx := context.Background()

			vf := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
			vt := vf.AddDate(0, 1, 0)
			d := textDraft("february only", nil)
			d.ValidFrom = &vf
			d.ValidTo = &vt
			_, _, err := m.CreateAtom(ctx, d)
			require.NoError(t, err)
			_, _, err = m.CreateAtom(ctx, textDraft("always valid", nil))
			require.NoError(t, err)

			during, err := m.AsOfView(ctx, vf.Add(24*time.Hour), false)
			require.NoError(t, err)
			assert.Len(t, during, 2)

			after, err := m.AsOfView(ctx, vt.Add(24*time.Hour), false)
			require.NoError(t, err)
			require.Len(t, after, 1)
			assert.Equal(t, "always valid", after[0].Content.Inline)
		})
	}
}

func TestStoreStats(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			m := bc.open(t)
			ctx := context.Background()

			_, _, err := m.CreateAtom(ctx, textDraft("one", nil))
			require.NoError(t, err)
			_, _, err = m.CreateAtom(ctx, textDraft("two", nil))
			require.NoError(t, err)
			_, err = m.CreateSnapshot(ctx, nil, "checkpoint")
			require.NoError(t, err)

			stats, err := m.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, stats.Atoms)
			assert.Equal(t, 2, stats.Modalities["text"])
			assert.Equal(t, 1, stats.Snapshots)
		})
	}
}
