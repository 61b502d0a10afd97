package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditRecordWritesJSONLines(t *testing.T) {
	InitializeForTest()
	path := filepath.Join(t.TempDir(), "trail", "audit.log")

	a, err := OpenAudit(path)
	require.NoError(t, err)

	a.Record(AuditAtomCreate, "atom-1", map[string]interface{}{"modality": "text"})
	a.Record(AuditGateDecision, "critical", map[string]interface{}{"passed": false})
	require.NoError(t, a.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []AuditEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev AuditEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, events, 2)
	assert.Equal(t, AuditAtomCreate, events[0].Type)
	assert.Equal(t, "atom-1", events[0].Subject)
	assert.Equal(t, "text", events[0].Detail["modality"])
	assert.Equal(t, AuditGateDecision, events[1].Type)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestAuditAppendsAcrossReopens(t *testing.T) {
	InitializeForTest()
	path := filepath.Join(t.TempDir(), "audit.log")

	a, err := OpenAudit(path)
	require.NoError(t, err)
	a.Record(AuditSnapshot, "snap-1", nil)
	require.NoError(t, a.Close())

	a, err = OpenAudit(path)
	require.NoError(t, err)
	a.Record(AuditSnapshot, "snap-2", nil)
	require.NoError(t, a.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "snap-1")
	assert.Contains(t, string(data), "snap-2")
}

func TestAuditNilIsSafe(t *testing.T) {
	var a *AuditLog
	a.Record(AuditAtomSupersede, "x", nil)
	assert.NoError(t, a.Close())
}

func TestAuditCloseIdempotent(t *testing.T) {
	a, err := OpenAudit(filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)
	require.NoError(t, a.Close())
	assert.NoError(t, a.Close())
	// Recording after close must not panic.
	a.Record(AuditAtomCreate, "late", nil)
}
