package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType classifies audit trail entries.
type AuditEventType string

const (
	AuditAtomCreate    AuditEventType = "atom_create"
	AuditAtomSupersede AuditEventType = "atom_supersede"
	AuditSnapshot      AuditEventType = "snapshot_create"
	AuditGateDecision  AuditEventType = "gate_decision"
	AuditEscalation    AuditEventType = "escalation"
	AuditWitnessStore  AuditEventType = "witness_store"
)

// AuditEvent is one trail entry, written as a JSON line.
type AuditEvent struct {
	Timestamp time.Time              `json:"ts"`
	Type      AuditEventType         `json:"type"`
	Subject   string                 `json:"subject"` // atom/snapshot/witness/escalation id
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// AuditLog appends structured events to a JSON-lines file. A nil
// AuditLog discards everything, so callers never need to guard.
type AuditLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenAudit opens (or creates) an audit trail at path.
func OpenAudit(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &AuditLog{file: f}, nil
}

// Record appends one event. Failures are logged, never returned, so an
// unwritable trail cannot block the operation it records.
func (a *AuditLog) Record(eventType AuditEventType, subject string, detail map[string]interface{}) {
	if a == nil {
		return
	}
	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Subject:   subject,
		Detail:    detail,
	}
	line, err := json.Marshal(event)
	if err != nil {
		Get(CategoryStore).Errorf("failed to serialize audit event: %v", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return
	}
	if _, err := a.file.Write(append(line, '\n')); err != nil {
		Get(CategoryStore).Errorf("failed to write audit event: %v", err)
	}
}

// Close flushes and closes the trail.
func (a *AuditLog) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}
