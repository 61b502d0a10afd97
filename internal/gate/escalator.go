package gate

import (
	"container/heap"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"memcore/internal/errs"
	"memcore/internal/logging"
)

// EscalationStatus tracks an escalation through its lifecycle.
type EscalationStatus string

const (
	StatusPending  EscalationStatus = "pending"
	StatusApproved EscalationStatus = "approved"
	StatusRejected EscalationStatus = "rejected"
)

// Escalation is one action awaiting a human decision. Priority is the
// distance between the stated confidence and the threshold it missed
// (or barely cleared): the wider the gap, the more urgent the review.
type Escalation struct {
	ID          string           `json:"id"`
	Description string           `json:"description"`
	Criticality Criticality      `json:"criticality"`
	Confidence  float64          `json:"confidence"`
	Threshold   float64          `json:"threshold"`
	Priority    float64          `json:"priority"`
	Status      EscalationStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
	Note        string           `json:"note,omitempty"`
}

type escalationHeap []*Escalation

func (h escalationHeap) Len() int { return len(h) }
func (h escalationHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}
func (h escalationHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *escalationHeap) Push(x interface{}) {
	*h = append(*h, x.(*Escalation))
}
func (h *escalationHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Escalator is the pending-review queue. Highest priority first;
// creation time breaks ties.
type Escalator struct {
	mu       sync.Mutex
	pending  escalationHeap
	byID     map[string]*Escalation
	resolved []*Escalation
	clock    func() time.Time
}

// NewEscalator creates an empty queue.
func NewEscalator() *Escalator {
	return &Escalator{
		byID:  make(map[string]*Escalation),
		clock: time.Now,
	}
}

// SetClock replaces the wall clock. Test hook.
func (e *Escalator) SetClock(fn func() time.Time) { e.clock = fn }

// Raise files an escalation from a gate decision.
func (e *Escalator) Raise(description string, d *Decision) *Escalation {
	esc := &Escalation{
		ID:          uuid.New().String(),
		Description: description,
		Criticality: d.Criticality,
		Confidence:  d.Confidence,
		Threshold:   d.Threshold,
		Priority:    math.Abs(d.Threshold - d.Confidence),
		Status:      StatusPending,
		CreatedAt:   e.clock().UTC(),
	}

	e.mu.Lock()
	heap.Push(&e.pending, esc)
	e.byID[esc.ID] = esc
	e.mu.Unlock()

	logging.Gate("escalation %s raised (%s, priority %.3f): %s", esc.ID, esc.Criticality, esc.Priority, description)
	return esc
}

// Next returns the highest-priority pending escalation without removing
// it, nil when the queue is empty.
func (e *Escalator) Next() *Escalation {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return nil
	}
	return e.pending[0]
}

// Resolve approves or rejects a pending escalation. Rejections require
// a note explaining why; approvals may omit it.
func (e *Escalator) Resolve(id string, approve bool, note string) (*Escalation, error) {
	if !approve && note == "" {
		return nil, errs.Validationf("rejecting an escalation requires a note")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	esc, ok := e.byID[id]
	if !ok {
		return nil, errs.Validationf("unknown escalation %s", id)
	}
	if esc.Status != StatusPending {
		return nil, errs.Conflictf("escalation %s already %s", id, esc.Status)
	}

	for i, p := range e.pending {
		if p.ID == id {
			heap.Remove(&e.pending, i)
			break
		}
	}

	now := e.clock().UTC()
	esc.ResolvedAt = &now
	esc.Note = note
	if approve {
		esc.Status = StatusApproved
	} else {
		esc.Status = StatusRejected
	}
	e.resolved = append(e.resolved, esc)
	logging.Gate("escalation %s resolved: %s", id, esc.Status)
	return esc, nil
}

// Pending returns all open escalations, highest priority first.
func (e *Escalator) Pending() []*Escalation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Escalation, len(e.pending))
	copy(out, e.pending)
	// The heap is only partially ordered; sort the copy properly.
	tmp := escalationHeap(out)
	sorted := make([]*Escalation, 0, len(tmp))
	for tmp.Len() > 0 {
		sorted = append(sorted, heap.Pop(&tmp).(*Escalation))
	}
	return sorted
}

type escalatorFile struct {
	Escalations []*Escalation `json:"escalations"`
}

// Save writes the queue, pending and resolved alike, to a JSON file so
// escalations survive process restarts.
func (e *Escalator) Save(path string) error {
	e.mu.Lock()
	all := make([]*Escalation, 0, len(e.byID))
	for _, esc := range e.byID {
		all = append(all, esc)
	}
	e.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create escalation directory: %w", err)
	}
	data, err := json.MarshalIndent(escalatorFile{Escalations: all}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize escalations: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write escalations: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace escalation file: %w", err)
	}
	return nil
}

// LoadEscalator reads a saved queue back from disk. A missing file
// yields an empty queue, so first runs need no setup.
func LoadEscalator(path string) (*Escalator, error) {
	e := NewEscalator()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return e, nil
		}
		return nil, fmt.Errorf("failed to read escalations: %w", err)
	}
	var f escalatorFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errs.Corruptionf("undecodable escalation file %s: %v", path, err)
	}
	for _, esc := range f.Escalations {
		e.byID[esc.ID] = esc
		if esc.Status == StatusPending {
			heap.Push(&e.pending, esc)
		} else {
			e.resolved = append(e.resolved, esc)
		}
	}
	return e, nil
}

// Stats summarizes queue activity.
type Stats struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// Stats returns current counts.
func (e *Escalator) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{Pending: len(e.pending)}
	for _, r := range e.resolved {
		if r.Status == StatusApproved {
			s.Approved++
		} else {
			s.Rejected++
		}
	}
	return s
}
