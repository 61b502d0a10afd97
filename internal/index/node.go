package index

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Level is a node's depth in the hierarchy.
type Level int

const (
	LevelDocument Level = iota
	LevelSection
	LevelParagraph
	LevelSentence
)

func (l Level) String() string {
	switch l {
	case LevelDocument:
		return "document"
	case LevelSection:
		return "section"
	case LevelParagraph:
		return "paragraph"
	case LevelSentence:
		return "sentence"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel validates a level name.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "document":
		return LevelDocument, nil
	case "section":
		return LevelSection, nil
	case "paragraph":
		return LevelParagraph, nil
	case "sentence":
		return LevelSentence, nil
	default:
		return 0, fmt.Errorf("unknown level %q", s)
	}
}

// Node is one element of an atom's forest. Ids are deterministic paths
// under the atom id ("<atom>/s0/p1/t2"), so rebuilding the same text
// yields the same ids.
type Node struct {
	ID       string
	AtomID   string
	Level    Level
	ParentID string
	ChildIDs []string

	Text     string
	Title    string // sections only
	Priority float64
	Created  time.Time
}

// NodeStore holds the forest in memory, keyed by node id and by atom.
type NodeStore struct {
	mu     sync.RWMutex
	nodes  map[string]*Node
	byAtom map[string][]string
}

// NewNodeStore creates an empty store.
func NewNodeStore() *NodeStore {
	return &NodeStore{
		nodes:  make(map[string]*Node),
		byAtom: make(map[string][]string),
	}
}

// Put stores or replaces a node.
func (s *NodeStore) Put(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nodes[n.ID]; !exists {
		s.byAtom[n.AtomID] = append(s.byAtom[n.AtomID], n.ID)
	}
	s.nodes[n.ID] = n
}

// Get returns a node by id, nil if absent.
func (s *NodeStore) Get(id string) *Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodes[id]
}

// ByAtom returns the ids of every node built from an atom, in insertion
// order.
func (s *NodeStore) ByAtom(atomID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byAtom[atomID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// DeleteAtom removes an atom's whole forest and returns the removed
// node ids.
func (s *NodeStore) DeleteAtom(atomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byAtom[atomID]
	for _, id := range ids {
		delete(s.nodes, id)
	}
	delete(s.byAtom, atomID)
	return ids
}

// Count returns how many nodes of each level the store holds.
func (s *NodeStore) Count() map[Level]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Level]int)
	for _, n := range s.nodes {
		out[n.Level]++
	}
	return out
}

// Atoms returns every indexed atom id, sorted.
func (s *NodeStore) Atoms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byAtom))
	for id := range s.byAtom {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
