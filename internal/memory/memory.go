// Package memory keeps the short conversational context per session: the
// last questions, clarifications and answers, bounded so prompts stay small.
package memory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry kinds.
const (
	KindQuery         = "query"
	KindClarification = "clarification"
	KindAnswer        = "answer"
	KindChat          = "chat"
)

const DefaultMaxEntries = 10

type Entry struct {
	TurnIndex int       `json:"turn_index"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store holds per-session histories. All methods are safe for concurrent
// use; entries for different sessions never mix.
type Store struct {
	mu         sync.Mutex
	maxEntries int
	sessions   map[string][]Entry
	turns      map[string]int
}

func NewStore(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		maxEntries: maxEntries,
		sessions:   map[string][]Entry{},
		turns:      map[string]int{},
	}
}

// Append records one entry and trims the session to the retention bound,
// dropping oldest first.
func (s *Store) Append(sessionID, kind, content string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns[sessionID]++
	e := Entry{
		TurnIndex: s.turns[sessionID],
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	entries := append(s.sessions[sessionID], e)
	if len(entries) > s.maxEntries {
		entries = entries[len(entries)-s.maxEntries:]
	}
	s.sessions[sessionID] = entries
	return e
}

// Recent returns up to n newest entries in chronological order. n <= 0
// means everything retained.
func (s *Store) Recent(sessionID string, n int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.sessions[sessionID]
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.turns, sessionID)
}

// Sessions lists known session ids, sorted.
func (s *Store) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// --- export / import ---

type exportDoc struct {
	Sessions map[string][]Entry `json:"sessions"`
}

// Export serializes every retained session for hand-off or inspection.
func (s *Store) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := exportDoc{Sessions: map[string][]Entry{}}
	for id, entries := range s.sessions {
		cp := make([]Entry, len(entries))
		copy(cp, entries)
		doc.Sessions[id] = cp
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Import merges previously exported sessions into the store. Imported
// histories still obey the retention bound.
func (s *Store) Import(b []byte) error {
	var doc exportDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parse memory export: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entries := range doc.Sessions {
		if len(entries) > s.maxEntries {
			entries = entries[len(entries)-s.maxEntries:]
		}
		cp := make([]Entry, len(entries))
		copy(cp, entries)
		s.sessions[id] = cp
		for _, e := range cp {
			if e.TurnIndex > s.turns[id] {
				s.turns[id] = e.TurnIndex
			}
		}
	}
	return nil
}

// FormatContext renders the recent window as a prompt block. Empty history
// renders as an empty string so callers can skip the section.
func (s *Store) FormatContext(sessionID string, n int) string {
	entries := s.Recent(sessionID, n)
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s\n", e.Kind, e.Content)
	}
	return b.String()
}
