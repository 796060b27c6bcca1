package mapping

import (
	"maps"
	"sync"
)

// Store holds the mapping currently in force. The cartographer writes it;
// the emitter reads it.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
	version uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Replace swaps in a new mapping and bumps the version.
func (s *Store) Replace(entries map[string]Entry) {
	next := make(map[string]Entry, len(entries))
	for k, e := range entries {
		next[k] = e.Clone()
	}

	s.mu.Lock()
	s.entries = next
	s.version++
	s.mu.Unlock()
}

// Get returns the entry for a source entity.
func (s *Store) Get(source string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[source]
	if !ok {
		return Entry{}, false
	}
	return e.Clone(), true
}

// Snapshot returns a copy of the current mapping and its version.
func (s *Store) Snapshot() (map[string]Entry, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := maps.Clone(s.entries)
	for k, e := range out {
		out[k] = e.Clone()
	}
	return out, s.version
}

// Len returns the number of mapped sources.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
