package compaction

import (
	"bytes"
	"sort"
	"sync"
)

// Marker records which upsert made a key live. Only its presence matters to
// the second pass.
type Marker struct {
	// Version is the log version of the upsert.
	Version uint64
	// Seq is the record's position in the source log.
	Seq int64
}

// SurvivorIndex maps raw key bytes to the marker of the last upsert seen for
// that key. It is safe for concurrent use.
type SurvivorIndex struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]Marker
}

// NewSurvivorIndex creates an index sized for capacity keys.
func NewSurvivorIndex(capacity int) *SurvivorIndex {
	if capacity < 0 {
		capacity = 0
	}
	return &SurvivorIndex{
		capacity: capacity,
		entries:  make(map[string]Marker, capacity),
	}
}

// Put inserts or overwrites key.
func (s *SurvivorIndex) Put(key []byte, m Marker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[string(key)] = m
}

// Remove deletes key and reports whether it was present.
func (s *SurvivorIndex) Remove(key []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[string(key)]
	delete(s.entries, string(key))
	return ok
}

// Get returns the marker stored for key.
func (s *SurvivorIndex) Get(key []byte) (Marker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.entries[string(key)]
	return m, ok
}

// Contains reports whether key is live.
func (s *SurvivorIndex) Contains(key []byte) bool {
	_, ok := s.Get(key)
	return ok
}

// Cap returns the capacity hint the index was created with.
func (s *SurvivorIndex) Cap() int {
	return s.capacity
}

// Len returns the number of live keys.
func (s *SurvivorIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns the live keys in byte order.
func (s *SurvivorIndex) Keys() [][]byte {
	s.mu.RLock()
	keys := make([][]byte, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, []byte(k))
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i], keys[j]) < 0
	})
	return keys
}

// Reset removes every key.
func (s *SurvivorIndex) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Marker, s.capacity)
}
