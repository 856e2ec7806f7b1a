// Package pending holds the paths discovered since the last successful
// marking pass.
package pending

import (
	"sort"
	"sync"
)

// Item is a pending path together with the generation of its latest insert.
type Item struct {
	Path string
	Gen  uint64
}

// Set is a deduplicated, mutex-guarded set of paths. Every insert stamps a
// fresh generation, and Remove only drops a path whose generation has not
// moved since the snapshot it was taken from.
type Set struct {
	mu      sync.Mutex
	entries map[string]uint64
	gen     uint64
}

func NewSet() *Set {
	return &Set{entries: make(map[string]uint64)}
}

// Insert adds path, or refreshes its generation if already present.
func (s *Set) Insert(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.entries[path] = s.gen
}

// Len returns the number of pending paths.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Contains reports whether path is pending.
func (s *Set) Contains(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[path]
	return ok
}

// Snapshot returns the pending items sorted by path.
func (s *Set) Snapshot() []Item {
	s.mu.Lock()
	items := make([]Item, 0, len(s.entries))
	for p, g := range s.entries {
		items = append(items, Item{Path: p, Gen: g})
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items
}

// Remove drops the given items. An item re-inserted after the snapshot was
// taken stays pending. It returns how many paths were dropped.
func (s *Set) Remove(items []Item) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, it := range items {
		if g, ok := s.entries[it.Path]; ok && g == it.Gen {
			delete(s.entries, it.Path)
			n++
		}
	}
	return n
}
