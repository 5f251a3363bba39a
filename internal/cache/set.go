package cache

import "sort"

// Admin is the administrative view of a cache, independent of its value type.
type Admin interface {
	Stats() Stats
	Clear() int
	SweepExpired() int
}

// Set groups named caches for administrative operations that act on every instance.
type Set struct {
	names  []string
	caches map[string]Admin
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{caches: make(map[string]Admin)}
}

// Add registers c under name. Registering a name twice replaces the earlier cache.
func (s *Set) Add(name string, c Admin) *Set {
	if _, ok := s.caches[name]; !ok {
		s.names = append(s.names, name)
		sort.Strings(s.names)
	}
	s.caches[name] = c
	return s
}

// Names returns the registered names in sorted order.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// Stats returns stats keyed by cache name.
func (s *Set) Stats() map[string]Stats {
	out := make(map[string]Stats, len(s.caches))
	for name, c := range s.caches {
		out[name] = c.Stats()
	}
	return out
}

// Clear clears every cache and returns the removed counts keyed by name.
func (s *Set) Clear() map[string]int {
	out := make(map[string]int, len(s.caches))
	for name, c := range s.caches {
		out[name] = c.Clear()
	}
	return out
}

// SweepExpired sweeps every cache and returns the total number of entries removed.
func (s *Set) SweepExpired() int {
	total := 0
	for _, c := range s.caches {
		total += c.SweepExpired()
	}
	return total
}
