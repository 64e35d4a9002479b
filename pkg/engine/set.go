package engine

import "sort"

// StringSet is an unordered set of target names.
type StringSet map[string]struct{}

// NewStringSet creates a set holding the given names.
func NewStringSet(names ...string) StringSet {
	s := make(StringSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in the set.
func (s StringSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Add inserts names into the set.
func (s StringSet) Add(names ...string) {
	for _, n := range names {
		s[n] = struct{}{}
	}
}

// Clone returns an independent copy of the set.
func (s StringSet) Clone() StringSet {
	c := make(StringSet, len(s))
	for n := range s {
		c[n] = struct{}{}
	}
	return c
}

// Difference returns the names in s which are not in other.
func (s StringSet) Difference(other StringSet) StringSet {
	d := make(StringSet)
	for n := range s {
		if !other.Has(n) {
			d[n] = struct{}{}
		}
	}
	return d
}

// Intersect returns the names present in both s and other.
func (s StringSet) Intersect(other StringSet) StringSet {
	d := make(StringSet)
	for n := range s {
		if other.Has(n) {
			d[n] = struct{}{}
		}
	}
	return d
}

// Sorted returns the names in lexical order.
func (s StringSet) Sorted() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
