// Package automap matches raw source topics against the namespace cache.
// A topic like socket/virtualfactory/Enterprise1/KPI/MyKPI/value maps to the
// UNS path Enterprise1/KPI/MyKPI: leading connector segments are stripped,
// the trailing segment is the measurement name, and the remainder is
// compared case-insensitively against the indexed paths.
package automap

import (
	"strings"
	"sync"

	"github.com/fabriclabs/unshub/internal/nscache"
	"github.com/fabriclabs/unshub/internal/types"
)

// ReasonNoMatch is the failure reason published when no namespace matches.
const ReasonNoMatch = "No matching namespace found in UNS structure"

const (
	// maxStrip bounds how many leading segments may be removed: the first is
	// the connector identifier, the second may be an operation qualifier.
	// Deeper source prefixes are not searched.
	maxStrip = 2

	// minMatchSegments rejects one-level matches as too weak.
	minMatchSegments = 2
)

// Mapper resolves topics against the namespace cache. Map is a pure
// function of the cache snapshot; the attempted set limits each topic to
// one attempt per cache generation.
type Mapper struct {
	cache *nscache.Cache

	mu        sync.Mutex
	attempted map[string]int64 // topic → generation of the last attempt
}

// New creates a mapper over the given namespace cache.
func New(cache *nscache.Cache) *Mapper {
	return &Mapper{cache: cache, attempted: make(map[string]int64)}
}

// Map returns the longest indexed UNS path reachable by stripping 1..2
// leading topic segments and dropping the trailing measurement segment.
// Only binding targets (namespace-terminated paths) match. The boolean is
// false when no candidate matches.
func (m *Mapper) Map(topic string) (string, bool) {
	parts := types.SplitPath(topic)
	if len(parts) < 2 {
		return "", false
	}
	parts = parts[:len(parts)-1] // trailing segment is the measurement name

	best := ""
	for k := 1; k <= maxStrip && k < len(parts); k++ {
		candidate := parts[k:]
		if len(candidate) < minMatchSegments {
			continue
		}
		path := strings.Join(candidate, types.PathSeparator)
		d, ok := m.cache.LookupFold(path)
		if !ok || !d.BindingTarget {
			continue
		}
		if len(d.Path) > len(best) {
			best = d.Path
		}
	}
	return best, best != ""
}

// MarkAttempted records that the topic was attempted at the current cache
// generation. Returns false if it was already attempted at this generation.
func (m *Mapper) MarkAttempted(topic string) bool {
	gen := m.cache.Generation()
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.attempted[topic]; ok && g == gen {
		return false
	}
	m.attempted[topic] = gen
	return true
}

// ResetAttempts clears the attempted set. Called when the namespace
// structure changes, so every known topic becomes eligible again.
func (m *Mapper) ResetAttempts() {
	m.mu.Lock()
	m.attempted = make(map[string]int64)
	m.mu.Unlock()
}
