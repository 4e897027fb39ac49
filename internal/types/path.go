package types

import (
	"sort"
	"strings"
)

// PathSeparator joins UNS path segments.
const PathSeparator = "/"

// PathSegment is one level/value pair of a hierarchical path.
type PathSegment struct {
	LevelID string
	Value   string
}

// HierarchicalPath is an ordered sequence of level values, e.g.
// Enterprise1/Site2/Area3. Equality is by content, unlike the id-keyed
// entities.
type HierarchicalPath struct {
	Segments []PathSegment
}

// String joins the non-empty segment values with the path separator.
func (p HierarchicalPath) String() string {
	parts := make([]string, 0, len(p.Segments))
	for _, s := range p.Segments {
		if s.Value != "" {
			parts = append(parts, s.Value)
		}
	}
	return strings.Join(parts, PathSeparator)
}

// Equal compares two paths by content.
func (p HierarchicalPath) Equal(o HierarchicalPath) bool {
	if len(p.Segments) != len(o.Segments) {
		return false
	}
	for i := range p.Segments {
		if p.Segments[i] != o.Segments[i] {
			return false
		}
	}
	return true
}

// FromPath splits a slash-joined string and assigns successive segments to
// the configuration's levels in increasing order. Excess segments beyond the
// configured levels are ignored; empty segments are skipped.
func FromPath(s string, cfg *HierarchyConfiguration) HierarchicalPath {
	levels := make([]HierarchyLevel, len(cfg.Levels))
	copy(levels, cfg.Levels)
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].Order < levels[j].Order })

	var p HierarchicalPath
	i := 0
	for _, part := range strings.Split(s, PathSeparator) {
		if part == "" {
			continue
		}
		if i >= len(levels) {
			break
		}
		p.Segments = append(p.Segments, PathSegment{LevelID: levels[i].ID, Value: part})
		i++
	}
	return p
}

// InstanceResolver looks up a hierarchy instance by id. The structure
// service satisfies this; tests use map-backed fakes.
type InstanceResolver interface {
	Instance(id string) *HierarchyInstance
}

// FullPath walks an instance's parent chain and joins the names root-first,
// skipping empty names. A broken parent link truncates the path at the break
// rather than failing.
func FullPath(inst *HierarchyInstance, r InstanceResolver) string {
	if inst == nil {
		return ""
	}
	var names []string
	for cur := inst; cur != nil; {
		if cur.Name != "" {
			names = append(names, cur.Name)
		}
		if cur.ParentInstanceID == "" {
			break
		}
		cur = r.Instance(cur.ParentInstanceID)
	}
	// Reverse: collected leaf-first.
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, PathSeparator)
}

// SplitPath splits a topic or UNS path into its non-empty segments.
func SplitPath(s string) []string {
	raw := strings.Split(s, PathSeparator)
	parts := raw[:0]
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
