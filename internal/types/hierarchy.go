// Package types defines the core data structures for the unshub UNS core:
// hierarchy templates and instances, namespaces, topics, and data points.
package types

import (
	"fmt"
	"time"
)

// HierarchyLevel is one node in a configurable level template
// (e.g. Enterprise, Site, Area). Levels form a template tree; instances
// of levels form the runtime tree.
type HierarchyLevel struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Order         int      `json:"order"` // 0-based, increasing toward the leaves
	Required      bool     `json:"required,omitempty"`
	ParentLevelID string   `json:"parent_level_id,omitempty"`
	AllowedChilds []string `json:"allowed_child_ids,omitempty"` // empty = may be leaf
}

// HierarchyConfiguration is an ordered set of hierarchy levels. Exactly one
// configuration is active at a time; system-defined configurations cannot
// be deleted.
type HierarchyConfiguration struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Levels        []HierarchyLevel `json:"levels"`
	Active        bool             `json:"active,omitempty"`
	SystemDefined bool             `json:"system_defined,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Level returns the level with the given id, or nil.
func (c *HierarchyConfiguration) Level(id string) *HierarchyLevel {
	for i := range c.Levels {
		if c.Levels[i].ID == id {
			return &c.Levels[i]
		}
	}
	return nil
}

// Validate checks the configuration and returns the full list of violations.
// It never stops at the first problem; an empty slice means the configuration
// is valid. Checked: duplicate level ids, dangling parent references,
// dangling allowed-child references, and cycles among level ids.
func (c *HierarchyConfiguration) Validate() []string {
	var violations []string

	seen := make(map[string]bool, len(c.Levels))
	for _, lvl := range c.Levels {
		if lvl.ID == "" {
			violations = append(violations, fmt.Sprintf("level %q has an empty id", lvl.Name))
			continue
		}
		if seen[lvl.ID] {
			violations = append(violations, fmt.Sprintf("duplicate level id %q", lvl.ID))
		}
		seen[lvl.ID] = true
	}

	for _, lvl := range c.Levels {
		if lvl.ParentLevelID != "" && !seen[lvl.ParentLevelID] {
			violations = append(violations,
				fmt.Sprintf("level %q references missing parent level %q", lvl.ID, lvl.ParentLevelID))
		}
		for _, child := range lvl.AllowedChilds {
			if !seen[child] {
				violations = append(violations,
					fmt.Sprintf("level %q allows missing child level %q", lvl.ID, child))
			}
		}
	}

	violations = append(violations, c.findCycles()...)
	return violations
}

// findCycles walks parent edges from every level with a colored DFS.
// Dangling parents are reported separately by Validate and skipped here.
func (c *HierarchyConfiguration) findCycles() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current walk
		black = 2 // proven cycle-free
	)
	color := make(map[string]int, len(c.Levels))
	var violations []string

	for _, lvl := range c.Levels {
		if color[lvl.ID] != white {
			continue
		}
		// Iterative walk up the parent chain. A parent id with no level ends
		// the chain; Validate reports it as a dangling reference, not a cycle.
		var chain []string
		id := lvl.ID
		for id != "" && color[id] == white {
			next := c.Level(id)
			if next == nil {
				id = ""
				break
			}
			color[id] = gray
			chain = append(chain, id)
			id = next.ParentLevelID
		}
		if id != "" && color[id] == gray {
			violations = append(violations,
				fmt.Sprintf("cycle detected through level %q", id))
		}
		for _, v := range chain {
			color[v] = black
		}
	}
	return violations
}

// HierarchyInstance is an occurrence of a HierarchyLevel at runtime,
// e.g. "Enterprise1" as an instance of the Enterprise level.
type HierarchyInstance struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	LevelID          string            `json:"level_id"`
	ParentInstanceID string            `json:"parent_instance_id,omitempty"`
	Active           bool              `json:"active"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}
