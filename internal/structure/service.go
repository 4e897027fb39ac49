// Package structure maintains the authoritative UNS structure: the active
// hierarchy configuration, its runtime instances, and the namespaces
// attached to them. It composes the browsable tree on demand and publishes
// NamespaceStructureChanged after every successful mutation.
//
// The arena holds flat maps keyed by id; children are resolved by index
// lookup during composition, so the composed tree carries no cyclic owning
// references and the walk is iterative.
package structure

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fabriclabs/unshub/internal/eventbus"
	"github.com/fabriclabs/unshub/internal/types"
)

// Service is the reference in-memory NamespaceStructureService.
type Service struct {
	mu  sync.RWMutex
	bus *eventbus.Bus
	log *slog.Logger

	cfg        *types.HierarchyConfiguration
	instances  map[string]*types.HierarchyInstance
	namespaces map[string]*types.Namespace
	nsAnchor   map[string]string // namespace id → node id it is attached to
}

// New creates a structure service over the given hierarchy configuration.
// The configuration must validate cleanly.
func New(cfg *types.HierarchyConfiguration, bus *eventbus.Bus, log *slog.Logger) (*Service, error) {
	if v := cfg.Validate(); len(v) > 0 {
		return nil, fmt.Errorf("structure: invalid hierarchy configuration: %s", strings.Join(v, "; "))
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		bus:        bus,
		log:        log,
		cfg:        cfg,
		instances:  make(map[string]*types.HierarchyInstance),
		namespaces: make(map[string]*types.Namespace),
		nsAnchor:   make(map[string]string),
	}, nil
}

// Configuration returns the active hierarchy configuration.
func (s *Service) Configuration() *types.HierarchyConfiguration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Instance implements types.InstanceResolver.
func (s *Service) Instance(id string) *types.HierarchyInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instances[id]
}

// AddHierarchyInstance creates an instance of the given level under the
// given parent ("" = root). The level must be an allowed child of the
// parent's level, or a root level when there is no parent.
func (s *Service) AddHierarchyInstance(levelID, name, parentInstanceID string) (*types.HierarchyInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lvl := s.cfg.Level(levelID)
	if lvl == nil {
		return nil, fmt.Errorf("structure: unknown level %q", levelID)
	}
	if parentInstanceID == "" {
		if lvl.ParentLevelID != "" {
			return nil, fmt.Errorf("structure: level %q is not a root level", levelID)
		}
	} else {
		parent, ok := s.instances[parentInstanceID]
		if !ok {
			return nil, fmt.Errorf("structure: unknown parent instance %q", parentInstanceID)
		}
		plvl := s.cfg.Level(parent.LevelID)
		if plvl == nil || !contains(plvl.AllowedChilds, levelID) {
			return nil, fmt.Errorf("structure: level %q is not an allowed child of level %q", levelID, parent.LevelID)
		}
	}

	inst := &types.HierarchyInstance{
		ID:               uuid.NewString(),
		Name:             name,
		LevelID:          levelID,
		ParentInstanceID: parentInstanceID,
		Active:           true,
	}
	s.instances[inst.ID] = inst
	s.publishChanged()
	return inst, nil
}

// CreateNamespace attaches a namespace at the node identified by parentPath.
// The path may end at a hierarchy instance (the namespace anchors there) or
// at another namespace (nesting). (Name, anchor) must be unique.
func (s *Service) CreateNamespace(parentPath string, ns *types.Namespace) (*types.Namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.resolvePathLocked(parentPath)
	if node == nil {
		return nil, fmt.Errorf("structure: parent path %q not found", parentPath)
	}

	created := *ns
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	created.Active = true
	switch node.Kind {
	case types.NodeNamespace:
		created.ParentID = node.ID
		created.Anchor = node.Namespace.Anchor
	case types.NodeHierarchyInstance:
		created.ParentID = ""
		created.Anchor = s.anchorForLocked(node.Instance)
	}

	key := created.AnchorKey()
	for _, existing := range s.namespaces {
		if existing.AnchorKey() == key && existing.ParentID == created.ParentID {
			return nil, fmt.Errorf("structure: namespace %q already exists at %q", created.Name, parentPath)
		}
	}

	s.namespaces[created.ID] = &created
	s.nsAnchor[created.ID] = node.ID
	s.publishChanged()
	return &created, nil
}

// DeleteInstance removes an instance and everything beneath it: child
// instances, and namespaces anchored at any removed node.
func (s *Service) DeleteInstance(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[id]; !ok {
		return fmt.Errorf("structure: unknown instance %q", id)
	}

	doomed := map[string]bool{id: true}
	// Instances form a tree; sweep until no more descendants are found.
	for changed := true; changed; {
		changed = false
		for iid, inst := range s.instances {
			if !doomed[iid] && doomed[inst.ParentInstanceID] {
				doomed[iid] = true
				changed = true
			}
		}
	}
	for iid := range doomed {
		delete(s.instances, iid)
	}
	// Namespaces anchored at removed nodes go too, including nested ones.
	for changed := true; changed; {
		changed = false
		for nid, anchor := range s.nsAnchor {
			if doomed[anchor] {
				doomed[nid] = true
				delete(s.namespaces, nid)
				delete(s.nsAnchor, nid)
				changed = true
			}
		}
	}

	s.publishChanged()
	return nil
}

// DeleteNamespace removes a namespace and any namespaces nested under it.
func (s *Service) DeleteNamespace(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.namespaces[id]; !ok {
		return fmt.Errorf("structure: unknown namespace %q", id)
	}
	doomed := map[string]bool{id: true}
	for changed := true; changed; {
		changed = false
		for nid, anchor := range s.nsAnchor {
			if !doomed[nid] && doomed[anchor] {
				doomed[nid] = true
				changed = true
			}
		}
	}
	for nid := range doomed {
		delete(s.namespaces, nid)
		delete(s.nsAnchor, nid)
	}

	s.publishChanged()
	return nil
}

// GetComposedTree materializes the current root nodes with children. The
// returned nodes are fresh copies; callers may hold them across mutations.
func (s *Service) GetComposedTree() []*types.NSTreeNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.composeLocked()
}

// composeLocked builds the full tree with an iterative DFS over the arena.
func (s *Service) composeLocked() []*types.NSTreeNode {
	childInstances := make(map[string][]*types.HierarchyInstance)
	for _, inst := range s.instances {
		childInstances[inst.ParentInstanceID] = append(childInstances[inst.ParentInstanceID], inst)
	}
	childNamespaces := make(map[string][]*types.Namespace)
	for nid, anchor := range s.nsAnchor {
		if ns, ok := s.namespaces[nid]; ok {
			childNamespaces[anchor] = append(childNamespaces[anchor], ns)
		}
	}
	for _, list := range childInstances {
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	for _, list := range childNamespaces {
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}

	var roots []*types.NSTreeNode
	type frame struct {
		node *types.NSTreeNode
	}
	var stack []frame

	for _, inst := range childInstances[""] {
		n := &types.NSTreeNode{
			Kind:     types.NodeHierarchyInstance,
			ID:       inst.ID,
			Name:     inst.Name,
			FullPath: inst.Name,
			Instance: inst,
		}
		roots = append(roots, n)
		stack = append(stack, frame{n})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, inst := range childInstances[f.node.ID] {
			child := &types.NSTreeNode{
				Kind:     types.NodeHierarchyInstance,
				ID:       inst.ID,
				Name:     inst.Name,
				FullPath: joinPath(f.node.FullPath, inst.Name),
				Instance: inst,
			}
			f.node.Children = append(f.node.Children, child)
			stack = append(stack, frame{child})
		}
		for _, ns := range childNamespaces[f.node.ID] {
			child := &types.NSTreeNode{
				Kind:      types.NodeNamespace,
				ID:        ns.ID,
				Name:      ns.Name,
				FullPath:  joinPath(f.node.FullPath, ns.Name),
				Namespace: ns,
			}
			f.node.Children = append(f.node.Children, child)
			stack = append(stack, frame{child})
		}
	}

	sort.Slice(roots, func(i, j int) bool { return roots[i].Name < roots[j].Name })
	return roots
}

// resolvePathLocked finds the node with the given full path, or nil.
func (s *Service) resolvePathLocked(path string) *types.NSTreeNode {
	for _, root := range s.composeLocked() {
		stack := []*types.NSTreeNode{root}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if n.FullPath == path {
				return n
			}
			stack = append(stack, n.Children...)
		}
	}
	return nil
}

// anchorForLocked walks an instance's parent chain and returns the ordered
// levelName→instanceName anchor, root first.
func (s *Service) anchorForLocked(inst *types.HierarchyInstance) []types.AnchorEntry {
	var rev []types.AnchorEntry
	for cur := inst; cur != nil; {
		levelName := cur.LevelID
		if lvl := s.cfg.Level(cur.LevelID); lvl != nil {
			levelName = lvl.Name
		}
		rev = append(rev, types.AnchorEntry{LevelName: levelName, InstanceName: cur.Name})
		if cur.ParentInstanceID == "" {
			break
		}
		cur = s.instances[cur.ParentInstanceID]
	}
	anchor := make([]types.AnchorEntry, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		anchor = append(anchor, rev[i])
	}
	return anchor
}

func (s *Service) publishChanged() {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(&eventbus.Event{Type: eventbus.EventNamespaceStructureChanged}); err != nil {
		s.log.Warn("publish structure change failed", "error", err)
	}
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + types.PathSeparator + name
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
