package nscache

import (
	"sync"
	"testing"
	"time"

	"github.com/fabriclabs/unshub/internal/eventbus"
	"github.com/fabriclabs/unshub/internal/structure"
	"github.com/fabriclabs/unshub/internal/types"
)

// staticTree serves a fixed composed tree, counting calls.
type staticTree struct {
	mu    sync.Mutex
	roots []*types.NSTreeNode
	calls int
}

func (s *staticTree) GetComposedTree() []*types.NSTreeNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.roots
}

func nsNode(path, name string, children ...*types.NSTreeNode) *types.NSTreeNode {
	return &types.NSTreeNode{
		Kind: types.NodeNamespace, ID: path, Name: name, FullPath: path,
		Namespace: &types.Namespace{ID: path, Name: name}, Children: children,
	}
}

func instNode(path, name string, children ...*types.NSTreeNode) *types.NSTreeNode {
	return &types.NSTreeNode{
		Kind: types.NodeHierarchyInstance, ID: path, Name: name, FullPath: path,
		Instance: &types.HierarchyInstance{ID: path, Name: name}, Children: children,
	}
}

func TestRebuildIndexesAllPaths(t *testing.T) {
	tree := &staticTree{roots: []*types.NSTreeNode{
		instNode("Enterprise1", "Enterprise1",
			instNode("Enterprise1/Site1", "Site1"),
			nsNode("Enterprise1/KPI", "KPI",
				nsNode("Enterprise1/KPI/MyKPI", "MyKPI"))),
	}}
	c := New(tree, nil)

	if c.Len() != 4 {
		t.Fatalf("indexed %d paths, want 4", c.Len())
	}
	d, ok := c.Lookup("Enterprise1/KPI/MyKPI")
	if !ok || !d.BindingTarget || d.Kind != types.NodeNamespace {
		t.Fatalf("namespace descriptor = %+v ok=%v", d, ok)
	}
	d, ok = c.Lookup("Enterprise1/Site1")
	if !ok || d.BindingTarget {
		t.Fatalf("instance path must not be a binding target: %+v ok=%v", d, ok)
	}
	if _, ok := c.Lookup("Nope"); ok {
		t.Fatal("unexpected hit for unknown path")
	}
}

func TestGenerationAdvancesOnRebuild(t *testing.T) {
	tree := &staticTree{}
	c := New(tree, nil)
	g1 := c.Generation()
	c.Rebuild()
	if c.Generation() <= g1 {
		t.Fatalf("generation did not advance: %d -> %d", g1, c.Generation())
	}
}

func TestStructureChangeTriggersRebuild(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()

	cfg := &types.HierarchyConfiguration{
		Levels: []types.HierarchyLevel{{ID: "enterprise", Name: "Enterprise", Order: 0}},
	}
	svc, err := structure.New(cfg, bus, nil)
	if err != nil {
		t.Fatalf("structure.New: %v", err)
	}
	c := New(svc, nil)
	if err := c.Attach(bus); err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer c.Detach()

	if _, err := svc.AddHierarchyInstance("enterprise", "Enterprise1", ""); err != nil {
		t.Fatalf("add instance: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.Lookup("Enterprise1"); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("cache never picked up the new instance")
}

func TestConcurrentRebuildCoalesces(t *testing.T) {
	tree := &staticTree{roots: []*types.NSTreeNode{instNode("E", "E")}}
	c := New(tree, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Rebuild()
		}()
	}
	wg.Wait()

	// Readers must see a consistent snapshot throughout.
	if _, ok := c.Lookup("E"); !ok {
		t.Fatal("lost path after concurrent rebuilds")
	}
	if c.Rebuilds() > 51 {
		t.Fatalf("rebuilds = %d; coalescing is not working", c.Rebuilds())
	}
}
