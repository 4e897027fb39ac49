// Package nscache keeps a flat index of every valid UNS path, rebuilt from
// the composed structure tree whenever the structure changes. Reads are
// lock-free against an atomically swapped snapshot; rebuilds hold a single
// write permit and coalesce bursts of change events into at most one
// follow-up rebuild.
package nscache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fabriclabs/unshub/internal/eventbus"
	"github.com/fabriclabs/unshub/internal/types"
)

// TreeProvider supplies the composed UNS tree. The structure service
// satisfies this.
type TreeProvider interface {
	GetComposedTree() []*types.NSTreeNode
}

// Descriptor is one indexed UNS path. HierarchyInstance paths are stored
// for prefix lookup only; data may be bound only where BindingTarget is set.
type Descriptor struct {
	Path          string
	NodeID        string
	Kind          types.NodeKind
	BindingTarget bool
}

type snapshot struct {
	paths      map[string]Descriptor
	folded     map[string]Descriptor // lowercased path → descriptor (original casing inside)
	generation int64
	builtAt    time.Time
}

// Cache is the namespace path index.
type Cache struct {
	tree TreeProvider
	log  *slog.Logger

	snap atomic.Pointer[snapshot]

	rebuildMu sync.Mutex  // the exclusive write permit
	running   atomic.Bool // a rebuild is in progress
	pending   atomic.Bool // one more rebuild is owed

	generation atomic.Int64
	rebuilds   atomic.Int64

	sub *eventbus.Subscription
}

// New creates the cache and performs the initial rebuild.
func New(tree TreeProvider, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	c := &Cache{tree: tree, log: log}
	c.snap.Store(&snapshot{paths: map[string]Descriptor{}, folded: map[string]Descriptor{}})
	c.Rebuild()
	return c
}

// Attach subscribes the cache to NamespaceStructureChanged on the bus.
func (c *Cache) Attach(bus *eventbus.Bus) error {
	sub, err := bus.SubscribeFunc("nscache",
		[]eventbus.EventType{eventbus.EventNamespaceStructureChanged},
		func(ctx context.Context, e *eventbus.Event) error {
			c.Rebuild()
			return nil
		})
	if err != nil {
		return err
	}
	c.sub = sub
	return nil
}

// Detach cancels the bus subscription.
func (c *Cache) Detach() {
	if c.sub != nil {
		c.sub.Cancel()
		c.sub = nil
	}
}

// Rebuild re-indexes the composed tree and swaps in a new snapshot. If a
// rebuild is already running, exactly one follow-up rebuild is scheduled to
// run immediately after it; further calls in that window coalesce.
func (c *Cache) Rebuild() {
	if !c.running.CompareAndSwap(false, true) {
		c.pending.Store(true)
		return
	}
	for {
		c.doRebuild()
		if !c.pending.CompareAndSwap(true, false) {
			break
		}
	}
	c.running.Store(false)
	// A change may have slipped in between the loop check and the release.
	if c.pending.CompareAndSwap(true, false) {
		c.Rebuild()
	}
}

func (c *Cache) doRebuild() {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	paths := make(map[string]Descriptor)
	folded := make(map[string]Descriptor)
	stack := c.tree.GetComposedTree()
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		d := Descriptor{
			Path:          n.FullPath,
			NodeID:        n.ID,
			Kind:          n.Kind,
			BindingTarget: n.IsBindingTarget(),
		}
		paths[n.FullPath] = d
		folded[strings.ToLower(n.FullPath)] = d
		stack = append(stack, n.Children...)
	}

	gen := c.generation.Add(1)
	c.rebuilds.Add(1)
	c.snap.Store(&snapshot{paths: paths, folded: folded, generation: gen, builtAt: time.Now()})
	c.log.Debug("namespace cache rebuilt", "paths", len(paths), "generation", gen)
}

// Lookup returns the descriptor for an exact path, constant-time and
// lock-free.
func (c *Cache) Lookup(path string) (Descriptor, bool) {
	d, ok := c.snap.Load().paths[path]
	return d, ok
}

// LookupFold is Lookup with case-insensitive path comparison. The returned
// descriptor carries the original casing of the indexed path.
func (c *Cache) LookupFold(path string) (Descriptor, bool) {
	d, ok := c.snap.Load().folded[strings.ToLower(path)]
	return d, ok
}

// Generation returns the snapshot generation; it changes on every rebuild.
func (c *Cache) Generation() int64 {
	return c.snap.Load().generation
}

// Len returns the number of indexed paths.
func (c *Cache) Len() int {
	return len(c.snap.Load().paths)
}

// Rebuilds returns the total number of completed rebuilds.
func (c *Cache) Rebuilds() int64 {
	return c.rebuilds.Load()
}
