// Package browser maintains the authoritative in-memory projection of all
// known topics for the UI/API: configured topics from the repository,
// wire-discovered topics, a per-namespace index, and the last value seen
// per topic. It is updated by bus events and falls back to a periodic full
// reload as a safety net.
package browser

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fabriclabs/unshub/internal/eventbus"
	"github.com/fabriclabs/unshub/internal/topics"
	"github.com/fabriclabs/unshub/internal/types"
)

// SafetyRefreshInterval bounds how stale the projection may get before a
// read forces a full reload from the repository.
const SafetyRefreshInterval = 60 * time.Minute

// ChangeKind classifies cache change notifications delivered to listeners
// (the UI layer). These are cache-local, not bus events.
type ChangeKind string

const (
	TopicsAdded      ChangeKind = "TopicsAdded"
	TopicsUpdated    ChangeKind = "TopicsUpdated"
	TopicsRemoved    ChangeKind = "TopicsRemoved"
	TopicsAutoMapped ChangeKind = "TopicsAutoMapped"
)

// ChangeEvent describes one cache change.
type ChangeEvent struct {
	Kind   ChangeKind
	Topics []string
	NSPath string
}

// ChangeListener receives cache change notifications. Called outside the
// cache locks.
type ChangeListener func(ChangeEvent)

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits            int64     `json:"hits"`
	Misses          int64     `json:"misses"`
	RepositoryCalls int64     `json:"repository_calls"`
	Configured      int       `json:"configured"`
	Discovered      int       `json:"discovered"`
	HitRate         float64   `json:"hit_rate"`
	LastFullRefresh time.Time `json:"last_full_refresh"`
}

// Cache is the topic-browser projection.
type Cache struct {
	repo topics.Repository
	log  *slog.Logger

	mu          sync.RWMutex // single write permit; readers take the read side
	configured  map[string]*types.TopicInfo
	discovered  map[string]*types.TopicInfo
	byNamespace map[string][]*types.TopicInfo
	lastValue   map[string]types.DataPoint

	lastFullRefresh time.Time
	initOnce        sync.Once
	initErr         error

	listenerMu sync.RWMutex
	listeners  []ChangeListener

	hits      atomic.Int64
	misses    atomic.Int64
	repoCalls atomic.Int64

	subs []*eventbus.Subscription
}

// New creates an uninitialized cache over the repository.
func New(repo topics.Repository, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		repo:        repo,
		log:         log,
		configured:  make(map[string]*types.TopicInfo),
		discovered:  make(map[string]*types.TopicInfo),
		byNamespace: make(map[string][]*types.TopicInfo),
		lastValue:   make(map[string]types.DataPoint),
	}
}

// Initialize loads every topic configuration and builds the maps.
// Idempotent: concurrent and repeated calls perform the load once.
func (c *Cache) Initialize(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.fullRefresh(ctx)
	})
	return c.initErr
}

// AddListener registers a change listener.
func (c *Cache) AddListener(l ChangeListener) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, l)
	c.listenerMu.Unlock()
}

// Get returns the projection row for a topic, consulting configured first
// and discovered second.
func (c *Cache) Get(ctx context.Context, topic string) (types.TopicInfo, bool) {
	c.maybeRefresh(ctx)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if info, ok := c.configured[topic]; ok {
		c.hits.Add(1)
		return *info, true
	}
	if info, ok := c.discovered[topic]; ok {
		c.hits.Add(1)
		return *info, true
	}
	c.misses.Add(1)
	return types.TopicInfo{}, false
}

// Contains reports whether the topic is known (configured or discovered)
// without touching the hit/miss counters. Satisfies persist.TopicSource.
func (c *Cache) Contains(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.configured[topic]; ok {
		return true
	}
	_, ok := c.discovered[topic]
	return ok
}

// AllTopics returns the merged view: every configured topic plus discovered
// topics not shadowed by a configured entry. Sorted by topic.
func (c *Cache) AllTopics(ctx context.Context) []types.TopicInfo {
	c.maybeRefresh(ctx)
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]types.TopicInfo, 0, len(c.configured)+len(c.discovered))
	for _, info := range c.configured {
		out = append(out, *info)
	}
	for topic, info := range c.discovered {
		if _, shadowed := c.configured[topic]; !shadowed {
			out = append(out, *info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// GetByNamespace returns the topics bound to an exact namespace path.
func (c *Cache) GetByNamespace(ctx context.Context, nspath string) []types.TopicInfo {
	c.maybeRefresh(ctx)
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := c.byNamespace[nspath]
	out := make([]types.TopicInfo, len(list))
	for i, info := range list {
		out[i] = *info
	}
	return out
}

// LastValue returns the most recent data point seen for a topic.
func (c *Cache) LastValue(topic string) (types.DataPoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dp, ok := c.lastValue[topic]
	return dp, ok
}

// UpdateTopic refetches one topic from the repository and reconciles the
// projection: gone entries are removed, new ones added, existing ones
// replaced. Listeners are notified with the matching change kind.
func (c *Cache) UpdateTopic(ctx context.Context, topic string) error {
	c.repoCalls.Add(1)
	cfg, ok, err := c.repo.GetByTopic(ctx, topic)
	if err != nil {
		return err
	}

	var kind ChangeKind
	c.mu.Lock()
	_, existed := c.configured[topic]
	switch {
	case !ok && existed:
		delete(c.configured, topic)
		kind = TopicsRemoved
	case ok && !existed:
		c.configured[topic] = infoFromConfig(cfg)
		kind = TopicsAdded
	case ok:
		prev := c.configured[topic]
		next := infoFromConfig(cfg)
		next.LastDataTimestamp = prev.LastDataTimestamp
		next.FirstSeen = prev.FirstSeen
		c.configured[topic] = next
		kind = TopicsUpdated
	default:
		c.mu.Unlock()
		return nil // unknown topic, nothing cached
	}
	c.rebuildNamespaceIndexLocked()
	c.mu.Unlock()

	c.notify(ChangeEvent{Kind: kind, Topics: []string{topic}})
	return nil
}

// BulkReassign refetches the given topics (after a bulk namespace
// reassignment) and emits a single structural change notification.
func (c *Cache) BulkReassign(ctx context.Context, topicNames []string, nspath string) error {
	for _, topic := range topicNames {
		c.repoCalls.Add(1)
		cfg, ok, err := c.repo.GetByTopic(ctx, topic)
		if err != nil {
			return err
		}
		c.mu.Lock()
		if ok {
			prev := c.configured[topic]
			next := infoFromConfig(cfg)
			if prev != nil {
				next.LastDataTimestamp = prev.LastDataTimestamp
				next.FirstSeen = prev.FirstSeen
			}
			c.configured[topic] = next
		} else {
			delete(c.configured, topic)
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.rebuildNamespaceIndexLocked()
	c.mu.Unlock()

	c.notify(ChangeEvent{Kind: TopicsAutoMapped, Topics: topicNames, NSPath: nspath})
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	configured, discovered := len(c.configured), len(c.discovered)
	last := c.lastFullRefresh
	c.mu.RUnlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return Stats{
		Hits:            hits,
		Misses:          misses,
		RepositoryCalls: c.repoCalls.Load(),
		Configured:      configured,
		Discovered:      discovered,
		HitRate:         rate,
		LastFullRefresh: last,
	}
}

// Attach subscribes the cache to its bus events.
func (c *Cache) Attach(bus *eventbus.Bus) error {
	sub, err := bus.SubscribeFunc("topic-browser", []eventbus.EventType{
		eventbus.EventTopicAdded,
		eventbus.EventTopicAutoMapped,
		eventbus.EventTopicDataUpdated,
		eventbus.EventTopicVerified,
		eventbus.EventTopicConfigurationUpdated,
		eventbus.EventBulkTopicsAdded,
		eventbus.EventConnectionDataReceived,
		eventbus.EventNamespaceStructureChanged,
	}, c.handleEvent)
	if err != nil {
		return err
	}
	c.subs = append(c.subs, sub)
	return nil
}

// Detach cancels all bus subscriptions.
func (c *Cache) Detach() {
	for _, s := range c.subs {
		s.Cancel()
	}
	c.subs = nil
}

func (c *Cache) handleEvent(ctx context.Context, e *eventbus.Event) error {
	switch e.Type {
	case eventbus.EventTopicAdded:
		c.onTopicAdded(e)
	case eventbus.EventTopicAutoMapped:
		c.onAutoMapped(e)
	case eventbus.EventTopicDataUpdated:
		c.onTopicData(e)
	case eventbus.EventTopicVerified, eventbus.EventTopicConfigurationUpdated:
		return c.UpdateTopic(ctx, e.Topic)
	case eventbus.EventBulkTopicsAdded:
		for _, topic := range e.Topics {
			if err := c.UpdateTopic(ctx, topic); err != nil {
				c.log.Warn("bulk topic refresh failed", "topic", topic, "error", err)
			}
		}
	case eventbus.EventConnectionDataReceived:
		c.onWireData(e)
	case eventbus.EventNamespaceStructureChanged:
		c.mu.Lock()
		c.rebuildNamespaceIndexLocked()
		c.mu.Unlock()
	}
	return nil
}

// onTopicAdded inserts a projection row for a newly announced topic unless
// one already exists.
func (c *Cache) onTopicAdded(e *eventbus.Event) {
	c.mu.Lock()
	if _, ok := c.configured[e.Topic]; ok {
		c.mu.Unlock()
		return
	}
	c.configured[e.Topic] = &types.TopicInfo{
		Topic:        e.Topic,
		NSPath:       e.NSPath,
		SourceSystem: e.SourceSystem,
		Active:       true,
		Configured:   false,
		FirstSeen:    e.Timestamp,
	}
	c.rebuildNamespaceIndexLocked()
	c.mu.Unlock()
	c.notify(ChangeEvent{Kind: TopicsAdded, Topics: []string{e.Topic}})
}

// onAutoMapped stamps the resolved binding on the cached row and rebuilds
// the namespace index.
func (c *Cache) onAutoMapped(e *eventbus.Event) {
	c.mu.Lock()
	info, ok := c.configured[e.Topic]
	if !ok {
		info, ok = c.discovered[e.Topic]
	}
	if !ok {
		c.mu.Unlock()
		return
	}
	info.NSPath = e.NSPath
	c.rebuildNamespaceIndexLocked()
	c.mu.Unlock()
	c.notify(ChangeEvent{Kind: TopicsAutoMapped, Topics: []string{e.Topic}, NSPath: e.NSPath})
}

// onTopicData stamps the last-seen timestamp and stores the last value.
func (c *Cache) onTopicData(e *eventbus.Event) {
	if e.DataPoint == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := e.DataPoint.Timestamp
	if info, ok := c.configured[e.Topic]; ok {
		info.LastDataTimestamp = &ts
	} else if info, ok := c.discovered[e.Topic]; ok {
		info.LastDataTimestamp = &ts
	}
	c.lastValue[e.Topic] = *e.DataPoint
}

// onWireData inserts a discovered row unless the topic is configured.
func (c *Cache) onWireData(e *eventbus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.configured[e.Topic]; ok {
		return
	}
	if _, ok := c.discovered[e.Topic]; ok {
		return
	}
	c.discovered[e.Topic] = &types.TopicInfo{
		Topic:        e.Topic,
		SourceSystem: e.SourceSystem,
		Active:       true,
		Configured:   false,
		FirstSeen:    e.Timestamp,
	}
}

// maybeRefresh reloads everything from the repository when the projection
// has gone stale. The staleness check is cheap and read-locked; the reload
// takes the write permit.
func (c *Cache) maybeRefresh(ctx context.Context) {
	c.mu.RLock()
	stale := !c.lastFullRefresh.IsZero() && time.Since(c.lastFullRefresh) > SafetyRefreshInterval
	c.mu.RUnlock()
	if !stale {
		return
	}
	if err := c.fullRefresh(ctx); err != nil {
		c.log.Warn("safety refresh failed", "error", err)
	}
}

// fullRefresh rebuilds the configured map from the repository. Discovered
// entries and last values survive; a discovered topic that gained a
// configuration gets shadowed, not deleted.
func (c *Cache) fullRefresh(ctx context.Context) error {
	c.repoCalls.Add(1)
	all, err := c.repo.GetAll(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fresh := make(map[string]*types.TopicInfo, len(all))
	for _, cfg := range all {
		info := infoFromConfig(cfg)
		if prev, ok := c.configured[cfg.Topic]; ok {
			info.LastDataTimestamp = prev.LastDataTimestamp
			info.FirstSeen = prev.FirstSeen
		}
		fresh[cfg.Topic] = info
	}
	c.configured = fresh
	c.rebuildNamespaceIndexLocked()
	c.lastFullRefresh = time.Now()
	return nil
}

// rebuildNamespaceIndexLocked recomputes byNamespace from configured plus
// non-shadowed discovered rows. Caller holds the write lock.
func (c *Cache) rebuildNamespaceIndexLocked() {
	index := make(map[string][]*types.TopicInfo)
	for _, info := range c.configured {
		if info.NSPath == "" {
			continue
		}
		index[info.NSPath] = append(index[info.NSPath], info)
	}
	for topic, info := range c.discovered {
		if info.NSPath == "" {
			continue
		}
		if _, shadowed := c.configured[topic]; shadowed {
			continue
		}
		index[info.NSPath] = append(index[info.NSPath], info)
	}
	for _, list := range index {
		sort.Slice(list, func(i, j int) bool { return list[i].Topic < list[j].Topic })
	}
	c.byNamespace = index
}

func (c *Cache) notify(e ChangeEvent) {
	c.listenerMu.RLock()
	listeners := make([]ChangeListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.listenerMu.RUnlock()
	for _, l := range listeners {
		l(e)
	}
}

func infoFromConfig(cfg types.TopicConfiguration) *types.TopicInfo {
	return &types.TopicInfo{
		Topic:        cfg.Topic,
		NSPath:       cfg.NSPath,
		DisplayName:  cfg.DisplayName,
		Description:  cfg.Description,
		SourceSystem: cfg.SourceType,
		Active:       cfg.Active,
		Configured:   true,
		FirstSeen:    cfg.CreatedAt,
	}
}
