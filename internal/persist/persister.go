// Package persist implements the bulk persister: it takes batches from the
// stream processor, groups them by source system, deduplicates the
// latest value per topic, writes both stores, and announces new topics on
// the bus.
package persist

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fabriclabs/unshub/internal/eventbus"
	"github.com/fabriclabs/unshub/internal/store"
	"github.com/fabriclabs/unshub/internal/stream"
	"github.com/fabriclabs/unshub/internal/types"
)

// TopicSource answers whether a topic is already known. The topic-browser
// cache satisfies this; nil means only the local known-set is consulted.
type TopicSource interface {
	Contains(topic string) bool
}

// Stats is a snapshot of persister counters.
type Stats struct {
	Batches          int64     `json:"batches"`
	PointsPersisted  int64     `json:"points_persisted"`
	TopicsDiscovered int64     `json:"topics_discovered"`
	RealtimeErrors   int64     `json:"realtime_errors"`
	HistoricalErrors int64     `json:"historical_errors"`
	LastBatchAt      time.Time `json:"last_batch_at"`
}

// Persister writes batches to the dual stores. Safe for concurrent Process
// calls, though the pipeline delivers one batch at a time.
type Persister struct {
	realtime   store.RealtimeStore
	historical store.HistoricalStore
	bus        *eventbus.Bus
	known      TopicSource
	log        *slog.Logger

	// knownMu serializes new-topic discovery across concurrent groups.
	knownMu     sync.Mutex
	knownTopics map[string]bool

	batches          atomic.Int64
	persisted        atomic.Int64
	discovered       atomic.Int64
	realtimeErrors   atomic.Int64
	historicalErrors atomic.Int64

	lastBatchMu sync.Mutex
	lastBatchAt time.Time
}

// New creates a persister. known may be nil.
func New(rt store.RealtimeStore, hist store.HistoricalStore, bus *eventbus.Bus, known TopicSource, log *slog.Logger) *Persister {
	if log == nil {
		log = slog.Default()
	}
	return &Persister{
		realtime:    rt,
		historical:  hist,
		bus:         bus,
		known:       known,
		log:         log,
		knownTopics: make(map[string]bool),
	}
}

// Process persists one batch. Source-system groups run concurrently; within
// a group the original order is preserved. Store failures are logged and
// counted per sub-step but never abort the batch.
func (p *Persister) Process(ctx context.Context, batch stream.Batch) {
	if len(batch.DataPoints) == 0 {
		return
	}
	p.batches.Add(1)
	p.lastBatchMu.Lock()
	p.lastBatchAt = time.Now()
	p.lastBatchMu.Unlock()

	groups := groupBySource(batch.DataPoints)

	var g errgroup.Group
	for _, group := range groups {
		group := group
		g.Go(func() error {
			p.processGroup(ctx, batch.ID, group)
			return nil
		})
	}
	_ = g.Wait()
}

// Stats returns a snapshot of the persister counters.
func (p *Persister) Stats() Stats {
	p.lastBatchMu.Lock()
	last := p.lastBatchAt
	p.lastBatchMu.Unlock()
	return Stats{
		Batches:          p.batches.Load(),
		PointsPersisted:  p.persisted.Load(),
		TopicsDiscovered: p.discovered.Load(),
		RealtimeErrors:   p.realtimeErrors.Load(),
		HistoricalErrors: p.historicalErrors.Load(),
		LastBatchAt:      last,
	}
}

func (p *Persister) processGroup(ctx context.Context, batchID string, group []types.DataPoint) {
	newTopics := p.discoverNewTopics(group)

	// Latest per topic: strictly-greater comparison while scanning forward,
	// so on equal timestamps the last point wins.
	latest := make(map[string]types.DataPoint)
	order := make([]string, 0, len(group))
	for _, dp := range group {
		cur, seen := latest[dp.Topic]
		if !seen {
			order = append(order, dp.Topic)
		}
		if !seen || !dp.Timestamp.Before(cur.Timestamp) {
			latest[dp.Topic] = dp
		}
	}

	written := make([]types.DataPoint, 0, len(order))
	for _, topic := range order {
		dp := latest[topic]
		if err := p.realtime.Put(ctx, dp); err != nil {
			p.realtimeErrors.Add(1)
			p.log.Warn("realtime write failed", "batch", batchID, "topic", topic, "error", err)
			continue
		}
		written = append(written, dp)
	}

	// Persisted counts durable points: the whole group once history takes
	// it, otherwise only the realtime writes that succeeded.
	if err := p.historical.PutBulk(ctx, group); err != nil {
		p.historicalErrors.Add(1)
		p.log.Warn("historical write failed", "batch", batchID, "points", len(group), "error", err)
		p.persisted.Add(int64(len(written)))
	} else {
		p.persisted.Add(int64(len(group)))
	}

	// New topics are announced before their first data update so that any
	// single subscriber of both types sees TopicAdded first.
	for _, topic := range newTopics {
		_ = p.bus.Publish(&eventbus.Event{
			Type:         eventbus.EventTopicAdded,
			Topic:        topic,
			SourceSystem: sourceOf(group),
		})
	}
	if len(newTopics) > 0 {
		p.discovered.Add(int64(len(newTopics)))
		_ = p.bus.Publish(&eventbus.Event{
			Type:   eventbus.EventTopicDiscovery,
			Topics: newTopics,
		})
	}
	for _, dp := range written {
		dp := dp
		_ = p.bus.Publish(&eventbus.Event{
			Type:         eventbus.EventTopicDataUpdated,
			Topic:        dp.Topic,
			DataPoint:    &dp,
			SourceSystem: dp.SourceSystem,
		})
	}
}

// discoverNewTopics records unseen topics in the known-set under the
// discovery mutex and returns them in first-seen order.
func (p *Persister) discoverNewTopics(group []types.DataPoint) []string {
	p.knownMu.Lock()
	defer p.knownMu.Unlock()

	var newTopics []string
	for _, dp := range group {
		if p.knownTopics[dp.Topic] {
			continue
		}
		p.knownTopics[dp.Topic] = true
		if p.known != nil && p.known.Contains(dp.Topic) {
			continue // already known upstream; remember locally, don't announce
		}
		newTopics = append(newTopics, dp.Topic)
	}
	return newTopics
}

// groupBySource splits a batch by source system, preserving order within
// each group. Group iteration order is the first-seen order of sources.
func groupBySource(dps []types.DataPoint) [][]types.DataPoint {
	index := make(map[string]int)
	var groups [][]types.DataPoint
	for _, dp := range dps {
		i, ok := index[dp.SourceSystem]
		if !ok {
			i = len(groups)
			index[dp.SourceSystem] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], dp)
	}
	return groups
}

func sourceOf(group []types.DataPoint) string {
	if len(group) == 0 {
		return ""
	}
	return group[0].SourceSystem
}
