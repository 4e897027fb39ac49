package store

import (
	"context"
	"sync"
	"time"

	"github.com/fabriclabs/unshub/internal/types"
)

// MemoryRealtime is the in-memory latest-value store.
type MemoryRealtime struct {
	mu     sync.RWMutex
	latest map[string]types.DataPoint
}

// NewMemoryRealtime creates an empty in-memory realtime store.
func NewMemoryRealtime() *MemoryRealtime {
	return &MemoryRealtime{latest: make(map[string]types.DataPoint)}
}

func (m *MemoryRealtime) Put(ctx context.Context, dp types.DataPoint) error {
	m.mu.Lock()
	m.latest[dp.Topic] = dp
	m.mu.Unlock()
	return nil
}

func (m *MemoryRealtime) GetLatest(ctx context.Context, topic string) (types.DataPoint, bool, error) {
	m.mu.RLock()
	dp, ok := m.latest[topic]
	m.mu.RUnlock()
	return dp, ok, nil
}

// Len returns the number of stored topics.
func (m *MemoryRealtime) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.latest)
}

// MemoryHistorical is the in-memory series store.
type MemoryHistorical struct {
	mu     sync.RWMutex
	series map[string][]types.DataPoint
}

// NewMemoryHistorical creates an empty in-memory historical store.
func NewMemoryHistorical() *MemoryHistorical {
	return &MemoryHistorical{series: make(map[string][]types.DataPoint)}
}

func (m *MemoryHistorical) PutBulk(ctx context.Context, dps []types.DataPoint) error {
	m.mu.Lock()
	for _, dp := range dps {
		m.series[dp.Topic] = append(m.series[dp.Topic], dp)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryHistorical) Query(ctx context.Context, topic string, from, to time.Time, yield func(types.DataPoint) bool) error {
	m.mu.RLock()
	points := make([]types.DataPoint, len(m.series[topic]))
	copy(points, m.series[topic])
	m.mu.RUnlock()

	for _, dp := range points {
		if dp.Timestamp.Before(from) || dp.Timestamp.After(to) {
			continue
		}
		if !yield(dp) {
			return nil
		}
	}
	return nil
}

// Count returns the total number of stored points for a topic.
func (m *MemoryHistorical) Count(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.series[topic])
}

// NoopHistorical discards everything; used when history is disabled.
// All writes succeed.
type NoopHistorical struct{}

func (NoopHistorical) PutBulk(ctx context.Context, dps []types.DataPoint) error { return nil }
func (NoopHistorical) Query(ctx context.Context, topic string, from, to time.Time, yield func(types.DataPoint) bool) error {
	return nil
}
