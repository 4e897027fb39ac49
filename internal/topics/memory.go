package topics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fabriclabs/unshub/internal/types"
)

// MemoryRepository is the in-memory reference Repository.
type MemoryRepository struct {
	mu      sync.RWMutex
	byTopic map[string]types.TopicConfiguration
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byTopic: make(map[string]types.TopicConfiguration)}
}

func (r *MemoryRepository) GetByTopic(ctx context.Context, topic string) (types.TopicConfiguration, bool, error) {
	r.mu.RLock()
	cfg, ok := r.byTopic[topic]
	r.mu.RUnlock()
	return cfg, ok, nil
}

func (r *MemoryRepository) GetAll(ctx context.Context) ([]types.TopicConfiguration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.TopicConfiguration, 0, len(r.byTopic))
	for _, cfg := range r.byTopic {
		out = append(out, cfg)
	}
	return out, nil
}

func (r *MemoryRepository) Save(ctx context.Context, cfg types.TopicConfiguration) (types.TopicConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if existing, ok := r.byTopic[cfg.Topic]; ok {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
	} else {
		if cfg.ID == "" {
			cfg.ID = uuid.NewString()
		}
		cfg.CreatedAt = now
	}
	cfg.ModifiedAt = now
	r.byTopic[cfg.Topic] = cfg
	return cfg, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for topic, cfg := range r.byTopic {
		if cfg.ID == id {
			delete(r.byTopic, topic)
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepository) Verify(ctx context.Context, id, by string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for topic, cfg := range r.byTopic {
		if cfg.ID == id {
			now := time.Now()
			cfg.VerifiedBy = by
			cfg.VerifiedAt = &now
			cfg.ModifiedAt = now
			r.byTopic[topic] = cfg
			return nil
		}
	}
	return ErrNotFound
}
