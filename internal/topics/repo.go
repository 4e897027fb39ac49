// Package topics owns TopicConfiguration persistence. Repositories are the
// exclusive owners of configurations; everything else holds read-only
// snapshots.
package topics

import (
	"context"
	"errors"

	"github.com/fabriclabs/unshub/internal/types"
)

// ErrNotFound is returned for lookups and mutations on unknown entries.
var ErrNotFound = errors.New("topics: configuration not found")

// Repository stores topic configurations. Implementations are safe under
// concurrent reads; writes may be serialized internally.
type Repository interface {
	// GetByTopic returns the configuration bound to a topic, or false.
	GetByTopic(ctx context.Context, topic string) (types.TopicConfiguration, bool, error)
	// GetAll returns every configuration.
	GetAll(ctx context.Context) ([]types.TopicConfiguration, error)
	// Save upserts by topic (topic is unique) and bumps ModifiedAt. A new
	// entry gets an id and CreatedAt.
	Save(ctx context.Context, cfg types.TopicConfiguration) (types.TopicConfiguration, error)
	// Delete removes a configuration by id.
	Delete(ctx context.Context, id string) error
	// Verify stamps the configuration as verified by the given principal.
	Verify(ctx context.Context, id, by string) error
}
