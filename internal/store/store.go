// Package store defines the persistence contracts of the ingestion
// pipeline: a latest-value view and a historical series per topic. Backends
// live in this package too; all of them are safe for concurrent use.
package store

import (
	"context"
	"time"

	"github.com/fabriclabs/unshub/internal/types"
)

// RealtimeStore holds the latest value per topic.
type RealtimeStore interface {
	// Put stores one latest-value record, replacing any previous one for the
	// same topic.
	Put(ctx context.Context, dp types.DataPoint) error
	// GetLatest returns the stored value for a topic, or false.
	GetLatest(ctx context.Context, topic string) (types.DataPoint, bool, error)
}

// HistoricalStore appends the full series per topic.
type HistoricalStore interface {
	// PutBulk appends a whole group in one call. Implementations with
	// history disabled must still return success.
	PutBulk(ctx context.Context, dps []types.DataPoint) error
	// Query streams the points for a topic within [from, to] in storage
	// order through yield; returning false from yield stops the scan.
	Query(ctx context.Context, topic string, from, to time.Time, yield func(types.DataPoint) bool) error
}
