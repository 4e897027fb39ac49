// Package unshub provides a minimal public API for embedding the hub in
// other Go programs.
//
// Most integrations should run the unshub binary and talk to the broker.
// This package exports only the essential types and constructors needed to
// use the ingestion pipeline and namespace model programmatically.
package unshub

import (
	"context"

	"github.com/fabriclabs/unshub/internal/eventbus"
	"github.com/fabriclabs/unshub/internal/store"
	"github.com/fabriclabs/unshub/internal/types"
)

// Core types for working with the Unified Namespace
type (
	DataPoint          = types.DataPoint
	Quality            = types.Quality
	TopicConfiguration = types.TopicConfiguration
	TopicInfo          = types.TopicInfo
	HierarchyLevel     = types.HierarchyLevel
	Namespace          = types.Namespace
	Event              = eventbus.Event
	EventType          = eventbus.EventType
)

// Quality constants
const (
	QualityGood      = types.QualityGood
	QualityUncertain = types.QualityUncertain
	QualityBad       = types.QualityBad
)

// Namespace kind constants
const (
	KindFunctional   = types.KindFunctional
	KindInformative  = types.KindInformative
	KindDefinitional = types.KindDefinitional
	KindAdHoc        = types.KindAdHoc
)

// NewBus creates an in-process event bus with the default logger.
func NewBus() *eventbus.Bus {
	return eventbus.New(nil)
}

// Open opens the dual-purpose sqlite store (realtime and historical) at
// path. ":memory:" gives an ephemeral store.
func Open(ctx context.Context, path string) (*store.SQLiteStore, error) {
	return store.OpenSQLite(ctx, path)
}
