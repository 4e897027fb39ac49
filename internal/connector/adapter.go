package connector

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fabriclabs/unshub/internal/eventbus"
	"github.com/fabriclabs/unshub/internal/types"
)

// Ingestor accepts data points into the pipeline. Satisfied by
// pipeline.Pipeline.
type Ingestor interface {
	Ingest(dp types.DataPoint) bool
}

// BusAdapter feeds ConnectionDataReceived events into the pipeline. It is
// the only bridge between connector ingress and ingestion, so connectors
// stay decoupled from the pipeline lifecycle.
type BusAdapter struct {
	pipeline Ingestor
	log      *slog.Logger
	sub      *eventbus.Subscription

	forwarded atomic.Int64
	rejected  atomic.Int64
}

// NewBusAdapter creates an adapter over the pipeline.
func NewBusAdapter(pipeline Ingestor, log *slog.Logger) *BusAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &BusAdapter{pipeline: pipeline, log: log}
}

// Attach subscribes the adapter to connector ingress events.
func (a *BusAdapter) Attach(bus *eventbus.Bus) error {
	sub, err := bus.SubscribeFunc("pipeline-intake",
		[]eventbus.EventType{eventbus.EventConnectionDataReceived},
		a.handle)
	if err != nil {
		return err
	}
	a.sub = sub
	return nil
}

// Detach cancels the bus subscription.
func (a *BusAdapter) Detach() {
	if a.sub != nil {
		a.sub.Cancel()
		a.sub = nil
	}
}

// Forwarded returns how many points reached the pipeline.
func (a *BusAdapter) Forwarded() int64 { return a.forwarded.Load() }

// Rejected returns how many points the pipeline refused.
func (a *BusAdapter) Rejected() int64 { return a.rejected.Load() }

func (a *BusAdapter) handle(ctx context.Context, e *eventbus.Event) error {
	dp := types.DataPoint{
		Topic:        e.Topic,
		Value:        e.Value,
		Timestamp:    e.Timestamp,
		SourceSystem: e.SourceSystem,
		Quality:      e.Quality,
		Metadata:     e.Metadata,
	}
	if dp.Timestamp.IsZero() {
		dp.Timestamp = time.Now()
	}
	if dp.Quality == "" {
		dp.Quality = types.QualityGood
	}
	if dp.SourceSystem == "" {
		dp.SourceSystem = e.ConnectionID
	}
	if a.pipeline.Ingest(dp) {
		a.forwarded.Add(1)
	} else {
		a.rejected.Add(1)
		a.log.Debug("pipeline rejected point", "topic", dp.Topic, "connection", e.ConnectionID)
	}
	return nil
}
