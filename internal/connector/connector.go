// Package connector hosts the southbound ingress: sources that receive raw
// industrial data and feed it into the hub. Connectors emit data points to a
// Sink; the bus sink turns them into ConnectionDataReceived events, and the
// bus adapter on the other side feeds those events into the pipeline.
package connector

import (
	"context"

	"github.com/fabriclabs/unshub/internal/eventbus"
	"github.com/fabriclabs/unshub/internal/types"
)

// Sink receives data points from a connector. The return value reports
// whether the point was accepted downstream.
type Sink func(types.DataPoint) bool

// Connector is a southbound data source.
type Connector interface {
	// Name identifies the connector in logs and events.
	Name() string
	// Start begins delivering data points to sink until the context is
	// cancelled or Stop is called. Blocks while running.
	Start(ctx context.Context, sink Sink) error
	// Stop shuts the connector down.
	Stop() error
}

// BusSink returns a sink that publishes each data point as a
// ConnectionDataReceived event from the named connection.
func BusSink(bus *eventbus.Bus, connectionID string) Sink {
	return func(dp types.DataPoint) bool {
		err := bus.Publish(&eventbus.Event{
			Type:         eventbus.EventConnectionDataReceived,
			Topic:        dp.Topic,
			Value:        dp.Value,
			Quality:      dp.Quality,
			Timestamp:    dp.Timestamp,
			ConnectionID: connectionID,
			SourceSystem: dp.SourceSystem,
			Metadata:     dp.Metadata,
		})
		return err == nil
	}
}
