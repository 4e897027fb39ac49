package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/fabriclabs/unshub/internal/pipeline"
)

// RegisterPipelineMetrics exposes the pipeline counters as observable
// instruments. All instruments read one Statistics snapshot per collection.
func RegisterPipelineMetrics(p *pipeline.Pipeline) error {
	meter := Meter("")

	received, err := meter.Int64ObservableCounter("unshub.pipeline.points.received",
		metric.WithDescription("Data points accepted by the stream stage"))
	if err != nil {
		return fmt.Errorf("telemetry: instrument: %w", err)
	}
	dropped, err := meter.Int64ObservableCounter("unshub.pipeline.points.dropped",
		metric.WithDescription("Data points evicted under overload"))
	if err != nil {
		return fmt.Errorf("telemetry: instrument: %w", err)
	}
	persisted, err := meter.Int64ObservableCounter("unshub.pipeline.points.persisted",
		metric.WithDescription("Data points written to the stores"))
	if err != nil {
		return fmt.Errorf("telemetry: instrument: %w", err)
	}
	batches, err := meter.Int64ObservableCounter("unshub.pipeline.batches",
		metric.WithDescription("Batches emitted by the stream stage"))
	if err != nil {
		return fmt.Errorf("telemetry: instrument: %w", err)
	}
	utilization, err := meter.Float64ObservableGauge("unshub.pipeline.queue.utilization",
		metric.WithDescription("Fill ratio of the ingest queue"))
	if err != nil {
		return fmt.Errorf("telemetry: instrument: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := p.Statistics()
		o.ObserveInt64(received, s.Stream.Received)
		o.ObserveInt64(dropped, s.Stream.Dropped)
		o.ObserveInt64(persisted, s.Persister.PointsPersisted)
		o.ObserveInt64(batches, s.Stream.Batches)
		o.ObserveFloat64(utilization, s.Stream.Utilization)
		return nil
	}, received, dropped, persisted, batches, utilization)
	if err != nil {
		return fmt.Errorf("telemetry: register callback: %w", err)
	}
	return nil
}
