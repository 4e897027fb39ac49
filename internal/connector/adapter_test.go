package connector

import (
	"sync"
	"testing"
	"time"

	"github.com/fabriclabs/unshub/internal/eventbus"
	"github.com/fabriclabs/unshub/internal/types"
)

// fakeIngestor accepts points until closed.
type fakeIngestor struct {
	mu     sync.Mutex
	points []types.DataPoint
	reject bool
}

func (f *fakeIngestor) Ingest(dp types.DataPoint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false
	}
	f.points = append(f.points, dp)
	return true
}

func (f *fakeIngestor) snapshot() []types.DataPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.DataPoint, len(f.points))
	copy(out, f.points)
	return out
}

func TestAdapterForwardsIngress(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()
	ing := &fakeIngestor{}
	a := NewBusAdapter(ing, nil)
	if err := a.Attach(bus); err != nil {
		t.Fatalf("attach: %v", err)
	}

	ts := time.Now()
	_ = bus.Publish(&eventbus.Event{
		Type:         eventbus.EventConnectionDataReceived,
		Topic:        "factory/line1/temp",
		Value:        22.0,
		Timestamp:    ts,
		ConnectionID: "conn-1",
		SourceSystem: "plant-nats",
		Quality:      types.QualityGood,
	})
	bus.Close()

	points := ing.snapshot()
	if len(points) != 1 {
		t.Fatalf("forwarded = %d", len(points))
	}
	dp := points[0]
	if dp.Topic != "factory/line1/temp" || dp.Value != 22.0 || dp.SourceSystem != "plant-nats" {
		t.Fatalf("point = %+v", dp)
	}
	if !dp.Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %v", dp.Timestamp)
	}
	if a.Forwarded() != 1 || a.Rejected() != 0 {
		t.Fatalf("counters = %d/%d", a.Forwarded(), a.Rejected())
	}
}

func TestAdapterDefaultsMissingFields(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()
	ing := &fakeIngestor{}
	a := NewBusAdapter(ing, nil)
	if err := a.Attach(bus); err != nil {
		t.Fatalf("attach: %v", err)
	}

	_ = bus.Publish(&eventbus.Event{
		Type:         eventbus.EventConnectionDataReceived,
		Topic:        "t",
		Value:        1,
		ConnectionID: "conn-9",
	})
	bus.Close()

	points := ing.snapshot()
	if len(points) != 1 {
		t.Fatalf("forwarded = %d", len(points))
	}
	dp := points[0]
	if dp.Quality != types.QualityGood {
		t.Fatalf("quality = %q", dp.Quality)
	}
	if dp.SourceSystem != "conn-9" {
		t.Fatalf("source = %q, want connection fallback", dp.SourceSystem)
	}
	if dp.Timestamp.IsZero() {
		t.Fatal("timestamp not defaulted")
	}
}

func TestAdapterCountsRejections(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()
	ing := &fakeIngestor{reject: true}
	a := NewBusAdapter(ing, nil)
	if err := a.Attach(bus); err != nil {
		t.Fatalf("attach: %v", err)
	}

	_ = bus.Publish(&eventbus.Event{
		Type:  eventbus.EventConnectionDataReceived,
		Topic: "t",
		Value: 1,
	})
	bus.Close()

	if a.Rejected() != 1 || a.Forwarded() != 0 {
		t.Fatalf("counters = %d/%d", a.Forwarded(), a.Rejected())
	}
}
