package connector

import (
	"context"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/fabriclabs/unshub/internal/eventbus"
	"github.com/fabriclabs/unshub/internal/types"
)

// startTestNATS starts an embedded NATS server on a random port.
func startTestNATS(t *testing.T) (*natsserver.Server, func()) {
	t.Helper()
	opts := &natsserver.Options{
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("create test NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("test NATS server failed to start")
	}
	return ns, ns.Shutdown
}

type pointSink struct {
	mu     sync.Mutex
	points []types.DataPoint
}

func (s *pointSink) sink(dp types.DataPoint) bool {
	s.mu.Lock()
	s.points = append(s.points, dp)
	s.mu.Unlock()
	return true
}

func (s *pointSink) waitFor(t *testing.T, n int) []types.DataPoint {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.points) >= n {
			out := make([]types.DataPoint, len(s.points))
			copy(out, s.points)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sink did not receive %d points", n)
	return nil
}

func TestNATSConnectorDeliversPoints(t *testing.T) {
	ns, shutdown := startTestNATS(t)
	defer shutdown()

	c := NewNATS(types.ConnectorConfig{
		Name:    "plant-nats",
		Kind:    types.ConnectorNatsInput,
		Address: ns.ClientURL(),
		Subject: "factory.>",
	}, nil)

	s := &pointSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, s.sink) }()

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("publisher connect: %v", err)
	}
	defer nc.Close()

	// The subscription races with Start; wait until it is registered.
	deadline := time.Now().Add(2 * time.Second)
	for ns.NumSubscriptions() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := nc.Publish("factory.line1.temp", []byte(`{"value": 21.5, "timestamp_ms": 1700000000000, "quality": "uncertain"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := nc.Publish("factory.line1.state", []byte(`running`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	nc.Flush()

	points := s.waitFor(t, 2)
	byTopic := map[string]types.DataPoint{}
	for _, dp := range points {
		byTopic[dp.Topic] = dp
	}

	temp, ok := byTopic["factory/line1/temp"]
	if !ok {
		t.Fatalf("subject not mapped to topic: %+v", byTopic)
	}
	if temp.Value != 21.5 || temp.Quality != types.QualityUncertain {
		t.Fatalf("structured payload = %+v", temp)
	}
	if !temp.Timestamp.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("timestamp = %v", temp.Timestamp)
	}

	state := byTopic["factory/line1/state"]
	if state.Value != "running" || state.Quality != types.QualityGood {
		t.Fatalf("raw payload = %+v", state)
	}
	if state.SourceSystem != "plant-nats" {
		t.Fatalf("source = %q", state.SourceSystem)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestBusSinkPublishesIngress(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()

	var mu sync.Mutex
	var got []*eventbus.Event
	_, err := bus.SubscribeFunc("ingress-log",
		[]eventbus.EventType{eventbus.EventConnectionDataReceived},
		func(ctx context.Context, e *eventbus.Event) error {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
			return nil
		})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sink := BusSink(bus, "conn-1")
	ts := time.Now()
	sink(types.DataPoint{
		Topic: "factory/line1/temp", Value: 20.1, Timestamp: ts,
		SourceSystem: "plant-nats", Quality: types.QualityGood,
	})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("events = %d", len(got))
	}
	e := got[0]
	if e.Topic != "factory/line1/temp" || e.Value != 20.1 || e.ConnectionID != "conn-1" {
		t.Fatalf("event = %+v", e)
	}
	if !e.Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %v, want source time %v", e.Timestamp, ts)
	}
}
