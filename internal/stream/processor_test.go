package stream

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fabriclabs/unshub/internal/types"
)

// batchSink collects emitted batches.
type batchSink struct {
	mu      sync.Mutex
	batches []Batch
}

func (s *batchSink) handle(b Batch) {
	s.mu.Lock()
	s.batches = append(s.batches, b)
	s.mu.Unlock()
}

func (s *batchSink) snapshot() []Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Batch, len(s.batches))
	copy(out, s.batches)
	return out
}

func dp(topic string, v any) types.DataPoint {
	return types.DataPoint{Topic: topic, Value: v, Timestamp: time.Now(), SourceSystem: "test"}
}

func waitBatches(t *testing.T, s *batchSink, n int, within time.Duration) []Batch {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if got := s.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expected %d batches within %v, got %d", n, within, len(s.snapshot()))
	return nil
}

func TestBatchBySize(t *testing.T) {
	sink := &batchSink{}
	p := New(Options{BatchSize: 3, BatchInterval: 10 * time.Second}, sink.handle, nil)
	p.Start()
	defer p.Close()

	for i := 0; i < 3; i++ {
		if !p.Enqueue(dp(fmt.Sprintf("t%d", i), i)) {
			t.Fatalf("enqueue %d refused", i)
		}
	}

	batches := waitBatches(t, sink, 1, 100*time.Millisecond)
	if len(batches) != 1 || len(batches[0].DataPoints) != 3 {
		t.Fatalf("batches = %+v", batches)
	}
	if batches[0].ID == "" {
		t.Error("batch id not set")
	}
}

func TestBatchByInterval(t *testing.T) {
	sink := &batchSink{}
	p := New(Options{BatchSize: 1000, BatchInterval: 100 * time.Millisecond}, sink.handle, nil)
	p.Start()
	defer p.Close()

	p.Enqueue(dp("a", 1))
	p.Enqueue(dp("b", 2))

	start := time.Now()
	batches := waitBatches(t, sink, 1, time.Second)
	if len(batches[0].DataPoints) != 2 {
		t.Fatalf("batch has %d points", len(batches[0].DataPoints))
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("batch emitted too early: %v", elapsed)
	}
}

func TestNoEmptyBatches(t *testing.T) {
	sink := &batchSink{}
	p := New(Options{BatchSize: 10, BatchInterval: 20 * time.Millisecond}, sink.handle, nil)
	p.Start()
	defer p.Close()

	time.Sleep(100 * time.Millisecond)
	if got := sink.snapshot(); len(got) != 0 {
		t.Fatalf("emitted %d batches with no input", len(got))
	}
}

func TestDropOldestOnOverload(t *testing.T) {
	sink := &batchSink{}
	p := New(Options{Capacity: 4, BatchSize: 1000, BatchInterval: time.Hour}, sink.handle, nil)
	// Reader deliberately not started: the queue must absorb the overload.

	for i := 1; i <= 6; i++ {
		if !p.Enqueue(dp("t", i)) {
			t.Fatalf("enqueue %d refused", i)
		}
	}
	if got := p.Stats().Dropped; got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}

	p.Close() // starts the reader and drains the final batch

	batches := sink.snapshot()
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	var got []int
	for _, d := range batches[0].DataPoints {
		got = append(got, d.Value.(int))
	}
	want := []int{3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("batch = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("batch = %v, want %v", got, want)
		}
	}
}

func TestEnqueueNeverBlocks(t *testing.T) {
	sink := &batchSink{}
	p := New(Options{Capacity: 8, BatchSize: 1000, BatchInterval: time.Hour}, sink.handle, nil)
	defer p.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			p.Enqueue(dp("t", i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Enqueue blocked under overload")
	}
}

func TestCloseRefusesNewEnqueues(t *testing.T) {
	sink := &batchSink{}
	p := New(Options{BatchSize: 10, BatchInterval: time.Hour}, sink.handle, nil)
	p.Start()
	p.Enqueue(dp("a", 1))
	p.Close()

	if p.Enqueue(dp("b", 2)) {
		t.Fatal("enqueue accepted after close")
	}
	batches := sink.snapshot()
	if len(batches) != 1 || len(batches[0].DataPoints) != 1 {
		t.Fatalf("final batch = %+v", batches)
	}
}

func TestStats(t *testing.T) {
	sink := &batchSink{}
	p := New(Options{BatchSize: 2, BatchInterval: time.Hour}, sink.handle, nil)
	p.Start()
	defer p.Close()

	p.Enqueue(dp("a", 1))
	p.Enqueue(dp("b", 2))
	waitBatches(t, sink, 1, time.Second)

	s := p.Stats()
	if s.Received != 2 || s.Batched != 2 || s.Batches != 1 {
		t.Fatalf("stats = %+v", s)
	}
	if s.LastBatchAt.IsZero() {
		t.Error("last batch time not set")
	}
}

func TestInternalOrderPreservedWithinBatch(t *testing.T) {
	sink := &batchSink{}
	p := New(Options{BatchSize: 100, BatchInterval: time.Hour}, sink.handle, nil)

	for i := 0; i < 100; i++ {
		p.Enqueue(dp("t", i))
	}
	p.Close()

	batches := sink.snapshot()
	if len(batches) == 0 {
		t.Fatal("no batch emitted")
	}
	idx := 0
	for _, b := range batches {
		for _, d := range b.DataPoints {
			if d.Value.(int) != idx {
				t.Fatalf("out of order at %d: %v", idx, d.Value)
			}
			idx++
		}
	}
	if idx != 100 {
		t.Fatalf("delivered %d of 100", idx)
	}
}
