// Package pipeline composes the batching stage and the bulk persister into
// the ingestion pipeline: data points go in, deduplicated writes and bus
// events come out.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fabriclabs/unshub/internal/eventbus"
	"github.com/fabriclabs/unshub/internal/persist"
	"github.com/fabriclabs/unshub/internal/store"
	"github.com/fabriclabs/unshub/internal/stream"
	"github.com/fabriclabs/unshub/internal/types"
)

// State is the pipeline lifecycle state.
type State string

const (
	StateCreated  State = "created"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// DefaultDrainDeadline bounds the in-flight flush on Stop.
const DefaultDrainDeadline = 10 * time.Second

// Options configures a Pipeline. Zero values take the defaults.
type Options struct {
	Capacity      int
	BatchSize     int
	BatchInterval time.Duration
	DrainDeadline time.Duration
}

// Statistics is the composite pipeline snapshot.
type Statistics struct {
	State      State         `json:"state"`
	Uptime     time.Duration `json:"uptime"`
	Throughput float64       `json:"throughput_per_second"` // persisted points per second of uptime
	Stream     stream.Stats  `json:"stream"`
	Persister  persist.Stats `json:"persister"`
}

// Pipeline is the ingestion facade. One instance per process.
type Pipeline struct {
	processor *stream.Processor
	persister *persist.Persister
	log       *slog.Logger

	drainDeadline time.Duration

	mu        sync.Mutex
	state     State
	startedAt time.Time
}

// New wires a pipeline over the given stores and bus. known may be nil.
func New(rt store.RealtimeStore, hist store.HistoricalStore, bus *eventbus.Bus, known persist.TopicSource, opts Options, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		log:           log,
		drainDeadline: opts.DrainDeadline,
		state:         StateCreated,
	}
	if p.drainDeadline <= 0 {
		p.drainDeadline = DefaultDrainDeadline
	}
	p.persister = persist.New(rt, hist, bus, known, log)
	p.processor = stream.New(stream.Options{
		Capacity:      opts.Capacity,
		BatchSize:     opts.BatchSize,
		BatchInterval: opts.BatchInterval,
		DrainDeadline: p.drainDeadline,
	}, func(b stream.Batch) {
		p.persister.Process(context.Background(), b)
	}, log)
	return p
}

// Start moves the pipeline to running. Idempotent; returns the resulting
// state.
func (p *Pipeline) Start() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateCreated:
		p.state = StateRunning
		p.startedAt = time.Now()
		p.processor.Start()
		p.log.Info("pipeline started")
	case StateRunning:
		// already running
	default:
		p.log.Warn("start ignored", "state", p.state)
	}
	return p.state
}

// Stop drains in-flight data and moves the pipeline to stopped. Idempotent.
func (p *Pipeline) Stop() State {
	p.mu.Lock()
	switch p.state {
	case StateStopped, StateDraining:
		s := p.state
		p.mu.Unlock()
		return s
	}
	p.state = StateDraining
	p.mu.Unlock()

	p.log.Info("pipeline draining", "deadline", p.drainDeadline)
	p.processor.Close()

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()
	p.log.Info("pipeline stopped")
	return StateStopped
}

// Ingest offers one data point. Accepted only while running; returns false
// otherwise, and false when the point was rejected by the stream stage.
func (p *Pipeline) Ingest(dp types.DataPoint) bool {
	if p.State() != StateRunning {
		return false
	}
	return p.processor.Enqueue(dp)
}

// IngestMany offers a slice of data points and returns how many were
// accepted.
func (p *Pipeline) IngestMany(dps []types.DataPoint) int {
	if p.State() != StateRunning {
		return 0
	}
	accepted := 0
	for _, dp := range dps {
		if p.processor.Enqueue(dp) {
			accepted++
		}
	}
	return accepted
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Statistics returns the composite snapshot of both stages.
func (p *Pipeline) Statistics() Statistics {
	p.mu.Lock()
	state := p.state
	startedAt := p.startedAt
	p.mu.Unlock()

	var uptime time.Duration
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt)
	}
	ps := p.persister.Stats()
	throughput := 0.0
	if uptime > 0 {
		throughput = float64(ps.PointsPersisted) / uptime.Seconds()
	}
	return Statistics{
		State:      state,
		Uptime:     uptime,
		Throughput: throughput,
		Stream:     p.processor.Stats(),
		Persister:  ps,
	}
}
