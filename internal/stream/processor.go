// Package stream implements the back-pressured batching stage of the
// ingestion pipeline. Writers enqueue data points without blocking; a single
// reader drains the bounded queue and emits batches to its subscriber when
// the batch size is reached or the batch interval elapses. Under overload
// the oldest pending item is dropped, trading completeness for liveness.
package stream

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fabriclabs/unshub/internal/debug"
	"github.com/fabriclabs/unshub/internal/types"
)

const (
	// DefaultCapacity bounds the pending queue.
	DefaultCapacity = 10000
	// DefaultBatchSize triggers an emission when the side buffer fills.
	DefaultBatchSize = 1000
	// DefaultBatchInterval triggers an emission for a non-empty buffer.
	DefaultBatchInterval = 2 * time.Second
	// DefaultDrainDeadline bounds the final drain on shutdown.
	DefaultDrainDeadline = 5 * time.Second
)

// Batch is the unit of work handed to the bulk persister.
type Batch struct {
	ID         string
	DataPoints []types.DataPoint
	CreatedAt  time.Time
}

// BatchHandler receives emitted batches. Called from the reader goroutine,
// one batch at a time; a slow handler delays subsequent emissions but never
// blocks Enqueue.
type BatchHandler func(Batch)

// Options configures a Processor. Zero values take the defaults.
type Options struct {
	Capacity      int
	BatchSize     int
	BatchInterval time.Duration
	DrainDeadline time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Capacity <= 0 {
		out.Capacity = DefaultCapacity
	}
	if out.BatchSize <= 0 {
		out.BatchSize = DefaultBatchSize
	}
	if out.BatchInterval <= 0 {
		out.BatchInterval = DefaultBatchInterval
	}
	if out.DrainDeadline <= 0 {
		out.DrainDeadline = DefaultDrainDeadline
	}
	return out
}

// Stats is a snapshot of processor counters.
type Stats struct {
	Received    int64     `json:"received"`
	Batched     int64     `json:"batched"`
	Dropped     int64     `json:"dropped"`
	Batches     int64     `json:"batches"`
	BufferSize  int       `json:"buffer_size"`
	Capacity    int       `json:"capacity"`
	Utilization float64   `json:"channel_utilization"`
	LastBatchAt time.Time `json:"last_batch_at"`
}

// Processor is the single-reader multi-writer batching queue.
type Processor struct {
	opts    Options
	handler BatchHandler
	log     *slog.Logger

	queue chan types.DataPoint

	closeMu sync.RWMutex
	closed  bool

	started atomic.Bool
	done    chan struct{}

	received atomic.Int64
	batched  atomic.Int64
	dropped  atomic.Int64
	batches  atomic.Int64
	buffered atomic.Int64 // side-buffer length, for stats only

	lastBatchMu sync.Mutex
	lastBatchAt time.Time
}

// New creates a processor delivering batches to handler. Call Start to
// launch the reader; Enqueue works before Start, items just stay queued.
func New(opts Options, handler BatchHandler, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	p := &Processor{
		opts:    opts.withDefaults(),
		handler: handler,
		log:     log,
		done:    make(chan struct{}),
	}
	p.queue = make(chan types.DataPoint, p.opts.Capacity)
	return p
}

// Start launches the reader goroutine. Idempotent.
func (p *Processor) Start() {
	if p.started.CompareAndSwap(false, true) {
		go p.read()
	}
}

// Enqueue offers a data point without blocking. When the queue is full the
// oldest pending item is dropped to make room and the drop counter
// increments; the new item is still accepted. Returns false only once the
// processor is closing.
func (p *Processor) Enqueue(dp types.DataPoint) bool {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return false
	}
	for {
		select {
		case p.queue <- dp:
			p.received.Add(1)
			return true
		default:
		}
		// Full: evict the oldest pending item and retry. Another writer may
		// win the freed slot, so this loops.
		select {
		case old := <-p.queue:
			p.dropped.Add(1)
			debug.Logf("stream: queue full, dropped oldest point %s\n", old.Topic)
		default:
		}
	}
}

// Close stops accepting writes, drains the remaining items into a final
// batch, and waits for the reader to exit up to the drain deadline.
func (p *Processor) Close() {
	p.Start() // the reader must run for the final drain
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	close(p.queue)
	p.closeMu.Unlock()

	select {
	case <-p.done:
	case <-time.After(p.opts.DrainDeadline):
		p.log.Warn("stream drain deadline exceeded", "deadline", p.opts.DrainDeadline)
	}
}

// Stats returns a snapshot of the processor counters.
func (p *Processor) Stats() Stats {
	p.lastBatchMu.Lock()
	last := p.lastBatchAt
	p.lastBatchMu.Unlock()
	pending := len(p.queue) + int(p.buffered.Load())
	return Stats{
		Received:    p.received.Load(),
		Batched:     p.batched.Load(),
		Dropped:     p.dropped.Load(),
		Batches:     p.batches.Load(),
		BufferSize:  pending,
		Capacity:    p.opts.Capacity,
		Utilization: float64(len(p.queue)) / float64(p.opts.Capacity),
		LastBatchAt: last,
	}
}

// read is the single reader: it drains the queue into a side buffer and
// emits on size or interval. Emission is mutually exclusive by construction
// (one goroutine); an interval tick during a size-triggered emission simply
// coalesces into the next loop turn.
func (p *Processor) read() {
	defer close(p.done)

	buf := make([]types.DataPoint, 0, p.opts.BatchSize)
	timer := time.NewTimer(p.opts.BatchInterval)
	defer timer.Stop()

	emit := func() {
		if len(buf) == 0 {
			return
		}
		batch := Batch{
			ID:         uuid.NewString(),
			DataPoints: buf,
			CreatedAt:  time.Now(),
		}
		p.batched.Add(int64(len(buf)))
		p.batches.Add(1)
		p.lastBatchMu.Lock()
		p.lastBatchAt = batch.CreatedAt
		p.lastBatchMu.Unlock()
		buf = make([]types.DataPoint, 0, p.opts.BatchSize)
		p.buffered.Store(0)
		debug.Logf("stream: emitting batch %s (%d points)\n", batch.ID, len(batch.DataPoints))
		p.handler(batch)
		// Interval counts from the last emission.
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.opts.BatchInterval)
	}

	for {
		select {
		case dp, ok := <-p.queue:
			if !ok {
				emit() // final batch
				return
			}
			buf = append(buf, dp)
			p.buffered.Store(int64(len(buf)))
			if len(buf) >= p.opts.BatchSize {
				emit()
			}
		case <-timer.C:
			if len(buf) > 0 {
				emit()
			} else {
				timer.Reset(p.opts.BatchInterval)
			}
		}
	}
}
