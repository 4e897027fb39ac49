package automap

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fabriclabs/unshub/internal/eventbus"
)

const (
	// DefaultBatchSize is the number of queued topics mapped per sweep.
	DefaultBatchSize = 50
	// DefaultSweepInterval is the pause between sweeps.
	DefaultSweepInterval = 2 * time.Second

	workerQueueDepth = 1024
)

// Worker consumes TopicAdded events for unbound topics and resolves them in
// the background, publishing TopicAutoMapped or TopicAutoMappingFailed. The
// queue is drained once more on shutdown.
type Worker struct {
	mapper *Mapper
	bus    *eventbus.Bus
	log    *slog.Logger

	batchSize int
	interval  time.Duration

	queue  chan string
	subs   []*eventbus.Subscription
	done   chan struct{}
	stop   sync.Once
	cancel context.CancelFunc

	mapped atomic.Int64
	missed atomic.Int64
}

// NewWorker creates a worker with the default batch size and interval.
func NewWorker(mapper *Mapper, bus *eventbus.Bus, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		mapper:    mapper,
		bus:       bus,
		log:       log,
		batchSize: DefaultBatchSize,
		interval:  DefaultSweepInterval,
		queue:     make(chan string, workerQueueDepth),
		done:      make(chan struct{}),
	}
}

// Start subscribes to the bus and launches the sweep loop.
func (w *Worker) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	sub, err := w.bus.SubscribeFunc("automap-intake",
		[]eventbus.EventType{eventbus.EventTopicAdded},
		func(ctx context.Context, e *eventbus.Event) error {
			if e.NSPath != "" {
				return nil // already bound
			}
			select {
			case w.queue <- e.Topic:
			default:
				w.log.Warn("auto-map queue full, dropping topic", "topic", e.Topic)
			}
			return nil
		})
	if err != nil {
		return err
	}
	w.subs = append(w.subs, sub)

	reset, err := w.bus.SubscribeFunc("automap-reset",
		[]eventbus.EventType{eventbus.EventNamespaceStructureChanged},
		func(ctx context.Context, e *eventbus.Event) error {
			w.mapper.ResetAttempts()
			return nil
		})
	if err != nil {
		return err
	}
	w.subs = append(w.subs, reset)

	go w.run(ctx)
	return nil
}

// Stop unsubscribes, flushes the queue once, and waits for the loop to exit.
func (w *Worker) Stop() {
	w.stop.Do(func() {
		for _, s := range w.subs {
			s.Cancel()
		}
		if w.cancel != nil {
			w.cancel()
		}
		<-w.done
	})
}

// Stats returns mapped/missed counters.
func (w *Worker) Stats() (mapped, missed int64) {
	return w.mapped.Load(), w.missed.Load()
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// drain empties the whole queue; used on shutdown.
func (w *Worker) drain() {
	for {
		select {
		case topic := <-w.queue:
			w.resolve(topic)
		default:
			return
		}
	}
}

// sweep maps up to batchSize queued topics.
func (w *Worker) sweep() {
	for i := 0; i < w.batchSize; i++ {
		select {
		case topic := <-w.queue:
			w.resolve(topic)
		default:
			return
		}
	}
}

func (w *Worker) resolve(topic string) {
	if !w.mapper.MarkAttempted(topic) {
		return // already attempted at this cache generation
	}
	if nspath, ok := w.mapper.Map(topic); ok {
		w.mapped.Add(1)
		_ = w.bus.Publish(&eventbus.Event{
			Type:       eventbus.EventTopicAutoMapped,
			Topic:      topic,
			NSPath:     nspath,
			Confidence: 1.0,
		})
		return
	}
	w.missed.Add(1)
	_ = w.bus.Publish(&eventbus.Event{
		Type:   eventbus.EventTopicAutoMappingFailed,
		Topic:  topic,
		Reason: ReasonNoMatch,
	})
}
