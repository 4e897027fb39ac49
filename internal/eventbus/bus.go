// Package eventbus provides the typed in-process publish/subscribe bus that
// wires the ingestion subsystems together. Delivery is asynchronous: every
// subscription owns a buffered queue drained by its own goroutine, which
// preserves per-type publish order for each subscriber while isolating slow
// or failing handlers from their siblings.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// queueDepth is the per-subscription buffer. Publish blocks once a
// subscriber falls this far behind; that back-pressure is still
// "scheduling" in the bus contract.
const queueDepth = 256

// Bus dispatches events to subscribed handlers. In-process only; the NATS
// connector bridges external brokers onto this bus at the edge.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]*Subscription
	closed bool
	wg     sync.WaitGroup
	log    *slog.Logger

	published     atomic.Int64
	delivered     atomic.Int64
	handlerErrors atomic.Int64
	panics        atomic.Int64
}

// Subscription is the cancel token returned by Subscribe. Cancel is
// idempotent and safe from any goroutine.
type Subscription struct {
	handler Handler
	queue   chan *Event
	bus     *Bus
	cancel  sync.Once
	done    chan struct{}

	// sendMu fences Publish sends against the queue close in Cancel.
	sendMu  sync.RWMutex
	stopped bool
}

// Cancel removes the subscription from the bus and stops its delivery
// goroutine once the queue is drained.
func (s *Subscription) Cancel() {
	s.cancel.Do(func() {
		s.bus.remove(s)
		s.sendMu.Lock()
		s.stopped = true
		close(s.queue)
		s.sendMu.Unlock()
		<-s.done
	})
}

// send enqueues an event unless the subscription has been cancelled.
func (s *Subscription) send(e *Event) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.stopped {
		return
	}
	s.queue <- e
}

// Stats is a snapshot of bus counters.
type Stats struct {
	Published     int64 `json:"published"`
	Delivered     int64 `json:"delivered"`
	HandlerErrors int64 `json:"handler_errors"`
	Panics        int64 `json:"panics"`
	Subscriptions int   `json:"subscriptions"`
}

// New creates an event bus logging through the given logger
// (nil = slog.Default()).
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		subs: make(map[EventType][]*Subscription),
		log:  log,
	}
}

// Subscribe registers a handler for the event types it declares and returns
// its cancel token. Subscribing a handler whose ID is already registered is
// a no-op and returns the existing subscription. After Close, Subscribe
// refuses with an error.
func (b *Bus) Subscribe(h Handler) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("eventbus: bus is closed")
	}
	for _, list := range b.subs {
		for _, s := range list {
			if s.handler.ID() == h.ID() {
				return s, nil
			}
		}
	}

	sub := &Subscription{
		handler: h,
		queue:   make(chan *Event, queueDepth),
		bus:     b,
		done:    make(chan struct{}),
	}
	for _, t := range h.Handles() {
		b.subs[t] = append(b.subs[t], sub)
	}

	b.wg.Add(1)
	go b.deliver(sub)
	return sub, nil
}

// SubscribeFunc registers a closure under the given name.
func (b *Bus) SubscribeFunc(name string, types []EventType, fn func(ctx context.Context, e *Event) error) (*Subscription, error) {
	return b.Subscribe(&HandlerFunc{Name: name, Types: types, Fn: fn})
}

// Publish stamps the event (id, timestamp if unset) and enqueues it on every
// current subscriber of its type. It returns once all deliveries are
// scheduled; handlers run asynchronously.
func (b *Bus) Publish(e *Event) error {
	if e == nil {
		return fmt.Errorf("eventbus: nil event")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("eventbus: bus is closed")
	}
	targets := make([]*Subscription, len(b.subs[e.Type]))
	copy(targets, b.subs[e.Type])
	b.mu.RUnlock()

	b.published.Add(1)
	for _, sub := range targets {
		sub.send(e)
	}
	return nil
}

// Close stops accepting publishes and subscriptions, then waits for every
// subscriber queue to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	seen := make(map[*Subscription]bool)
	var all []*Subscription
	for _, list := range b.subs {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				all = append(all, s)
			}
		}
	}
	b.subs = make(map[EventType][]*Subscription)
	b.mu.Unlock()

	for _, s := range all {
		s.cancel.Do(func() {
			s.sendMu.Lock()
			s.stopped = true
			close(s.queue)
			s.sendMu.Unlock()
			<-s.done
		})
	}
	b.wg.Wait()
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	seen := make(map[*Subscription]bool)
	for _, list := range b.subs {
		for _, s := range list {
			seen[s] = true
		}
	}
	n := len(seen)
	b.mu.RUnlock()
	return Stats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		HandlerErrors: b.handlerErrors.Load(),
		Panics:        b.panics.Load(),
		Subscriptions: n,
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t, list := range b.subs {
		for i, s := range list {
			if s == sub {
				b.subs[t] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// deliver drains one subscription's queue until it closes. Handler errors
// and panics are logged and counted, never propagated.
func (b *Bus) deliver(sub *Subscription) {
	defer b.wg.Done()
	defer close(sub.done)
	ctx := context.Background()
	for e := range sub.queue {
		b.handleOne(ctx, sub, e)
	}
}

func (b *Bus) handleOne(ctx context.Context, sub *Subscription, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.log.Error("event handler panicked",
				"handler", sub.handler.ID(), "event", e.Type, "panic", r)
		}
	}()
	if err := sub.handler.Handle(ctx, e); err != nil {
		b.handlerErrors.Add(1)
		b.log.Warn("event handler failed",
			"handler", sub.handler.ID(), "event", e.Type, "error", err)
	}
	b.delivered.Add(1)
}
