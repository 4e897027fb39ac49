package eventbus

import "context"

// Handler processes events on the bus. Each subscribed handler gets its own
// delivery queue, so a slow handler never starves its siblings.
type Handler interface {
	// ID returns a unique identifier for this handler. Subscribing two
	// handlers with the same ID is a no-op for the second.
	ID() string

	// Handles returns the event types this handler processes.
	Handles() []EventType

	// Handle processes a single event. Returning an error logs a warning but
	// never affects delivery to other handlers or subsequent events.
	Handle(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc struct {
	Name  string
	Types []EventType
	Fn    func(ctx context.Context, event *Event) error
}

func (h *HandlerFunc) ID() string           { return h.Name }
func (h *HandlerFunc) Handles() []EventType { return h.Types }

func (h *HandlerFunc) Handle(ctx context.Context, event *Event) error {
	return h.Fn(ctx, event)
}
