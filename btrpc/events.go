package btrpc

import (
	"context"
	"slices"
	"sync"
)

// EventProtocol is implemented by protocols that can push named events.
type EventProtocol interface {
	// Events returns the known event names.
	Events() []string
	// Subscribe tells the daemon to start sending event.
	Subscribe(ctx context.Context, c *Client, event string) error
	// Unsubscribe tells the daemon to stop sending event.
	Unsubscribe(ctx context.Context, c *Client, event string) error
}

// EventHandler is called with the arguments of an event.
type EventHandler func(args ...any)

// HandlerID identifies a registered EventHandler.
type HandlerID uint64

// ErrEventsUnsupported is returned by clients that don't support events.
var ErrEventsUnsupported = NewValueError("Events are not supported")

type handlerEntry struct {
	id      HandlerID
	handler EventHandler
}

// eventRegistry maps event names to handlers. The first handler for an
// event subscribes to it, removing the last one unsubscribes.
type eventRegistry struct {
	// subMu serializes subscription changes, mu guards the fields below.
	subMu    sync.Mutex
	mu       sync.Mutex
	nextID   HandlerID
	handlers map[string][]handlerEntry
}

func newEventRegistry() *eventRegistry {
	return &eventRegistry{handlers: make(map[string][]handlerEntry)}
}

func (c *Client) eventProtocol(event string) (EventProtocol, error) {
	ep, ok := c.proto.(EventProtocol)
	if !ok {
		return nil, ErrEventsUnsupported
	}
	if known := ep.Events(); known != nil && !slices.Contains(known, event) {
		return nil, NewValueError("Unknown event: %s", event)
	}
	return ep, nil
}

// AddEventHandler registers handler for event. The daemon is asked to send
// event when the first handler is registered. Each call adds a new
// registration with its own HandlerID, so a handler added twice runs twice
// per event until both IDs are removed.
func (c *Client) AddEventHandler(ctx context.Context, event string, handler EventHandler) (HandlerID, error) {
	ep, err := c.eventProtocol(event)
	if err != nil {
		return 0, err
	}

	r := c.events
	r.subMu.Lock()
	defer r.subMu.Unlock()

	if c.EventHandlerCount(event) == 0 {
		c.logger.Debug().Str("event", event).Msg("Subscribing to event")
		if err := ep.Subscribe(ctx, c, event); err != nil {
			return 0, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.handlers[event] = append(r.handlers[event], handlerEntry{id: r.nextID, handler: handler})
	return r.nextID, nil
}

// RemoveEventHandler removes the handler registered with id. The daemon is
// told to stop sending event when the last handler is removed. Unknown ids
// are ignored.
func (c *Client) RemoveEventHandler(ctx context.Context, event string, id HandlerID) error {
	ep, err := c.eventProtocol(event)
	if err != nil {
		return err
	}

	r := c.events
	r.subMu.Lock()
	defer r.subMu.Unlock()

	r.mu.Lock()
	entries := r.handlers[event]
	i := slices.IndexFunc(entries, func(e handlerEntry) bool { return e.id == id })
	if i < 0 {
		r.mu.Unlock()
		return nil
	}
	entries = slices.Delete(entries, i, i+1)
	if len(entries) > 0 {
		r.handlers[event] = entries
		r.mu.Unlock()
		return nil
	}
	delete(r.handlers, event)
	r.mu.Unlock()

	c.logger.Debug().Str("event", event).Msg("Unsubscribing from event")
	return ep.Unsubscribe(ctx, c, event)
}

// EventHandlerCount returns the number of handlers registered for event.
func (c *Client) EventHandlerCount(event string) int {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	return len(c.events.handlers[event])
}

// Emit calls every handler registered for event in registration order.
func (c *Client) Emit(event string, args ...any) {
	c.events.mu.Lock()
	entries := slices.Clone(c.events.handlers[event])
	c.events.mu.Unlock()

	for _, e := range entries {
		e.handler(args...)
	}
}

// resubscribe renews subscriptions after a new connection was established
// because daemons forget them together with the session.
func (c *Client) resubscribe(ctx context.Context) {
	ep, ok := c.proto.(EventProtocol)
	if !ok {
		return
	}

	c.events.mu.Lock()
	events := make([]string, 0, len(c.events.handlers))
	for event := range c.events.handlers {
		events = append(events, event)
	}
	c.events.mu.Unlock()

	slices.Sort(events)
	for _, event := range events {
		if err := ep.Subscribe(ctx, c, event); err != nil {
			c.logger.Warn().Err(err).Str("event", event).Msg("Failed to renew event subscription")
		}
	}
}

// WaitForEvent blocks until event is emitted and returns its arguments. The
// temporary handler is removed before returning.
func (c *Client) WaitForEvent(ctx context.Context, event string) ([]any, error) {
	received := make(chan []any, 1)
	id, err := c.AddEventHandler(ctx, event, func(args ...any) {
		select {
		case received <- args:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := c.RemoveEventHandler(context.WithoutCancel(ctx), event, id); err != nil {
			c.logger.Debug().Err(err).Str("event", event).Msg("Failed to remove event handler")
		}
	}()

	select {
	case args := <-received:
		return args, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
