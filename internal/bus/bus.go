// Package bus propagates committed events between service instances.
//
// The engine holds the Bus behind this interface and selects an
// implementation exactly once at startup: the Redis adapter when a bus
// address is configured and reachable, the local no-op adapter otherwise.
// There is no runtime branching on bus availability inside hot paths, and a
// bus failure is never fatal: the relay degrades to single-instance mode.
package bus

import (
	"context"
	"errors"

	"github.com/akervik/go-chat-relay/internal/domain"
)

// ErrUnavailable reports that the broadcast channel is unreachable.
// It is non-fatal by contract; callers log it and continue.
var ErrUnavailable = errors.New("broadcast bus unavailable")

// Handler consumes events published by other instances. Implementations of
// Bus never deliver an instance's own events back to it.
type Handler func(ev domain.Event)

// Bus is the cross-instance publish/subscribe channel.
type Bus interface {
	// Publish sends a committed event to all other instances. The event is
	// already durable when Publish is called; a failure must not undo it.
	Publish(ctx context.Context, ev domain.Event) error

	// Subscribe registers the handler for remote events and returns once the
	// subscription is established. Delivery happens on a background
	// goroutine until the bus is closed.
	Subscribe(ctx context.Context, h Handler) error

	// Close tears down the subscription and releases resources.
	Close() error
}

// Noop is the single-instance adapter: publishes vanish, no events arrive.
type Noop struct{}

// NewNoop returns the local-only Bus.
func NewNoop() Noop { return Noop{} }

// Publish discards the event.
func (Noop) Publish(context.Context, domain.Event) error { return nil }

// Subscribe never delivers anything.
func (Noop) Subscribe(context.Context, Handler) error { return nil }

// Close is a no-op.
func (Noop) Close() error { return nil }
