// Package bus implements the minimal in-process dispatch contract the
// consumer pipeline hands deserialized messages to (spec.md §1: "referenced
// only as the dispatch target after inbound deserialization"; SPEC_FULL.md
// package layout: "bus/ minimal in-process dispatch contract"). The routing
// half — publisher/subscriber fan-out across an application — is explicitly
// out of scope; this package only fixes the handler-registration and
// dispatch shape consumer.DispatchBehavior depends on.
package bus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// Handler processes one decoded message of a specific Go type.
type Handler interface {
	Handle(ctx context.Context, message any) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, message any) error

func (f HandlerFunc) Handle(ctx context.Context, message any) error { return f(ctx, message) }

// ErrNoHandler indicates Dispatch was called with a message type that has no
// registered Handler.
var ErrNoHandler = errors.New("bus: no handler registered for message type")

// Bus is a reflect.Type-keyed dispatch table, the inbound mirror of
// producer.Table's outbound routing table (internal/producer/producer.go):
// one or more handlers per registered Go message type, looked up by dynamic type at
// dispatch time.
type Bus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]Handler
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[reflect.Type][]Handler)}
}

// Subscribe registers h to run for every message of sample's Go type. Pass a
// nil pointer of the message type, e.g. Subscribe((*Order)(nil), h). Multiple
// handlers may subscribe to the same type; they run in registration order.
func (b *Bus) Subscribe(sample any, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := reflect.TypeOf(sample)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	b.handlers[t] = append(b.handlers[t], h)
}

// Dispatch runs every handler registered for message's dynamic type, in
// registration order, stopping at the first error. A []any (a flushed batch
// sequence, see internal/consumer.BatchTracker) is dispatched element by
// element under the element's own type.
func (b *Bus) Dispatch(ctx context.Context, message any) error {
	if batch, ok := message.([]any); ok {
		for _, m := range batch {
			if err := b.Dispatch(ctx, m); err != nil {
				return err
			}
		}
		return nil
	}

	b.mu.RLock()
	handlers := b.handlers[reflect.TypeOf(message)]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return fmt.Errorf("%w: %T", ErrNoHandler, message)
	}
	for _, h := range handlers {
		if err := h.Handle(ctx, message); err != nil {
			return err
		}
	}
	return nil
}
