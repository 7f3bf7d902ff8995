// Package broker defines the abstract Broker Client contract that the
// producer and consumer pipelines depend on. Concrete adapters (Kafka, NSQ,
// NATS, Pub/Sub) live in the kafka/, nsq/, nats/, and pubsub/ subpackages.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/silverbackgo/silverback/internal/envelope"
)

// ErrUnsupported is returned when a feature is not supported by the selected
// broker (e.g. not all brokers support delayed delivery or batched commit).
var ErrUnsupported = errors.New("broker: unsupported operation")

// Status is the connection lifecycle state of a Client.
type Status int

const (
	StatusDisconnected Status = iota
	StatusInitializing
	StatusInitialized
	StatusDisconnecting
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "Initializing"
	case StatusInitialized:
		return "Initialized"
	case StatusDisconnecting:
		return "Disconnecting"
	default:
		return "Disconnected"
	}
}

// Event is emitted on every Status transition.
type Event struct {
	Status Status
	At     time.Time
	Err    error // set only for transitions caused by a failure
}

// EventHandler observes broker lifecycle events.
type EventHandler func(Event)

// ErrNotInitialized is returned by Produce when status != Initialized. No
// adapter queues envelopes until the connection is up.
var ErrNotInitialized = errors.New("broker: client not initialized")

// Client is the abstract Broker Client contract every adapter implements.
// All methods are safe to call from multiple goroutines.
type Client interface {
	// Connect establishes the underlying broker connection, transitioning
	// through Initializing to Initialized.
	Connect(ctx context.Context) error
	// Disconnect tears the connection down, transitioning through
	// Disconnecting to Disconnected.
	Disconnect(ctx context.Context) error
	// Reconnect disconnects (if connected) and connects again.
	Reconnect(ctx context.Context) error
	// Status reports the current lifecycle state.
	Status() Status

	// Produce sends env to endpoint, returning its broker-assigned
	// Identifier. Produce fails fast with ErrNotInitialized if the client
	// isn't Initialized; there is no option to queue until connected.
	Produce(ctx context.Context, endpoint envelope.Endpoint, env *envelope.Envelope) (envelope.Identifier, error)

	// ConsumeLoop runs until ctx is cancelled or handler returns a fatal
	// error, invoking handler for every envelope read from endpoint.
	// handler's returned error does not by itself imply ack/nack; the
	// consumer pipeline's commit stage decides that via the error policy.
	ConsumeLoop(ctx context.Context, endpoint envelope.Endpoint, handler Handler) error

	// Commit acknowledges the given identifiers as processed, advancing the
	// broker's own commit point where the broker has one (Kafka offsets,
	// NSQ Finish, Pub/Sub acks). Core NATS has none, so its Commit is a no-op.
	Commit(ctx context.Context, ids []envelope.Identifier) error

	// OnEvent registers a lifecycle observer. Implementations may support
	// multiple observers.
	OnEvent(EventHandler)
}

// Handler processes one inbound envelope, given its broker Identifier.
type Handler func(ctx context.Context, id envelope.Identifier, env *envelope.Envelope) error

// Lifecycle is embeddable by adapters to provide Status/OnEvent bookkeeping
// and event fan-out, the same shared-plumbing role gobite's messaging
// package gives callHandlerWithRecover.
type Lifecycle struct {
	status    Status
	observers []EventHandler
}

// SetStatus transitions to s and notifies observers.
func (l *Lifecycle) SetStatus(s Status, err error) {
	l.status = s
	ev := Event{Status: s, At: time.Now(), Err: err}
	for _, obs := range l.observers {
		obs(ev)
	}
}

// Status returns the current status.
func (l *Lifecycle) Status() Status { return l.status }

// OnEvent registers an observer.
func (l *Lifecycle) OnEvent(h EventHandler) {
	if h != nil {
		l.observers = append(l.observers, h)
	}
}
