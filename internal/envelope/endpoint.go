package envelope

import (
	"context"
	"fmt"
	"time"
)

// Endpoint identifies a broker destination: a topic, subject, queue or
// channel, depending on the broker adapter in use.
type Endpoint struct {
	// Name is the raw destination name understood by the broker client
	// (Kafka topic, NATS subject, NSQ topic, Pub/Sub topic ID, ...).
	Name string

	// Params carries adapter-specific routing hints (NSQ channel, NATS queue
	// group, Pub/Sub ordering key, partition key, ...).
	Params map[string]string
}

// String renders the endpoint in a stable, loggable form.
func (e Endpoint) String() string {
	if len(e.Params) == 0 {
		return e.Name
	}
	return fmt.Sprintf("%s%v", e.Name, e.Params)
}

// ValidationMode controls how the producer's validation behavior reacts to a
// failed message validation.
type ValidationMode int

const (
	// ValidationIgnore skips validation entirely.
	ValidationIgnore ValidationMode = iota
	// ValidationLog logs a failure but still produces.
	ValidationLog
	// ValidationFail fails the produce call with a ConfigurationError.
	ValidationFail
)

// HeaderEnricher adds or overwrites headers on an outgoing envelope,
// typically derived from the message or ambient request context.
type HeaderEnricher interface {
	Enrich(ctx context.Context, message any, h *Headers)
}

// HeaderEnricherFunc adapts a plain function to HeaderEnricher.
type HeaderEnricherFunc func(ctx context.Context, message any, h *Headers)

func (f HeaderEnricherFunc) Enrich(ctx context.Context, message any, h *Headers) { f(ctx, message, h) }

// EndpointConfiguration binds an Endpoint to the pipeline behaviors that
// apply when producing to, or consuming from, it.
type EndpointConfiguration struct {
	Endpoint Endpoint

	// Serializer/Deserializer contracts are supplied by callers; Silverback
	// only specifies the interface (see Serializer/Deserializer below).
	MessageType  string
	Serializer   Serializer
	Deserializer Deserializer

	// Resolver is the same EndpointResolver that produced Endpoint, kept here
	// so the outbox produce strategy can serialize it for persistence without
	// the pipeline having to thread the routing table through every stage.
	Resolver EndpointResolver

	// RequireHeaders, when true, fails deserialization if x-message-type is
	// absent instead of falling back to MessageType.
	RequireHeaders bool

	// Validation controls the producer's validation behavior.
	Validation ValidationMode

	// Enrichers run, in order, during the producer's header-enrichment stage.
	Enrichers []HeaderEnricher

	// Encrypt, when true, runs the encryption producer/consumer behavior for
	// this endpoint using EncryptionKeyID.
	Encrypt         bool
	EncryptionKeyID string

	// ChunkThreshold, when > 0, enables chunking for outgoing envelopes whose
	// body exceeds this many bytes.
	ChunkThreshold int

	// UseOutbox routes production for this endpoint through the
	// transactional outbox instead of direct produce.
	UseOutbox bool

	// ErrorPolicy governs consumer-side failures for this endpoint.
	ErrorPolicy string

	// Parallel, when true, allows the consumer to process messages from this
	// endpoint concurrently instead of one in flight at a time; Batch, when
	// non-nil, groups consumed envelopes into batch sequences.
	Parallel bool
	Batch    *BatchSettings
}

// BatchSettings configures the consumer's typed batch-sequence reader for an
// endpoint (spec.md §3 Batch Sequence: "N envelopes or T elapsed time,
// whichever first").
type BatchSettings struct {
	Size   int
	Window time.Duration
}

// EndpointResolver maps an outgoing message to the Endpoint it should be
// produced to. Static resolvers always return the same Endpoint; dynamic
// resolvers may route based on message content and must support
// Serialize/DeserializeEndpoint so the outbox can persist and later replay
// the resolved destination without re-running resolution logic that may no
// longer be deterministic (app state, sharding tables, etc. can change
// between enqueue and delivery).
type EndpointResolver interface {
	// Resolve returns the Endpoint a message should be produced to.
	Resolve(message any) (Endpoint, error)

	// Serialize renders an already-resolved Endpoint to a stable string for
	// outbox persistence.
	Serialize(Endpoint) (string, error)

	// DeserializeEndpoint reverses Serialize.
	DeserializeEndpoint(s string) (Endpoint, error)
}

// StaticEndpointResolver always resolves to the same Endpoint.
type StaticEndpointResolver struct {
	Endpoint Endpoint
}

func (r StaticEndpointResolver) Resolve(any) (Endpoint, error) { return r.Endpoint, nil }

func (r StaticEndpointResolver) Serialize(e Endpoint) (string, error) { return e.Name, nil }

func (r StaticEndpointResolver) DeserializeEndpoint(s string) (Endpoint, error) {
	return Endpoint{Name: s}, nil
}

// DynamicEndpointResolverFunc adapts a plain function, plus explicit
// serialize/deserialize functions, into an EndpointResolver.
type DynamicEndpointResolverFunc struct {
	ResolveFunc     func(message any) (Endpoint, error)
	SerializeFunc   func(Endpoint) (string, error)
	DeserializeFunc func(string) (Endpoint, error)
}

func (r DynamicEndpointResolverFunc) Resolve(message any) (Endpoint, error) {
	return r.ResolveFunc(message)
}

func (r DynamicEndpointResolverFunc) Serialize(e Endpoint) (string, error) {
	return r.SerializeFunc(e)
}

func (r DynamicEndpointResolverFunc) DeserializeEndpoint(s string) (Endpoint, error) {
	return r.DeserializeFunc(s)
}

// Serializer turns an application message into wire bytes.
type Serializer interface {
	Serialize(message any) ([]byte, error)
}

// Deserializer turns wire bytes back into an application message of the
// given type name.
type Deserializer interface {
	Deserialize(body []byte, messageType string) (any, error)
}

// Identifier is an opaque broker-assigned identity for a produced message
// (Kafka topic/partition/offset, NATS locally generated message id, Pub/Sub message ID, ...). Two
// Identifiers from the same broker adapter compare equal via Equal when they
// refer to the same physical message.
type Identifier interface {
	// String renders the identifier in a stable, loggable form.
	String() string
	// Equal reports whether other refers to the same broker-assigned identity.
	Equal(other Identifier) bool
	// GroupKey returns the key used to group identifiers for batched commit
	// (e.g. "topic/partition" for Kafka).
	GroupKey() string
}
