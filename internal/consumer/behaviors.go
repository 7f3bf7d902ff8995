package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/propagation"

	"github.com/silverbackgo/silverback/internal/crypto"
	"github.com/silverbackgo/silverback/internal/envelope"
	"github.com/silverbackgo/silverback/internal/pkg/instrument"
	"github.com/silverbackgo/silverback/internal/pkgerr"
	"github.com/silverbackgo/silverback/internal/sequence"
)

// TraceBehavior extracts the W3C trace context and attaches it to ctx for the
// rest of the chain (the mirror image of producer.TraceBehavior). It reads the
// propagator's own header keys (traceparent/tracestate with the default
// TraceContext propagator); the x-traceparent/x-tracestate/x-trace-baggage
// headers are not read.
type TraceBehavior struct {
	Propagator propagation.TextMapPropagator
}

func (TraceBehavior) SortIndex() int { return SortIndexTrace }

func (b TraceBehavior) Handle(ctx context.Context, _ *RunContext, env *envelope.Envelope, next func(context.Context, *envelope.Envelope) error) error {
	prop := b.Propagator
	if prop == nil {
		prop = propagation.TraceContext{}
	}
	ctx = prop.Extract(ctx, headerCarrier{env.Headers})
	return next(ctx, env)
}

type headerCarrier struct{ h *envelope.Headers }

func (c headerCarrier) Get(key string) string {
	v, ok := c.h.Get(key)
	if !ok {
		return ""
	}
	return string(v)
}

func (c headerCarrier) Set(key, value string) { c.h.Set(key, []byte(value)) }

func (c headerCarrier) Keys() []string {
	seen := map[string]struct{}{}
	var keys []string
	for _, e := range c.h.All() {
		if _, ok := seen[e.Name]; ok {
			continue
		}
		seen[e.Name] = struct{}{}
		keys = append(keys, e.Name)
	}
	return keys
}

// LogEnrichBehavior logs the start of delivery for an endpoint/message id at
// debug level. A real deployment typically swaps this for a behavior that
// attaches a request-scoped slog.Logger to ctx; Silverback only specifies the
// stage, not the logger wiring.
type LogEnrichBehavior struct{}

func (LogEnrichBehavior) SortIndex() int { return SortIndexLogEnrich }

func (LogEnrichBehavior) Handle(ctx context.Context, rc *RunContext, env *envelope.Envelope, next func(context.Context, *envelope.Envelope) error) error {
	id, _ := env.Headers.Get(envelope.HeaderMessageID)
	if len(id) > 0 {
		ctx = instrument.SetCorrelationID(ctx, string(id))
	}
	slog.DebugContext(ctx, "consumer: delivering message", "endpoint", rc.Endpoint.String(), "message_id", string(id))
	return next(ctx, env)
}

// RawSequenceBehavior reassembles chunked envelopes into a single body using
// a SequenceTracker keyed by the broker identifier's partition (spec.md §4.2
// stage 3, "Raw Sequence Reader"). Envelopes without chunk metadata pass
// through unchanged. Envelopes that leave their sequence incomplete are
// suspended (not forwarded); the envelope that completes the sequence is
// forwarded carrying the reassembled body.
type RawSequenceBehavior struct {
	Tracker *SequenceTracker
}

func (RawSequenceBehavior) SortIndex() int { return SortIndexRawSequence }

func (b RawSequenceBehavior) Handle(ctx context.Context, rc *RunContext, env *envelope.Envelope, next func(context.Context, *envelope.Envelope) error) error {
	id, index, isLast, ok := sequence.ChunkMetadata(env.Headers)
	if !ok {
		return next(ctx, env)
	}
	if b.Tracker == nil {
		return pkgerr.Configuration(fmt.Errorf("endpoint %q received a chunked envelope but no sequence tracker is configured", rc.Endpoint.String()), "raw sequence read")
	}

	partition := rc.Identifier.GroupKey()
	seq, err := b.Tracker.AddChunk(partition, id, index, isLast, env.Body)
	if err != nil {
		return pkgerr.Sequence(err, "reassemble chunk", "sequence_id", id, "endpoint", rc.Endpoint.String())
	}
	if seq.State() != sequence.StateComplete {
		rc.Suspended = true
		return nil
	}

	env.Body = seq.Body()
	seq.MarkProcessed()
	return next(ctx, env)
}

// Deduper reports whether a message id has already been processed,
// satisfied by internal/offsetstore.Dedup's Redis SETNX check.
type Deduper interface {
	Seen(ctx context.Context, messageID string) (bool, error)
}

// DedupBehavior suspends redelivered envelopes once their x-message-id has
// already been seen, giving the outbox's at-least-once retries (spec.md
// §4.4) an exactly-once-processing outcome at the consumer. It runs after
// chunk reassembly, since x-message-id identifies the whole message, not
// individual chunks, and before decryption/deserialization so duplicate
// work is skipped as early as possible.
//
// The SETNX-style mark happens in Dedup.Seen itself, before dispatch
// completes, so a message whose downstream processing later fails is
// already marked seen and will be suspended rather than reprocessed on
// redelivery. Acceptable here since the outbox's own retry only guarantees
// at-least-once produce; the guarantee this behavior adds is exactly-once
// processing of what does get dispatched, not automatic recovery of a
// handler failure.
type DedupBehavior struct {
	Dedup Deduper
}

func (DedupBehavior) SortIndex() int { return SortIndexDedup }

func (b DedupBehavior) Handle(ctx context.Context, rc *RunContext, env *envelope.Envelope, next func(context.Context, *envelope.Envelope) error) error {
	if b.Dedup == nil {
		return next(ctx, env)
	}
	id, ok := env.Headers.Get(envelope.HeaderMessageID)
	if !ok {
		return next(ctx, env)
	}

	seen, err := b.Dedup.Seen(ctx, string(id))
	if err != nil {
		return pkgerr.Processing(err, "dedup check", "endpoint", rc.Endpoint.String(), "message_id", string(id))
	}
	if seen {
		rc.Suspended = true
		return nil
	}
	return next(ctx, env)
}

// DecryptBehavior reverses producer.EncryptBehavior using the endpoint's
// configured key id header (spec.md §4.2 stage 4).
type DecryptBehavior struct {
	Encryptor crypto.Encryptor
}

func (DecryptBehavior) SortIndex() int { return SortIndexDecrypt }

func (b DecryptBehavior) Handle(ctx context.Context, rc *RunContext, env *envelope.Envelope, next func(context.Context, *envelope.Envelope) error) error {
	if !rc.Config.Encrypt {
		return next(ctx, env)
	}
	if b.Encryptor == nil {
		return pkgerr.Configuration(fmt.Errorf("endpoint %q requires decryption but no encryptor is configured", rc.Endpoint.String()), "decrypt")
	}

	keyID := rc.Config.EncryptionKeyID
	if v, ok := env.Headers.Get(envelope.HeaderEncryptionKeyID); ok {
		keyID = string(v)
	}

	plain, err := b.Encryptor.Decrypt(env.Body, keyID)
	if err != nil {
		return pkgerr.Processing(err, "decrypt message body", "endpoint", rc.Endpoint.String())
	}
	env.Body = plain
	return next(ctx, env)
}

// DeserializeBehavior turns env.Body back into a typed Go message using the
// endpoint's Deserializer, picking the message type from x-message-type
// unless the header is absent, in which case it falls back to the
// endpoint's configured MessageType (or fails if RequireHeaders is set)
// (spec.md §4.2 stage 5).
type DeserializeBehavior struct{}

func (DeserializeBehavior) SortIndex() int { return SortIndexDeserialize }

func (b DeserializeBehavior) Handle(ctx context.Context, rc *RunContext, env *envelope.Envelope, next func(context.Context, *envelope.Envelope) error) error {
	if rc.Config.Deserializer == nil {
		return pkgerr.Configuration(fmt.Errorf("endpoint %q has no deserializer configured", rc.Endpoint.String()), "deserialize")
	}

	messageType := rc.Config.MessageType
	if v, ok := env.Headers.Get(envelope.HeaderMessageType); ok {
		messageType = string(v)
	} else if rc.Config.RequireHeaders {
		return pkgerr.Configuration(fmt.Errorf("endpoint %q requires x-message-type but none was present", rc.Endpoint.String()), "deserialize")
	}

	msg, err := rc.Config.Deserializer.Deserialize(env.Body, messageType)
	if err != nil {
		return pkgerr.Serialization(err, "deserialize message", "endpoint", rc.Endpoint.String(), "message_type", messageType)
	}
	rc.Message = msg
	return next(ctx, env)
}

// TypedSequenceBehavior groups deserialized messages into the endpoint's
// configured batch sequence (spec.md §3 Batch Sequence), suspending each
// member until its batch flushes. Endpoints without Batch configured pass
// through unchanged.
type TypedSequenceBehavior struct {
	Tracker *BatchTracker
}

func (TypedSequenceBehavior) SortIndex() int { return SortIndexTypedSeq }

func (b TypedSequenceBehavior) Handle(ctx context.Context, rc *RunContext, env *envelope.Envelope, next func(context.Context, *envelope.Envelope) error) error {
	if rc.Config.Batch == nil {
		return next(ctx, env)
	}
	if b.Tracker == nil {
		return pkgerr.Configuration(fmt.Errorf("endpoint %q configures Batch but no batch tracker is configured", rc.Endpoint.String()), "typed sequence read")
	}

	batchID := rc.Endpoint.String()
	if v, ok := env.Headers.Get(envelope.HeaderBatchID); ok {
		batchID = string(v)
	}

	b.Tracker.Add(ctx, rc.Endpoint, batchID, *rc.Config.Batch, rc.Message, rc.Identifier)
	rc.Suspended = true
	return nil
}

// DispatchBehavior hands the fully decoded message to the in-process bus.
// Behaviors upstream of this one (TypedSequenceBehavior) may have already
// suspended the envelope, in which case this never runs for it.
type DispatchBehavior struct {
	Dispatcher Dispatcher
}

func (DispatchBehavior) SortIndex() int { return SortIndexDispatch }

func (b DispatchBehavior) Handle(ctx context.Context, rc *RunContext, env *envelope.Envelope, next func(context.Context, *envelope.Envelope) error) error {
	if b.Dispatcher == nil {
		return pkgerr.Configuration(fmt.Errorf("endpoint %q has no dispatcher configured", rc.Endpoint.String()), "dispatch")
	}
	if err := b.Dispatcher.Dispatch(ctx, rc.Message); err != nil {
		return pkgerr.Processing(err, "dispatch message", "endpoint", rc.Endpoint.String())
	}
	return next(ctx, env)
}
