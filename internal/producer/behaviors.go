package producer

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/propagation"

	"github.com/silverbackgo/silverback/internal/crypto"
	"github.com/silverbackgo/silverback/internal/envelope"
	"github.com/silverbackgo/silverback/internal/pkg/instrument"
	"github.com/silverbackgo/silverback/internal/pkgerr"
)

// TraceBehavior injects the active span's trace context into the envelope's
// headers (spec.md §4.1 stage 1) using the OTel propagator. The header names
// are the propagator's own keys, written unchanged: with the default
// TraceContext propagator these are traceparent and tracestate, not the
// x-traceparent/x-tracestate/x-trace-baggage names, and no baggage is written.
type TraceBehavior struct {
	Propagator propagation.TextMapPropagator
}

func (TraceBehavior) SortIndex() int { return SortIndexTrace }

func (b TraceBehavior) Handle(ctx context.Context, _ *RunContext, env *envelope.Envelope, next func(context.Context, *envelope.Envelope) error) error {
	prop := b.Propagator
	if prop == nil {
		prop = propagation.TraceContext{}
	}
	prop.Inject(ctx, headerCarrier{env.Headers})
	return next(ctx, env)
}

// headerCarrier adapts envelope.Headers to propagation.TextMapCarrier.
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

// Validator validates an arbitrary message, returning a ConfigurationError-
// shaped failure. Satisfied by internal/pkg/validator.V10Validator.
type Validator interface {
	Validate(data any) error
}

// MessageIDBehavior stamps x-message-id on every outbound envelope that
// doesn't already carry one, so the consumer-side dedup store
// (internal/offsetstore.Dedup) has a stable key for every message, not just
// chunked ones (spec.md §8 "outbox retried produce does not duplicate the
// message at the consumer"). It runs ahead of validation so retried outbox
// sends reuse the id already stamped on the stored envelope rather than
// minting a new one.
type MessageIDBehavior struct {
	IDGen SequenceIDGenerator
}

// SortIndexMessageID sits between trace injection and validation.
const SortIndexMessageID = 150

func (MessageIDBehavior) SortIndex() int { return SortIndexMessageID }

func (b MessageIDBehavior) Handle(ctx context.Context, _ *RunContext, env *envelope.Envelope, next func(context.Context, *envelope.Envelope) error) error {
	if _, ok := env.Headers.Get(envelope.HeaderMessageID); !ok && b.IDGen != nil {
		env.Headers.Set(envelope.HeaderMessageID, []byte(b.IDGen.Generate()))
	}
	if id, ok := env.Headers.Get(envelope.HeaderMessageID); ok {
		ctx = instrument.SetCorrelationID(ctx, string(id))
	}
	return next(ctx, env)
}

// ValidationBehavior runs Validator against the original message per the
// endpoint's ValidationMode (spec.md §4.1 stage 2).
type ValidationBehavior struct {
	Validator Validator
}

func (ValidationBehavior) SortIndex() int { return SortIndexValidation }

func (b ValidationBehavior) Handle(ctx context.Context, rc *RunContext, env *envelope.Envelope, next func(context.Context, *envelope.Envelope) error) error {
	if b.Validator == nil || rc.Config.Validation == envelope.ValidationIgnore {
		return next(ctx, env)
	}

	if err := b.Validator.Validate(rc.Message); err != nil {
		cerr := pkgerr.Configuration(err, "message validation failed", "endpoint", rc.Endpoint.String())
		switch rc.Config.Validation {
		case envelope.ValidationFail:
			return cerr
		case envelope.ValidationLog:
			slog.WarnContext(ctx, "producer: message failed validation, producing anyway", "endpoint", rc.Endpoint.String(), "error", err)
		}
	}
	return next(ctx, env)
}

// EnrichBehavior runs the endpoint's configured HeaderEnrichers in order
// (spec.md §4.1 stage 3).
type EnrichBehavior struct{}

func (EnrichBehavior) SortIndex() int { return SortIndexEnrich }

func (EnrichBehavior) Handle(ctx context.Context, rc *RunContext, env *envelope.Envelope, next func(context.Context, *envelope.Envelope) error) error {
	for _, enricher := range rc.Config.Enrichers {
		enricher.Enrich(ctx, rc.Message, env.Headers)
	}
	return next(ctx, env)
}

// SerializeBehavior renders the original message to wire bytes using the
// endpoint's Serializer, and stamps x-message-type when the deserializer
// side needs it to pick a concrete Go type back out (spec.md §4.1 stage 4).
type SerializeBehavior struct{}

func (SerializeBehavior) SortIndex() int { return SortIndexSerialize }

func (SerializeBehavior) Handle(ctx context.Context, rc *RunContext, env *envelope.Envelope, next func(context.Context, *envelope.Envelope) error) error {
	if rc.Config.Serializer == nil {
		return pkgerr.Configuration(fmt.Errorf("endpoint %q has no serializer configured", rc.Endpoint.String()), "serialize")
	}

	body, err := rc.Config.Serializer.Serialize(rc.Message)
	if err != nil {
		return pkgerr.Serialization(err, "serialize message", "endpoint", rc.Endpoint.String())
	}
	env.Body = body
	if env.MessageType != "" {
		env.Headers.Set(envelope.HeaderMessageType, []byte(env.MessageType))
	}
	return next(ctx, env)
}

// EncryptBehavior wraps the serialized body with the configured Encryptor
// when the endpoint requires it, prepending the IV for auto-generated-IV
// algorithms (spec.md §4.1 stage 5, §6 encrypted payload layout).
type EncryptBehavior struct {
	Encryptor crypto.Encryptor
}

func (EncryptBehavior) SortIndex() int { return SortIndexEncrypt }

func (b EncryptBehavior) Handle(ctx context.Context, rc *RunContext, env *envelope.Envelope, next func(context.Context, *envelope.Envelope) error) error {
	if !rc.Config.Encrypt {
		return next(ctx, env)
	}
	if b.Encryptor == nil {
		return pkgerr.Configuration(fmt.Errorf("endpoint %q requires encryption but no encryptor is configured", rc.Endpoint.String()), "encrypt")
	}

	cipher, err := b.Encryptor.Encrypt(env.Body, rc.Config.EncryptionKeyID)
	if err != nil {
		return pkgerr.Serialization(err, "encrypt message body", "endpoint", rc.Endpoint.String())
	}
	env.Body = cipher
	if rc.Config.EncryptionKeyID != "" {
		env.Headers.Set(envelope.HeaderEncryptionKeyID, []byte(rc.Config.EncryptionKeyID))
	}
	return next(ctx, env)
}

// SequenceIDGenerator produces a fresh id. MessageIDBehavior stamps it as
// x-message-id, and ChunkBehavior uses it as the chunk-sequence id when the
// envelope carries no x-message-id header to reuse.
type SequenceIDGenerator interface {
	Generate() string
}

// ChunkBehavior splits env.Body into fixed-size chunks when it exceeds the
// endpoint's ChunkThreshold, emitting N envelopes sharing one sequence id and
// carrying contiguous chunk-index headers, the last marked is-last=true
// (spec.md §4.1 stage 6). next is invoked once per chunk; the pipeline fails
// atomically if any chunk's terminal produce fails (direct strategy callers
// decide whether that means "none produced" based on broker transactionality,
// see spec.md §4.1 "Contract").
type ChunkBehavior struct {
	IDGen SequenceIDGenerator
}

func (ChunkBehavior) SortIndex() int { return SortIndexChunk }

func (b ChunkBehavior) Handle(ctx context.Context, rc *RunContext, env *envelope.Envelope, next func(context.Context, *envelope.Envelope) error) error {
	threshold := rc.Config.ChunkThreshold
	if threshold <= 0 || len(env.Body) <= threshold {
		return next(ctx, env)
	}

	seqID, _ := env.Headers.Get(envelope.HeaderMessageID)
	id := string(seqID)
	if id == "" {
		if b.IDGen == nil {
			return pkgerr.Configuration(fmt.Errorf("endpoint %q needs chunking but no sequence id generator is configured", rc.Endpoint.String()), "chunk")
		}
		id = b.IDGen.Generate()
	}

	body := env.Body
	total := (len(body) + threshold - 1) / threshold
	for i := 0; i < total; i++ {
		start := i * threshold
		end := start + threshold
		if end > len(body) {
			end = len(body)
		}

		chunk := env.Clone()
		chunk.Body = append([]byte{}, body[start:end]...)
		chunk.Headers.Set(envelope.HeaderMessageID, []byte(id))
		chunk.Headers.Set(envelope.HeaderChunkIndex, []byte(itoa(i)))
		chunk.Headers.Set(envelope.HeaderChunksCount, []byte(itoa(total)))
		chunk.Headers.Set(envelope.HeaderFirstChunkOffset, []byte(itoa(start)))
		isLast := i == total-1
		chunk.Headers.Set(envelope.HeaderChunkIsLast, []byte(boolStr(isLast)))

		if err := next(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
