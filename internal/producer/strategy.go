package producer

import (
	"context"

	"github.com/silverbackgo/silverback/internal/broker"
	"github.com/silverbackgo/silverback/internal/envelope"
	"github.com/silverbackgo/silverback/internal/outbox"
	"github.com/silverbackgo/silverback/internal/pkgerr"
)

// DirectStrategy hands each envelope straight to the broker client and
// returns its broker-assigned Identifier (spec.md §4.1 "Direct").
type DirectStrategy struct {
	Client broker.Client
}

func (s DirectStrategy) Produce(ctx context.Context, endpoint envelope.Endpoint, _ *envelope.EndpointConfiguration, env *envelope.Envelope) (StrategyResult, error) {
	id, err := s.Client.Produce(ctx, endpoint, env)
	if err != nil {
		return StrategyResult{}, pkgerr.TransientBroker(err, "direct produce", "endpoint", endpoint.String())
	}
	return StrategyResult{Identifier: id}, nil
}

// WorkerProducer adapts a ProduceStrategy to outbox.DelegatedProducer's
// single-error-return signature, used by the outbox worker's bypass-routing
// delivery path (spec.md §4.4: "go directly to the produce stage using a
// Delegated Producer that preserves the original headers").
type WorkerProducer struct {
	Strategy ProduceStrategy
}

func (p WorkerProducer) Produce(ctx context.Context, endpoint envelope.Endpoint, env *envelope.Envelope) error {
	_, err := p.Strategy.Produce(ctx, endpoint, nil, env)
	return err
}

// OutboxStrategy persists the endpoint + headers + body into the
// transactional outbox under the ambient DB transaction enlisted in ctx
// (sbcontext.KeyTransaction), instead of producing directly (spec.md §4.1
// "Outbox", §4.4 Writer contract).
type OutboxStrategy struct {
	Store *outbox.Store
}

func (s OutboxStrategy) Produce(ctx context.Context, endpoint envelope.Endpoint, cfg *envelope.EndpointConfiguration, env *envelope.Envelope) (StrategyResult, error) {
	var serialized string
	if cfg != nil && cfg.Resolver != nil {
		s, err := cfg.Resolver.Serialize(endpoint)
		if err != nil {
			return StrategyResult{}, pkgerr.Configuration(err, "serialize endpoint for outbox", "endpoint", endpoint.String())
		}
		serialized = s
	}

	_, err := s.Store.Add(ctx, outbox.Message{
		MessageType:        env.MessageType,
		Content:            env.Body,
		Headers:            env.Headers.All(),
		EndpointName:       endpoint.Name,
		SerializedEndpoint: serialized,
	})
	if err != nil {
		return StrategyResult{}, err
	}
	return StrategyResult{}, nil
}
