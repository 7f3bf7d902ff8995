package app

import (
	"context"
	"log/slog"
	"os"

	"github.com/sethvargo/go-retry"

	"github.com/silverbackgo/silverback/internal/bus"
	"github.com/silverbackgo/silverback/internal/envelope"
	"github.com/silverbackgo/silverback/internal/errorpolicy"
	"github.com/silverbackgo/silverback/internal/producer"
)

// OrderPlaced is the reference message type this host produces and
// consumes, standing in for gobite's identity/notification domain events:
// it exercises routing, (de)serialization, optional chunking, the outbox,
// and dispatch end to end (spec.md §8's worked scenarios).
type OrderPlaced struct {
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount_cents"`
}

// initModules registers the endpoint configuration(s) and bus subscriptions
// this host exercises, in place of gobite's identity/notification business
// modules.
func (a *App) initModules() {
	a.errorPolicies = map[string]errorpolicy.Policy{}

	endpoint := envelope.Endpoint{Name: a.config.GetString("endpoints.orders.topic")}
	a.codec.Register("OrderPlaced", func() any { return new(OrderPlaced) })

	cfg := &envelope.EndpointConfiguration{
		Endpoint:       endpoint,
		MessageType:    "OrderPlaced",
		Serializer:     a.codec,
		Deserializer:   a.codec,
		Resolver:       envelope.StaticEndpointResolver{Endpoint: endpoint},
		Validation:     envelope.ValidationLog,
		ChunkThreshold: a.config.GetInt("endpoints.orders.chunk_threshold_bytes"),
		UseOutbox:      a.config.GetBool("endpoints.orders.use_outbox"),
		ErrorPolicy:    "orders",
	}

	a.routing.Register((*OrderPlaced)(nil), producer.Route{Resolver: cfg.Resolver, Config: cfg})
	a.outboxRegistry.Register(endpoint.Name, endpoint)
	a.consumeConfigs[endpoint.Name] = cfg
	a.consumeEndpoints = append(a.consumeEndpoints, endpoint)
	backoff, err := retry.NewExponential(a.config.GetSecond("endpoints.orders.retry_backoff_seconds"))
	if err != nil {
		slog.Error("failed to init retry backoff for orders endpoint", "error", err)
		os.Exit(1)
	}
	a.errorPolicies["orders"] = errorpolicy.Retry{
		N:       a.config.GetInt("endpoints.orders.retry_attempts"),
		Backoff: backoff,
	}

	a.bus.Subscribe((*OrderPlaced)(nil), bus.HandlerFunc(func(ctx context.Context, message any) error {
		order, ok := message.(OrderPlaced)
		if !ok {
			return nil
		}
		slog.InfoContext(ctx, "order placed", "order_id", order.OrderID, "amount_cents", order.Amount)
		return nil
	}))
}

// PlaceOrder produces an OrderPlaced message through the producer pipeline,
// via the endpoint's configured strategy (direct or outbox).
func (a *App) PlaceOrder(ctx context.Context, order OrderPlaced) (producer.StrategyResult, error) {
	return a.producerPipe.Produce(ctx, &order)
}
