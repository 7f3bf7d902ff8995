// Package producer implements the outbound pipeline: an ordered chain of
// Behaviors (trace injection, validation, enrichment, serialization,
// encryption, chunking) terminated by a ProduceStrategy (direct broker
// produce or transactional-outbox insert), per spec.md §4.1.
package producer

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"

	"github.com/silverbackgo/silverback/internal/envelope"
)

// Behavior is one stage of the producer pipeline. SortIndex fixes its
// position in the chain so composition is deterministic regardless of
// registration order (spec.md §4.1: "a fixed sort index so composition is
// deterministic").
type Behavior interface {
	SortIndex() int
	Handle(ctx context.Context, rc *RunContext, env *envelope.Envelope, next func(context.Context, *envelope.Envelope) error) error
}

// Fixed sort indexes for the built-in behaviors, spaced to leave room for
// callers to interleave their own behaviors between the documented stages.
const (
	SortIndexTrace      = 100
	SortIndexValidation = 200
	SortIndexEnrich     = 300
	SortIndexSerialize  = 400
	SortIndexEncrypt    = 500
	SortIndexChunk      = 600
)

// RunContext carries the per-call state behaviors need but that must not
// leak into the Envelope itself: the original decoded message and the
// resolved endpoint configuration.
type RunContext struct {
	Message  any
	Endpoint envelope.Endpoint
	Config   *envelope.EndpointConfiguration
}

// ErrNoRoute indicates Route found no registered configuration for a
// message's Go type.
var ErrNoRoute = errors.New("producer: no route registered for message type")

// ErrNoStrategy indicates an endpoint configuration names a produce
// strategy (outbox/direct) that was never registered on the Pipeline.
var ErrNoStrategy = errors.New("producer: no produce strategy configured")

// Router resolves the Endpoint and EndpointConfiguration for an outgoing
// message.
type Router interface {
	Route(message any) (envelope.Endpoint, *envelope.EndpointConfiguration, error)
}

// Route pairs an EndpointResolver with the configuration that applies once
// it resolves.
type Route struct {
	Resolver envelope.EndpointResolver
	Config   *envelope.EndpointConfiguration
}

// Table is the default Router: one Route per registered Go message type.
type Table struct {
	mu     sync.RWMutex
	routes map[reflect.Type]Route
}

// NewTable returns an empty routing Table.
func NewTable() *Table {
	return &Table{routes: make(map[reflect.Type]Route)}
}

// Register associates the Go type of a zero-value sample message with a
// Route. Pass a nil pointer of the message type, e.g. Register((*Order)(nil), ...).
func (t *Table) Register(sample any, route Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[reflect.TypeOf(sample)] = route
}

// Route implements Router.
func (t *Table) Route(message any) (envelope.Endpoint, *envelope.EndpointConfiguration, error) {
	t.mu.RLock()
	route, ok := t.routes[reflect.TypeOf(message)]
	t.mu.RUnlock()
	if !ok {
		return envelope.Endpoint{}, nil, ErrNoRoute
	}
	endpoint, err := route.Resolver.Resolve(message)
	if err != nil {
		return envelope.Endpoint{}, nil, err
	}
	return endpoint, route.Config, nil
}

// StrategyResult is what a ProduceStrategy returns for one produce call.
type StrategyResult struct {
	Identifier envelope.Identifier // nil for the outbox strategy
}

// ProduceStrategy is the pipeline terminator: either hands the envelope(s)
// to the broker client directly, or persists them to the transactional
// outbox. cfg is nil when invoked via the outbox worker's delegated produce
// path (spec.md §4.4), which bypasses routing entirely.
type ProduceStrategy interface {
	Produce(ctx context.Context, endpoint envelope.Endpoint, cfg *envelope.EndpointConfiguration, env *envelope.Envelope) (StrategyResult, error)
}

// Pipeline runs a message through the ordered Behavior chain and the
// endpoint's configured ProduceStrategy (direct or outbox, per
// EndpointConfiguration.UseOutbox).
type Pipeline struct {
	mu        sync.RWMutex
	behaviors []Behavior
	router    Router
	direct    ProduceStrategy
	outbox    ProduceStrategy
}

// New builds a Pipeline around router. direct and outbox may be nil if the
// deployment never routes to the corresponding strategy.
func New(router Router, direct, outbox ProduceStrategy) *Pipeline {
	return &Pipeline{router: router, direct: direct, outbox: outbox}
}

// AddBehavior inserts b into the chain, keeping behaviors sorted by
// SortIndex (ties keep insertion order).
func (p *Pipeline) AddBehavior(b Behavior) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.behaviors = append(p.behaviors, b)
	sort.SliceStable(p.behaviors, func(i, j int) bool {
		return p.behaviors[i].SortIndex() < p.behaviors[j].SortIndex()
	})
}

// Produce routes message, runs it through the behavior chain, and hands the
// resulting envelope to the endpoint's configured ProduceStrategy.
func (p *Pipeline) Produce(ctx context.Context, message any, extraHeaders ...envelope.Header) (StrategyResult, error) {
	endpoint, cfg, err := p.router.Route(message)
	if err != nil {
		return StrategyResult{}, err
	}

	env := envelope.New()
	env.MessageType = cfg.MessageType
	for _, h := range extraHeaders {
		env.Headers.Add(h.Name, h.Value)
	}

	rc := &RunContext{Message: message, Endpoint: endpoint, Config: cfg}

	p.mu.RLock()
	chain := append([]Behavior{}, p.behaviors...)
	strategy := p.direct
	if cfg.UseOutbox {
		strategy = p.outbox
	}
	p.mu.RUnlock()

	var result StrategyResult
	terminal := func(ctx context.Context, env *envelope.Envelope) error {
		if strategy == nil {
			return ErrNoStrategy
		}
		r, serr := strategy.Produce(ctx, endpoint, cfg, env)
		if serr != nil {
			return serr
		}
		result = r
		return nil
	}

	run := buildChain(chain, rc, terminal)
	if err := run(ctx, env); err != nil {
		return StrategyResult{}, err
	}
	return result, nil
}

// buildChain composes behaviors (already sorted) into a single next()-style
// call chain terminated by terminal.
func buildChain(chain []Behavior, rc *RunContext, terminal func(context.Context, *envelope.Envelope) error) func(context.Context, *envelope.Envelope) error {
	next := terminal
	for i := len(chain) - 1; i >= 0; i-- {
		b := chain[i]
		prevNext := next
		next = func(ctx context.Context, env *envelope.Envelope) error {
			return b.Handle(ctx, rc, env, prevNext)
		}
	}
	return next
}
