// Package consumer implements the inbound pipeline: an ordered chain of
// Behaviors (trace extraction, log enrichment, sequence reassembly,
// decryption, deserialization, dispatch) followed by the error-policy gate
// and commit stage, per spec.md §4.2.
package consumer

import (
	"context"
	"sort"
	"sync"

	"github.com/silverbackgo/silverback/internal/envelope"
	"github.com/silverbackgo/silverback/internal/errorpolicy"
)

// Behavior is one stage of the consumer pipeline, ordered by a fixed
// SortIndex like the producer side.
type Behavior interface {
	SortIndex() int
	Handle(ctx context.Context, rc *RunContext, env *envelope.Envelope, next func(context.Context, *envelope.Envelope) error) error
}

const (
	SortIndexTrace       = 100
	SortIndexLogEnrich   = 200
	SortIndexRawSequence = 300
	SortIndexDedup       = 350
	SortIndexDecrypt     = 400
	SortIndexDeserialize = 500
	SortIndexTypedSeq    = 600
	SortIndexDispatch    = 700
)

// RunContext carries per-message state the behaviors and the commit gate
// need: the endpoint configuration, the broker identifier, and (once
// deserialization runs) the decoded message handed to Dispatcher.
type RunContext struct {
	Endpoint   envelope.Endpoint
	Config     *envelope.EndpointConfiguration
	Identifier envelope.Identifier
	Message    any

	// Suspended is set by a sequence-reassembly behavior that buffered this
	// envelope into an incomplete sequence instead of letting it continue
	// down the chain; the commit stage must not run for a suspended message.
	Suspended bool
}

// Dispatcher delivers a fully decoded message to the in-process bus.
type Dispatcher interface {
	Dispatch(ctx context.Context, message any) error
}

// Committer advances the consumer's commit point for one identifier once its
// sequence (if any) and error policy have resolved.
type Committer interface {
	Commit(ctx context.Context, endpoint envelope.Endpoint, id envelope.Identifier) error
}

// Pipeline runs one consumed envelope through the behavior chain, the
// endpoint's error policy on failure, and the commit stage on success.
type Pipeline struct {
	mu        sync.RWMutex
	behaviors []Behavior
	committer Committer
}

// New builds a Pipeline. Use AddBehavior to compose it.
func New(committer Committer) *Pipeline {
	return &Pipeline{committer: committer}
}

// AddBehavior inserts b into the chain, keeping behaviors sorted by SortIndex.
func (p *Pipeline) AddBehavior(b Behavior) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.behaviors = append(p.behaviors, b)
	sort.SliceStable(p.behaviors, func(i, j int) bool {
		return p.behaviors[i].SortIndex() < p.behaviors[j].SortIndex()
	})
}

// Run pushes env through the behavior chain for endpoint/id and returns the
// chain's error; applying errPolicy and committing is left to Process. It implements
// errorpolicy.Pipeline so error policies can re-run it (Retry) or route a
// transformed copy elsewhere (Move).
func (p *Pipeline) Run(ctx context.Context, env *envelope.Envelope) error {
	rc, ok := runContextFrom(ctx)
	if !ok {
		return errRunContextMissing
	}

	p.mu.RLock()
	chain := append([]Behavior{}, p.behaviors...)
	p.mu.RUnlock()

	terminal := func(context.Context, *envelope.Envelope) error { return nil }
	run := buildChain(chain, rc, terminal)
	return run(ctx, env)
}

// Process is the entry point for one consumed envelope: it runs the behavior
// chain, applies the error policy on failure, and commits on success (unless
// the envelope was suspended into an incomplete sequence).
func (p *Pipeline) Process(ctx context.Context, endpoint envelope.Endpoint, cfg *envelope.EndpointConfiguration, id envelope.Identifier, env *envelope.Envelope, errPolicy errorpolicy.Policy) error {
	rc := &RunContext{Endpoint: endpoint, Config: cfg, Identifier: id}
	ctx = withRunContext(ctx, rc)

	err := p.Run(ctx, env)
	if err != nil {
		if errPolicy == nil {
			errPolicy = errorpolicy.Stop{}
		}
		result := errPolicy.Handle(ctx, env, p, err)
		if result.Outcome == errorpolicy.OutcomeStop {
			return err
		}
		// OutcomeCommit: Skip/Retry-exhausted-to-Skip/Move all still commit.
	} else if rc.Suspended {
		return nil
	}

	if p.committer == nil {
		return nil
	}
	return p.committer.Commit(ctx, endpoint, id)
}

type ctxKey struct{}

func withRunContext(ctx context.Context, rc *RunContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

func runContextFrom(ctx context.Context) (*RunContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(*RunContext)
	return rc, ok
}

var errRunContextMissing = runContextMissingError{}

type runContextMissingError struct{}

func (runContextMissingError) Error() string {
	return "consumer: pipeline Run called without a RunContext (use Process)"
}

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
