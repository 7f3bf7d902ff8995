// Package errorpolicy implements the consumer-side failure state machine:
// Stop, Skip, Retry(n), Move(endpoint), and Chain of policies.
package errorpolicy

import (
	"context"

	"github.com/sethvargo/go-retry"

	"github.com/silverbackgo/silverback/internal/envelope"
)

// Outcome tells the commit stage what to do after a policy has run.
type Outcome int

const (
	// OutcomeCommit: commit the offset; the envelope is considered handled.
	OutcomeCommit Outcome = iota
	// OutcomeStop: fail the consumer; do not commit.
	OutcomeStop
)

// Result is what a Policy returns after observing a failure.
type Result struct {
	Outcome Outcome
	// Attempts is the number of times the pipeline was re-run by this policy
	// (0 for policies that don't retry).
	Attempts int
}

// Pipeline re-runs the consumer pipeline for env and reports the failure, if
// any. Policies call this to retry or to move a message to another endpoint.
type Pipeline interface {
	Run(ctx context.Context, env *envelope.Envelope) error
}

// Policy decides what happens to env after pipeline failure err.
type Policy interface {
	Handle(ctx context.Context, env *envelope.Envelope, pipe Pipeline, err error) Result
}

// Stop fails the consumer outright; no commit.
type Stop struct{}

func (Stop) Handle(context.Context, *envelope.Envelope, Pipeline, error) Result {
	return Result{Outcome: OutcomeStop}
}

// Skip logs (left to the caller's instrumentation wrapper) and commits.
type Skip struct{}

func (Skip) Handle(context.Context, *envelope.Envelope, Pipeline, error) Result {
	return Result{Outcome: OutcomeCommit}
}

// Retry re-runs the pipeline up to N times, with an optional exponential
// backoff (via sethvargo/go-retry) between attempts, recording the attempt
// count on x-failed-attempts. On exhaustion it hands off to Next (defaulting
// to Stop).
type Retry struct {
	N       int
	Backoff retry.Backoff // nil means no delay between attempts
	Next    Policy         // defaults to Stop when nil
}

func (r Retry) Handle(ctx context.Context, env *envelope.Envelope, pipe Pipeline, err error) Result {
	lastErr := err
	attempts := 0

	// The caller (consumer.Pipeline.Process) has already run the pipeline
	// once before handing the failure to the policy; that run is the "+1" in
	// spec.md §8 property 6's "Retry(n) invokes the pipeline exactly n+1
	// times". Retry owns at most n further executions so the total across
	// caller+policy lands on n+1, not n+2.
	if r.N > 0 {
		b := r.Backoff
		if b == nil {
			b = retry.NewConstant(0)
		}
		b = retry.WithMaxRetries(uint64(r.N-1), b)

		runErr := retry.Do(ctx, b, func(ctx context.Context) error {
			attempts++
			incrementFailedAttempts(env)

			rerr := pipe.Run(ctx, env)
			if rerr == nil {
				return nil
			}
			lastErr = rerr
			return retry.RetryableError(rerr)
		})
		if runErr == nil {
			return Result{Outcome: OutcomeCommit, Attempts: attempts}
		}
	}

	next := r.Next
	if next == nil {
		next = Stop{}
	}
	res := next.Handle(ctx, env, pipe, lastErr)
	res.Attempts += attempts
	return res
}

func incrementFailedAttempts(env *envelope.Envelope) {
	n := 0
	if v, ok := env.Headers.Get(envelope.HeaderFailedAttempts); ok {
		for _, c := range v {
			if c < '0' || c > '9' {
				n = 0
				break
			}
			n = n*10 + int(c-'0')
		}
	}
	n++
	env.Headers.Set(envelope.HeaderFailedAttempts, []byte(itoa(n)))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Move re-produces the envelope to another endpoint (optionally transforming
// it first) and commits the original.
type Move struct {
	Endpoint  envelope.Endpoint
	Transform func(*envelope.Envelope) *envelope.Envelope
	Produce   func(ctx context.Context, endpoint envelope.Endpoint, env *envelope.Envelope) error
}

func (m Move) Handle(ctx context.Context, env *envelope.Envelope, _ Pipeline, _ error) Result {
	moved := env
	if m.Transform != nil {
		moved = m.Transform(env)
	}
	if m.Produce != nil {
		_ = m.Produce(ctx, m.Endpoint, moved) // move is best-effort per endpoint; commit regardless, matching Skip's "log and commit" shape
	}
	return Result{Outcome: OutcomeCommit}
}

// Chain applies policies in order, passing each one's trigger error through
// to the next whenever a policy would otherwise stop.
type Chain []Policy

func (c Chain) Handle(ctx context.Context, env *envelope.Envelope, pipe Pipeline, err error) Result {
	var last Result
	for i, p := range c {
		last = p.Handle(ctx, env, pipe, err)
		if last.Outcome == OutcomeCommit || i == len(c)-1 {
			return last
		}
	}
	return last
}
