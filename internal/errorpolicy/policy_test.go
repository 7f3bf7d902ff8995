package errorpolicy

import (
	"context"
	"errors"
	"testing"

	"github.com/silverbackgo/silverback/internal/envelope"
)

type countingPipeline struct {
	calls int
	fail  func(call int) error
}

func (p *countingPipeline) Run(context.Context, *envelope.Envelope) error {
	p.calls++
	return p.fail(p.calls)
}

func TestRetryExhaustionInvokesPipelineNPlusOneTimes(t *testing.T) {
	env := &envelope.Envelope{Headers: envelope.NewHeaders()}
	errPermanent := errors.New("permanent failure")
	pipe := &countingPipeline{fail: func(int) error { return errPermanent }}

	// consumer.Pipeline.Process runs the pipeline once itself before handing
	// the failure to the policy; reproduce that here so the n+1 count below
	// matches production rather than just Retry's own internal budget.
	firstErr := pipe.Run(context.Background(), env)

	policy := Retry{N: 2}
	res := policy.Handle(context.Background(), env, pipe, firstErr)

	if pipe.calls != 3 {
		t.Fatalf("pipeline ran %d times, want 3 (n+1 with n=2, including the caller's initial run)", pipe.calls)
	}
	if res.Outcome != OutcomeStop {
		t.Fatalf("outcome = %v, want OutcomeStop after exhaustion", res.Outcome)
	}
	if got, _ := env.Headers.Get(envelope.HeaderFailedAttempts); string(got) != "2" {
		t.Fatalf("x-failed-attempts = %q, want %q (one per retry the policy itself ran, not per total attempt)", got, "2")
	}
}

func TestRetrySucceedsBeforeExhaustion(t *testing.T) {
	env := &envelope.Envelope{Headers: envelope.NewHeaders()}
	pipe := &countingPipeline{fail: func(call int) error {
		if call < 2 {
			return errors.New("transient")
		}
		return nil
	}}

	policy := Retry{N: 5}
	res := policy.Handle(context.Background(), env, pipe, errors.New("initial"))

	if pipe.calls != 2 {
		t.Fatalf("pipeline ran %d times, want 2", pipe.calls)
	}
	if res.Outcome != OutcomeCommit {
		t.Fatalf("outcome = %v, want OutcomeCommit", res.Outcome)
	}
}

func TestRetryThenSkipChain(t *testing.T) {
	env := &envelope.Envelope{Headers: envelope.NewHeaders()}
	errPermanent := errors.New("permanent")
	pipe := &countingPipeline{fail: func(int) error { return errPermanent }}

	// Same pre-run simulation as TestRetryExhaustionInvokesPipelineNPlusOneTimes.
	firstErr := pipe.Run(context.Background(), env)

	policy := Retry{N: 1, Next: Skip{}}
	res := policy.Handle(context.Background(), env, pipe, firstErr)

	if pipe.calls != 2 {
		t.Fatalf("pipeline ran %d times, want 2 (n+1 with n=1, including the caller's initial run)", pipe.calls)
	}
	if res.Outcome != OutcomeCommit {
		t.Fatalf("outcome = %v, want OutcomeCommit (chained to Skip)", res.Outcome)
	}
}

func TestStopNeverCommits(t *testing.T) {
	env := &envelope.Envelope{Headers: envelope.NewHeaders()}
	res := Stop{}.Handle(context.Background(), env, nil, errors.New("x"))
	if res.Outcome != OutcomeStop {
		t.Fatalf("outcome = %v, want OutcomeStop", res.Outcome)
	}
}
