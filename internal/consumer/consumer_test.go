package consumer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/silverbackgo/silverback/internal/consumer"
	"github.com/silverbackgo/silverback/internal/envelope"
	"github.com/silverbackgo/silverback/internal/errorpolicy"
)

type fakeDispatcher struct {
	got []any
}

func (d *fakeDispatcher) Dispatch(_ context.Context, message any) error {
	d.got = append(d.got, message)
	return nil
}

type fakeCommitter struct {
	committed []string
}

func (c *fakeCommitter) Commit(_ context.Context, _ envelope.Endpoint, id envelope.Identifier) error {
	c.committed = append(c.committed, id.String())
	return nil
}

type rawDeserializer struct{}

func (rawDeserializer) Deserialize(body []byte, _ string) (any, error) { return string(body), nil }

type fakeIdentifier struct{ id, partition string }

func (f fakeIdentifier) String() string                      { return f.id }
func (f fakeIdentifier) Equal(other envelope.Identifier) bool { o, ok := other.(fakeIdentifier); return ok && o == f }
func (f fakeIdentifier) GroupKey() string                     { return f.partition }

func newEnvelope(body string) *envelope.Envelope {
	env := envelope.New()
	env.Body = []byte(body)
	return env
}

func TestPipeline_DispatchesAndCommits(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	committer := &fakeCommitter{}

	pipe := consumer.New(committer)
	pipe.AddBehavior(consumer.DeserializeBehavior{})
	pipe.AddBehavior(consumer.DispatchBehavior{Dispatcher: dispatcher})

	cfg := &envelope.EndpointConfiguration{Deserializer: rawDeserializer{}}
	id := fakeIdentifier{id: "p0-offset-1", partition: "topic/0"}

	err := pipe.Process(context.Background(), envelope.Endpoint{Name: "topic"}, cfg, id, newEnvelope("hello"), nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(dispatcher.got) != 1 || dispatcher.got[0] != "hello" {
		t.Fatalf("unexpected dispatch: %#v", dispatcher.got)
	}
	if len(committer.committed) != 1 || committer.committed[0] != "p0-offset-1" {
		t.Fatalf("unexpected commits: %#v", committer.committed)
	}
}

type alwaysFail struct{}

func (alwaysFail) SortIndex() int { return consumer.SortIndexDispatch }

func (alwaysFail) Handle(_ context.Context, _ *consumer.RunContext, _ *envelope.Envelope, _ func(context.Context, *envelope.Envelope) error) error {
	return errors.New("boom")
}

func TestPipeline_StopPolicyDoesNotCommit(t *testing.T) {
	committer := &fakeCommitter{}
	pipe := consumer.New(committer)
	pipe.AddBehavior(alwaysFail{})

	cfg := &envelope.EndpointConfiguration{}
	id := fakeIdentifier{id: "x", partition: "topic/0"}

	err := pipe.Process(context.Background(), envelope.Endpoint{Name: "topic"}, cfg, id, newEnvelope("body"), errorpolicy.Stop{})
	if err == nil {
		t.Fatal("expected error from Stop policy")
	}
	if len(committer.committed) != 0 {
		t.Fatalf("expected no commits, got %#v", committer.committed)
	}
}

func TestPipeline_SkipPolicyCommitsDespiteFailure(t *testing.T) {
	committer := &fakeCommitter{}
	pipe := consumer.New(committer)
	pipe.AddBehavior(alwaysFail{})

	cfg := &envelope.EndpointConfiguration{}
	id := fakeIdentifier{id: "y", partition: "topic/0"}

	err := pipe.Process(context.Background(), envelope.Endpoint{Name: "topic"}, cfg, id, newEnvelope("body"), errorpolicy.Skip{})
	if err != nil {
		t.Fatalf("Skip policy should swallow the error, got %v", err)
	}
	if len(committer.committed) != 1 || committer.committed[0] != "y" {
		t.Fatalf("expected commit despite failure, got %#v", committer.committed)
	}
}

func TestRawSequenceBehavior_ReassemblesChunks(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	committer := &fakeCommitter{}
	tracker := consumer.NewSequenceTracker()

	pipe := consumer.New(committer)
	pipe.AddBehavior(consumer.RawSequenceBehavior{Tracker: tracker})
	pipe.AddBehavior(consumer.DeserializeBehavior{})
	pipe.AddBehavior(consumer.DispatchBehavior{Dispatcher: dispatcher})

	cfg := &envelope.EndpointConfiguration{Deserializer: rawDeserializer{}}
	endpoint := envelope.Endpoint{Name: "topic"}

	chunks := []struct {
		body   string
		index  int
		isLast bool
	}{
		{"ab", 0, false},
		{"cd", 1, true},
	}
	for i, c := range chunks {
		env := newEnvelope(c.body)
		env.Headers.Set(envelope.HeaderMessageID, []byte("seq-1"))
		env.Headers.Set(envelope.HeaderChunkIndex, []byte(itoa(c.index)))
		if c.isLast {
			env.Headers.Set(envelope.HeaderChunkIsLast, []byte("true"))
		}
		id := fakeIdentifier{id: itoa(i), partition: "topic/0"}
		if err := pipe.Process(context.Background(), endpoint, cfg, id, env, nil); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
	}

	if len(dispatcher.got) != 1 || dispatcher.got[0] != "abcd" {
		t.Fatalf("expected reassembled dispatch \"abcd\", got %#v", dispatcher.got)
	}
	// Only the final, completing chunk's identifier commits; the first chunk
	// suspended the envelope and never reached the commit stage.
	if len(committer.committed) != 1 || committer.committed[0] != "1" {
		t.Fatalf("unexpected commits: %#v", committer.committed)
	}
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
