package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/silverbackgo/silverback/internal/envelope"
)

type fakeLookup struct {
	endpoint envelope.Endpoint
	err      error
}

func (f fakeLookup) Lookup(rawName, serialized string) (envelope.Endpoint, error) {
	return f.endpoint, f.err
}

type fakeProducer struct {
	envs []*envelope.Envelope
	err  error
}

func (f *fakeProducer) Produce(ctx context.Context, endpoint envelope.Endpoint, env *envelope.Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.envs = append(f.envs, env)
	return nil
}

func TestWorkerDeliverPreservesHeadersAndBody(t *testing.T) {
	producer := &fakeProducer{}
	w := &Worker{
		lookup:   fakeLookup{endpoint: envelope.Endpoint{Name: "orders"}},
		producer: producer,
	}

	msg := Message{
		ID:           1,
		MessageType:  "OrderPlaced",
		Content:      []byte(`{"n":1}`),
		EndpointName: "orders",
		Headers: []envelope.Header{
			{Name: "x-message-id", Value: []byte("abc")},
		},
	}

	if err := w.deliver(context.Background(), msg); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	if len(producer.envs) != 1 {
		t.Fatalf("producer received %d envelopes, want 1", len(producer.envs))
	}
	got := producer.envs[0]
	if string(got.Body) != `{"n":1}` {
		t.Fatalf("Body = %q, want the stored content", got.Body)
	}
	if got.MessageType != "OrderPlaced" {
		t.Fatalf("MessageType = %q, want OrderPlaced", got.MessageType)
	}
	if v, ok := got.Headers.Get("x-message-id"); !ok || string(v) != "abc" {
		t.Fatalf("x-message-id header = (%q, %v), want (abc, true)", v, ok)
	}
}

func TestWorkerDeliverWrapsLookupFailureAsConfigurationError(t *testing.T) {
	w := &Worker{
		lookup:   fakeLookup{err: errors.New("no such endpoint")},
		producer: &fakeProducer{},
	}

	err := w.deliver(context.Background(), Message{EndpointName: "missing"})
	if err == nil {
		t.Fatalf("deliver() error = nil, want lookup failure")
	}
}

func TestWorkerDeliverWrapsProduceFailureAsTransientBroker(t *testing.T) {
	w := &Worker{
		lookup:   fakeLookup{endpoint: envelope.Endpoint{Name: "orders"}},
		producer: &fakeProducer{err: errors.New("broker unreachable")},
	}

	err := w.deliver(context.Background(), Message{EndpointName: "orders"})
	if err == nil {
		t.Fatalf("deliver() error = nil, want produce failure surfaced")
	}
}
