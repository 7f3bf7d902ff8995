package producer_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/silverbackgo/silverback/internal/envelope"
	"github.com/silverbackgo/silverback/internal/producer"
)

type order struct {
	N int `json:"n"`
}

type jsonSerializer struct{}

func (jsonSerializer) Serialize(message any) ([]byte, error) { return json.Marshal(message) }

type fakeDirect struct {
	calls []*envelope.Envelope
}

func (f *fakeDirect) Produce(_ context.Context, _ envelope.Endpoint, _ *envelope.EndpointConfiguration, env *envelope.Envelope) (producer.StrategyResult, error) {
	f.calls = append(f.calls, env)
	return producer.StrategyResult{Identifier: fakeID{offset: int64(len(f.calls))}}, nil
}

type fakeID struct{ offset int64 }

func (f fakeID) String() string                       { return "fake" }
func (f fakeID) Equal(other envelope.Identifier) bool  { o, ok := other.(fakeID); return ok && o == f }
func (f fakeID) GroupKey() string                      { return "fake" }

func newPipeline(direct producer.ProduceStrategy) (*producer.Pipeline, *producer.Table) {
	table := producer.NewTable()
	pipe := producer.New(table, direct, nil)
	pipe.AddBehavior(producer.SerializeBehavior{})
	return pipe, table
}

func TestPipeline_DirectProduce(t *testing.T) {
	direct := &fakeDirect{}
	pipe, table := newPipeline(direct)
	table.Register((*order)(nil), producer.Route{
		Resolver: envelope.StaticEndpointResolver{Endpoint: envelope.Endpoint{Name: "topic-a"}},
		Config: &envelope.EndpointConfiguration{
			MessageType: "Order",
			Serializer:  jsonSerializer{},
		},
	})

	result, err := pipe.Produce(context.Background(), &order{N: 1})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if result.Identifier == nil {
		t.Fatalf("expected an identifier from the direct strategy")
	}
	if len(direct.calls) != 1 {
		t.Fatalf("want 1 produce call, got %d", len(direct.calls))
	}
	if string(direct.calls[0].Body) != `{"n":1}` {
		t.Fatalf("unexpected body: %s", direct.calls[0].Body)
	}
	if v, _ := direct.calls[0].Headers.Get(envelope.HeaderMessageType); string(v) != "Order" {
		t.Fatalf("expected x-message-type header, got %q", v)
	}
}

func TestPipeline_NoRoute(t *testing.T) {
	pipe, _ := newPipeline(&fakeDirect{})
	_, err := pipe.Produce(context.Background(), &order{N: 1})
	if !errors.Is(err, producer.ErrNoRoute) {
		t.Fatalf("want ErrNoRoute, got %v", err)
	}
}

func TestChunkBehavior_SplitsOversizedBody(t *testing.T) {
	direct := &fakeDirect{}
	table := producer.NewTable()
	pipe := producer.New(table, direct, nil)
	pipe.AddBehavior(producer.SerializeBehavior{})
	pipe.AddBehavior(producer.ChunkBehavior{IDGen: constGen{id: "seq-1"}})

	table.Register(bigMsg{}, producer.Route{
		Resolver: envelope.StaticEndpointResolver{Endpoint: envelope.Endpoint{Name: "topic-b"}},
		Config: &envelope.EndpointConfiguration{
			MessageType:    "Big",
			Serializer:     rawSerializer{},
			ChunkThreshold: 4,
		},
	})

	_, err := pipe.Produce(context.Background(), bigMsg{body: []byte("0123456789")})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if len(direct.calls) != 3 {
		t.Fatalf("want 3 chunks, got %d", len(direct.calls))
	}
	var reassembled []byte
	for i, env := range direct.calls {
		idx, _ := env.Headers.Get(envelope.HeaderChunkIndex)
		if string(idx) != itoaTest(i) {
			t.Fatalf("chunk %d has index header %q", i, idx)
		}
		last, _ := env.Headers.Get(envelope.HeaderChunkIsLast)
		wantLast := i == 2
		if (string(last) == "true") != wantLast {
			t.Fatalf("chunk %d is-last=%q, want %v", i, last, wantLast)
		}
		reassembled = append(reassembled, env.Body...)
	}
	if string(reassembled) != "0123456789" {
		t.Fatalf("reassembled body mismatch: %q", reassembled)
	}
}

type bigMsg struct{ body []byte }

type rawSerializer struct{}

func (rawSerializer) Serialize(message any) ([]byte, error) { return message.(bigMsg).body, nil }

type constGen struct{ id string }

func (g constGen) Generate() string { return g.id }

func itoaTest(n int) string {
	return string(rune('0' + n))
}
