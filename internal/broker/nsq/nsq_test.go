package nsq_test

import (
	"context"
	"errors"
	"testing"

	"github.com/silverbackgo/silverback/internal/broker"
	"github.com/silverbackgo/silverback/internal/broker/nsq"
	"github.com/silverbackgo/silverback/internal/envelope"
)

func TestProduce_RequiresProducerAddr(t *testing.T) {
	c := nsq.New(nsq.Config{})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err := c.Produce(context.Background(), envelope.Endpoint{Name: "orders"}, envelope.New())
	if !errors.Is(err, nsq.ErrProducerAddrRequired) {
		t.Fatalf("want ErrProducerAddrRequired, got %v", err)
	}
}

func TestProduce_ErrorsWhenNotInitialized(t *testing.T) {
	c := nsq.New(nsq.Config{})

	_, err := c.Produce(context.Background(), envelope.Endpoint{Name: "orders"}, envelope.New())
	if !errors.Is(err, broker.ErrNotInitialized) {
		t.Fatalf("want ErrNotInitialized, got %v", err)
	}
}

func TestConsumeLoop_RequiresChannelParam(t *testing.T) {
	c := nsq.New(nsq.Config{ConsumerNSQDAddrs: []string{"localhost:4150"}})

	err := c.ConsumeLoop(context.Background(), envelope.Endpoint{Name: "orders"}, func(context.Context, envelope.Identifier, *envelope.Envelope) error {
		return nil
	})
	if !errors.Is(err, nsq.ErrChannelRequired) {
		t.Fatalf("want ErrChannelRequired, got %v", err)
	}
}

func TestConsumeLoop_RequiresConsumerAddrs(t *testing.T) {
	c := nsq.New(nsq.Config{})

	err := c.ConsumeLoop(context.Background(), envelope.Endpoint{
		Name:   "orders",
		Params: map[string]string{"channel": "workers"},
	}, func(context.Context, envelope.Identifier, *envelope.Envelope) error {
		return nil
	})
	if !errors.Is(err, nsq.ErrConsumerAddrsRequired) {
		t.Fatalf("want ErrConsumerAddrsRequired, got %v", err)
	}
}

func TestCommit_IgnoresUnknownIdentifiers(t *testing.T) {
	c := nsq.New(nsq.Config{})
	if err := c.Commit(context.Background(), []envelope.Identifier{nsq.Identifier{}}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}
