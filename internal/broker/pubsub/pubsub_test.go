package pubsub_test

import (
	"context"
	"errors"
	"testing"

	gpubsub "cloud.google.com/go/pubsub/v2"

	"github.com/silverbackgo/silverback/internal/broker"
	"github.com/silverbackgo/silverback/internal/broker/pubsub"
	"github.com/silverbackgo/silverback/internal/envelope"
)

func TestNew_RequiresProjectIDWithoutClient(t *testing.T) {
	_, err := pubsub.New(pubsub.Config{})
	if !errors.Is(err, pubsub.ErrProjectIDRequired) {
		t.Fatalf("want ErrProjectIDRequired, got %v", err)
	}
}

func TestNew_AcceptsInjectedClient(t *testing.T) {
	c, err := pubsub.New(pubsub.Config{Client: &gpubsub.Client{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c == nil {
		t.Fatal("expected a non-nil client")
	}
}

func TestConsumeLoop_RequiresSubscriptionParam(t *testing.T) {
	c, err := pubsub.New(pubsub.Config{Client: &gpubsub.Client{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	err = c.ConsumeLoop(context.Background(), envelope.Endpoint{Name: "orders"}, func(context.Context, envelope.Identifier, *envelope.Envelope) error {
		return nil
	})
	if !errors.Is(err, pubsub.ErrSubscriptionRequired) {
		t.Fatalf("want ErrSubscriptionRequired, got %v", err)
	}
}

func TestProduce_ErrorsWhenNotInitialized(t *testing.T) {
	c, err := pubsub.New(pubsub.Config{ProjectID: "proj"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Produce(context.Background(), envelope.Endpoint{Name: "orders"}, envelope.New())
	if !errors.Is(err, broker.ErrNotInitialized) {
		t.Fatalf("want ErrNotInitialized, got %v", err)
	}
}

func TestIdentifier_Equal(t *testing.T) {
	a := pubsub.Identifier{}
	b := pubsub.Identifier{}
	if !a.Equal(b) {
		t.Fatal("zero-value identifiers should be equal")
	}
}
