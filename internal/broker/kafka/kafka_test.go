package kafka_test

import (
	"context"
	"errors"
	"testing"

	"github.com/silverbackgo/silverback/internal/broker"
	"github.com/silverbackgo/silverback/internal/broker/kafka"
	"github.com/silverbackgo/silverback/internal/envelope"
)

func TestNew_RequiresBrokers(t *testing.T) {
	_, err := kafka.New(kafka.Config{})
	if !errors.Is(err, kafka.ErrBrokersRequired) {
		t.Fatalf("want ErrBrokersRequired, got %v", err)
	}
}

func TestConsumeLoop_RequiresGroupID(t *testing.T) {
	c, err := kafka.New(kafka.Config{Brokers: []string{"localhost:9092"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = c.ConsumeLoop(context.Background(), envelope.Endpoint{Name: "orders"}, func(context.Context, envelope.Identifier, *envelope.Envelope) error {
		return nil
	})
	if !errors.Is(err, kafka.ErrGroupRequired) {
		t.Fatalf("want ErrGroupRequired, got %v", err)
	}
}

func TestProduce_ErrorsWhenNotInitialized(t *testing.T) {
	c, err := kafka.New(kafka.Config{Brokers: []string{"localhost:9092"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Produce(context.Background(), envelope.Endpoint{Name: "orders"}, envelope.New())
	if !errors.Is(err, broker.ErrNotInitialized) {
		t.Fatalf("want ErrNotInitialized, got %v", err)
	}
}

func TestIdentifier_SatisfiesOffsetIdentifier(t *testing.T) {
	id := kafka.Identifier{}
	var oi interface {
		Topic() string
		Partition() int32
		Offset() int64
	} = id
	if oi.Topic() != "" || oi.Partition() != 0 || oi.Offset() != 0 {
		t.Fatal("zero-value identifier should report zero fields")
	}
}

func TestIdentifier_String(t *testing.T) {
	id := kafka.Identifier{}
	if id.String() == "" {
		t.Fatal("String should not be empty")
	}
}
