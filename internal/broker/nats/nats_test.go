package nats_test

import (
	"errors"
	"testing"

	"github.com/silverbackgo/silverback/internal/broker/nats"
)

func TestNew_RequiresURL(t *testing.T) {
	_, err := nats.New(nats.Config{})
	if !errors.Is(err, nats.ErrURLRequired) {
		t.Fatalf("want ErrURLRequired, got %v", err)
	}
}

func TestNew_AcceptsValidConfig(t *testing.T) {
	c, err := nats.New(nats.Config{URL: "nats://localhost:4222"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c == nil {
		t.Fatal("expected a non-nil client")
	}
}

func TestIdentifier_Equal(t *testing.T) {
	a := nats.Identifier{}
	b := nats.Identifier{}
	if !a.Equal(b) {
		t.Fatal("zero-value identifiers should be equal")
	}
}
