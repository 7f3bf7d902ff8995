package bus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/silverbackgo/silverback/internal/bus"
)

type orderPlaced struct{ ID int }

func TestBus_DispatchesToRegisteredHandler(t *testing.T) {
	b := bus.New()
	var got []int
	b.Subscribe((*orderPlaced)(nil), bus.HandlerFunc(func(_ context.Context, message any) error {
		got = append(got, message.(orderPlaced).ID)
		return nil
	}))

	if err := b.Dispatch(context.Background(), orderPlaced{ID: 1}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("unexpected handler invocations: %#v", got)
	}
}

func TestBus_NoHandler(t *testing.T) {
	b := bus.New()
	err := b.Dispatch(context.Background(), orderPlaced{ID: 1})
	if !errors.Is(err, bus.ErrNoHandler) {
		t.Fatalf("want ErrNoHandler, got %v", err)
	}
}

func TestBus_DispatchesBatchElementByElement(t *testing.T) {
	b := bus.New()
	var got []int
	b.Subscribe((*orderPlaced)(nil), bus.HandlerFunc(func(_ context.Context, message any) error {
		got = append(got, message.(orderPlaced).ID)
		return nil
	}))

	batch := []any{orderPlaced{ID: 1}, orderPlaced{ID: 2}, orderPlaced{ID: 3}}
	if err := b.Dispatch(context.Background(), batch); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 dispatched elements, got %#v", got)
	}
}

func TestBus_MultipleHandlersRunInOrder(t *testing.T) {
	b := bus.New()
	var order []string
	b.Subscribe((*orderPlaced)(nil), bus.HandlerFunc(func(context.Context, any) error {
		order = append(order, "first")
		return nil
	}))
	b.Subscribe((*orderPlaced)(nil), bus.HandlerFunc(func(context.Context, any) error {
		order = append(order, "second")
		return nil
	}))

	if err := b.Dispatch(context.Background(), orderPlaced{ID: 1}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("unexpected order: %#v", order)
	}
}
