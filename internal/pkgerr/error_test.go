package pkgerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfExtractsClassificationThroughWrapping(t *testing.T) {
	cause := errors.New("boom")
	classified := Storage(cause, "write outbox row", "endpoint", "orders")
	wrapped := fmt.Errorf("outer: %w", classified)

	kind, ok := KindOf(wrapped)
	if !ok {
		t.Fatalf("KindOf() ok = false, want true")
	}
	if kind != KindStorage {
		t.Fatalf("KindOf() = %v, want KindStorage", kind)
	}
}

func TestKindOfDefaultsToProcessingForUnclassifiedErrors(t *testing.T) {
	kind, ok := KindOf(errors.New("plain"))
	if ok {
		t.Fatalf("KindOf() ok = true for unclassified error, want false")
	}
	if kind != KindProcessing {
		t.Fatalf("KindOf() = %v, want KindProcessing default", kind)
	}
}

func TestErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("cause")
	err := Sequence(cause, "chunk out of order")

	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(err, cause) = false, want true")
	}
}

func TestErrorFieldsCarryKeyValuePairs(t *testing.T) {
	err := New(KindConfiguration, errors.New("bad"), "resolve endpoint", "endpoint", "orders", "attempt", "1")

	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("errors.As failed to extract *Error")
	}
	fields := e.Fields()
	if fields["endpoint"] != "orders" || fields["attempt"] != "1" {
		t.Fatalf("Fields() = %+v, want endpoint=orders attempt=1", fields)
	}
}

func TestErrorFieldsDropsTrailingOddElement(t *testing.T) {
	err := New(KindConfiguration, errors.New("bad"), "msg", "onlykey")

	var e *Error
	errors.As(err, &e)
	if len(e.Fields()) != 0 {
		t.Fatalf("Fields() = %+v, want empty when a trailing key has no value", e.Fields())
	}
}

func TestFlattenReturnsJoinedLeaves(t *testing.T) {
	a := errors.New("a")
	b := errors.New("b")
	joined := errors.Join(a, b)
	wrapped := fmt.Errorf("outer: %w", joined)

	leaves := Flatten(wrapped)
	if len(leaves) != 2 {
		t.Fatalf("len(Flatten) = %d, want 2", len(leaves))
	}
	if leaves[0] != a || leaves[1] != b {
		t.Fatalf("Flatten() = %v, want [a b] in order", leaves)
	}
}

func TestFlattenSingleErrorReturnsItself(t *testing.T) {
	cause := errors.New("single")
	leaves := Flatten(cause)
	if len(leaves) != 1 || leaves[0] != cause {
		t.Fatalf("Flatten(single) = %v, want [single]", leaves)
	}
}

func TestFlattenNilReturnsNil(t *testing.T) {
	if got := Flatten(nil); got != nil {
		t.Fatalf("Flatten(nil) = %v, want nil", got)
	}
}

func TestKindStringRendersUppercaseLabels(t *testing.T) {
	cases := map[Kind]string{
		KindConfiguration:   "CONFIGURATION",
		KindTransientBroker: "TRANSIENT_BROKER",
		KindSerialization:   "SERIALIZATION",
		KindSequence:        "SEQUENCE",
		KindProcessing:      "PROCESSING",
		KindStorage:         "STORAGE",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Fatalf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
