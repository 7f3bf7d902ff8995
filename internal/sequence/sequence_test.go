package sequence

import "testing"

func TestSequenceReassemblyInOrder(t *testing.T) {
	seq := New("s1")
	if err := seq.AddChunk(0, false, []byte("ab")); err != nil {
		t.Fatalf("add chunk 0: %v", err)
	}
	if err := seq.AddChunk(1, false, []byte("cd")); err != nil {
		t.Fatalf("add chunk 1: %v", err)
	}
	if err := seq.AddChunk(2, true, []byte("ef")); err != nil {
		t.Fatalf("add chunk 2: %v", err)
	}

	if seq.State() != StateComplete {
		t.Fatalf("state = %v, want Complete", seq.State())
	}
	if got := string(seq.Body()); got != "abcdef" {
		t.Fatalf("body = %q, want %q", got, "abcdef")
	}
}

func TestSequenceOutOfOrderArrival(t *testing.T) {
	seq := New("s1")
	if err := seq.AddChunk(2, true, []byte("ef")); err != nil {
		t.Fatalf("add chunk 2 first: %v", err)
	}
	if err := seq.AddChunk(0, false, []byte("ab")); err != nil {
		t.Fatalf("add chunk 0 out of order: %v", err)
	}
	if err := seq.AddChunk(1, false, []byte("cd")); err != nil {
		t.Fatalf("add chunk 1: %v", err)
	}
	if seq.State() != StateComplete {
		t.Fatalf("state = %v, want Complete", seq.State())
	}
	if got := string(seq.Body()); got != "abcdef" {
		t.Fatalf("body = %q, want %q", got, "abcdef")
	}
}

func TestSequenceAbortIsIdempotent(t *testing.T) {
	seq := New("s1")
	seq.Abort(ReasonError)
	seq.Abort(ReasonIncompleteSequence)

	if seq.State() != StateAborted {
		t.Fatalf("state = %v, want Aborted", seq.State())
	}
	if seq.Reason() != ReasonError {
		t.Fatalf("reason = %v, want the first abort's reason", seq.Reason())
	}
}

func TestSequenceAwaitProcessingUnblocksOnMarkProcessed(t *testing.T) {
	seq := New("s1")
	_ = seq.AddChunk(0, true, []byte("x"))

	done := make(chan State, 1)
	go func() { done <- seq.AwaitProcessing() }()

	seq.MarkProcessed()

	if st := <-done; st != StateProcessed {
		t.Fatalf("AwaitProcessing returned %v, want Processed", st)
	}
}

func TestSequenceAwaitProcessingUnblocksOnAbort(t *testing.T) {
	seq := New("s1")
	_ = seq.AddChunk(0, true, []byte("x"))

	done := make(chan State, 1)
	go func() { done <- seq.AwaitProcessing() }()

	seq.Abort(ReasonConsumerAborted)

	if st := <-done; st != StateAborted {
		t.Fatalf("AwaitProcessing returned %v, want Aborted", st)
	}
}

func TestStorePreemptsIncompleteSequence(t *testing.T) {
	store := NewStore()
	s1 := store.StartOrAppend("s1")
	_ = s1.AddChunk(0, false, []byte("partial"))

	store.Preempt("s1")

	if s1.State() != StateAborted {
		t.Fatalf("s1 state = %v, want Aborted", s1.State())
	}
	if s1.Reason() != ReasonIncompleteSequence {
		t.Fatalf("s1 reason = %v, want IncompleteSequence", s1.Reason())
	}
	if _, ok := store.Get("s1"); ok {
		t.Fatal("s1 should have been removed from the store")
	}

	s2 := store.StartOrAppend("s2")
	if s2.State() != StatePending {
		t.Fatalf("s2 state = %v, want Pending", s2.State())
	}
}

func TestChildAbortPropagatesToParentAndSiblings(t *testing.T) {
	parent := New("batch-1")
	c1 := New("batch-1/0")
	c2 := New("batch-1/1")
	parent.AddChild(c1)
	parent.AddChild(c2)

	c1.Abort(ReasonError)
	if parent.State() != StateAborted {
		t.Fatalf("parent should abort once a child aborts, got %v", parent.State())
	}
	if c2.State() != StateAborted {
		t.Fatalf("sibling should abort when the parent aborts, got %v", c2.State())
	}
}
