package sequence

// Store is a per-partition (or per-subscription) map of sequence id to
// Sequence. By contract (spec: "one store per partition assignment") it is
// single-writer: only the owning consumer task ever calls its mutating
// methods, so Store itself does not need its own lock beyond what Sequence
// already provides for AwaitProcessing/Abort racing with the writer goroutine.
type Store struct {
	byID map[string]*Sequence
}

// NewStore returns an empty sequence store.
func NewStore() *Store {
	return &Store{byID: make(map[string]*Sequence)}
}

// Get returns the sequence for id, if one is currently tracked.
func (s *Store) Get(id string) (*Sequence, bool) {
	seq, ok := s.byID[id]
	return seq, ok
}

// StartOrAppend routes a chunk to its sequence, creating one if this is the
// first chunk seen for id. If a different, still-Pending sequence already
// occupies the store's "current" slot for a logical stream (tracked by the
// caller passing the previous id), the caller is responsible for aborting it
// with ReasonIncompleteSequence before calling this — see Preempt.
func (s *Store) StartOrAppend(id string) *Sequence {
	if seq, ok := s.byID[id]; ok {
		return seq
	}
	seq := New(id)
	s.byID[id] = seq
	return seq
}

// Preempt aborts the sequence at id (if any and still Pending) with
// ReasonIncompleteSequence. It implements "at-most-one-build-per-sequence":
// a new first chunk for a different sequence-id arriving while a prior one is
// incomplete aborts the prior one.
func (s *Store) Preempt(id string) {
	seq, ok := s.byID[id]
	if !ok {
		return
	}
	if seq.State() == StatePending {
		seq.Abort(ReasonIncompleteSequence)
	}
	delete(s.byID, id)
}

// Remove drops a sequence from the store once it is Complete or Aborted, per
// the invariant "a sequence is either Complete or Aborted at the moment its
// store removes it".
func (s *Store) Remove(id string) {
	delete(s.byID, id)
}

// AbortAll aborts every tracked sequence with reason, used on consumer
// shutdown (ReasonConsumerAborted) to drain in-flight sequences.
func (s *Store) AbortAll(reason AbortReason) {
	for id, seq := range s.byID {
		seq.Abort(reason)
		delete(s.byID, id)
	}
}

// Len reports how many sequences are currently tracked, used for the
// back-pressure threshold ("pause fetch when the store holds >= N active
// sequences").
func (s *Store) Len() int {
	return len(s.byID)
}
