package consumer

import (
	"sync"

	"github.com/silverbackgo/silverback/internal/sequence"
)

// SequenceTracker owns one sequence.Store per partition (GroupKey) and
// implements "at-most-one-build-per-sequence": a new first chunk for a
// different sequence id arriving while the partition's current sequence is
// still Pending aborts the prior one with ReasonIncompleteSequence, per
// spec.md's sequence-store contract ("one store per partition assignment").
type SequenceTracker struct {
	mu        sync.Mutex
	stores    map[string]*sequence.Store
	currentID map[string]string
}

// NewSequenceTracker returns an empty tracker.
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{
		stores:    make(map[string]*sequence.Store),
		currentID: make(map[string]string),
	}
}

func (t *SequenceTracker) storeFor(partition string) *sequence.Store {
	s, ok := t.stores[partition]
	if !ok {
		s = sequence.NewStore()
		t.stores[partition] = s
	}
	return s
}

// AddChunk routes (partition, id, index, isLast, body) to its sequence,
// preempting any other still-Pending sequence on the same partition first.
func (t *SequenceTracker) AddChunk(partition, id string, index int, isLast bool, body []byte) (*sequence.Sequence, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	store := t.storeFor(partition)
	if cur, ok := t.currentID[partition]; ok && cur != id {
		store.Preempt(cur)
	}
	t.currentID[partition] = id

	seq := store.StartOrAppend(id)
	if err := seq.AddChunk(index, isLast, body); err != nil {
		return seq, err
	}
	if seq.State() == sequence.StateComplete {
		store.Remove(id)
		delete(t.currentID, partition)
	}
	return seq, nil
}

// AbortAll aborts every tracked sequence on every partition, used on consumer
// shutdown (ReasonConsumerAborted).
func (t *SequenceTracker) AbortAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.stores {
		s.AbortAll(sequence.ReasonConsumerAborted)
	}
	t.currentID = make(map[string]string)
}

// Len reports how many sequences are in flight across all partitions, used
// for the back-pressure threshold.
func (t *SequenceTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.stores {
		n += s.Len()
	}
	return n
}
