// Package sequence implements the chunk/batch sequence state machine that
// reassembles multi-envelope messages on the consumer side.
package sequence

import (
	"sync"

	"github.com/silverbackgo/silverback/internal/envelope"
)

// State is one of the fixed states a Sequence moves through.
type State int

const (
	StatePending State = iota
	StateComplete
	StateAwaitingProcessing
	StateProcessed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateComplete:
		return "COMPLETE"
	case StateAwaitingProcessing:
		return "AWAITING_PROCESSING"
	case StateProcessed:
		return "PROCESSED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// AbortReason explains why a sequence left the happy path.
type AbortReason int

const (
	ReasonNone AbortReason = iota
	// ReasonIncompleteSequence: a new first chunk for a different sequence
	// arrived while this one was still Pending.
	ReasonIncompleteSequence
	// ReasonConsumerAborted: the consumer shut down with chunks outstanding.
	ReasonConsumerAborted
	// ReasonError: a pipeline stage failed while the sequence was in flight.
	ReasonError
	// ReasonEnumerationAborted: iteration over buffered chunks was cancelled.
	ReasonEnumerationAborted
)

func (r AbortReason) String() string {
	switch r {
	case ReasonIncompleteSequence:
		return "IncompleteSequence"
	case ReasonConsumerAborted:
		return "ConsumerAborted"
	case ReasonError:
		return "Error"
	case ReasonEnumerationAborted:
		return "EnumerationAborted"
	default:
		return "None"
	}
}

// Sequence is a chunk sequence: a set of envelopes sharing a sequence id and
// carrying contiguous, zero-based chunk indices. Chunk bodies are buffered in
// an arena (a single growing slice of slices indexed by position) rather than
// scattered per-chunk allocations, per the arena+index guidance for sequence
// stores.
type Sequence struct {
	mu sync.Mutex

	id     string
	state  State
	reason AbortReason

	arena     [][]byte // chunk bodies, indexed by chunk index
	total     int      // expected chunk count, known once the last chunk arrives; 0 until then
	gotLast   bool
	received  int

	parent   *Sequence
	children []*Sequence

	awaiters []chan struct{}
}

// New starts a new Pending sequence with the given id.
func New(id string) *Sequence {
	return &Sequence{id: id, state: StatePending}
}

// ID returns the sequence id.
func (s *Sequence) ID() string { return s.id }

// State returns the current state.
func (s *Sequence) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason returns the abort reason, or ReasonNone if not aborted.
func (s *Sequence) Reason() AbortReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// ErrOutOfOrder indicates a chunk was rejected: the sequence is no longer
// Pending, the index is negative, or a chunk with that index already arrived.
type ErrOutOfOrder struct {
	Got, ArenaLen int
}

func (e *ErrOutOfOrder) Error() string {
	return "sequence: chunk index out of order"
}

// AddChunk appends e's body at its chunk-index position. It is valid only
// while the sequence is Pending. If e carries the chunk-is-last header, the
// sequence transitions to Complete once every index in [0, N) has arrived.
func (s *Sequence) AddChunk(index int, isLast bool, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePending {
		return &ErrOutOfOrder{Got: index, ArenaLen: len(s.arena)}
	}
	if index < 0 {
		return &ErrOutOfOrder{Got: index, ArenaLen: len(s.arena)}
	}

	for len(s.arena) <= index {
		s.arena = append(s.arena, nil)
	}
	if s.arena[index] != nil {
		return &ErrOutOfOrder{Got: index, ArenaLen: len(s.arena)}
	}
	s.arena[index] = body
	s.received++

	if isLast {
		s.gotLast = true
		s.total = index + 1
	}

	if s.gotLast && s.received == s.total {
		s.state = StateComplete
	}
	return nil
}

// Body concatenates the buffered chunks in index order. Valid once Complete.
func (s *Sequence) Body() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.arena {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range s.arena {
		out = append(out, c...)
	}
	return out
}

// AwaitProcessing blocks the caller until the sequence reaches Processed or
// Aborted, returning the terminal state.
func (s *Sequence) AwaitProcessing() State {
	s.mu.Lock()
	if s.state == StateProcessed || s.state == StateAborted {
		st := s.state
		s.mu.Unlock()
		return st
	}
	if s.state == StateComplete {
		s.state = StateAwaitingProcessing
	}
	ch := make(chan struct{})
	s.awaiters = append(s.awaiters, ch)
	s.mu.Unlock()

	<-ch
	return s.State()
}

// MarkProcessed transitions a Complete/AwaitingProcessing sequence to
// Processed and releases any AwaitProcessing callers.
func (s *Sequence) MarkProcessed() {
	s.mu.Lock()
	if s.state == StateProcessed || s.state == StateAborted {
		s.mu.Unlock()
		return
	}
	s.state = StateProcessed
	awaiters := s.awaiters
	s.awaiters = nil
	s.mu.Unlock()

	for _, ch := range awaiters {
		close(ch)
	}
}

// Abort terminates the sequence, disposes buffered chunks, releases any
// AwaitProcessing callers, and propagates to children and to the parent.
// Abort is idempotent: a second call is a no-op.
func (s *Sequence) Abort(reason AbortReason) {
	s.mu.Lock()
	if s.state == StateAborted {
		s.mu.Unlock()
		return
	}
	s.state = StateAborted
	s.reason = reason
	s.arena = nil
	children := append([]*Sequence{}, s.children...)
	parent := s.parent
	awaiters := s.awaiters
	s.awaiters = nil
	s.mu.Unlock()

	for _, ch := range awaiters {
		close(ch)
	}
	for _, c := range children {
		c.Abort(reason)
	}
	if parent != nil {
		parent.Abort(reason)
	}
}

// AddChild registers a child sequence of a batch sequence. An abort of the
// parent or of any child aborts the whole family (see Abort). The parent's
// completion is not derived from its children: nothing here checks that
// every child has completed.
func (s *Sequence) AddChild(child *Sequence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	child.parent = s
	s.children = append(s.children, child)
}

// MessageType/Headers reconstruction helpers operate on raw header lookups;
// exposed here so the consumer's raw sequence-reader behavior can read chunk
// metadata without importing sequence internals into envelope.
func ChunkMetadata(h *envelope.Headers) (id string, index int, isLast bool, ok bool) {
	idb, ok1 := h.Get(envelope.HeaderMessageID)
	idxb, ok2 := h.Get(envelope.HeaderChunkIndex)
	if !ok1 || !ok2 {
		return "", 0, false, false
	}
	idx := 0
	for _, c := range idxb {
		if c < '0' || c > '9' {
			return "", 0, false, false
		}
		idx = idx*10 + int(c-'0')
	}
	lastb, _ := h.Get(envelope.HeaderChunkIsLast)
	isLast = string(lastb) == "true"
	return string(idb), idx, isLast, true
}
