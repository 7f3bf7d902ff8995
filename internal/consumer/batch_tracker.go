package consumer

import (
	"context"
	"sync"

	"github.com/silverbackgo/silverback/internal/envelope"
	"github.com/silverbackgo/silverback/internal/sequence"
)

// batchItem is one message buffered into a batch sequence, paired with the
// identifier its commit stage needs once the whole batch flushes.
type batchItem struct {
	message any
	id      envelope.Identifier
}

// BatchTracker groups consumed messages into sequence.Batch instances keyed
// by x-batch-id, flushing to a Dispatcher and committing every member's
// identifier once the batch fills or its window elapses (spec.md "Batch
// Sequence": N envelopes or T elapsed time, whichever first).
type BatchTracker struct {
	mu      sync.Mutex
	batches map[string]*sequence.Batch
	items   map[string][]batchItem

	dispatcher Dispatcher
	committer  Committer
}

// NewBatchTracker returns a tracker that dispatches flushed batches via
// dispatcher and commits each member via committer.
func NewBatchTracker(dispatcher Dispatcher, committer Committer) *BatchTracker {
	return &BatchTracker{
		batches:    make(map[string]*sequence.Batch),
		items:      make(map[string][]batchItem),
		dispatcher: dispatcher,
		committer:  committer,
	}
}

// Add enqueues message/id into the batch identified by batchID, creating it
// if this is the first member seen. ctx and endpoint are retained for the
// flush that may happen later, off the calling goroutine, when the window
// timer fires instead of the batch filling synchronously.
func (t *BatchTracker) Add(ctx context.Context, endpoint envelope.Endpoint, batchID string, settings envelope.BatchSettings, message any, id envelope.Identifier) {
	t.mu.Lock()
	batch, ok := t.batches[batchID]
	if !ok {
		batch = sequence.NewBatch(batchID, settings.Size, settings.Window, func(raw []any) {
			t.flush(ctx, endpoint, batchID, raw)
		})
		t.batches[batchID] = batch
	}
	t.items[batchID] = append(t.items[batchID], batchItem{message: message, id: id})
	t.mu.Unlock()

	batch.Add(message)
}

func (t *BatchTracker) flush(ctx context.Context, endpoint envelope.Endpoint, batchID string, raw []any) {
	t.mu.Lock()
	members := t.items[batchID]
	delete(t.items, batchID)
	delete(t.batches, batchID)
	t.mu.Unlock()

	if t.dispatcher != nil {
		_ = t.dispatcher.Dispatch(ctx, raw)
	}
	if t.committer == nil {
		return
	}
	for _, m := range members {
		_ = t.committer.Commit(ctx, endpoint, m.id)
	}
}
