package sequence

import (
	"sync"
	"time"
)

// Batch groups up to Size elements, or whatever arrives within Window,
// whichever limit is reached first. A Batch owns a parent Sequence so chunk
// sub-sequences can be registered as its children. The parent is marked
// Complete when the batch flushes; the state of its children is not checked.
type Batch struct {
	Parent *Sequence

	size   int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	items   []any
	started time.Time
	timer   *time.Timer
	flushed bool
	onFlush func([]any)
}

// NewBatch starts a batch sequence bounded by size elements or window
// elapsed time. onFlush is invoked exactly once, either when the batch fills
// or when the window expires.
func NewBatch(id string, size int, window time.Duration, onFlush func([]any)) *Batch {
	b := &Batch{
		Parent:  New(id),
		size:    size,
		window:  window,
		clock:   time.Now,
		onFlush: onFlush,
	}
	b.started = b.clock()
	if window > 0 {
		b.timer = time.AfterFunc(window, b.flushByWindow)
	}
	return b
}

// Add appends an element, flushing synchronously if it fills the batch.
func (b *Batch) Add(item any) {
	b.mu.Lock()
	if b.flushed {
		b.mu.Unlock()
		return
	}
	b.items = append(b.items, item)
	full := b.size > 0 && len(b.items) >= b.size
	b.mu.Unlock()

	if full {
		b.flush()
	}
}

func (b *Batch) flushByWindow() {
	b.flush()
}

func (b *Batch) flush() {
	b.mu.Lock()
	if b.flushed {
		b.mu.Unlock()
		return
	}
	b.flushed = true
	items := b.items
	b.items = nil
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()

	b.Parent.state = StateComplete
	if b.onFlush != nil {
		b.onFlush(items)
	}
}

// Len reports the number of buffered elements.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
