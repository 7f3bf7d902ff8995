package lock

import (
	"context"
	"sync"
	"time"
)

// memoryHandle is the Handle returned by MemoryLocker.
type memoryHandle struct {
	name  string
	token int64
}

func (h memoryHandle) Name() string { return h.name }

type memoryEntry struct {
	token     int64
	expiresAt time.Time
}

// MemoryLocker is a single-process Locker, suitable only when every
// contender runs inside the same process (spec.md §4.7: "in-memory (single
// process)").
type MemoryLocker struct {
	mu      sync.Mutex
	held    map[string]memoryEntry
	counter int64
	now     func() time.Time
}

// NewMemoryLocker constructs an in-memory Locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryEntry), now: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, name string, ttl time.Duration) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.held[name]; ok && entry.expiresAt.After(now) {
		return nil, ErrAlreadyHeld
	}

	l.counter++
	entry := memoryEntry{token: l.counter, expiresAt: now.Add(ttl)}
	l.held[name] = entry
	return memoryHandle{name: name, token: entry.token}, nil
}

func (l *MemoryLocker) Renew(_ context.Context, handle Handle, ttl time.Duration) error {
	h, ok := handle.(memoryHandle)
	if !ok {
		return ErrNotHeld
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.held[h.name]
	if !ok || entry.token != h.token || !entry.expiresAt.After(l.now()) {
		return ErrNotHeld
	}
	entry.expiresAt = l.now().Add(ttl)
	l.held[h.name] = entry
	return nil
}

func (l *MemoryLocker) Release(_ context.Context, handle Handle) error {
	h, ok := handle.(memoryHandle)
	if !ok {
		return ErrNotHeld
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.held[h.name]
	if !ok || entry.token != h.token {
		return ErrNotHeld
	}
	delete(l.held, h.name)
	return nil
}
