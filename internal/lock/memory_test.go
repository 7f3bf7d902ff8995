package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryLockerMutualExclusion(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	h1, err := l.Acquire(ctx, "outbox-worker", time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := l.Acquire(ctx, "outbox-worker", time.Minute); !errors.Is(err, ErrAlreadyHeld) {
		t.Fatalf("expected ErrAlreadyHeld, got %v", err)
	}

	if err := l.Release(ctx, h1); err != nil {
		t.Fatalf("release: %v", err)
	}

	if _, err := l.Acquire(ctx, "outbox-worker", time.Minute); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestMemoryLockerExpiryFreesLock(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Now()
	l.now = func() time.Time { return now }

	ctx := context.Background()
	if _, err := l.Acquire(ctx, "offset-flusher", time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	now = now.Add(2 * time.Second)
	if _, err := l.Acquire(ctx, "offset-flusher", time.Second); err != nil {
		t.Fatalf("expected acquire to succeed once the lease has expired, got %v", err)
	}
}

func TestMemoryLockerRenewExtendsLease(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Now()
	l.now = func() time.Time { return now }

	ctx := context.Background()
	h, err := l.Acquire(ctx, "offset-flusher", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	now = now.Add(900 * time.Millisecond)
	if err := l.Renew(ctx, h, time.Second); err != nil {
		t.Fatalf("renew: %v", err)
	}

	now = now.Add(900 * time.Millisecond)
	if _, err := l.Acquire(ctx, "offset-flusher", time.Second); !errors.Is(err, ErrAlreadyHeld) {
		t.Fatalf("expected lease extended by renew to still hold, got %v", err)
	}
}

func TestMemoryLockerReleaseOfUnheldHandleFails(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	h, err := l.Acquire(ctx, "outbox-worker", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := l.Release(ctx, h); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := l.Release(ctx, h); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld on double release, got %v", err)
	}
}

func TestMemoryLockerRenewOfExpiredHandleFails(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Now()
	l.now = func() time.Time { return now }

	ctx := context.Background()
	h, err := l.Acquire(ctx, "offset-flusher", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	now = now.Add(2 * time.Second)
	if err := l.Renew(ctx, h, time.Second); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld renewing an expired handle, got %v", err)
	}
}
