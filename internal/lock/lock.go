// Package lock implements the distributed lock abstraction that serializes
// singleton background workers across replicas (in this module, only the
// outbox worker takes one), grounded on gobite's internal/pkg/idempotency Redis state tracker
// generalized from "operation state" to a renewable lock handle.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyHeld indicates another contender currently holds the lock.
var ErrAlreadyHeld = errors.New("lock: already held by another contender")

// ErrNotHeld indicates Renew/Release was called with a handle the backend no
// longer recognizes (expired, or released already).
var ErrNotHeld = errors.New("lock: handle not held")

// Handle is an opaque lock handle returned by Acquire.
type Handle interface {
	// Name is the lock name this handle was acquired for.
	Name() string
}

// Locker is the distributed lock contract: acquire/renew/release with
// TTL-based lease semantics. Mutually exclusive among all contenders for the
// same name; the holder must renew before ttl expires; a crashed holder's
// lock becomes available again within at most ttl.
type Locker interface {
	// Acquire attempts to take the lock named name for ttl. Returns
	// ErrAlreadyHeld if another contender holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (Handle, error)
	// Renew extends handle's lease to ttl from now.
	Renew(ctx context.Context, handle Handle, ttl time.Duration) error
	// Release gives up the lock, making it immediately available.
	Release(ctx context.Context, handle Handle) error
}
