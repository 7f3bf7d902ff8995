package offsetstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/silverbackgo/silverback/internal/pkgerr"
)

// Dedup layers a Redis SetNX check in front of the offset store, keyed by
// x-message-id, so a redelivery racing the offset commit is still rejected
// even though the stored offset hasn't advanced yet (testable property:
// "outbox idempotence under retry"). It is grounded directly on
// internal/pkg/idempotency.StateTracker's Acquire, generalized from
// "operation state" to "seen/not-seen".
type Dedup struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewDedup returns a dedup check backed by client. ttl bounds how long a
// message id is remembered; it should comfortably exceed the broker's
// redelivery window.
func NewDedup(client *redis.Client, ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Dedup{client: client, prefix: "offsetstore:seen:", ttl: ttl}
}

// Seen reports whether messageID has already been recorded, and records it
// if not — an atomic check-and-set via SETNX.
func (d *Dedup) Seen(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	acquired, err := d.client.SetNX(ctx, d.prefix+messageID, "1", d.ttl).Result()
	if err != nil {
		return false, pkgerr.Storage(err, "dedup check", "message_id", messageID)
	}
	return !acquired, nil
}

// Forget removes messageID from the dedup set, used when a pipeline run
// fails and should be retried as if never seen.
func (d *Dedup) Forget(ctx context.Context, messageID string) error {
	if messageID == "" {
		return nil
	}
	if err := d.client.Del(ctx, d.prefix+messageID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return pkgerr.Storage(err, "dedup forget", "message_id", messageID)
	}
	return nil
}
