package offsetstore

import (
	"context"

	"github.com/silverbackgo/silverback/internal/envelope"
)

// OffsetIdentifier is the subset of envelope.Identifier a broker adapter
// backed by partition+offset (Kafka) implements, letting the offset store
// commit without depending on any concrete broker package.
type OffsetIdentifier interface {
	envelope.Identifier
	Topic() string
	Partition() int32
	Offset() int64
}

// Committer adapts Store to consumer.Committer (structurally — offsetstore
// does not import consumer to avoid a cycle), advancing the stored offset
// once a message's sequence and error policy have resolved (spec.md §4.2
// stage 9, §4.6).
type Committer struct {
	Store   *Store
	GroupID string
}

// Commit stores the offset carried by id, if id is an OffsetIdentifier
// (i.e. came from the Kafka broker adapter). Identifiers from brokers with
// no partition/offset concept (NSQ, NATS, Pub/Sub) are a no-op here; those
// brokers rely on the broker's own ack/ack-deadline mechanism instead of
// Silverback's offset store.
func (c *Committer) Commit(ctx context.Context, _ envelope.Endpoint, id envelope.Identifier) error {
	oid, ok := id.(OffsetIdentifier)
	if !ok {
		return nil
	}
	return c.Store.Commit(ctx, c.GroupID, oid.Topic(), oid.Partition(), oid.Offset())
}
