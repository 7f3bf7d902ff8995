// Package offsetstore implements the Kafka offset store (spec.md §4.6): the
// client-side record of the highest processed offset per (group, topic,
// partition), plus a Redis-backed dedup check keyed by x-message-id so a
// message redelivered before its offset commit lands is not reprocessed.
package offsetstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/silverbackgo/silverback/internal/pkgerr"
	"github.com/silverbackgo/silverback/internal/sbcontext"
)

// StoredOffset is one (group, topic, partition) row: the highest offset
// whose message has been processed end-to-end (spec.md §6 "Offset-store row
// schema").
type StoredOffset struct {
	GroupID   string
	Topic     string
	Partition int32
	Offset    int64
}

// Store is the pgx-backed offset store, grounded on outbox.Store's
// transaction-enlistment pattern (internal/outbox/store.go): Commit enlists
// in the ambient transaction via sbcontext.KeyTransaction when the caller
// updates the offset atomically with its own domain write, and falls back to
// an autonomous write (best-effort, per spec.md §4.6) otherwise.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a pgx-backed offset store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS silverback_offset (
	group_id  TEXT NOT NULL,
	topic     TEXT NOT NULL,
	partition INT NOT NULL,
	"offset"  BIGINT NOT NULL,
	PRIMARY KEY (group_id, topic, partition)
);
`

// EnsureSchema creates the offset table if it does not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return pkgerr.Storage(err, "create offset store schema")
	}
	return nil
}

// Commit stores offset for (groupID, topic, partition) if it is greater than
// the currently stored value, satisfying the "offsets per partition are
// monotonically non-decreasing" and "duplicate writes ... are idempotent"
// invariants (spec.md §4.6) with a single upsert.
func (s *Store) Commit(ctx context.Context, groupID, topic string, partition int32, offset int64) error {
	const q = `
		INSERT INTO silverback_offset (group_id, topic, partition, "offset")
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, topic, partition)
		DO UPDATE SET "offset" = EXCLUDED."offset"
		WHERE silverback_offset."offset" < EXCLUDED."offset"`

	if err := s.exec(ctx, q, groupID, topic, partition, offset); err != nil {
		return pkgerr.Storage(err, "commit offset", "group_id", groupID, "topic", topic)
	}
	return nil
}

// exec runs sql under ctx's enlisted transaction (sbcontext.KeyTransaction)
// when present, or directly against the pool otherwise, mirroring
// outbox.Store's queryRow helper (internal/outbox/store.go).
func (s *Store) exec(ctx context.Context, sql string, args ...any) error {
	if tx, ok := enlistedTx(ctx); ok {
		_, err := tx.Exec(ctx, sql, args...)
		return err
	}
	_, err := s.pool.Exec(ctx, sql, args...)
	return err
}

// Get returns the stored offset for (groupID, topic, partition). ok is false
// if no row exists yet (a fresh consumer should start from the broker's own
// committed offset in that case).
func (s *Store) Get(ctx context.Context, groupID, topic string, partition int32) (offset int64, ok bool, err error) {
	const q = `SELECT "offset" FROM silverback_offset WHERE group_id = $1 AND topic = $2 AND partition = $3`

	row := s.pool.QueryRow(ctx, q, groupID, topic, partition)
	if scanErr := row.Scan(&offset); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, pkgerr.Storage(scanErr, "read stored offset", "group_id", groupID, "topic", topic)
	}
	return offset, true, nil
}

func enlistedTx(ctx context.Context) (pgx.Tx, bool) {
	v, ok := sbcontext.Value(ctx, sbcontext.KeyTransaction)
	if !ok {
		return nil, false
	}
	tx, ok := v.(pgx.Tx)
	return tx, ok
}
