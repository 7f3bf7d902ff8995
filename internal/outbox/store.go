package outbox

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/silverbackgo/silverback/internal/envelope"
	"github.com/silverbackgo/silverback/internal/pkgerr"
	"github.com/silverbackgo/silverback/internal/sbcontext"
)

// Store is the pgx-backed Outbox store: writer (enlists in the ambient
// transaction via sbcontext.KeyTransaction) and FIFO reader, grounded on
// gobite's outbound/db transaction pattern (BeginTx/defer-Rollback/Commit)
// and on the claim query shape from the pack's outbox dispatcher reference
// (`FOR UPDATE SKIP LOCKED`).
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a pgx-backed outbox store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS silverback_outbox (
	id                  BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	message_type        TEXT,
	content             BYTEA,
	headers             TEXT NOT NULL,
	endpoint_name       TEXT NOT NULL,
	serialized_endpoint TEXT,
	created             TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS silverback_outbox_created_id_idx ON silverback_outbox (created, id);
`

// EnsureSchema creates the outbox table if it does not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return pkgerr.Storage(err, "create outbox schema")
	}
	return nil
}

// Add inserts msg. If ctx carries an enlisted transaction (sbcontext.KeyTransaction,
// a pgx.Tx), the insert executes under it, giving atomicity with the caller's
// domain write. Otherwise it is an autonomous write and a warning is logged,
// per spec.md §4.4 ("potential at-least-once violation from the caller's
// perspective").
func (s *Store) Add(ctx context.Context, msg Message) (int64, error) {
	headerBlob, err := EncodeHeaders(envelope.NewHeaders(msg.Headers...))
	if err != nil {
		return 0, pkgerr.Serialization(err, "encode outbox headers")
	}

	const q = `
		INSERT INTO silverback_outbox (message_type, content, headers, endpoint_name, serialized_endpoint)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id int64
	row := s.queryRow(ctx, q, msg.MessageType, msg.Content, string(headerBlob), msg.EndpointName, nullableString(msg.SerializedEndpoint))
	if err := row.Scan(&id); err != nil {
		return 0, pkgerr.Storage(err, "insert outbox row")
	}
	return id, nil
}

func (s *Store) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx, ok := enlistedTx(ctx); ok {
		return tx.QueryRow(ctx, sql, args...)
	}
	slog.WarnContext(ctx, "outbox: writing without an enlisted transaction; at-least-once guarantee with the caller's domain write is not provided")
	return s.pool.QueryRow(ctx, sql, args...)
}

func enlistedTx(ctx context.Context) (pgx.Tx, bool) {
	v, ok := sbcontext.Value(ctx, sbcontext.KeyTransaction)
	if !ok {
		return nil, false
	}
	tx, ok := v.(pgx.Tx)
	return tx, ok
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Read returns up to limit rows in FIFO order (by id).
func (s *Store) Read(ctx context.Context, limit int) ([]Message, error) {
	const q = `
		SELECT id, message_type, content, headers, endpoint_name, serialized_endpoint, created
		FROM silverback_outbox
		ORDER BY id
		LIMIT $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, pkgerr.Storage(err, "read outbox rows")
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m           Message
			messageType *string
			content     []byte
			headerBlob  string
			serialized  *string
		)
		if err := rows.Scan(&m.ID, &messageType, &content, &headerBlob, &m.EndpointName, &serialized, &m.Created); err != nil {
			return nil, pkgerr.Storage(err, "scan outbox row")
		}
		if messageType != nil {
			m.MessageType = *messageType
		}
		if serialized != nil {
			m.SerializedEndpoint = *serialized
		}
		m.Content = content
		headers, err := DecodeHeaders([]byte(headerBlob))
		if err != nil {
			return nil, pkgerr.Serialization(err, "decode outbox headers")
		}
		m.Headers = headers.All()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerr.Storage(err, "iterate outbox rows")
	}
	return out, nil
}

// ReadAndClaim reads up to limit pending rows and holds their row locks
// (`FOR UPDATE SKIP LOCKED`) until the returned commit/rollback func runs,
// so two worker replicas racing on the same tick never double-claim a row.
// The distributed lock (internal/lock) still elects a single worker
// per outbox name; SKIP LOCKED is defense in depth for the moment between
// a crashed holder's lease expiring and a new holder taking over.
func (s *Store) ReadAndClaim(ctx context.Context, limit int) ([]Message, func(ctx context.Context) error, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, pkgerr.Storage(err, "begin outbox claim tx")
	}

	const q = `
		SELECT id, message_type, content, headers, endpoint_name, serialized_endpoint, created
		FROM silverback_outbox
		ORDER BY created, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, q, limit)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, nil, pkgerr.Storage(err, "claim outbox rows")
	}

	var out []Message
	var ids []int64
	for rows.Next() {
		var (
			m           Message
			messageType *string
			content     []byte
			headerBlob  string
			serialized  *string
		)
		if err := rows.Scan(&m.ID, &messageType, &content, &headerBlob, &m.EndpointName, &serialized, &m.Created); err != nil {
			rows.Close()
			_ = tx.Rollback(ctx)
			return nil, nil, pkgerr.Storage(err, "scan claimed outbox row")
		}
		if messageType != nil {
			m.MessageType = *messageType
		}
		if serialized != nil {
			m.SerializedEndpoint = *serialized
		}
		m.Content = content
		headers, err := DecodeHeaders([]byte(headerBlob))
		if err != nil {
			rows.Close()
			_ = tx.Rollback(ctx)
			return nil, nil, pkgerr.Serialization(err, "decode claimed outbox headers")
		}
		m.Headers = headers.All()
		out = append(out, m)
		ids = append(ids, m.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		_ = tx.Rollback(ctx)
		return nil, nil, pkgerr.Storage(err, "iterate claimed outbox rows")
	}

	commit := func(deleteCtx context.Context) error {
		if len(ids) > 0 {
			if _, err := tx.Exec(deleteCtx, `DELETE FROM silverback_outbox WHERE id = ANY($1)`, ids); err != nil {
				rerr := tx.Rollback(deleteCtx)
				return pkgerr.Storage(errors.Join(err, rerr), "delete claimed outbox rows")
			}
		}
		if err := tx.Commit(deleteCtx); err != nil {
			return pkgerr.Storage(err, "commit outbox claim")
		}
		return nil
	}

	return out, commit, nil
}

// Acknowledge removes the given ids (used when the caller already committed
// its own claim transaction and only needs a plain delete-by-id, e.g. tests).
func (s *Store) Acknowledge(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM silverback_outbox WHERE id = ANY($1)`, ids); err != nil {
		return pkgerr.Storage(err, "acknowledge outbox rows")
	}
	return nil
}
