package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/silverbackgo/silverback/internal/envelope"
	"github.com/silverbackgo/silverback/internal/lock"
	"github.com/silverbackgo/silverback/internal/pkg/goroutine"
	"github.com/silverbackgo/silverback/internal/pkgerr"
)

// EndpointLookup resolves a persisted outbox row back to an Endpoint, either
// by deserializing SerializedEndpoint (dynamic resolvers) or by raw name.
// Per spec.md §9: when no serialized endpoint is stored and two
// configurations have registered under the same raw name, the first
// registered configuration wins; a warning is logged each time such a
// collision is registered (see EndpointRegistry).
type EndpointLookup interface {
	Lookup(rawName, serialized string) (envelope.Endpoint, error)
}

// DelegatedProducer produces a reconstructed Message directly to the broker,
// bypassing routing and serializer behaviors (the body is already serialized
// bytes) while preserving the original headers, per spec.md §4.4.
type DelegatedProducer interface {
	Produce(ctx context.Context, endpoint envelope.Endpoint, env *envelope.Envelope) error
}

// Worker is the singleton background task that drains the outbox, elected
// via the distributed lock (spec.md: "A singleton background task (elected
// via the distributed lock)"). Grounded on gobite's goroutine.Manager for the
// panic-safe tick loop and on the pack's outbox dispatcher reference for the
// claim/deliver/acknowledge tick shape.
type Worker struct {
	store     *Store
	lookup    EndpointLookup
	producer  DelegatedProducer
	lockName  string
	locker    lock.Locker
	lockTTL   time.Duration
	batchSize int
	interval  time.Duration
	manager   *goroutine.Manager

	stop chan struct{}
	done chan struct{}
}

// NewWorker constructs an outbox Worker.
func NewWorker(store *Store, lookup EndpointLookup, producer DelegatedProducer, locker lock.Locker, lockName string, lockTTL, interval time.Duration, batchSize int) *Worker {
	return &Worker{
		store:     store,
		lookup:    lookup,
		producer:  producer,
		lockName:  lockName,
		locker:    locker,
		lockTTL:   lockTTL,
		batchSize: batchSize,
		interval:  interval,
		manager:   goroutine.NewManager(1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the tick loop until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	w.manager.Go(ctx, func(ctx context.Context) error {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			w.tick(ctx)
			select {
			case <-ctx.Done():
				return nil
			case <-w.stop:
				return nil
			case <-ticker.C:
			}
		}
	})
}

// Stop signals the tick loop to exit and waits for it to finish.
func (w *Worker) Stop() error {
	close(w.stop)
	<-w.done
	return w.manager.Wait()
}

func (w *Worker) tick(ctx context.Context) {
	handle, err := w.locker.Acquire(ctx, w.lockName, w.lockTTL)
	if err != nil {
		if !errors.Is(err, lock.ErrAlreadyHeld) {
			slog.ErrorContext(ctx, "outbox worker: lock acquire failed", "lock", w.lockName, "error", err)
		}
		return
	}
	defer func() {
		if rerr := w.locker.Release(ctx, handle); rerr != nil {
			slog.ErrorContext(ctx, "outbox worker: lock release failed", "lock", w.lockName, "error", rerr)
		}
	}()

	rows, commit, err := w.store.ReadAndClaim(ctx, w.batchSize)
	if err != nil {
		slog.ErrorContext(ctx, "outbox worker: claim failed", "error", err)
		return
	}
	if len(rows) == 0 {
		return
	}

	for _, row := range rows {
		if err := w.deliver(ctx, row); err != nil {
			// Failure policy: the row stays (commit isn't called for it — the
			// whole claim tx is still rolled back below), the worker retries
			// next tick, and the failure is surfaced via logging rather than
			// silently discarded.
			slog.ErrorContext(ctx, "outbox worker: delivery failed, retrying next tick",
				"id", row.ID, "endpoint", row.EndpointName, "error", err)
			return
		}
	}

	if err := commit(ctx); err != nil {
		slog.ErrorContext(ctx, "outbox worker: acknowledge failed", "error", err)
	}
}

func (w *Worker) deliver(ctx context.Context, row Message) error {
	endpoint, err := w.lookup.Lookup(row.EndpointName, row.SerializedEndpoint)
	if err != nil {
		return pkgerr.Configuration(err, "resolve outbox row endpoint", "endpoint", row.EndpointName)
	}

	env := envelope.New()
	env.Body = row.Content
	env.MessageType = row.MessageType
	for _, h := range row.Headers {
		env.Headers.Add(h.Name, h.Value)
	}

	if err := w.producer.Produce(ctx, endpoint, env); err != nil {
		return pkgerr.TransientBroker(err, "produce outbox row", "endpoint", row.EndpointName)
	}
	return nil
}
