// Package app wires the message-integration core (producer/consumer
// pipelines, the transactional outbox, the offset store, and the
// distributed lock) into one running process, the way gobite's own
// internal/app wires its HTTP modules together. Silverback itself has no
// CLI surface (spec.md §6: "None — this is a library"); this package is the
// reference host that exercises the library end to end.
package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/silverbackgo/silverback/internal/broker"
	"github.com/silverbackgo/silverback/internal/bus"
	"github.com/silverbackgo/silverback/internal/consumer"
	"github.com/silverbackgo/silverback/internal/envelope"
	"github.com/silverbackgo/silverback/internal/errorpolicy"
	"github.com/silverbackgo/silverback/internal/lock"
	"github.com/silverbackgo/silverback/internal/offsetstore"
	"github.com/silverbackgo/silverback/internal/outbox"
	"github.com/silverbackgo/silverback/internal/pkg/clock"
	"github.com/silverbackgo/silverback/internal/pkg/config"
	"github.com/silverbackgo/silverback/internal/pkg/goroutine"
	"github.com/silverbackgo/silverback/internal/pkg/instrument"
	"github.com/silverbackgo/silverback/internal/pkg/validator"
	"github.com/silverbackgo/silverback/internal/producer"
)

// App wires dependencies and manages the lifecycle of the message
// integration core.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	// configuration
	config config.Config
	ins    instrument.Instrumentation

	// libraries
	goroutine *goroutine.Manager
	validator *validator.V10Validator
	clock     clock.Clocker
	idGen     producer.SequenceIDGenerator

	// resources
	dbConn    *pgxpool.Pool
	cacheConn *redis.Client
	broker    broker.Client
	locker    lock.Locker

	// message integration core
	routing         *producer.Table
	bus             *bus.Bus
	codec           *envelope.JSONCodec
	outboxStore     *outbox.Store
	outboxRegistry  *outbox.EndpointRegistry
	outboxWorker    *outbox.Worker
	offsetStore     *offsetstore.Store
	offsetDedup     *offsetstore.Dedup
	producerPipe    *producer.Pipeline
	consumerPipe    *consumer.Pipeline
	sequenceTracker *consumer.SequenceTracker
	batchTracker    *consumer.BatchTracker

	// consumed endpoints, started in their own goroutine on Start.
	consumeEndpoints []envelope.Endpoint
	consumeConfigs   map[string]*envelope.EndpointConfiguration
	errorPolicies    map[string]errorpolicy.Policy

	closers []struct {
		name string
		fn   func(context.Context) error
	}
	stopConsume context.CancelFunc
}

// New initializes the application with default wiring and returns an App
// instance.
func New() *App {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		ctx:    ctx,
		cancel: cancel,
	}

	a.initConfig()
	a.initInstrument()
	a.initLibraries()
	a.initDatabase()
	a.initCache()
	a.initLock()
	a.initBroker()
	a.initOutbox()
	a.initOffsetStore()
	a.initPipelines()
	a.initModules()
	a.initClosers()

	return a
}
