package app

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	natsgo "github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/silverbackgo/silverback/internal/broker"
	"github.com/silverbackgo/silverback/internal/broker/kafka"
	"github.com/silverbackgo/silverback/internal/broker/nats"
	"github.com/silverbackgo/silverback/internal/broker/nsq"
	"github.com/silverbackgo/silverback/internal/broker/pubsub"
	"github.com/silverbackgo/silverback/internal/bus"
	"github.com/silverbackgo/silverback/internal/consumer"
	"github.com/silverbackgo/silverback/internal/crypto"
	"github.com/silverbackgo/silverback/internal/envelope"
	"github.com/silverbackgo/silverback/internal/lock"
	"github.com/silverbackgo/silverback/internal/offsetstore"
	"github.com/silverbackgo/silverback/internal/outbox"
	"github.com/silverbackgo/silverback/internal/pkg/clock"
	"github.com/silverbackgo/silverback/internal/pkg/config"
	"github.com/silverbackgo/silverback/internal/pkg/goroutine"
	"github.com/silverbackgo/silverback/internal/pkg/instrument"
	"github.com/silverbackgo/silverback/internal/pkg/uid"
	"github.com/silverbackgo/silverback/internal/pkg/validator"
	"github.com/silverbackgo/silverback/internal/producer"
)

func (a *App) initConfig() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "/config/config.yaml"
		if os.Getenv("LOCAL") == "true" {
			path = "./config/config.yaml"
		}
	}

	cfg, err := config.NewViper(path)
	if err != nil {
		slog.Error("failed to init config", "error", err)
		os.Exit(1)
	}

	a.config = cfg
}

func (a *App) initInstrument() {
	ins, err := instrument.New(context.Background(), &instrument.Config{
		Enabled:          a.config.GetBool("instrument.enabled"),
		ServiceName:      a.config.GetString("instrument.service_name"),
		ServiceVersion:   a.config.GetString("instrument.service_version"),
		Environment:      a.config.GetString("instrument.env"),
		OTLPEndpoint:     a.config.GetString("instrument.otlp_endpoint"),
		OTLPSecure:       a.config.GetBool("instrument.otlp_secure"),
		TraceSampleRatio: a.config.GetFloat64("instrument.trace_sample_ratio"),
		MetricsInterval:  a.config.GetSecond("instrument.metric_interval_seconds"),
		MaskFields:       a.config.GetArray("instrument.log_mask_fields"),
	})
	if err != nil {
		slog.Error("failed to init instrumentation", "error", err)
		os.Exit(1)
	}
	a.ins = ins
}

func (a *App) initLibraries() {
	a.clock = clock.New()
	a.goroutine = goroutine.NewManager(a.config.GetInt("app.max_goroutine"))

	v10, err := validator.NewV10Validator()
	if err != nil {
		slog.Error("failed to init validation v10 validator", "error", err)
		os.Exit(1)
	}
	a.validator = v10

	snow, err := uid.NewSnowflake(a.config.GetInt64("app.snowflake_node_id"))
	if err != nil {
		slog.Error("failed to init message id generator", "error", err)
		os.Exit(1)
	}
	a.idGen = snow
}

func (a *App) initDatabase() {
	pgCfg, err := pgxpool.ParseConfig(a.config.GetString("database.url"))
	if err != nil {
		slog.Error("failed to parse DB connection string", "error", err)
		os.Exit(1)
	}

	pgCfg.MaxConns = a.config.GetInt32("database.pool.max_conns")
	pgCfg.MinConns = a.config.GetInt32("database.pool.min_conns")
	pgCfg.MaxConnLifetime = a.config.GetSecond("database.pool.max_conn_lifetime_seconds")
	pgCfg.MaxConnIdleTime = a.config.GetSecond("database.pool.max_conn_idle_seconds")
	pgCfg.HealthCheckPeriod = a.config.GetSecond("database.pool.health_check_period_seconds")

	pool, err := pgxpool.NewWithConfig(a.ctx, pgCfg)
	if err != nil {
		slog.Error("failed to create DB connection pool", "error", err)
		os.Exit(1)
	}

	pingCtx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		slog.Error("failed to ping DB", "error", err)
		os.Exit(1)
	}

	a.dbConn = pool
}

func (a *App) initCache() {
	opt, err := redis.ParseURL(a.config.GetString("redis.url"))
	if err != nil {
		slog.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Error("failed to init redis", "error", err)
		os.Exit(1)
	}

	a.cacheConn = rdb
}

// initLock selects the distributed-lock backend used to elect the singleton
// outbox worker, per spec.md §5 (memory for single-process deployments,
// Redis or Postgres advisory locks for multi-replica ones).
func (a *App) initLock() {
	switch a.config.GetString("lock.driver") {
	case "redis":
		a.locker = lock.NewRedisLocker(a.cacheConn)
	case "postgres":
		a.locker = lock.NewPostgresLocker(a.dbConn)
	default:
		a.locker = lock.NewMemoryLocker()
	}
}

// initBroker selects one of the four adapters (Kafka, NSQ, NATS, Pub/Sub)
// behind the broker.Client contract, mirroring gobite's
// messaging.NewFromDriver driver-selection pattern.
//
//nolint:gocognit // driver fan-out, mirrors gobite's messaging.NewFromDriver
func (a *App) initBroker() {
	driver := a.config.GetString("broker.driver")

	var (
		client broker.Client
		err    error
	)

	switch driver {
	case "nsq":
		client = nsq.New(nsq.Config{
			ProducerAddr:         a.config.GetString("broker.nsq.producer_addr"),
			ConsumerNSQDAddrs:    a.config.GetArray("broker.nsq.consumer_nsqd_addrs"),
			ConsumerLookupdAddrs: a.config.GetArray("broker.nsq.consumer_lookupd_addrs"),
			MaxInFlight:          a.config.GetInt("broker.nsq.max_in_flight"),
		})
	case "nats":
		client, err = nats.New(nats.Config{
			URL:         a.config.GetString("broker.nats.url"),
			QueueGroup:  a.config.GetString("broker.nats.queue_group"),
			Concurrency: a.config.GetInt("broker.nats.concurrency"),
			Options: []natsgo.Option{
				natsgo.Name(a.config.GetString("broker.nats.name")),
				natsgo.MaxReconnects(a.config.GetInt("broker.nats.max_reconnects")),
				natsgo.Timeout(a.config.GetSecond("broker.nats.timeout_seconds")),
				natsgo.ReconnectWait(a.config.GetSecond("broker.nats.reconnect_wait_seconds")),
			},
		})
	case "pubsub":
		client, err = pubsub.New(pubsub.Config{
			ProjectID: a.config.GetString("broker.pubsub.project_id"),
		})
	default:
		client, err = kafka.New(kafka.Config{
			Brokers: a.config.GetArray("broker.kafka.brokers"),
			GroupID: a.config.GetString("broker.kafka.group_id"),
		})
	}
	if err != nil {
		slog.Error("failed to init broker client", "driver", driver, "error", err)
		os.Exit(1)
	}

	a.broker = client
	if err := a.broker.Connect(a.ctx); err != nil {
		slog.Error("failed to connect broker client", "driver", driver, "error", err)
		os.Exit(1)
	}
}

// initOutbox wires the transactional outbox's store, endpoint registry, and
// the singleton background worker elected via a.locker (spec.md §4.4).
func (a *App) initOutbox() {
	a.outboxStore = outbox.NewStore(a.dbConn)
	if err := a.outboxStore.EnsureSchema(a.ctx); err != nil {
		slog.Error("failed to ensure outbox schema", "error", err)
		os.Exit(1)
	}

	a.outboxRegistry = outbox.NewEndpointRegistry(nil)

	a.outboxWorker = outbox.NewWorker(
		a.outboxStore,
		a.outboxRegistry,
		producer.WorkerProducer{Strategy: producer.DirectStrategy{Client: a.broker}},
		a.locker,
		a.config.GetString("outbox.lock_name"),
		a.config.GetSecond("outbox.lock_ttl_seconds"),
		a.config.GetSecond("outbox.poll_interval_seconds"),
		a.config.GetInt("outbox.batch_size"),
	)
}

// initOffsetStore wires the Kafka offset store and the Redis-backed
// dedup check used by the consumer's exactly-once-processing guarantee
// (spec.md §4.5, §4.6).
func (a *App) initOffsetStore() {
	a.offsetStore = offsetstore.NewStore(a.dbConn)
	if err := a.offsetStore.EnsureSchema(a.ctx); err != nil {
		slog.Error("failed to ensure offset store schema", "error", err)
		os.Exit(1)
	}
	a.offsetDedup = offsetstore.NewDedup(a.cacheConn, a.config.GetSecond("offsetstore.dedup_ttl_seconds"))
}

// initPipelines assembles the producer and consumer Behavior chains in their
// fixed SortIndex order (spec.md §4.1, §4.2) and the tracking state the
// sequence/batch behaviors share across calls.
func (a *App) initPipelines() {
	a.routing = producer.NewTable()
	a.codec = envelope.NewJSONCodec()
	a.bus = bus.New()
	a.sequenceTracker = consumer.NewSequenceTracker()

	var encryptor crypto.Encryptor
	if keyHex := a.config.GetBinary("crypto.key"); len(keyHex) > 0 {
		encryptor = crypto.NewAESGCMEncryptor(crypto.MapKeyProvider{
			a.config.GetString("crypto.key_id"): keyHex,
		})
	}

	direct := producer.DirectStrategy{Client: a.broker}
	outboxStrategy := producer.OutboxStrategy{Store: a.outboxStore}
	a.producerPipe = producer.New(a.routing, direct, outboxStrategy)
	a.producerPipe.AddBehavior(producer.TraceBehavior{})
	a.producerPipe.AddBehavior(producer.MessageIDBehavior{IDGen: a.idGen})
	a.producerPipe.AddBehavior(producer.ValidationBehavior{Validator: a.validator})
	a.producerPipe.AddBehavior(producer.EnrichBehavior{})
	a.producerPipe.AddBehavior(producer.SerializeBehavior{})
	a.producerPipe.AddBehavior(producer.EncryptBehavior{Encryptor: encryptor})
	a.producerPipe.AddBehavior(producer.ChunkBehavior{IDGen: a.idGen})

	committer := &offsetstore.Committer{Store: a.offsetStore, GroupID: a.config.GetString("broker.kafka.group_id")}
	a.batchTracker = consumer.NewBatchTracker(a.bus, committer)
	a.consumerPipe = consumer.New(committer)
	a.consumerPipe.AddBehavior(consumer.TraceBehavior{})
	a.consumerPipe.AddBehavior(consumer.LogEnrichBehavior{})
	a.consumerPipe.AddBehavior(consumer.RawSequenceBehavior{Tracker: a.sequenceTracker})
	a.consumerPipe.AddBehavior(consumer.DedupBehavior{Dedup: a.offsetDedup})
	a.consumerPipe.AddBehavior(consumer.DecryptBehavior{Encryptor: encryptor})
	a.consumerPipe.AddBehavior(consumer.DeserializeBehavior{})
	a.consumerPipe.AddBehavior(consumer.TypedSequenceBehavior{Tracker: a.batchTracker})
	a.consumerPipe.AddBehavior(consumer.DispatchBehavior{Dispatcher: a.bus})

	a.consumeConfigs = make(map[string]*envelope.EndpointConfiguration)
}

func (a *App) initClosers() {
	a.closers = []struct {
		name string
		fn   func(context.Context) error
	}{
		{name: "Instrument", fn: a.ins.Shutdown},
		{name: "Broker", fn: a.broker.Disconnect},
		{name: "Redis", fn: func(context.Context) error { return a.cacheConn.Close() }},
		{name: "Database", fn: func(context.Context) error { a.dbConn.Close(); return nil }},
		{name: "Config", fn: func(context.Context) error { return a.config.Close() }},
	}
}
