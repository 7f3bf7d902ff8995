// Package nsq implements the Broker Client contract (internal/broker) over
// github.com/nsqio/go-nsq, grounded on gobite's internal/pkg/messaging.NSQ
// (DisableAutoResponse + explicit Finish, lookupd-or-nsqd connect).
// NSQ carries no partition/offset identity, so it stands in for the spec's
// "at-least-once, channel-based delivery" broker family (closest in the pack
// to an MQTT QoS-1 client) rather than exercising the Kafka offset store.
package nsq

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"

	gonsq "github.com/nsqio/go-nsq"

	"github.com/silverbackgo/silverback/internal/broker"
	"github.com/silverbackgo/silverback/internal/envelope"
)

var (
	// ErrProducerAddrRequired indicates Produce was called with no producer configured.
	ErrProducerAddrRequired = errors.New("broker/nsq: producer address is required")
	// ErrChannelRequired indicates ConsumeLoop's endpoint carries no "channel" param.
	ErrChannelRequired = errors.New("broker/nsq: endpoint.Params[\"channel\"] is required")
	// ErrConsumerAddrsRequired indicates no nsqd/lookupd addresses were configured.
	ErrConsumerAddrsRequired = errors.New("broker/nsq: consumer nsqd/lookupd addresses are required")
)

// Identifier is the NSQ-flavored envelope.Identifier: the message id NSQ
// assigns on delivery. NSQ has no produce-time identity, so Produce returns
// an Identifier holding the topic and the envelope's x-message-id header.
type Identifier struct {
	topic string
	id    string
}

func (id Identifier) String() string { return id.topic + "/" + id.id }

func (id Identifier) Equal(other envelope.Identifier) bool {
	o, ok := other.(Identifier)
	return ok && o == id
}

func (id Identifier) GroupKey() string { return id.topic }

// Config configures the NSQ Client.
type Config struct {
	ProducerAddr string

	ConsumerNSQDAddrs    []string
	ConsumerLookupdAddrs []string

	ProducerConfig *gonsq.Config
	ConsumerConfig *gonsq.Config
	MaxInFlight    int
}

// Client is a broker.Client backed by go-nsq.
type Client struct {
	broker.Lifecycle

	producerAddr string
	producer     *gonsq.Producer

	consumerNSQDAddrs    []string
	consumerLookupdAddrs []string
	consumerConfig       *gonsq.Config
	maxInFlight          int

	mu        sync.Mutex
	consumers []*gonsq.Consumer
	inflight  map[string]*gonsq.Message
}

// New constructs an NSQ-backed Client.
func New(cfg Config) *Client {
	ccfg := cfg.ConsumerConfig
	if ccfg == nil {
		ccfg = gonsq.NewConfig()
	}
	return &Client{
		producerAddr:         cfg.ProducerAddr,
		consumerNSQDAddrs:    append([]string{}, cfg.ConsumerNSQDAddrs...),
		consumerLookupdAddrs: append([]string{}, cfg.ConsumerLookupdAddrs...),
		consumerConfig:       ccfg,
		maxInFlight:          cfg.MaxInFlight,
		inflight:             make(map[string]*gonsq.Message),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.SetStatus(broker.StatusInitializing, nil)
	if c.producerAddr != "" {
		p, err := gonsq.NewProducer(c.producerAddr, gonsq.NewConfig())
		if err != nil {
			c.SetStatus(broker.StatusDisconnected, err)
			return err
		}
		p.SetLoggerLevel(gonsq.LogLevelError)
		c.producer = p
	}
	c.SetStatus(broker.StatusInitialized, nil)
	return nil
}

func (c *Client) Disconnect(context.Context) error {
	c.SetStatus(broker.StatusDisconnecting, nil)

	c.mu.Lock()
	consumers := append([]*gonsq.Consumer{}, c.consumers...)
	c.consumers = nil
	c.mu.Unlock()

	for _, cons := range consumers {
		cons.Stop()
		<-cons.StopChan
	}
	if c.producer != nil {
		c.producer.Stop()
		c.producer = nil
	}
	c.SetStatus(broker.StatusDisconnected, nil)
	return nil
}

func (c *Client) Reconnect(ctx context.Context) error {
	if c.Status() == broker.StatusInitialized {
		if err := c.Disconnect(ctx); err != nil {
			return err
		}
	}
	return c.Connect(ctx)
}

func (c *Client) Produce(ctx context.Context, endpoint envelope.Endpoint, env *envelope.Envelope) (envelope.Identifier, error) {
	if c.Status() != broker.StatusInitialized {
		return nil, broker.ErrNotInitialized
	}
	if c.producer == nil {
		return nil, ErrProducerAddrRequired
	}
	if err := c.producer.Publish(endpoint.Name, env.Body); err != nil {
		return nil, err
	}

	id, _ := env.Headers.Get(envelope.HeaderMessageID)
	return Identifier{topic: endpoint.Name, id: string(id)}, nil
}

func (c *Client) ConsumeLoop(ctx context.Context, endpoint envelope.Endpoint, handler broker.Handler) error {
	channel, ok := endpoint.Params["channel"]
	if !ok || channel == "" {
		return ErrChannelRequired
	}
	if len(c.consumerNSQDAddrs) == 0 && len(c.consumerLookupdAddrs) == 0 {
		return ErrConsumerAddrsRequired
	}

	ccfg := *c.consumerConfig
	concurrency := 1
	if c.maxInFlight > 0 {
		ccfg.MaxInFlight = c.maxInFlight
		concurrency = c.maxInFlight
	}

	consumer, err := gonsq.NewConsumer(endpoint.Name, channel, &ccfg)
	if err != nil {
		return err
	}
	consumer.SetLoggerLevel(gonsq.LogLevelError)
	consumer.AddConcurrentHandlers(c.makeHandler(ctx, endpoint.Name, handler), concurrency)

	c.mu.Lock()
	c.consumers = append(c.consumers, consumer)
	c.mu.Unlock()

	if err := c.connect(consumer); err != nil {
		consumer.Stop()
		<-consumer.StopChan
		return err
	}

	select {
	case <-ctx.Done():
		consumer.Stop()
		<-consumer.StopChan
		return ctx.Err()
	case <-consumer.StopChan:
		return nil
	}
}

func (c *Client) connect(consumer *gonsq.Consumer) error {
	if len(c.consumerLookupdAddrs) > 0 {
		return consumer.ConnectToNSQLookupds(c.consumerLookupdAddrs)
	}
	return consumer.ConnectToNSQDs(c.consumerNSQDAddrs)
}

func (c *Client) makeHandler(ctx context.Context, topic string, handler broker.Handler) gonsq.HandlerFunc {
	return func(m *gonsq.Message) error {
		m.DisableAutoResponse()

		idStr := hex.EncodeToString(m.ID[:])
		c.mu.Lock()
		c.inflight[idStr] = m
		c.mu.Unlock()

		env := envelope.New()
		env.Body = m.Body
		env.Timestamp = m.Timestamp

		return broker.CallHandlerWithRecover(ctx, "nsq", func() error {
			return handler(ctx, Identifier{topic: topic, id: idStr}, env)
		})
	}
}

// Commit finishes the NSQ messages behind ids (explicit ack), the mirror of
// DisableAutoResponse's deferred-response contract. Identifiers already
// finished or unknown (from a different Client instance) are skipped.
func (c *Client) Commit(ctx context.Context, ids []envelope.Identifier) error {
	for _, raw := range ids {
		id, ok := raw.(Identifier)
		if !ok {
			continue
		}
		c.mu.Lock()
		m, found := c.inflight[id.id]
		delete(c.inflight, id.id)
		c.mu.Unlock()
		if found {
			m.Finish()
		}
	}
	return nil
}
