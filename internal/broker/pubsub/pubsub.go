// Package pubsub implements the Broker Client contract (internal/broker) over
// cloud.google.com/go/pubsub/v2, grounded on gobite's
// internal/pkg/messaging.PubSub (publisher pool keyed by topic, ordering-key
// aware publish, Receive-based consume). Like the NSQ adapter, acking is
// deferred to Client.Commit rather than happening inside the Receive
// callback, so the consumer pipeline's error-policy stage decides
// ack/nack instead of the broker.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub/v2"
	"google.golang.org/api/option"

	"github.com/silverbackgo/silverback/internal/broker"
	"github.com/silverbackgo/silverback/internal/envelope"
)

var (
	// ErrProjectIDRequired indicates Config.ProjectID (and no pre-built Client) was empty.
	ErrProjectIDRequired = errors.New("broker/pubsub: project id is required")
	// ErrSubscriptionRequired indicates ConsumeLoop's endpoint carries no subscription name.
	ErrSubscriptionRequired = errors.New("broker/pubsub: endpoint.Params[\"subscription\"] is required")
)

// Identifier is the Pub/Sub-flavored envelope.Identifier: the server-assigned
// message ID. Pub/Sub has no partition/offset concept.
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

// Config configures the Pub/Sub Client.
type Config struct {
	ProjectID     string
	Client        *pubsub.Client
	ClientOptions []option.ClientOption
}

// Client is a broker.Client backed by cloud.google.com/go/pubsub/v2.
type Client struct {
	broker.Lifecycle

	projectID     string
	clientOptions []option.ClientOption

	mu         sync.Mutex
	client     *pubsub.Client
	publishers map[string]*pubsub.Publisher
	inflight   map[string]*pubsub.Message
}

// New constructs a Pub/Sub-backed Client. If cfg.Client is set it is used
// as-is (test/injection seam); otherwise ProjectID must be non-empty and a
// client is created on Connect.
func New(cfg Config) (*Client, error) {
	if cfg.Client == nil && cfg.ProjectID == "" {
		return nil, ErrProjectIDRequired
	}
	return &Client{
		projectID:     cfg.ProjectID,
		clientOptions: cfg.ClientOptions,
		client:        cfg.Client,
		publishers:    make(map[string]*pubsub.Publisher),
		inflight:      make(map[string]*pubsub.Message),
	}, nil
}

func (c *Client) Connect(ctx context.Context) error {
	c.SetStatus(broker.StatusInitializing, nil)

	c.mu.Lock()
	existing := c.client
	c.mu.Unlock()
	if existing != nil {
		c.SetStatus(broker.StatusInitialized, nil)
		return nil
	}

	cl, err := pubsub.NewClient(ctx, c.projectID, c.clientOptions...)
	if err != nil {
		c.SetStatus(broker.StatusDisconnected, err)
		return fmt.Errorf("broker/pubsub: new client: %w", err)
	}
	c.mu.Lock()
	c.client = cl
	c.mu.Unlock()
	c.SetStatus(broker.StatusInitialized, nil)
	return nil
}

func (c *Client) Disconnect(context.Context) error {
	c.SetStatus(broker.StatusDisconnecting, nil)

	c.mu.Lock()
	client := c.client
	pubs := make([]*pubsub.Publisher, 0, len(c.publishers))
	for _, p := range c.publishers {
		pubs = append(pubs, p)
	}
	c.publishers = make(map[string]*pubsub.Publisher)
	c.client = nil
	c.mu.Unlock()

	for _, p := range pubs {
		p.Stop()
	}

	var err error
	if client != nil {
		err = client.Close()
	}
	c.SetStatus(broker.StatusDisconnected, err)
	return err
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
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return nil, broker.ErrNotInitialized
	}
	if endpoint.Name == "" {
		return nil, errors.New("broker/pubsub: topic is required")
	}

	attrs := make(map[string]string)
	for _, h := range env.Headers.All() {
		attrs[h.Name] = string(h.Value)
	}

	pub := c.publisherFor(endpoint.Name)
	res := pub.Publish(ctx, &pubsub.Message{
		Data:        env.Body,
		Attributes:  attrs,
		OrderingKey: endpoint.Params["ordering_key"],
	})
	id, err := res.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("broker/pubsub: publish: %w", err)
	}
	return Identifier{topic: endpoint.Name, id: id}, nil
}

func (c *Client) ConsumeLoop(ctx context.Context, endpoint envelope.Endpoint, handler broker.Handler) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return broker.ErrNotInitialized
	}

	subscription, ok := endpoint.Params["subscription"]
	if !ok || subscription == "" {
		return ErrSubscriptionRequired
	}

	sub := client.Subscriber(subscription)
	if v, ok := endpoint.Params["concurrency"]; ok && v != "" {
		if n, perr := parsePositiveInt(v); perr == nil {
			sub.ReceiveSettings.NumGoroutines = n
		}
	}

	return sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		env := envelope.New()
		env.Body = m.Data
		env.Timestamp = m.PublishTime
		for k, v := range m.Attributes {
			env.Headers.Set(k, []byte(v))
		}

		id := Identifier{topic: endpoint.Name, id: m.ID}
		c.mu.Lock()
		c.inflight[m.ID] = m
		c.mu.Unlock()

		_ = broker.CallHandlerWithRecover(ctx, "pubsub", func() error {
			return handler(ctx, id, env)
		})
	})
}

// Commit acks the Pub/Sub messages behind ids, the deferred-ack mirror of
// the NSQ adapter's Finish call. Identifiers already acked or unknown (from
// a different Client instance) are skipped.
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
			m.Ack()
		}
	}
	return nil
}

func (c *Client) publisherFor(topic string) *pubsub.Publisher {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.publishers[topic]; ok {
		return p
	}
	p := c.client.Publisher(topic)
	c.publishers[topic] = p
	return p
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, errors.New("broker/pubsub: empty int")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errors.New("broker/pubsub: invalid int")
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
