// Package nats implements the Broker Client contract (internal/broker) over
// github.com/nats-io/nats.go core pub/sub, grounded on gobite's
// internal/pkg/messaging.NATS (QueueSubscribe + worker pool). Core NATS has
// no durable ack/offset concept, so Commit is a no-op here: this adapter
// demonstrates queue-group fan-out consumption (spec.md §6's broker client
// contract applied to a fire-and-forget transport) rather than
// exactly-once-processing, which is left to the Kafka adapter.
package nats

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/silverbackgo/silverback/internal/broker"
	"github.com/silverbackgo/silverback/internal/envelope"
)

// ErrURLRequired indicates Config.URL was empty.
var ErrURLRequired = errors.New("broker/nats: url is required")

// Identifier is the NATS-flavored envelope.Identifier. NATS core assigns no
// server-side message id, so Produce stamps a locally generated one.
type Identifier struct {
	subject string
	id      string
}

func (id Identifier) String() string { return id.subject + "/" + id.id }

func (id Identifier) Equal(other envelope.Identifier) bool {
	o, ok := other.(Identifier)
	return ok && o == id
}

func (id Identifier) GroupKey() string { return id.subject }

// Config configures the NATS Client.
type Config struct {
	URL         string
	Options     []nats.Option
	QueueGroup  string
	Concurrency int
}

// Client is a broker.Client backed by nats.go core pub/sub.
type Client struct {
	broker.Lifecycle

	url         string
	options     []nats.Option
	queueGroup  string
	concurrency int

	mu   sync.Mutex
	conn *nats.Conn
	subs []*nats.Subscription
}

// New constructs a NATS-backed Client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrURLRequired
	}
	return &Client{
		url:         cfg.URL,
		options:     cfg.Options,
		queueGroup:  cfg.QueueGroup,
		concurrency: cfg.Concurrency,
	}, nil
}

func (c *Client) Connect(ctx context.Context) error {
	c.SetStatus(broker.StatusInitializing, nil)
	conn, err := nats.Connect(c.url, c.options...)
	if err != nil {
		c.SetStatus(broker.StatusDisconnected, err)
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.SetStatus(broker.StatusInitialized, nil)
	return nil
}

func (c *Client) Disconnect(context.Context) error {
	c.SetStatus(broker.StatusDisconnecting, nil)

	c.mu.Lock()
	conn := c.conn
	subs := append([]*nats.Subscription{}, c.subs...)
	c.subs = nil
	c.conn = nil
	c.mu.Unlock()

	var closeErr error
	for _, sub := range subs {
		closeErr = errors.Join(closeErr, sub.Drain())
	}
	if conn != nil {
		closeErr = errors.Join(closeErr, conn.Drain())
		conn.Close()
	}
	c.SetStatus(broker.StatusDisconnected, closeErr)
	return closeErr
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
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, broker.ErrNotInitialized
	}

	msg := nats.NewMsg(endpoint.Name)
	msg.Data = env.Body
	msg.Header = make(nats.Header)
	for _, h := range env.Headers.All() {
		msg.Header.Add(h.Name, string(h.Value))
	}

	id := Identifier{subject: endpoint.Name, id: uuid.NewString()}
	msg.Header.Set(envelope.HeaderMessageID, id.id)

	if err := conn.PublishMsg(msg); err != nil {
		return nil, err
	}
	if err := conn.Flush(); err != nil {
		return nil, err
	}
	return id, nil
}

func (c *Client) ConsumeLoop(ctx context.Context, endpoint envelope.Endpoint, handler broker.Handler) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return broker.ErrNotInitialized
	}

	concurrency := c.concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	queueGroup := c.queueGroup
	if v, ok := endpoint.Params["queue_group"]; ok && v != "" {
		queueGroup = v
	}

	msgCh := make(chan *nats.Msg, concurrency)
	sub, err := conn.QueueSubscribe(endpoint.Name, queueGroup, func(m *nats.Msg) {
		select {
		case msgCh <- m:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	if err := conn.Flush(); err != nil {
		_ = sub.Drain()
		close(msgCh)
		return err
	}

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for m := range msgCh {
				env := envelope.New()
				env.Body = m.Data
				env.Timestamp = time.Now()
				for k := range m.Header {
					env.Headers.Set(k, []byte(m.Header.Get(k)))
				}
				msgID := m.Header.Get(envelope.HeaderMessageID)
				if msgID == "" {
					msgID = uuid.NewString()
				}
				id := Identifier{subject: endpoint.Name, id: msgID}
				_ = broker.CallHandlerWithRecover(ctx, "nats", func() error {
					return handler(ctx, id, env)
				})
			}
		}()
	}

	<-ctx.Done()
	uerr := sub.Drain()
	close(msgCh)
	wg.Wait()
	return errors.Join(ctx.Err(), uerr)
}

// Commit is a no-op: core NATS has no durable ack to advance.
func (c *Client) Commit(context.Context, []envelope.Identifier) error { return nil }
