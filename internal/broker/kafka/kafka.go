// Package kafka implements the Broker Client contract (internal/broker) over
// github.com/segmentio/kafka-go, grounded on gobite's
// internal/pkg/messaging.Kafka (writer pool keyed by topic, a sequential
// fetch-loop consume, panic-recovering handler wrapper). It is the only
// adapter in the pack carrying partition+offset identity, so it is the one
// that exercises the Kafka offset store (internal/offsetstore) and chunk/
// batch sequencing end to end.
package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	segkafka "github.com/segmentio/kafka-go"

	"github.com/silverbackgo/silverback/internal/broker"
	"github.com/silverbackgo/silverback/internal/envelope"
)

var (
	// ErrBrokersRequired indicates Config.Brokers was empty.
	ErrBrokersRequired = errors.New("broker/kafka: brokers are required")
	// ErrGroupRequired indicates ConsumeLoop was called without a consumer
	// group configured.
	ErrGroupRequired = errors.New("broker/kafka: consumer group is required")
)

// Identifier is the Kafka-flavored envelope.Identifier: topic, partition,
// and offset, satisfying offsetstore.OffsetIdentifier so the consumer
// pipeline's commit stage can advance the stored offset.
type Identifier struct {
	topic     string
	partition int32
	offset    int64
}

func (id Identifier) String() string {
	return id.topic + "/" + itoa32(id.partition) + "@" + itoa64(id.offset)
}

func (id Identifier) Topic() string    { return id.topic }
func (id Identifier) Partition() int32 { return id.partition }
func (id Identifier) Offset() int64    { return id.offset }

func (id Identifier) Equal(other envelope.Identifier) bool {
	o, ok := other.(Identifier)
	return ok && o == id
}

func (id Identifier) GroupKey() string {
	return id.topic + "/" + itoa32(id.partition)
}

// Config configures the Kafka Client.
type Config struct {
	Brokers []string
	Dialer  *segkafka.Dialer
	GroupID string

	WriterConfig *segkafka.WriterConfig
	ReaderConfig *segkafka.ReaderConfig
}

// Client is a broker.Client backed by kafka-go.
type Client struct {
	broker.Lifecycle

	brokers []string
	dialer  *segkafka.Dialer
	groupID string

	writerConfig *segkafka.WriterConfig
	readerConfig *segkafka.ReaderConfig

	mu      sync.Mutex
	writers map[string]*segkafka.Writer
	readers map[string]*segkafka.Reader
}

// New constructs a Kafka-backed Client.
func New(cfg Config) (*Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrBrokersRequired
	}
	return &Client{
		brokers:      append([]string{}, cfg.Brokers...),
		dialer:       cfg.Dialer,
		groupID:      cfg.GroupID,
		writerConfig: cfg.WriterConfig,
		readerConfig: cfg.ReaderConfig,
		writers:      make(map[string]*segkafka.Writer),
		readers:      make(map[string]*segkafka.Reader),
	}, nil
}

func (c *Client) Connect(ctx context.Context) error {
	c.SetStatus(broker.StatusInitializing, nil)
	dialer := c.dialer
	if dialer == nil {
		dialer = segkafka.DefaultDialer
	}
	conn, err := dialer.DialContext(ctx, "tcp", c.brokers[0])
	if err != nil {
		c.SetStatus(broker.StatusDisconnected, err)
		return err
	}
	_ = conn.Close()
	c.SetStatus(broker.StatusInitialized, nil)
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.SetStatus(broker.StatusDisconnecting, nil)

	c.mu.Lock()
	writers := make([]*segkafka.Writer, 0, len(c.writers))
	for _, w := range c.writers {
		writers = append(writers, w)
	}
	c.writers = make(map[string]*segkafka.Writer)
	readers := make([]*segkafka.Reader, 0, len(c.readers))
	for _, r := range c.readers {
		readers = append(readers, r)
	}
	c.readers = make(map[string]*segkafka.Reader)
	c.mu.Unlock()

	var closeErr error
	for _, w := range writers {
		closeErr = errors.Join(closeErr, w.Close())
	}
	for _, r := range readers {
		closeErr = errors.Join(closeErr, r.Close())
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
	if c.Status() != broker.StatusInitialized {
		return nil, broker.ErrNotInitialized
	}
	if endpoint.Name == "" {
		return nil, errors.New("broker/kafka: topic is required")
	}

	writer := c.writerFor(endpoint.Name)
	msg := segkafka.Message{
		Topic: endpoint.Name,
		Key:   env.Key,
		Value: env.Body,
		Time:  time.Now(),
	}
	for _, h := range env.Headers.All() {
		msg.Headers = append(msg.Headers, segkafka.Header{Key: h.Name, Value: h.Value})
	}
	if partitionKey, ok := endpoint.Params["partition_key"]; ok && msg.Key == nil {
		msg.Key = []byte(partitionKey)
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		return nil, err
	}

	return Identifier{topic: msg.Topic, partition: int32(msg.Partition), offset: msg.Offset}, nil
}

func (c *Client) ConsumeLoop(ctx context.Context, endpoint envelope.Endpoint, handler broker.Handler) error {
	if c.groupID == "" {
		return ErrGroupRequired
	}
	reader := c.readerFor(endpoint.Name)

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		env := envelope.New()
		env.Key = m.Key
		env.Body = m.Value
		env.Timestamp = m.Time
		for _, h := range m.Headers {
			env.Headers.Add(h.Key, h.Value)
		}
		id := Identifier{topic: m.Topic, partition: int32(m.Partition), offset: m.Offset}

		herr := broker.CallHandlerWithRecover(ctx, "kafka", func() error {
			return handler(ctx, id, env)
		})
		if herr != nil {
			return herr
		}
	}
}

// Commit advances the Kafka consumer group's own committed offset for ids
// (spec.md §6 Broker client contract: "commit(identifiers)"). This is
// independent of the client-side offset store (internal/offsetstore), which
// overrides the broker's committed offset on consumer start.
func (c *Client) Commit(ctx context.Context, ids []envelope.Identifier) error {
	byTopic := map[string][]segkafka.Message{}
	for _, raw := range ids {
		id, ok := raw.(Identifier)
		if !ok {
			continue
		}
		byTopic[id.topic] = append(byTopic[id.topic], segkafka.Message{
			Topic:     id.topic,
			Partition: int(id.partition),
			Offset:    id.offset,
		})
	}

	var commitErr error
	for topic, msgs := range byTopic {
		reader := c.readerFor(topic)
		commitErr = errors.Join(commitErr, reader.CommitMessages(ctx, msgs...))
	}
	return commitErr
}

func (c *Client) writerFor(topic string) *segkafka.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.writers[topic]; ok {
		return w
	}
	cfg := segkafka.WriterConfig{
		Brokers:  c.brokers,
		Topic:    topic,
		Balancer: &segkafka.LeastBytes{},
		Dialer:   c.dialer,
	}
	if c.writerConfig != nil {
		cfg = *c.writerConfig
		cfg.Topic = topic
		if len(cfg.Brokers) == 0 {
			cfg.Brokers = c.brokers
		}
	}
	w := segkafka.NewWriter(cfg)
	c.writers[topic] = w
	return w
}

func (c *Client) readerFor(topic string) *segkafka.Reader {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.readers[topic]; ok {
		return r
	}
	cfg := segkafka.ReaderConfig{
		Brokers:  c.brokers,
		GroupID:  c.groupID,
		Topic:    topic,
		MaxBytes: 10e6,
		Dialer:   c.dialer,
	}
	if c.readerConfig != nil {
		cfg = *c.readerConfig
		cfg.Topic = topic
		cfg.GroupID = c.groupID
		if len(cfg.Brokers) == 0 {
			cfg.Brokers = c.brokers
		}
	}
	r := segkafka.NewReader(cfg)
	c.readers[topic] = r
	return r
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func itoa32(n int32) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
