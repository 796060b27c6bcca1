// Package kafkaproxy implements the "kafka" provider family.
//
// The provider uri lists the brokers and the topic the provider writes to:
//
//	kafka://broker-1:9092,broker-2:9092/vehicle-signals
//
// Each record is a proxy.ValueMessage keyed by entity id. Get requests are
// proxy.RequestMessage records on <topic>.requests; the provider answers on
// the value topic.
package kafkaproxy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/ruifelixpereira/freyja/internal/proxy"
	"github.com/ruifelixpereira/freyja/internal/signal"
)

// Protocol is the protocol name entities use to select this family.
const Protocol = "kafka"

const (
	defaultPollInterval   = time.Second
	defaultRequestTimeout = 5 * time.Second
	defaultGroupID        = "freyja"
	requestTopicSuffix    = ".requests"
	uriScheme             = "kafka://"
)

// Reader is the subset of *kafka.Reader the proxy uses.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Writer is the subset of *kafka.Writer the proxy uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Endpoint names a provider's brokers and topics.
type Endpoint struct {
	Brokers      []string
	Topic        string
	RequestTopic string
	GroupID      string
}

// Dialer opens the reader and writer for an endpoint.
type Dialer func(ctx context.Context, ep Endpoint) (Reader, Writer, error)

// DialBrokers checks that the first broker answers and then builds a
// consumer-group reader and a writer.
func DialBrokers(ctx context.Context, ep Endpoint) (Reader, Writer, error) {
	conn, err := kafka.DialContext(ctx, "tcp", ep.Brokers[0])
	if err != nil {
		return nil, nil, err
	}
	_ = conn.Close()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     ep.Brokers,
		Topic:       ep.Topic,
		GroupID:     ep.GroupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(ep.Brokers...),
		Topic:                  ep.RequestTopic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return reader, writer, nil
}

// Config configures kafka proxy instances.
type Config struct {
	PollInterval   time.Duration
	RequestTimeout time.Duration
	GroupID        string

	// Dial defaults to DialBrokers.
	Dial Dialer
}

// Proxy relays entity values streamed by one Kafka provider.
//
// Thread Safety: all methods are safe for concurrent use.
type Proxy struct {
	uri      string
	endpoint Endpoint
	reader   Reader
	writer   Writer
	entities *proxy.Entities
	cache    *proxy.ValueCache
	queue    *signal.Queue
	interval time.Duration
	timeout  time.Duration
	logger   proxy.Logger
}

// IsOperationSupported reports whether op is Get or Subscribe.
var IsOperationSupported = proxy.SupportsOperations(signal.OperationGet, signal.OperationSubscribe)

// Family returns the kafka protocol family.
func Family(cfg Config, logger proxy.Logger) proxy.Family {
	return proxy.Family{
		Protocol:             Protocol,
		IsOperationSupported: IsOperationSupported,
		New: func(ctx context.Context, uri string, queue *signal.Queue) (proxy.Proxy, error) {
			return New(ctx, cfg, uri, queue, logger)
		},
	}
}

// New connects to the provider at uri.
//
// Returns:
//   - *Proxy: connected proxy
//   - error: proxy.ErrIO for a malformed uri, proxy.ErrCommunication if the
//     brokers cannot be reached
func New(ctx context.Context, cfg Config, uri string, queue *signal.Queue, logger proxy.Logger) (*Proxy, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.GroupID == "" {
		cfg.GroupID = defaultGroupID
	}
	if cfg.Dial == nil {
		cfg.Dial = DialBrokers
	}
	if logger == nil {
		logger = proxy.NopLogger()
	}

	ep, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	ep.GroupID = cfg.GroupID

	reader, writer, err := cfg.Dial(ctx, ep)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %w", proxy.ErrCommunication, strings.Join(ep.Brokers, ","), err)
	}

	return &Proxy{
		uri:      uri,
		endpoint: ep,
		reader:   reader,
		writer:   writer,
		entities: proxy.NewEntities(),
		cache:    proxy.NewValueCache(),
		queue:    queue,
		interval: cfg.PollInterval,
		timeout:  cfg.RequestTimeout,
		logger:   logger,
	}, nil
}

// ParseURI splits kafka://host:port[,host:port...]/topic into an Endpoint.
func ParseURI(uri string) (Endpoint, error) {
	rest, ok := strings.CutPrefix(uri, uriScheme)
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: kafka uri %q must start with %s", proxy.ErrIO, uri, uriScheme)
	}

	hosts, topic, _ := strings.Cut(rest, "/")
	topic = strings.Trim(topic, "/")
	if topic == "" || strings.Contains(topic, "/") {
		return Endpoint{}, fmt.Errorf("%w: kafka uri %q must name exactly one topic", proxy.ErrIO, uri)
	}

	var brokers []string
	for _, h := range strings.Split(hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			brokers = append(brokers, h)
		}
	}
	if len(brokers) == 0 {
		return Endpoint{}, fmt.Errorf("%w: kafka uri %q has no brokers", proxy.ErrIO, uri)
	}

	return Endpoint{
		Brokers:      brokers,
		Topic:        topic,
		RequestTopic: topic + requestTopicSuffix,
	}, nil
}

// Run consumes the value topic and pushes the latest value of each
// subscribed entity every interval until ctx ends.
func (p *Proxy) Run(ctx context.Context) error {
	defer p.close()

	p.logger.Info("kafka provider proxy started",
		"uri", p.uri,
		"topic", p.endpoint.Topic,
		"interval", p.interval,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.consume(ctx) })
	g.Go(func() error {
		return proxy.RunTicks(ctx, p.interval, p.entities, p.emitLatest, p.logger)
	})
	return g.Wait()
}

func (p *Proxy) consume(ctx context.Context) error {
	for {
		msg, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: reading %s: %w", proxy.ErrCommunication, p.endpoint.Topic, err)
		}
		p.handle(msg)
	}
}

func (p *Proxy) handle(msg kafka.Message) {
	id, value, err := proxy.DecodeValue(msg.Value)
	if err != nil {
		p.logger.Warn("dropping kafka record", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return
	}
	if id == "" {
		id = string(msg.Key)
	}
	if _, ok := p.entities.Operation(id); !ok {
		return
	}
	p.cache.Set(id, value)
}

func (p *Proxy) close() {
	if err := errors.Join(p.reader.Close(), p.writer.Close()); err != nil {
		p.logger.Warn("closing kafka clients", "uri", p.uri, "error", err)
	}
}

// RegisterEntity records the operation for entityID.
func (p *Proxy) RegisterEntity(_ context.Context, entityID, operation string) error {
	p.entities.Register(entityID, operation)
	return nil
}

// UnregisterEntity stops serving entityID.
func (p *Proxy) UnregisterEntity(_ context.Context, entityID string) error {
	if p.entities.Unregister(entityID) {
		p.cache.Forget(entityID)
	}
	return nil
}

// SendRequestToProvider writes a request record for a Get entity and waits
// for the provider's answer on the value topic.
func (p *Proxy) SendRequestToProvider(ctx context.Context, entityID string) error {
	op, ok := p.entities.Operation(entityID)
	if !ok {
		return fmt.Errorf("%w: %s", proxy.ErrEntityNotFound, entityID)
	}
	if op != signal.OperationGet {
		return nil
	}

	body, err := proxy.EncodeRequest(uuid.NewString(), entityID)
	if err != nil {
		return err
	}

	ch, cancel := p.cache.Expect(entityID)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(entityID), Value: body})
	if err != nil {
		return fmt.Errorf("%w: writing %s: %w", proxy.ErrCommunication, p.endpoint.RequestTopic, err)
	}

	value, err := proxy.Wait(ctx, ch, p.timeout)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", entityID, err)
	}
	p.queue.Push(signal.Value{EntityID: entityID, Value: value})
	return nil
}

func (p *Proxy) emitLatest(_ context.Context, entityID string) error {
	value, ok := p.cache.Latest(entityID)
	if !ok {
		return nil
	}
	p.queue.Push(signal.Value{EntityID: entityID, Value: value})
	return nil
}
