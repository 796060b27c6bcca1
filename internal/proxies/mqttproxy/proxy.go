// Package mqttproxy implements the "mqtt" provider family.
//
// The provider uri names the broker and topic prefix:
//
//	mqtt://host:1883/vehicle     plain TCP, prefix "vehicle"
//	mqtts://host:8883/vehicle    TLS
//
// Providers publish proxy.ValueMessage bodies to <prefix>/state/<entity>.
// A Get request is a proxy.RequestMessage on <prefix>/request/<entity>;
// the provider answers on the state topic.
package mqttproxy

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ruifelixpereira/freyja/internal/infrastructure/config"
	"github.com/ruifelixpereira/freyja/internal/infrastructure/mqtt"
	"github.com/ruifelixpereira/freyja/internal/proxy"
	"github.com/ruifelixpereira/freyja/internal/signal"
)

// Protocol is the protocol name entities use to select this family.
const Protocol = "mqtt"

const (
	defaultPollInterval   = time.Second
	defaultRequestTimeout = 5 * time.Second
	defaultPort           = 1883
	defaultTLSPort        = 8883
)

// Client is the subset of *mqtt.Client the proxy uses.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Close() error
}

// Dialer connects to a broker.
type Dialer func(ctx context.Context, cfg config.MQTTConfig) (Client, error)

// DialBroker is the Dialer backed by the paho client.
func DialBroker(ctx context.Context, cfg config.MQTTConfig) (Client, error) {
	c, err := mqtt.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Config configures mqtt proxy instances.
type Config struct {
	PollInterval   time.Duration
	RequestTimeout time.Duration
	QoS            byte
	Auth           config.MQTTAuthConfig

	// Dial defaults to DialBroker.
	Dial Dialer
}

// Proxy relays entity values from one MQTT provider.
//
// Thread Safety: all methods are safe for concurrent use.
type Proxy struct {
	uri      string
	client   Client
	topics   mqtt.Topics
	qos      byte
	entities *proxy.Entities
	cache    *proxy.ValueCache
	queue    *signal.Queue
	interval time.Duration
	timeout  time.Duration
	logger   proxy.Logger

	// regMu pairs registry changes with their subscribe/unsubscribe calls.
	regMu sync.Mutex
}

// IsOperationSupported reports whether op is Get or Subscribe.
var IsOperationSupported = proxy.SupportsOperations(signal.OperationGet, signal.OperationSubscribe)

// Family returns the mqtt protocol family.
func Family(cfg Config, logger proxy.Logger) proxy.Family {
	return proxy.Family{
		Protocol:             Protocol,
		IsOperationSupported: IsOperationSupported,
		New: func(ctx context.Context, uri string, queue *signal.Queue) (proxy.Proxy, error) {
			return New(ctx, cfg, uri, queue, logger)
		},
	}
}

// New connects to the broker named by uri.
//
// Returns:
//   - *Proxy: connected proxy
//   - error: proxy.ErrIO for a malformed uri, proxy.ErrCommunication if the
//     broker cannot be reached
func New(ctx context.Context, cfg Config, uri string, queue *signal.Queue, logger proxy.Logger) (*Proxy, error) {
	broker, prefix, err := parseURI(uri)
	if err != nil {
		return nil, err
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Dial == nil {
		cfg.Dial = DialBroker
	}
	if logger == nil {
		logger = proxy.NopLogger()
	}

	client, err := cfg.Dial(ctx, config.MQTTConfig{
		Broker:      broker,
		Auth:        cfg.Auth,
		QoS:         int(cfg.QoS),
		TopicPrefix: prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", proxy.ErrCommunication, err)
	}

	return &Proxy{
		uri:      uri,
		client:   client,
		topics:   mqtt.Topics{Prefix: prefix},
		qos:      cfg.QoS,
		entities: proxy.NewEntities(),
		cache:    proxy.NewValueCache(),
		queue:    queue,
		interval: cfg.PollInterval,
		timeout:  cfg.RequestTimeout,
		logger:   logger,
	}, nil
}

// parseURI splits a provider uri into broker settings and topic prefix.
func parseURI(uri string) (config.MQTTBrokerConfig, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return config.MQTTBrokerConfig{}, "", fmt.Errorf("%w: parsing mqtt uri %q: %w", proxy.ErrIO, uri, err)
	}

	var broker config.MQTTBrokerConfig
	switch u.Scheme {
	case "mqtt", "tcp":
		broker.Port = defaultPort
	case "mqtts", "ssl":
		broker.TLS = true
		broker.Port = defaultTLSPort
	default:
		return broker, "", fmt.Errorf("%w: mqtt uri %q has unsupported scheme", proxy.ErrIO, uri)
	}

	broker.Host = u.Hostname()
	if broker.Host == "" {
		return broker, "", fmt.Errorf("%w: mqtt uri %q has no host", proxy.ErrIO, uri)
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return broker, "", fmt.Errorf("%w: mqtt uri %q: bad port: %w", proxy.ErrIO, uri, err)
		}
		broker.Port = port
	}

	return broker, strings.Trim(u.Path, "/"), nil
}

// Run pushes the latest value of each subscribed entity every interval and
// disconnects from the broker when ctx ends.
func (p *Proxy) Run(ctx context.Context) error {
	defer func() {
		if err := p.client.Close(); err != nil {
			p.logger.Warn("closing mqtt client", "uri", p.uri, "error", err)
		}
	}()

	p.logger.Info("mqtt provider proxy started", "uri", p.uri, "interval", p.interval)
	return proxy.RunTicks(ctx, p.interval, p.entities, p.emitLatest, p.logger)
}

// RegisterEntity records the operation and subscribes to the entity's
// state topic on first registration.
func (p *Proxy) RegisterEntity(_ context.Context, entityID, operation string) error {
	p.regMu.Lock()
	defer p.regMu.Unlock()

	_, known := p.entities.Operation(entityID)
	// Registered before subscribing so a retained state message is kept.
	p.entities.Register(entityID, operation)
	if known {
		return nil
	}

	topic := p.topics.ProviderState(entityID)
	if err := p.client.Subscribe(topic, p.qos, p.onState); err != nil {
		p.entities.Unregister(entityID)
		return fmt.Errorf("%w: subscribing %s: %w", proxy.ErrCommunication, topic, err)
	}
	return nil
}

// UnregisterEntity stops serving entityID and drops its subscription.
func (p *Proxy) UnregisterEntity(_ context.Context, entityID string) error {
	p.regMu.Lock()
	defer p.regMu.Unlock()

	if !p.entities.Unregister(entityID) {
		return nil
	}
	p.cache.Forget(entityID)
	if err := p.client.Unsubscribe(p.topics.ProviderState(entityID)); err != nil {
		return fmt.Errorf("%w: %w", proxy.ErrCommunication, err)
	}
	return nil
}

// SendRequestToProvider publishes a request for a Get entity and waits for
// the provider's answer.
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

	if err := p.client.Publish(p.topics.ProviderRequest(entityID), body, p.qos, false); err != nil {
		return fmt.Errorf("%w: %w", proxy.ErrCommunication, err)
	}

	value, err := proxy.Wait(ctx, ch, p.timeout)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", entityID, err)
	}
	p.queue.Push(signal.Value{EntityID: entityID, Value: value})
	return nil
}

// emitLatest pushes the cached value; nothing is pushed until the provider
// has published at least once.
func (p *Proxy) emitLatest(_ context.Context, entityID string) error {
	value, ok := p.cache.Latest(entityID)
	if !ok {
		return nil
	}
	p.queue.Push(signal.Value{EntityID: entityID, Value: value})
	return nil
}

func (p *Proxy) onState(topic string, payload []byte) error {
	id, ok := p.topics.EntityFromStateTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %s", topic)
	}

	msgID, value, err := proxy.DecodeValue(payload)
	if err != nil {
		return err
	}
	if msgID != "" && msgID != id {
		return fmt.Errorf("%w: topic %s carries entity %s", proxy.ErrDeserialize, topic, msgID)
	}

	// Late deliveries after UnregisterEntity must not refill the cache.
	if _, ok := p.entities.Operation(id); ok {
		p.cache.Set(id, value)
	}
	return nil
}
