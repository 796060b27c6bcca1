// Package redisproxy implements the "redis" provider family. A provider
// publishes the current value of each entity as a string key in Redis,
// named <key prefix><entity id>.
package redisproxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ruifelixpereira/freyja/internal/proxy"
	"github.com/ruifelixpereira/freyja/internal/signal"
)

// Protocol is the protocol name entities use to select this family.
const Protocol = "redis"

const (
	defaultPollInterval = time.Second
	defaultDialTimeout  = 5 * time.Second
	defaultKeyPrefix    = "freyja:signal:"
)

// Config configures redis proxy instances. The provider uri carries the
// address and database (redis://[user:pass@]host:port/db).
type Config struct {
	KeyPrefix    string
	PollInterval time.Duration
	DialTimeout  time.Duration
}

// Proxy reads entity values from one Redis server.
//
// Thread Safety: all methods are safe for concurrent use.
type Proxy struct {
	uri       string
	client    *redis.Client
	keyPrefix string
	entities  *proxy.Entities
	queue     *signal.Queue
	interval  time.Duration
	logger    proxy.Logger
}

// IsOperationSupported reports whether op is Get or Subscribe.
var IsOperationSupported = proxy.SupportsOperations(signal.OperationGet, signal.OperationSubscribe)

// Family returns the redis protocol family.
func Family(cfg Config, logger proxy.Logger) proxy.Family {
	return proxy.Family{
		Protocol:             Protocol,
		IsOperationSupported: IsOperationSupported,
		New: func(ctx context.Context, uri string, queue *signal.Queue) (proxy.Proxy, error) {
			return New(ctx, cfg, uri, queue, logger)
		},
	}
}

// New connects to the Redis server at uri and verifies it with PING.
//
// Returns:
//   - *Proxy: connected proxy
//   - error: proxy.ErrIO for a malformed uri, proxy.ErrCommunication if the
//     server cannot be reached
func New(ctx context.Context, cfg Config, uri string, queue *signal.Queue, logger proxy.Logger) (*Proxy, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing redis uri %q: %w", proxy.ErrIO, uri, err)
	}

	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if logger == nil {
		logger = proxy.NopLogger()
	}
	opts.DialTimeout = cfg.DialTimeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping %s: %w", proxy.ErrCommunication, opts.Addr, err)
	}

	return &Proxy{
		uri:       uri,
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		entities:  proxy.NewEntities(),
		queue:     queue,
		interval:  cfg.PollInterval,
		logger:    logger,
	}, nil
}

// Run reads every subscribed entity once per interval and closes the
// connection when ctx ends.
func (p *Proxy) Run(ctx context.Context) error {
	defer func() {
		if err := p.client.Close(); err != nil {
			p.logger.Warn("closing redis client", "uri", p.uri, "error", err)
		}
	}()

	p.logger.Info("redis provider proxy started", "uri", p.uri, "interval", p.interval)
	return proxy.RunTicks(ctx, p.interval, p.entities, p.generate, p.logger)
}

// RegisterEntity records the operation for entityID.
func (p *Proxy) RegisterEntity(_ context.Context, entityID, operation string) error {
	p.entities.Register(entityID, operation)
	return nil
}

// UnregisterEntity stops serving entityID.
func (p *Proxy) UnregisterEntity(_ context.Context, entityID string) error {
	p.entities.Unregister(entityID)
	return nil
}

// SendRequestToProvider reads one value for a Get entity.
func (p *Proxy) SendRequestToProvider(ctx context.Context, entityID string) error {
	op, ok := p.entities.Operation(entityID)
	if !ok {
		return fmt.Errorf("%w: %s", proxy.ErrEntityNotFound, entityID)
	}
	if op != signal.OperationGet {
		return nil
	}
	return p.generate(ctx, entityID)
}

func (p *Proxy) generate(ctx context.Context, entityID string) error {
	value, err := p.client.Get(ctx, p.key(entityID)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: no value stored for %s", proxy.ErrEntityNotFound, entityID)
	}
	if err != nil {
		return fmt.Errorf("%w: redis get %s: %w", proxy.ErrCommunication, entityID, err)
	}

	p.queue.Push(signal.Value{EntityID: entityID, Value: value})
	return nil
}

func (p *Proxy) key(entityID string) string {
	return p.keyPrefix + entityID
}
