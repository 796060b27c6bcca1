// Package httpproxy implements the "http" provider family: a provider that
// serves the current value of each entity at GET <uri>/entities/<id> as a
// proxy.ValueMessage.
package httpproxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ruifelixpereira/freyja/internal/proxy"
	"github.com/ruifelixpereira/freyja/internal/signal"
)

// Protocol is the protocol name entities use to select this family.
const Protocol = "http"

const (
	defaultPollInterval   = time.Second
	defaultRequestTimeout = 5 * time.Second

	// maxResponseBytes bounds how much of a provider response is read.
	maxResponseBytes = 1 << 20
)

// Config configures http proxy instances.
type Config struct {
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

// Proxy polls one HTTP provider.
//
// Thread Safety: all methods are safe for concurrent use.
type Proxy struct {
	base     *url.URL
	client   *http.Client
	entities *proxy.Entities
	queue    *signal.Queue
	interval time.Duration
	logger   proxy.Logger
}

// IsOperationSupported reports whether op is Get or Subscribe.
var IsOperationSupported = proxy.SupportsOperations(signal.OperationGet, signal.OperationSubscribe)

// Family returns the http protocol family.
func Family(cfg Config, logger proxy.Logger) proxy.Family {
	return proxy.Family{
		Protocol:             Protocol,
		IsOperationSupported: IsOperationSupported,
		New: func(_ context.Context, uri string, queue *signal.Queue) (proxy.Proxy, error) {
			return New(cfg, uri, queue, logger)
		},
	}
}

// New creates a proxy for the provider at uri. No request is made until
// an entity is polled or requested.
func New(cfg Config, uri string, queue *signal.Queue, logger proxy.Logger) (*Proxy, error) {
	base, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing provider uri %q: %w", proxy.ErrIO, uri, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%w: provider uri %q must use http or https", proxy.ErrIO, uri)
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = proxy.NopLogger()
	}

	return &Proxy{
		base:     base,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		entities: proxy.NewEntities(),
		queue:    queue,
		interval: cfg.PollInterval,
		logger:   logger,
	}, nil
}

// Run polls every subscribed entity once per interval.
func (p *Proxy) Run(ctx context.Context) error {
	p.logger.Info("http provider proxy started", "uri", p.base.String(), "interval", p.interval)
	defer p.client.CloseIdleConnections()
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

// SendRequestToProvider fetches one value for a Get entity.
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
	value, err := p.fetch(ctx, entityID)
	if err != nil {
		return err
	}
	p.queue.Push(signal.Value{EntityID: entityID, Value: value})
	return nil
}

func (p *Proxy) fetch(ctx context.Context, entityID string) (string, error) {
	target := p.base.JoinPath("entities", entityID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: building request: %w", proxy.ErrIO, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", proxy.ErrCommunication, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %w", proxy.ErrCommunication, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: provider has no entity %s", proxy.ErrEntityNotFound, entityID)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: provider returned %s", proxy.ErrCommunication, resp.Status)
	}

	_, value, err := proxy.DecodeValue(body)
	if err != nil {
		return "", fmt.Errorf("response for %s: %w", entityID, err)
	}
	return value, nil
}
