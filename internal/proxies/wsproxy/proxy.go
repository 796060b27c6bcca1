// Package wsproxy implements the "websocket" provider family. The entity
// uri is the provider's ws:// or wss:// endpoint. The provider pushes
// proxy.ValueMessage frames and answers proxy.RequestMessage frames with a
// ValueMessage for the requested entity.
package wsproxy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/ruifelixpereira/freyja/internal/proxy"
	"github.com/ruifelixpereira/freyja/internal/signal"
)

// Protocol is the protocol name entities use to select this family.
const Protocol = "websocket"

const (
	defaultPollInterval     = time.Second
	defaultRequestTimeout   = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	writeWait               = 5 * time.Second
)

// Config configures websocket proxy instances.
type Config struct {
	PollInterval     time.Duration
	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration
}

// Proxy holds one websocket connection to a provider.
//
// Thread Safety: all methods are safe for concurrent use. Writes to the
// connection are serialised by writeMu; only Run reads from it.
type Proxy struct {
	uri      string
	conn     *websocket.Conn
	writeMu  sync.Mutex
	entities *proxy.Entities
	cache    *proxy.ValueCache
	queue    *signal.Queue
	interval time.Duration
	timeout  time.Duration
	logger   proxy.Logger
}

// IsOperationSupported reports whether op is Get or Subscribe.
var IsOperationSupported = proxy.SupportsOperations(signal.OperationGet, signal.OperationSubscribe)

// Family returns the websocket protocol family.
func Family(cfg Config, logger proxy.Logger) proxy.Family {
	return proxy.Family{
		Protocol:             Protocol,
		IsOperationSupported: IsOperationSupported,
		New: func(ctx context.Context, uri string, queue *signal.Queue) (proxy.Proxy, error) {
			return New(ctx, cfg, uri, queue, logger)
		},
	}
}

// New opens the websocket at uri.
//
// Returns:
//   - *Proxy: connected proxy
//   - error: proxy.ErrIO for a malformed uri, proxy.ErrCommunication if the
//     handshake fails
func New(ctx context.Context, cfg Config, uri string, queue *signal.Queue, logger proxy.Logger) (*Proxy, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing websocket uri %q: %w", proxy.ErrIO, uri, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("%w: websocket uri %q must be ws:// or wss://", proxy.ErrIO, uri)
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if logger == nil {
		logger = proxy.NopLogger()
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, uri, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dialing %s: %s: %w", proxy.ErrCommunication, uri, resp.Status, err)
		}
		return nil, fmt.Errorf("%w: dialing %s: %w", proxy.ErrCommunication, uri, err)
	}

	return &Proxy{
		uri:      uri,
		conn:     conn,
		entities: proxy.NewEntities(),
		cache:    proxy.NewValueCache(),
		queue:    queue,
		interval: cfg.PollInterval,
		timeout:  cfg.RequestTimeout,
		logger:   logger,
	}, nil
}

// Run reads provider frames and pushes the latest value of each subscribed
// entity every interval. The connection is closed when ctx ends.
func (p *Proxy) Run(ctx context.Context) error {
	p.logger.Info("websocket provider proxy started", "uri", p.uri, "interval", p.interval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.readLoop(ctx) })
	g.Go(func() error {
		err := proxy.RunTicks(ctx, p.interval, p.entities, p.emitLatest, p.logger)
		p.close()
		return err
	})
	return g.Wait()
}

func (p *Proxy) readLoop(ctx context.Context) error {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: reading %s: %w", proxy.ErrCommunication, p.uri, err)
		}

		id, value, err := proxy.DecodeValue(data)
		if err != nil || id == "" {
			p.logger.Warn("dropping websocket frame", "uri", p.uri, "error", err)
			continue
		}
		if _, ok := p.entities.Operation(id); ok {
			p.cache.Set(id, value)
		}
	}
}

// close sends a close frame and unblocks readLoop.
func (p *Proxy) close() {
	p.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	p.writeMu.Unlock()

	if err := p.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		p.logger.Warn("closing websocket", "uri", p.uri, "error", err)
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

// SendRequestToProvider asks the provider for a fresh value of a Get
// entity and waits for the answer.
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

	if err := p.write(body); err != nil {
		return fmt.Errorf("%w: writing request: %w", proxy.ErrCommunication, err)
	}

	value, err := proxy.Wait(ctx, ch, p.timeout)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", entityID, err)
	}
	p.queue.Push(signal.Value{EntityID: entityID, Value: value})
	return nil
}

func (p *Proxy) write(body []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, body)
}

func (p *Proxy) emitLatest(_ context.Context, entityID string) error {
	value, ok := p.cache.Latest(entityID)
	if !ok {
		return nil
	}
	p.queue.Push(signal.Value{EntityID: entityID, Value: value})
	return nil
}
