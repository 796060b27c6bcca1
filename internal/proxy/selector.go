package proxy

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ruifelixpereira/freyja/internal/signal"
)

// SelectorOptions configures a Selector.
type SelectorOptions struct {
	// Registry lists the protocol families available for proxy creation.
	Registry *Registry

	// Queue receives every value produced by every proxy.
	Queue *signal.Queue

	// Logger is optional.
	Logger Logger
}

// Selector creates, caches and routes to provider proxies.
//
// Thread Safety: all methods are safe for concurrent use.
type Selector struct {
	registry *Registry
	queue    *signal.Queue

	loggerMu sync.RWMutex
	logger   Logger

	mu      sync.RWMutex
	proxies map[string]Proxy  // uri -> proxy
	owners  map[string]string // entity id -> uri
	stopped bool

	creating singleflight.Group

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSelector creates a selector with no proxies.
//
// Parameters:
//   - opts: registry and queue are required
//
// Returns:
//   - *Selector: ready for use; call Stop to shut down proxy loops
//   - error: if a required option is missing
func NewSelector(opts SelectorOptions) (*Selector, error) {
	if opts.Registry == nil {
		return nil, errors.New("proxy: registry is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("proxy: queue is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Selector{
		registry: opts.Registry,
		queue:    opts.Queue,
		logger:   orNop(opts.Logger),
		proxies:  make(map[string]Proxy),
		owners:   make(map[string]string),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// SetLogger replaces the selector logger.
func (s *Selector) SetLogger(l Logger) {
	s.loggerMu.Lock()
	s.logger = orNop(l)
	s.loggerMu.Unlock()
}

func (s *Selector) log() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// CreateOrUpdateProxy binds entity to the proxy serving entity.URI.
//
// If a proxy already exists for the URI the entity is (re)registered on it.
// Otherwise the first family in the registry that handles entity.Protocol and
// supports entity.Operation builds a new proxy, whose Run loop starts in the
// background before the entity is registered.
//
// Returns:
//   - error: ErrInvalidEntity, ErrProtocolNotSupported,
//     ErrOperationNotSupported, ErrProviderProxy on construction failure,
//     or ErrSelectorStopped
func (s *Selector) CreateOrUpdateProxy(ctx context.Context, entity signal.Entity) error {
	if err := entity.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEntity, err)
	}
	if s.ctx.Err() != nil {
		return ErrSelectorStopped
	}

	p, err := s.proxyFor(ctx, entity)
	if err != nil {
		return err
	}

	if err := p.RegisterEntity(ctx, entity.ID, entity.Operation); err != nil {
		return fmt.Errorf("registering entity %s on %s: %w", entity.ID, entity.URI, err)
	}

	return s.bindOwner(ctx, entity.ID, entity.URI, p)
}

// RequestEntityValue asks the proxy owning entityID for a fresh value.
// The proxy's error is returned unchanged.
func (s *Selector) RequestEntityValue(ctx context.Context, entityID string) error {
	s.mu.RLock()
	uri, ok := s.owners[entityID]
	p := s.proxies[uri]
	s.mu.RUnlock()

	if !ok || p == nil {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	return p.SendRequestToProvider(ctx, entityID)
}

// Owner returns the URI of the proxy that owns entityID.
func (s *Selector) Owner(entityID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uri, ok := s.owners[entityID]
	return uri, ok
}

// ProxyCount returns the number of live proxies.
func (s *Selector) ProxyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.proxies)
}

// EntityCount returns the number of routed entities.
func (s *Selector) EntityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.owners)
}

// Stop cancels every proxy Run loop and waits for them to return.
// It is safe to call more than once.
func (s *Selector) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()
		s.log().Info("provider proxy selector stopped")
	})
}

// proxyFor returns the proxy for entity.URI, creating it if needed.
// Creation is collapsed per URI so racing callers share one instance.
func (s *Selector) proxyFor(ctx context.Context, entity signal.Entity) (Proxy, error) {
	if p, ok := s.lookup(entity.URI); ok {
		return p, nil
	}

	family, err := s.registry.Lookup(entity.Protocol, entity.Operation)
	if err != nil {
		return nil, err
	}

	v, err, _ := s.creating.Do(entity.URI, func() (any, error) {
		// Another caller may have finished creation before this flight began.
		if p, ok := s.lookup(entity.URI); ok {
			return p, nil
		}

		p, err := family.New(ctx, entity.URI, s.queue)
		if err != nil {
			return nil, fmt.Errorf("%w: creating %s proxy for %s: %w", ErrProviderProxy, family.Protocol, entity.URI, err)
		}

		if err := s.install(family.Protocol, entity.URI, p); err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Proxy), nil
}

func (s *Selector) lookup(uri string) (Proxy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proxies[uri]
	return p, ok
}

// install stores p and starts its Run loop.
func (s *Selector) install(protocol, uri string, p Proxy) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		// Let the proxy release whatever New acquired.
		_ = p.Run(s.ctx)
		return ErrSelectorStopped
	}
	s.proxies[uri] = p
	s.wg.Add(1)
	s.mu.Unlock()

	s.log().Info("provider proxy created", "protocol", protocol, "uri", uri)

	go s.supervise(protocol, uri, p)
	return nil
}

// supervise runs p until it returns. A proxy whose loop ends while the
// selector is still running is evicted, so the next CreateOrUpdateProxy for
// its URI builds a fresh one.
func (s *Selector) supervise(protocol, uri string, p Proxy) {
	defer s.wg.Done()
	defer s.evict(protocol, uri, p)
	defer func() {
		if r := recover(); r != nil {
			s.log().Error("provider proxy panicked",
				"protocol", protocol,
				"uri", uri,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := p.Run(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log().Error("provider proxy stopped with error", "protocol", protocol, "uri", uri, "error", err)
		return
	}
	s.log().Debug("provider proxy run loop exited", "protocol", protocol, "uri", uri)
}

// evict forgets p and every entity routed to it. It does nothing once the
// selector is stopping or when uri already points at a newer proxy.
func (s *Selector) evict(protocol, uri string, p Proxy) {
	if s.ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	if s.proxies[uri] != p {
		s.mu.Unlock()
		return
	}
	delete(s.proxies, uri)
	dropped := 0
	for id, owner := range s.owners {
		if owner == uri {
			delete(s.owners, id)
			dropped++
		}
	}
	s.mu.Unlock()

	s.log().Warn("provider proxy evicted", "protocol", protocol, "uri", uri, "entities", dropped)
}

// bindOwner points entityID at uri. When the entity moves between providers
// the previous proxy stops serving it.
//
// Returns:
//   - error: ErrProviderProxy if p was evicted after the entity registered on it
func (s *Selector) bindOwner(ctx context.Context, entityID, uri string, p Proxy) error {
	s.mu.Lock()
	if s.proxies[uri] != p {
		s.mu.Unlock()
		return fmt.Errorf("%w: proxy for %s stopped", ErrProviderProxy, uri)
	}
	prevURI, had := s.owners[entityID]
	s.owners[entityID] = uri
	var prev Proxy
	if had && prevURI != uri {
		prev = s.proxies[prevURI]
	}
	s.mu.Unlock()

	if prev == nil {
		return nil
	}
	if err := prev.UnregisterEntity(ctx, entityID); err != nil {
		s.log().Warn("unregistering entity from previous provider failed",
			"entity_id", entityID, "uri", prevURI, "error", err)
		return nil
	}
	s.log().Info("entity moved to new provider", "entity_id", entityID, "from", prevURI, "to", uri)
	return nil
}
