// Package cartographer keeps provider proxies in line with the mapping
// service. It polls the mapping client for work, resolves every mapped
// source through the digital twin, asks the proxy selector to serve it,
// and publishes the bound entries for the emitter.
package cartographer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ruifelixpereira/freyja/internal/digitaltwin"
	"github.com/ruifelixpereira/freyja/internal/mapping"
	"github.com/ruifelixpereira/freyja/internal/signal"
)

const defaultPollInterval = 5 * time.Second

// Binder creates or updates the proxy serving an entity. Owner reports
// whether an entity is still routed; a bound entity that lost its owner is
// bound again on the next cycle.
type Binder interface {
	CreateOrUpdateProxy(ctx context.Context, entity signal.Entity) error
	Owner(entityID string) (string, bool)
}

// Logger is the logging surface the cartographer needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options wires a Cartographer.
type Options struct {
	Mapping      mapping.Client
	Twin         digitaltwin.Adapter
	Binder       Binder
	Store        *mapping.Store
	PollInterval time.Duration
	Logger       Logger
}

// Cartographer binds mapped entities to provider proxies.
type Cartographer struct {
	mapping  mapping.Client
	twin     digitaltwin.Adapter
	binder   Binder
	store    *mapping.Store
	interval time.Duration
	logger   Logger

	mu      sync.Mutex
	desired map[string]mapping.Entry
	bound   map[string]mapping.Entry
}

// New validates opts.
func New(opts Options) (*Cartographer, error) {
	var missing []string
	if opts.Mapping == nil {
		missing = append(missing, "mapping client")
	}
	if opts.Twin == nil {
		missing = append(missing, "digital twin adapter")
	}
	if opts.Binder == nil {
		missing = append(missing, "binder")
	}
	if opts.Store == nil {
		missing = append(missing, "store")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("cartographer: missing %s", strings.Join(missing, ", "))
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Cartographer{
		mapping:  opts.Mapping,
		twin:     opts.Twin,
		binder:   opts.Binder,
		store:    opts.Store,
		interval: opts.PollInterval,
		logger:   opts.Logger,
		desired:  make(map[string]mapping.Entry),
		bound:    make(map[string]mapping.Entry),
	}, nil
}

// Run cycles immediately and then every poll interval until ctx ends.
// Cycle errors are logged; the loop keeps going.
func (c *Cartographer) Run(ctx context.Context) error {
	c.logger.Info("cartographer started", "interval", c.interval)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.Cycle(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("cartographer cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			c.logger.Info("cartographer stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle checks for work once, fetches a new mapping when there is some,
// and (re)binds every desired entry not yet bound. Entries that fail to
// bind, or whose proxy has since gone away, are retried on the next cycle.
func (c *Cartographer) Cycle(ctx context.Context) error {
	hasWork, err := c.mapping.CheckForWork(ctx)
	if err != nil {
		return fmt.Errorf("checking for work: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if hasWork {
		next, err := c.mapping.GetMapping(ctx)
		if err != nil {
			return fmt.Errorf("getting mapping: %w", err)
		}
		c.logger.Info("new mapping received", "entries", len(next))
		c.desired = next
		c.bound = make(map[string]mapping.Entry, len(next))
	}

	for source := range c.bound {
		if _, ok := c.binder.Owner(source); !ok {
			c.logger.Warn("entity lost its provider proxy, rebinding", "entity_id", source)
			delete(c.bound, source)
		}
	}

	if len(c.bound) == len(c.desired) && !hasWork {
		return nil
	}

	var errs []error
	for source, entry := range c.desired {
		if _, ok := c.bound[source]; ok {
			continue
		}
		if err := c.bind(ctx, source); err != nil {
			c.logger.Warn("binding entity failed", "entity_id", source, "error", err)
			errs = append(errs, err)
			continue
		}
		c.bound[source] = entry
	}

	c.store.Replace(c.bound)

	ids := make([]string, 0, len(c.bound))
	for id := range c.bound {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	if err := c.mapping.SendInventory(ctx, ids); err != nil {
		errs = append(errs, fmt.Errorf("sending inventory: %w", err))
	}

	return errors.Join(errs...)
}

func (c *Cartographer) bind(ctx context.Context, source string) error {
	entity, err := c.twin.FindByID(ctx, source)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", source, err)
	}
	if err := c.binder.CreateOrUpdateProxy(ctx, entity); err != nil {
		return fmt.Errorf("binding %s: %w", source, err)
	}
	c.logger.Debug("entity bound", "entity_id", source, "protocol", entity.Protocol, "uri", entity.URI)
	return nil
}

// Pending returns the desired sources not yet bound, sorted.
func (c *Cartographer) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for source := range c.desired {
		if _, ok := c.bound[source]; !ok {
			out = append(out, source)
		}
	}
	slices.Sort(out)
	return out
}
