package inmemory

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ruifelixpereira/freyja/internal/proxy"
	"github.com/ruifelixpereira/freyja/internal/signal"
)

// Protocol is the protocol name entities use to select this family.
const Protocol = "in-memory"

// DefaultSignalUpdateFrequency is used when Config leaves it unset.
const DefaultSignalUpdateFrequency = time.Second

// Sensor configures the simulated values for one entity.
type Sensor struct {
	EntityID string `yaml:"entity_id"`
	Values   Values `yaml:"values"`
}

// Config configures every in-memory proxy instance.
type Config struct {
	SignalUpdateFrequency time.Duration `yaml:"signal_update_frequency"`
	Sensors               []Sensor      `yaml:"entities"`
}

type sensor struct {
	values Values
	calls  atomic.Uint64
}

// Proxy simulates a provider whose values come from configuration.
// Each instance keeps its own call counters, so two providers configured
// with the same sensors advance independently.
//
// Thread Safety: all methods are safe for concurrent use.
type Proxy struct {
	uri      string
	sensors  map[string]*sensor // read-only after New
	entities *proxy.Entities
	queue    *signal.Queue
	interval time.Duration
	logger   proxy.Logger
}

// New creates an in-memory proxy for uri.
//
// Returns:
//   - *Proxy: ready to Run
//   - error: wrapping proxy.ErrDeserialize if the sensor configuration is invalid
func New(cfg Config, uri string, queue *signal.Queue, logger proxy.Logger) (*Proxy, error) {
	interval := cfg.SignalUpdateFrequency
	if interval <= 0 {
		interval = DefaultSignalUpdateFrequency
	}
	if logger == nil {
		logger = proxy.NopLogger()
	}

	sensors := make(map[string]*sensor, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		if err := s.Values.Validate(); err != nil {
			return nil, fmt.Errorf("%w: entity %s: %w", proxy.ErrDeserialize, s.EntityID, err)
		}
		sensors[s.EntityID] = &sensor{values: s.Values}
	}

	return &Proxy{
		uri:      uri,
		sensors:  sensors,
		entities: proxy.NewEntities(),
		queue:    queue,
		interval: interval,
		logger:   logger,
	}, nil
}

// Family returns the in-memory protocol family.
func Family(cfg Config, logger proxy.Logger) proxy.Family {
	return proxy.Family{
		Protocol:             Protocol,
		IsOperationSupported: IsOperationSupported,
		New: func(_ context.Context, uri string, queue *signal.Queue) (proxy.Proxy, error) {
			return New(cfg, uri, queue, logger)
		},
	}
}

// IsOperationSupported reports whether op is Get or Subscribe.
var IsOperationSupported = proxy.SupportsOperations(signal.OperationGet, signal.OperationSubscribe)

// Run generates values for subscribed entities every update interval.
func (p *Proxy) Run(ctx context.Context) error {
	p.logger.Info("in-memory provider proxy started", "uri", p.uri, "interval", p.interval)
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

// SendRequestToProvider generates one value for a Get entity.
func (p *Proxy) SendRequestToProvider(ctx context.Context, entityID string) error {
	op, ok := p.entities.Operation(entityID)
	if !ok {
		return fmt.Errorf("%w: %s has no registered operation", proxy.ErrEntityNotFound, entityID)
	}
	if op != signal.OperationGet {
		return nil
	}
	return p.generate(ctx, entityID)
}

func (p *Proxy) generate(_ context.Context, entityID string) error {
	s, ok := p.sensors[entityID]
	if !ok {
		return fmt.Errorf("%w: no simulated sensor for %s", proxy.ErrEntityNotFound, entityID)
	}

	n := s.calls.Add(1) - 1
	p.queue.Push(signal.Value{
		EntityID: entityID,
		Value:    strconv.FormatFloat(s.values.Nth(n), 'f', -1, 64),
	})
	return nil
}
