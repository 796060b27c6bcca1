package mapping

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ruifelixpereira/freyja/internal/infrastructure/config"
)

// ErrInvalidItem is returned for malformed in-memory mapping items.
var ErrInvalidItem = errors.New("mapping: invalid item")

// Client talks to the mapping service.
type Client interface {
	// CheckForWork reports whether a new mapping is available.
	CheckForWork(ctx context.Context) (bool, error)

	// GetMapping returns the current mapping keyed by source entity id.
	GetMapping(ctx context.Context) (map[string]Entry, error)

	// SendInventory reports the entity ids Freyja can currently serve.
	SendInventory(ctx context.Context, entityIDs []string) error
}

// Item activates Value from the Begin-th work check until, but excluding,
// the End-th. A nil End never deactivates.
type Item struct {
	Begin uint64
	End   *uint64
	Value Entry
}

func (it Item) activeAt(n uint64) bool {
	return n >= it.Begin && (it.End == nil || n < *it.End)
}

func (it Item) changesAt(n uint64) bool {
	return n == it.Begin || (it.End != nil && n == *it.End)
}

// InMemoryClient replays a scripted sequence of mappings. Each CheckForWork
// call advances a counter; items switch on and off at configured counts.
//
// Thread Safety: all methods are safe for concurrent use.
type InMemoryClient struct {
	items   []Item
	counter atomic.Uint64

	inventory atomic.Pointer[[]string]
}

// NewInMemoryClient validates items.
func NewInMemoryClient(items []Item) (*InMemoryClient, error) {
	for i, it := range items {
		if it.Value.Source == "" {
			return nil, fmt.Errorf("%w: item %d has no source", ErrInvalidItem, i)
		}
		if it.End != nil && *it.End <= it.Begin {
			return nil, fmt.Errorf("%w: item %d (%s) ends at %d before it begins at %d",
				ErrInvalidItem, i, it.Value.Source, *it.End, it.Begin)
		}
	}
	return &InMemoryClient{items: items}, nil
}

// ItemsFromConfig converts configured mapping items.
func ItemsFromConfig(values []config.MappingItemConfig) ([]Item, error) {
	items := make([]Item, 0, len(values))
	for i, v := range values {
		if v.Begin < 0 || (v.End != nil && *v.End < 0) {
			return nil, fmt.Errorf("%w: item %d has a negative bound", ErrInvalidItem, i)
		}

		it := Item{
			Begin: uint64(v.Begin),
			Value: Entry{
				Source:       v.Value.Source,
				Target:       v.Value.Target,
				IntervalMs:   v.Value.IntervalMs,
				EmitOnChange: v.Value.EmitOnChange,
			},
		}
		if v.End != nil {
			end := uint64(*v.End)
			it.End = &end
		}
		if c := v.Value.Conversion; c != nil {
			it.Value.Conversion = Conversion{Linear: &Linear{Mul: c.Mul, Offset: c.Offset}}
		}
		items = append(items, it)
	}
	return items, nil
}

// CheckForWork advances the counter and reports whether any item starts or
// stops at the count it had before the call.
func (c *InMemoryClient) CheckForWork(_ context.Context) (bool, error) {
	n := c.counter.Add(1) - 1
	for _, it := range c.items {
		if it.changesAt(n) {
			return true, nil
		}
	}
	return false, nil
}

// GetMapping returns the items active at the current count.
func (c *InMemoryClient) GetMapping(_ context.Context) (map[string]Entry, error) {
	n := c.counter.Load()
	out := make(map[string]Entry)
	for _, it := range c.items {
		if it.activeAt(n) {
			out[it.Value.Source] = it.Value.Clone()
		}
	}
	return out, nil
}

// SendInventory records the latest inventory.
func (c *InMemoryClient) SendInventory(_ context.Context, entityIDs []string) error {
	ids := append([]string(nil), entityIDs...)
	c.inventory.Store(&ids)
	return nil
}

// Inventory returns the last inventory sent.
func (c *InMemoryClient) Inventory() []string {
	p := c.inventory.Load()
	if p == nil {
		return nil
	}
	return *p
}
