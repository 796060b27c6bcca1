// Package digitaltwin resolves entity ids from the vehicle's digital twin
// model into the provider details (uri, protocol, operation) the proxy
// selector needs.
package digitaltwin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ruifelixpereira/freyja/internal/infrastructure/config"
	"github.com/ruifelixpereira/freyja/internal/signal"
)

// ErrEntityNotFound is returned when the twin has no entity with the id.
var ErrEntityNotFound = errors.New("digitaltwin: entity not found")

// Adapter looks up digital twin entities.
type Adapter interface {
	FindByID(ctx context.Context, entityID string) (signal.Entity, error)
}

// InMemoryAdapter serves a fixed set of entities.
type InMemoryAdapter struct {
	mu       sync.RWMutex
	entities map[string]signal.Entity
}

// NewInMemoryAdapter validates and indexes entities by id. A duplicate id
// is an error.
func NewInMemoryAdapter(entities []signal.Entity) (*InMemoryAdapter, error) {
	a := &InMemoryAdapter{entities: make(map[string]signal.Entity, len(entities))}
	for _, e := range entities {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, dup := a.entities[e.ID]; dup {
			return nil, fmt.Errorf("digitaltwin: duplicate entity %q", e.ID)
		}
		a.entities[e.ID] = e
	}
	return a, nil
}

// FromConfig converts configured entities.
func FromConfig(entries []config.EntityConfig) []signal.Entity {
	out := make([]signal.Entity, 0, len(entries))
	for _, c := range entries {
		out = append(out, signal.Entity{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			URI:         c.URI,
			Protocol:    c.Protocol,
			Operation:   c.Operation,
		})
	}
	return out
}

// FindByID implements Adapter.
func (a *InMemoryAdapter) FindByID(_ context.Context, entityID string) (signal.Entity, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entities[entityID]
	if !ok {
		return signal.Entity{}, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	return e, nil
}

// Put adds or replaces an entity.
func (a *InMemoryAdapter) Put(e signal.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	a.entities[e.ID] = e
	a.mu.Unlock()
	return nil
}

// IDs returns the known entity ids, sorted.
func (a *InMemoryAdapter) IDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.entities))
	for id := range a.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
