package proxy

import (
	"sort"
	"sync"

	"github.com/ruifelixpereira/freyja/internal/signal"
)

// Entities is the per-proxy registry of owned entities and their operations.
//
// Thread Safety: all methods are safe for concurrent use. The lock is never
// held while values are generated; tick loops work on snapshots.
type Entities struct {
	mu  sync.Mutex
	ops map[string]string
}

// NewEntities creates an empty registry.
func NewEntities() *Entities {
	return &Entities{ops: make(map[string]string)}
}

// Register inserts or replaces the operation for id.
func (e *Entities) Register(id, operation string) {
	e.mu.Lock()
	e.ops[id] = operation
	e.mu.Unlock()
}

// Unregister removes id and reports whether it was present.
func (e *Entities) Unregister(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.ops[id]
	delete(e.ops, id)
	return ok
}

// Operation returns the registered operation for id.
func (e *Entities) Operation(id string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	op, ok := e.ops[id]
	return op, ok
}

// Snapshot returns a copy of the registry.
func (e *Entities) Snapshot() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.ops))
	for id, op := range e.ops {
		out[id] = op
	}
	return out
}

// Subscribed returns the ids registered for Subscribe, sorted.
func (e *Entities) Subscribed() []string {
	e.mu.Lock()
	ids := make([]string, 0, len(e.ops))
	for id, op := range e.ops {
		if op == signal.OperationSubscribe {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of registered entities.
func (e *Entities) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ops)
}
