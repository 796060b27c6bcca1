package proxy

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ValueCache keeps the most recent value seen for each entity and lets
// request paths wait for the next arrival. Push-based transports feed it
// from their receive loops.
//
// Thread Safety: all methods are safe for concurrent use.
type ValueCache struct {
	mu      sync.Mutex
	latest  map[string]string
	waiters map[string]map[chan string]struct{}
}

// NewValueCache creates an empty cache.
func NewValueCache() *ValueCache {
	return &ValueCache{
		latest:  make(map[string]string),
		waiters: make(map[string]map[chan string]struct{}),
	}
}

// Set records value as the latest for id and wakes every waiter on id.
func (c *ValueCache) Set(id, value string) {
	c.mu.Lock()
	c.latest[id] = value
	waiters := c.waiters[id]
	delete(c.waiters, id)
	c.mu.Unlock()

	for ch := range waiters {
		ch <- value
	}
}

// Latest returns the most recent value for id.
func (c *ValueCache) Latest(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.latest[id]
	return v, ok
}

// Forget drops the cached value for id.
func (c *ValueCache) Forget(id string) {
	c.mu.Lock()
	delete(c.latest, id)
	c.mu.Unlock()
}

// Expect registers interest in the next value for id. Register before
// sending the request that triggers the value so the answer cannot be
// missed. The returned cancel function must be called when done waiting.
func (c *ValueCache) Expect(id string) (<-chan string, func()) {
	ch := make(chan string, 1)

	c.mu.Lock()
	if c.waiters[id] == nil {
		c.waiters[id] = make(map[chan string]struct{})
	}
	c.waiters[id][ch] = struct{}{}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if set := c.waiters[id]; set != nil {
			delete(set, ch)
			if len(set) == 0 {
				delete(c.waiters, id)
			}
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

// Wait blocks until ch yields a value, ctx ends, or timeout elapses.
func Wait(ctx context.Context, ch <-chan string, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrCommunication, ctx.Err())
	case <-timer.C:
		return "", fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}
