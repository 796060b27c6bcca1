package signal

import "sync"

// Queue is an unbounded FIFO of signal values shared by every provider proxy.
//
// Thread Safety: all methods are safe for concurrent use. Any number of
// goroutines may Push while one consumer drains.
type Queue struct {
	mu     sync.Mutex
	items  []Value
	notify chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends a value. It never blocks.
func (q *Queue) Push(v Value) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest value.
// The second return value is false when the queue is empty.
func (q *Queue) Pop() (Value, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Value{}, false
	}
	v := q.items[0]
	q.items[0] = Value{}
	q.items = q.items[1:]
	return v, true
}

// Drain removes and returns every queued value in FIFO order.
func (q *Queue) Drain() []Value {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued values.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Notify returns a channel that receives after at least one Push since the
// last receive. Consumers should Drain after every wake-up.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}
