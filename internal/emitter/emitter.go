// Package emitter delivers provider values to the digital twin. On every
// tick it asks Get entities that are due for a fresh value, drains the
// shared signal queue, converts each value according to its mapping entry,
// and hands the result to every configured sink.
//
// Requests run in the background, bounded by Options.MaxInFlight, with at
// most one outstanding request per entity. Their values arrive through the
// queue, so a slow provider never delays emission for the others.
package emitter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ruifelixpereira/freyja/internal/mapping"
	"github.com/ruifelixpereira/freyja/internal/signal"
)

const (
	defaultInterval    = time.Second
	defaultMaxInFlight = 16
)

// Requester asks the owning proxy for a fresh value.
type Requester interface {
	RequestEntityValue(ctx context.Context, entityID string) error
}

// Logger is the logging surface the emitter needs.
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

// Options wires an Emitter.
type Options struct {
	Store     *mapping.Store
	Queue     *signal.Queue
	Requester Requester
	Sinks     []Sink
	Interval  time.Duration
	Logger    Logger

	// MaxInFlight caps concurrent value requests. Defaults to 16.
	MaxInFlight int

	// Now defaults to time.Now.
	Now func() time.Time
}

// Emitter moves values from the signal queue to the sinks.
type Emitter struct {
	store     *mapping.Store
	queue     *signal.Queue
	requester Requester
	sinks     []Sink
	interval  time.Duration
	logger    Logger
	now       func() time.Time

	requests errgroup.Group

	mu            sync.Mutex
	lastRequested map[string]time.Time
	inFlight      map[string]bool
	lastEmitted   map[string]string
}

// New validates opts.
func New(opts Options) (*Emitter, error) {
	var missing []string
	if opts.Store == nil {
		missing = append(missing, "store")
	}
	if opts.Queue == nil {
		missing = append(missing, "queue")
	}
	if opts.Requester == nil {
		missing = append(missing, "requester")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("emitter: missing %s", strings.Join(missing, ", "))
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}

	e := &Emitter{
		store:         opts.Store,
		queue:         opts.Queue,
		requester:     opts.Requester,
		sinks:         opts.Sinks,
		interval:      opts.Interval,
		logger:        opts.Logger,
		now:           opts.Now,
		lastRequested: make(map[string]time.Time),
		inFlight:      make(map[string]bool),
		lastEmitted:   make(map[string]string),
	}
	e.requests.SetLimit(opts.MaxInFlight)
	return e, nil
}

// Run ticks every interval until ctx ends. Values pushed between ticks are
// emitted as soon as the queue signals them.
func (e *Emitter) Run(ctx context.Context) error {
	e.logger.Info("emitter started", "interval", e.interval, "sinks", len(e.sinks))
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Wait()
			e.Emit(context.WithoutCancel(ctx))
			e.logger.Info("emitter stopped")
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		case <-e.queue.Notify():
			e.Emit(ctx)
		}
	}
}

// Tick starts requests for due entries and emits whatever is already
// queued. It returns the number of values handed to sinks.
func (e *Emitter) Tick(ctx context.Context) int {
	e.requestDue(ctx)
	return e.Emit(ctx)
}

// Wait blocks until every outstanding request has returned.
func (e *Emitter) Wait() {
	_ = e.requests.Wait()
}

func (e *Emitter) requestDue(ctx context.Context) {
	entries, _ := e.store.Snapshot()
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	for source := range e.lastRequested {
		if _, ok := entries[source]; !ok {
			delete(e.lastRequested, source)
		}
	}

	for source, entry := range entries {
		if e.inFlight[source] {
			continue
		}
		last, seen := e.lastRequested[source]
		if seen && now.Sub(last) < entry.Interval() {
			continue
		}
		if !e.requests.TryGo(func() error {
			e.request(ctx, source)
			return nil
		}) {
			// Retried on a later tick.
			e.logger.Debug("request limit reached", "entity_id", source)
			continue
		}
		e.lastRequested[source] = now
		e.inFlight[source] = true
	}
}

func (e *Emitter) request(ctx context.Context, source string) {
	if err := e.requester.RequestEntityValue(ctx, source); err != nil && ctx.Err() == nil {
		e.logger.Warn("requesting entity value failed", "entity_id", source, "error", err)
	}

	e.mu.Lock()
	delete(e.inFlight, source)
	e.mu.Unlock()
}

// Emit drains the queue and delivers every mapped value. Values for
// unmapped entities are dropped.
func (e *Emitter) Emit(ctx context.Context) int {
	values := e.queue.Drain()
	if len(values) == 0 {
		return 0
	}

	emitted := 0
	for _, v := range values {
		entry, ok := e.store.Get(v.EntityID)
		if !ok {
			e.logger.Debug("dropping unmapped value", "entity_id", v.EntityID)
			continue
		}

		out := entry.Conversion.ApplyString(v.Value)
		if !e.changed(entry, v.EntityID, out) {
			continue
		}

		em := Emission{
			EntityID:  v.EntityID,
			Target:    entry.Target,
			TargetKey: entry.TargetKey(),
			Value:     out,
			Timestamp: e.now(),
		}
		for _, sink := range e.sinks {
			if err := sink.Send(ctx, em); err != nil {
				e.logger.Warn("sink failed", "sink", sink.Name(), "entity_id", v.EntityID, "error", err)
			}
		}
		emitted++
	}
	return emitted
}

// changed records value and reports whether it should be emitted.
func (e *Emitter) changed(entry mapping.Entry, entityID, value string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, seen := e.lastEmitted[entityID]
	e.lastEmitted[entityID] = value
	return !entry.EmitOnChange || !seen || prev != value
}
