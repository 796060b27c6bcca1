package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ruifelixpereira/freyja/internal/signal"
)

// ============================================================================
// Test doubles
// ============================================================================

var errGenerate = errors.New("generation failed")

// fakeProxy produces "0", "1", "2", ... per entity.
type fakeProxy struct {
	uri      string
	queue    *signal.Queue
	entities *Entities
	interval time.Duration
	panicRun bool

	mu       sync.Mutex
	counters map[string]int
	failing  map[string]bool

	die     chan struct{}
	dieOnce sync.Once

	runExited atomic.Bool
}

func (p *fakeProxy) Run(ctx context.Context) error {
	defer p.runExited.Store(true)
	if p.panicRun {
		panic("boom")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.die:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := RunTicks(ctx, p.interval, p.entities, p.generate, nil)
	select {
	case <-p.die:
		return fmt.Errorf("%w: provider hung up", ErrCommunication)
	default:
		return err
	}
}

// hangUp makes Run return as if the provider connection dropped.
func (p *fakeProxy) hangUp() {
	p.dieOnce.Do(func() { close(p.die) })
}

func (p *fakeProxy) RegisterEntity(_ context.Context, id, op string) error {
	p.entities.Register(id, op)
	return nil
}

func (p *fakeProxy) UnregisterEntity(_ context.Context, id string) error {
	p.entities.Unregister(id)
	return nil
}

func (p *fakeProxy) SendRequestToProvider(ctx context.Context, id string) error {
	op, ok := p.entities.Operation(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	if op != signal.OperationGet {
		return nil
	}
	return p.generate(ctx, id)
}

func (p *fakeProxy) generate(_ context.Context, id string) error {
	p.mu.Lock()
	if p.failing[id] {
		p.mu.Unlock()
		return errGenerate
	}
	n := p.counters[id]
	p.counters[id] = n + 1
	p.mu.Unlock()

	p.queue.Push(signal.Value{EntityID: id, Value: fmt.Sprint(n)})
	return nil
}

func (p *fakeProxy) setFailing(id string) {
	p.mu.Lock()
	p.failing[id] = true
	p.mu.Unlock()
}

// fakeFactory builds fakeProxy instances and records them by uri.
type fakeFactory struct {
	interval time.Duration
	newDelay time.Duration
	newErr   error
	panicRun bool
	calls    atomic.Int32
	mu       sync.Mutex
	built    map[string]*fakeProxy
}

func newFakeFactory(interval time.Duration) *fakeFactory {
	return &fakeFactory{interval: interval, built: make(map[string]*fakeProxy)}
}

func (f *fakeFactory) family(protocol string, ops ...string) Family {
	return Family{
		Protocol:             protocol,
		IsOperationSupported: SupportsOperations(ops...),
		New: func(_ context.Context, uri string, q *signal.Queue) (Proxy, error) {
			f.calls.Add(1)
			if f.newDelay > 0 {
				time.Sleep(f.newDelay)
			}
			if f.newErr != nil {
				return nil, f.newErr
			}
			p := &fakeProxy{
				uri:      uri,
				queue:    q,
				entities: NewEntities(),
				interval: f.interval,
				panicRun: f.panicRun,
				counters: make(map[string]int),
				failing:  make(map[string]bool),
				die:      make(chan struct{}),
			}
			f.mu.Lock()
			f.built[uri] = p
			f.mu.Unlock()
			return p, nil
		},
	}
}

func (f *fakeFactory) proxy(uri string) *fakeProxy {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[uri]
}

func newTestSelector(t *testing.T, families ...Family) (*Selector, *signal.Queue) {
	t.Helper()
	reg, err := NewRegistry(families...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	q := signal.NewQueue()
	s, err := NewSelector(SelectorOptions{Registry: reg, Queue: q})
	if err != nil {
		t.Fatalf("NewSelector() error = %v", err)
	}
	t.Cleanup(s.Stop)
	return s, q
}

func entity(id, uri, protocol, op string) signal.Entity {
	return signal.Entity{ID: id, URI: uri, Protocol: protocol, Operation: op}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func valuesFor(values []signal.Value, id string) []string {
	var out []string
	for _, v := range values {
		if v.EntityID == id {
			out = append(out, v.Value)
		}
	}
	return out
}

// ============================================================================
// Constructor
// ============================================================================

func TestNewSelector_RequiresOptions(t *testing.T) {
	reg, _ := NewRegistry()

	if _, err := NewSelector(SelectorOptions{Queue: signal.NewQueue()}); err == nil {
		t.Error("NewSelector() without registry should fail")
	}
	if _, err := NewSelector(SelectorOptions{Registry: reg}); err == nil {
		t.Error("NewSelector() without queue should fail")
	}
}

// ============================================================================
// CreateOrUpdateProxy
// ============================================================================

func TestSelector_SameURIReusesProxy(t *testing.T) {
	f := newFakeFactory(time.Hour)
	s, _ := newTestSelector(t, f.family("fake", signal.OperationGet, signal.OperationSubscribe))
	ctx := context.Background()

	if err := s.CreateOrUpdateProxy(ctx, entity("a", "fake://p1", "fake", signal.OperationGet)); err != nil {
		t.Fatalf("CreateOrUpdateProxy(a) error = %v", err)
	}
	if err := s.CreateOrUpdateProxy(ctx, entity("b", "fake://p1", "fake", signal.OperationSubscribe)); err != nil {
		t.Fatalf("CreateOrUpdateProxy(b) error = %v", err)
	}

	if got := s.ProxyCount(); got != 1 {
		t.Errorf("ProxyCount() = %d, want 1", got)
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("constructor calls = %d, want 1", got)
	}
	if got := f.proxy("fake://p1").entities.Len(); got != 2 {
		t.Errorf("registered entities = %d, want 2", got)
	}
}

func TestSelector_DifferentURIsGetDifferentProxies(t *testing.T) {
	f := newFakeFactory(time.Hour)
	s, _ := newTestSelector(t, f.family("fake", signal.OperationGet))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e := entity(fmt.Sprintf("e%d", i), fmt.Sprintf("fake://p%d", i), "fake", signal.OperationGet)
		if err := s.CreateOrUpdateProxy(ctx, e); err != nil {
			t.Fatalf("CreateOrUpdateProxy(%s) error = %v", e.ID, err)
		}
	}

	if got := s.ProxyCount(); got != 3 {
		t.Errorf("ProxyCount() = %d, want 3", got)
	}
}

func TestSelector_OperationUpdateKeepsProxy(t *testing.T) {
	f := newFakeFactory(20 * time.Millisecond)
	s, q := newTestSelector(t, f.family("fake", signal.OperationGet, signal.OperationSubscribe))
	ctx := context.Background()

	if err := s.CreateOrUpdateProxy(ctx, entity("x", "fake://p1", "fake", signal.OperationGet)); err != nil {
		t.Fatalf("CreateOrUpdateProxy(Get) error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := q.Len(); got != 0 {
		t.Fatalf("Get entity produced %d values without a request", got)
	}

	if err := s.CreateOrUpdateProxy(ctx, entity("x", "fake://p1", "fake", signal.OperationSubscribe)); err != nil {
		t.Fatalf("CreateOrUpdateProxy(Subscribe) error = %v", err)
	}

	if got := f.calls.Load(); got != 1 {
		t.Errorf("constructor calls = %d, want 1", got)
	}
	if op, _ := f.proxy("fake://p1").entities.Operation("x"); op != signal.OperationSubscribe {
		t.Errorf("operation = %q, want %q", op, signal.OperationSubscribe)
	}
	if !waitFor(t, time.Second, func() bool { return q.Len() > 0 }) {
		t.Error("subscribed entity never produced a value")
	}
}

func TestSelector_CapabilityErrors(t *testing.T) {
	f := newFakeFactory(time.Hour)
	s, _ := newTestSelector(t,
		f.family("get-only", signal.OperationGet),
		f.family("both", signal.OperationGet, signal.OperationSubscribe),
	)

	tests := []struct {
		name    string
		entity  signal.Entity
		wantErr error
	}{
		{
			name:    "unknown protocol",
			entity:  entity("a", "x://1", "carrier-pigeon", signal.OperationGet),
			wantErr: ErrProtocolNotSupported,
		},
		{
			name:    "unsupported operation",
			entity:  entity("b", "x://2", "get-only", signal.OperationSubscribe),
			wantErr: ErrOperationNotSupported,
		},
		{
			name:    "unknown operation",
			entity:  entity("c", "x://3", "both", "Stream"),
			wantErr: ErrOperationNotSupported,
		},
		{
			name:    "missing uri",
			entity:  entity("d", "", "both", signal.OperationGet),
			wantErr: ErrInvalidEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CreateOrUpdateProxy(context.Background(), tt.entity)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateOrUpdateProxy() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := s.ProxyCount(); got != 0 {
		t.Errorf("ProxyCount() = %d, want 0 after failures", got)
	}
	if got := f.calls.Load(); got != 0 {
		t.Errorf("constructor calls = %d, want 0", got)
	}
}

func TestSelector_ProtocolMatchIsCaseInsensitive(t *testing.T) {
	f := newFakeFactory(time.Hour)
	s, _ := newTestSelector(t, f.family("in-memory", signal.OperationGet))

	if err := s.CreateOrUpdateProxy(context.Background(), entity("a", "mem://1", "In-Memory", signal.OperationGet)); err != nil {
		t.Fatalf("CreateOrUpdateProxy() error = %v", err)
	}
}

func TestSelector_ConstructionFailure(t *testing.T) {
	cause := errors.New("dial refused")
	f := newFakeFactory(time.Hour)
	f.newErr = cause
	s, _ := newTestSelector(t, f.family("fake", signal.OperationGet))

	err := s.CreateOrUpdateProxy(context.Background(), entity("a", "fake://p1", "fake", signal.OperationGet))
	if !errors.Is(err, ErrProviderProxy) {
		t.Errorf("error = %v, want ErrProviderProxy", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error = %v, want cause to be preserved", err)
	}
	if s.ProxyCount() != 0 || s.EntityCount() != 0 {
		t.Error("failed construction left state behind")
	}

	// The next attempt retries construction.
	f.newErr = nil
	if err := s.CreateOrUpdateProxy(context.Background(), entity("a", "fake://p1", "fake", signal.OperationGet)); err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if got := f.calls.Load(); got != 2 {
		t.Errorf("constructor calls = %d, want 2", got)
	}
}

func TestSelector_EntityMovesBetweenProviders(t *testing.T) {
	f := newFakeFactory(time.Hour)
	s, _ := newTestSelector(t, f.family("fake", signal.OperationGet))
	ctx := context.Background()

	if err := s.CreateOrUpdateProxy(ctx, entity("a", "fake://old", "fake", signal.OperationGet)); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateOrUpdateProxy(ctx, entity("a", "fake://new", "fake", signal.OperationGet)); err != nil {
		t.Fatal(err)
	}

	if uri, _ := s.Owner("a"); uri != "fake://new" {
		t.Errorf("Owner(a) = %q, want fake://new", uri)
	}
	if _, ok := f.proxy("fake://old").entities.Operation("a"); ok {
		t.Error("old proxy still owns entity a")
	}
	if _, ok := f.proxy("fake://new").entities.Operation("a"); !ok {
		t.Error("new proxy does not own entity a")
	}
}

// ============================================================================
// RequestEntityValue
// ============================================================================

func TestSelector_RequestUnknownEntity(t *testing.T) {
	f := newFakeFactory(time.Hour)
	s, _ := newTestSelector(t, f.family("fake", signal.OperationGet))

	err := s.RequestEntityValue(context.Background(), "ghost")
	if !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("RequestEntityValue() error = %v, want ErrEntityNotFound", err)
	}
}

func TestSelector_GetProducesExactlyOneValue(t *testing.T) {
	f := newFakeFactory(20 * time.Millisecond)
	s, q := newTestSelector(t, f.family("fake", signal.OperationGet, signal.OperationSubscribe))
	ctx := context.Background()

	if err := s.CreateOrUpdateProxy(ctx, entity("g", "fake://p1", "fake", signal.OperationGet)); err != nil {
		t.Fatal(err)
	}

	// Several ticks pass without producing anything for a Get entity.
	time.Sleep(80 * time.Millisecond)
	if got := q.Len(); got != 0 {
		t.Fatalf("queue length before request = %d, want 0", got)
	}

	if err := s.RequestEntityValue(ctx, "g"); err != nil {
		t.Fatalf("RequestEntityValue() error = %v", err)
	}

	values := q.Drain()
	if len(values) != 1 || values[0].EntityID != "g" {
		t.Errorf("values after request = %v, want exactly one for g", values)
	}
}

func TestSelector_RequestOnSubscribeEntityIsNoop(t *testing.T) {
	f := newFakeFactory(time.Hour)
	s, q := newTestSelector(t, f.family("fake", signal.OperationSubscribe))
	ctx := context.Background()

	if err := s.CreateOrUpdateProxy(ctx, entity("s", "fake://p1", "fake", signal.OperationSubscribe)); err != nil {
		t.Fatal(err)
	}
	// Drain the immediate first tick.
	waitFor(t, time.Second, func() bool { return q.Len() == 1 })
	q.Drain()

	if err := s.RequestEntityValue(ctx, "s"); err != nil {
		t.Fatalf("RequestEntityValue() error = %v", err)
	}
	if got := q.Len(); got != 0 {
		t.Errorf("queue length = %d, want 0", got)
	}
}

// ============================================================================
// Run loops
// ============================================================================

func TestSelector_SubscribeCadence(t *testing.T) {
	f := newFakeFactory(100 * time.Millisecond)
	s, q := newTestSelector(t, f.family("fake", signal.OperationSubscribe))

	if err := s.CreateOrUpdateProxy(context.Background(), entity("s", "fake://p1", "fake", signal.OperationSubscribe)); err != nil {
		t.Fatal(err)
	}

	time.Sleep(350 * time.Millisecond)

	got := valuesFor(q.Drain(), "s")
	if len(got) < 3 {
		t.Fatalf("values in 350ms = %d, want >= 3", len(got))
	}
	for i, v := range got {
		if v != fmt.Sprint(i) {
			t.Errorf("value[%d] = %s, want %d", i, v, i)
		}
	}
}

func TestSelector_PartialFailureIsContained(t *testing.T) {
	f := newFakeFactory(20 * time.Millisecond)
	s, q := newTestSelector(t, f.family("fake", signal.OperationGet, signal.OperationSubscribe))
	ctx := context.Background()

	// Create the proxy through a Get entity so nothing ticks yet.
	if err := s.CreateOrUpdateProxy(ctx, entity("z", "fake://p1", "fake", signal.OperationGet)); err != nil {
		t.Fatal(err)
	}
	f.proxy("fake://p1").setFailing("a")

	for _, id := range []string{"a", "b"} {
		if err := s.CreateOrUpdateProxy(ctx, entity(id, "fake://p1", "fake", signal.OperationSubscribe)); err != nil {
			t.Fatal(err)
		}
	}

	var collected []signal.Value
	ok := waitFor(t, 2*time.Second, func() bool {
		collected = append(collected, q.Drain()...)
		return len(valuesFor(collected, "b")) >= 3
	})
	if !ok {
		t.Fatalf("entity b produced %d values, want >= 3", len(valuesFor(collected, "b")))
	}
	if got := valuesFor(collected, "a"); len(got) != 0 {
		t.Errorf("failing entity a produced values %v", got)
	}
}

func TestSelector_PanickingProxyIsContained(t *testing.T) {
	f := newFakeFactory(time.Hour)
	f.panicRun = true
	s, q := newTestSelector(t, f.family("fake", signal.OperationGet))
	ctx := context.Background()
	e := entity("g", "fake://p1", "fake", signal.OperationGet)

	// The loop may die before the entity is bound; both outcomes are fine.
	if err := s.CreateOrUpdateProxy(ctx, e); err != nil && !errors.Is(err, ErrProviderProxy) {
		t.Fatal(err)
	}
	if !waitFor(t, time.Second, func() bool { return s.ProxyCount() == 0 }) {
		t.Fatal("panicked proxy was not evicted")
	}

	if err := s.RequestEntityValue(ctx, "g"); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("RequestEntityValue() error = %v, want ErrEntityNotFound", err)
	}

	// The next bind builds a healthy replacement.
	f.panicRun = false
	if err := s.CreateOrUpdateProxy(ctx, e); err != nil {
		t.Fatalf("CreateOrUpdateProxy() error = %v", err)
	}
	if err := s.RequestEntityValue(ctx, "g"); err != nil {
		t.Fatalf("RequestEntityValue() error = %v", err)
	}
	if got := q.Len(); got != 1 {
		t.Errorf("queue length = %d, want 1", got)
	}
}

func TestSelector_DeadProxyIsRebuilt(t *testing.T) {
	f := newFakeFactory(time.Hour)
	s, q := newTestSelector(t, f.family("fake", signal.OperationGet, signal.OperationSubscribe))
	ctx := context.Background()
	door := entity("door", "fake://p1", "fake", signal.OperationGet)

	if err := s.CreateOrUpdateProxy(ctx, door); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateOrUpdateProxy(ctx, entity("temp", "fake://p1", "fake", signal.OperationSubscribe)); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateOrUpdateProxy(ctx, entity("other", "fake://p2", "fake", signal.OperationGet)); err != nil {
		t.Fatal(err)
	}

	first := f.proxy("fake://p1")
	first.hangUp()
	if !waitFor(t, time.Second, func() bool { return s.ProxyCount() == 1 }) {
		t.Fatalf("ProxyCount() = %d, want 1 after provider hung up", s.ProxyCount())
	}

	if err := s.RequestEntityValue(ctx, "door"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("RequestEntityValue(door) error = %v, want ErrEntityNotFound", err)
	}
	if _, ok := s.Owner("temp"); ok {
		t.Error("Owner(temp) still set after its proxy died")
	}
	if uri, ok := s.Owner("other"); !ok || uri != "fake://p2" {
		t.Errorf("Owner(other) = %q, %v; entities of other proxies must survive", uri, ok)
	}

	if err := s.CreateOrUpdateProxy(ctx, door); err != nil {
		t.Fatalf("CreateOrUpdateProxy() after hang-up error = %v", err)
	}
	if got := f.calls.Load(); got != 3 {
		t.Errorf("factory calls = %d, want 3", got)
	}
	if f.proxy("fake://p1") == first {
		t.Fatal("dead proxy was reused")
	}

	q.Drain()
	if err := s.RequestEntityValue(ctx, "door"); err != nil {
		t.Fatalf("RequestEntityValue(door) error = %v", err)
	}
	if got := valuesFor(q.Drain(), "door"); len(got) != 1 {
		t.Errorf("door values = %v, want exactly one", got)
	}
}

func TestSelector_StopKeepsProxiesCached(t *testing.T) {
	f := newFakeFactory(time.Hour)
	s, _ := newTestSelector(t, f.family("fake", signal.OperationGet))

	if err := s.CreateOrUpdateProxy(context.Background(), entity("g", "fake://p1", "fake", signal.OperationGet)); err != nil {
		t.Fatal(err)
	}
	s.Stop()

	if got := s.ProxyCount(); got != 1 {
		t.Errorf("ProxyCount() after Stop = %d, want 1", got)
	}
}

// ============================================================================
// Concurrency
// ============================================================================

func TestSelector_ConcurrentFirstRegistration(t *testing.T) {
	const n = 50

	f := newFakeFactory(time.Hour)
	f.newDelay = 20 * time.Millisecond
	s, _ := newTestSelector(t, f.family("fake", signal.OperationGet))

	var wg sync.WaitGroup
	errs := make(chan error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs <- s.CreateOrUpdateProxy(context.Background(),
				entity(fmt.Sprintf("e%d", i), "fake://shared", "fake", signal.OperationGet))
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("CreateOrUpdateProxy() error = %v", err)
		}
	}

	if got := f.calls.Load(); got != 1 {
		t.Errorf("constructor calls = %d, want 1", got)
	}
	if got := s.ProxyCount(); got != 1 {
		t.Errorf("ProxyCount() = %d, want 1", got)
	}
	if got := s.EntityCount(); got != n {
		t.Errorf("EntityCount() = %d, want %d", got, n)
	}
	if got := f.proxy("fake://shared").entities.Len(); got != n {
		t.Errorf("registered entities = %d, want %d", got, n)
	}
}

func TestSelector_ConcurrentRequests(t *testing.T) {
	f := newFakeFactory(time.Hour)
	s, q := newTestSelector(t, f.family("fake", signal.OperationGet))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.CreateOrUpdateProxy(ctx, entity(fmt.Sprintf("e%d", i), fmt.Sprintf("fake://p%d", i%2), "fake", signal.OperationGet)); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.RequestEntityValue(ctx, fmt.Sprintf("e%d", i%5)); err != nil {
				t.Errorf("RequestEntityValue() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := q.Len(); got != 100 {
		t.Errorf("queue length = %d, want 100", got)
	}
}

// ============================================================================
// Stop
// ============================================================================

func TestSelector_Stop(t *testing.T) {
	f := newFakeFactory(10 * time.Millisecond)
	s, _ := newTestSelector(t, f.family("fake", signal.OperationSubscribe))
	ctx := context.Background()

	if err := s.CreateOrUpdateProxy(ctx, entity("s", "fake://p1", "fake", signal.OperationSubscribe)); err != nil {
		t.Fatal(err)
	}

	s.Stop()
	s.Stop() // idempotent

	if !f.proxy("fake://p1").runExited.Load() {
		t.Error("Stop() returned before the proxy loop exited")
	}

	err := s.CreateOrUpdateProxy(ctx, entity("t", "fake://p2", "fake", signal.OperationSubscribe))
	if !errors.Is(err, ErrSelectorStopped) {
		t.Errorf("CreateOrUpdateProxy() after Stop error = %v, want ErrSelectorStopped", err)
	}
}
