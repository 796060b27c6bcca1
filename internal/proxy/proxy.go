package proxy

import (
	"context"

	"github.com/ruifelixpereira/freyja/internal/signal"
)

// Proxy talks to one provider endpoint over one protocol.
//
// Implementations must be safe for concurrent use: Run executes in its own
// goroutine while the selector calls the other methods from request paths.
type Proxy interface {
	// Run produces values for subscribed entities until ctx is cancelled.
	// It returns nil on cancellation and releases any connection it holds.
	// Returning earlier, for example when the provider connection is lost,
	// retires the proxy: the selector evicts it and builds a new one on the
	// next CreateOrUpdateProxy for its URI.
	Run(ctx context.Context) error

	// RegisterEntity records that the proxy owns entityID with the given
	// operation. Registering an existing id replaces its operation.
	RegisterEntity(ctx context.Context, entityID, operation string) error

	// UnregisterEntity drops ownership of entityID. Unknown ids are ignored.
	UnregisterEntity(ctx context.Context, entityID string) error

	// SendRequestToProvider produces one fresh value for a Get entity and
	// pushes it to the queue before returning. For Subscribe entities it
	// does nothing.
	SendRequestToProvider(ctx context.Context, entityID string) error
}

// Constructor creates a proxy for the provider at uri. The context bounds
// connection setup only; proxies must not retain it.
type Constructor func(ctx context.Context, uri string, queue *signal.Queue) (Proxy, error)

// Family describes one compiled-in protocol implementation.
type Family struct {
	// Protocol is the name entities use to select this family.
	Protocol string

	// IsOperationSupported reports whether the family can serve an
	// operation. It must not depend on any instance state.
	IsOperationSupported func(operation string) bool

	// New constructs a proxy instance.
	New Constructor
}

// SupportsOperations returns an IsOperationSupported function accepting
// exactly the listed operations.
func SupportsOperations(ops ...string) func(string) bool {
	set := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		set[op] = struct{}{}
	}
	return func(op string) bool {
		_, ok := set[op]
		return ok
	}
}
