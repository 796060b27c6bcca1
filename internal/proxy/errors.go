package proxy

import "errors"

// Domain-specific errors for provider proxies and the selector.
var (
	// ErrEntityNotFound is returned when an entity id is not registered.
	ErrEntityNotFound = errors.New("proxy: entity not found")

	// ErrProtocolNotSupported is returned when no family handles a protocol.
	ErrProtocolNotSupported = errors.New("proxy: protocol not supported")

	// ErrOperationNotSupported is returned when the family for a protocol
	// rejects the requested operation.
	ErrOperationNotSupported = errors.New("proxy: operation not supported")

	// ErrProviderProxy wraps failures raised by a proxy itself,
	// including construction failures.
	ErrProviderProxy = errors.New("proxy: provider proxy error")

	// ErrCommunication is returned when a provider cannot be reached.
	ErrCommunication = errors.New("proxy: communication error")

	ErrSerialize   = errors.New("proxy: serialize error")
	ErrDeserialize = errors.New("proxy: deserialize error")
	ErrIO          = errors.New("proxy: io error")
	ErrUnknown     = errors.New("proxy: unknown error")

	// ErrInvalidEntity is returned when an entity lacks routing fields.
	ErrInvalidEntity = errors.New("proxy: invalid entity")

	// ErrInvalidFamily is returned when a family is incomplete.
	ErrInvalidFamily = errors.New("proxy: invalid family")

	// ErrSelectorStopped is returned after Stop has been called.
	ErrSelectorStopped = errors.New("proxy: selector stopped")

	// ErrTimeout is returned when a provider does not answer in time.
	ErrTimeout = errors.New("proxy: request timed out")
)
