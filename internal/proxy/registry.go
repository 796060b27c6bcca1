package proxy

import (
	"fmt"
	"strings"
)

// Registry is the ordered, fixed set of families known at startup.
//
// Thread Safety: a Registry is immutable after NewRegistry returns and may be
// shared freely.
type Registry struct {
	families []Family
}

// NewRegistry builds a registry. The argument order is the selection
// priority when more than one family claims a protocol.
//
// Returns:
//   - *Registry: the immutable registry
//   - error: ErrInvalidFamily if a family lacks a protocol or function
func NewRegistry(families ...Family) (*Registry, error) {
	out := make([]Family, 0, len(families))
	for i, f := range families {
		if strings.TrimSpace(f.Protocol) == "" {
			return nil, fmt.Errorf("%w: family %d has no protocol", ErrInvalidFamily, i)
		}
		if f.IsOperationSupported == nil || f.New == nil {
			return nil, fmt.Errorf("%w: family %q is incomplete", ErrInvalidFamily, f.Protocol)
		}
		out = append(out, f)
	}
	return &Registry{families: out}, nil
}

// Lookup returns the first family that handles protocol and supports
// operation. Protocol names compare case-insensitively.
//
// Returns:
//   - Family: the selected family
//   - error: ErrProtocolNotSupported when no family claims the protocol,
//     ErrOperationNotSupported when one does but rejects the operation
func (r *Registry) Lookup(protocol, operation string) (Family, error) {
	matched := false
	for _, f := range r.families {
		if !strings.EqualFold(f.Protocol, protocol) {
			continue
		}
		matched = true
		if f.IsOperationSupported(operation) {
			return f, nil
		}
	}

	if matched {
		return Family{}, fmt.Errorf("%w: %s does not support %q", ErrOperationNotSupported, protocol, operation)
	}
	return Family{}, fmt.Errorf("%w: %q", ErrProtocolNotSupported, protocol)
}

// Protocols lists the registered protocol names in priority order.
func (r *Registry) Protocols() []string {
	out := make([]string, len(r.families))
	for i, f := range r.families {
		out[i] = f.Protocol
	}
	return out
}
