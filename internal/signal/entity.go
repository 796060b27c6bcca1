package signal

import (
	"errors"
	"fmt"
	"strings"
)

// Operations a provider may offer for an entity.
const (
	// OperationGet means the value is produced only when requested.
	OperationGet = "Get"

	// OperationSubscribe means the provider produces values periodically.
	OperationSubscribe = "Subscribe"
)

// ErrInvalidEntity is returned when an entity is missing a required field.
var ErrInvalidEntity = errors.New("signal: invalid entity")

// Entity describes a signal as known to the digital twin.
type Entity struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	URI         string `json:"uri" yaml:"uri"`
	Protocol    string `json:"protocol" yaml:"protocol"`
	Operation   string `json:"operation" yaml:"operation"`
}

// Validate checks that the fields needed for routing are present.
func (e Entity) Validate() error {
	var missing []string
	if strings.TrimSpace(e.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(e.URI) == "" {
		missing = append(missing, "uri")
	}
	if strings.TrimSpace(e.Protocol) == "" {
		missing = append(missing, "protocol")
	}
	if strings.TrimSpace(e.Operation) == "" {
		missing = append(missing, "operation")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %q missing %s", ErrInvalidEntity, e.ID, strings.Join(missing, ", "))
	}
	return nil
}

// Value is a single reading produced by a provider proxy.
type Value struct {
	EntityID string `json:"entity_id"`
	Value    string `json:"value"`
}
