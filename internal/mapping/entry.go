// Package mapping describes how provider entities map onto digital twin
// targets, and the client that tells Freyja when that mapping changes.
package mapping

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Entry maps one source entity onto digital twin targets.
type Entry struct {
	// Source is the provider entity id.
	Source string `json:"source" yaml:"source"`

	// Target carries the digital twin addressing, e.g. {"twin": "vehicle",
	// "property": "cabin_temperature"}.
	Target map[string]string `json:"target" yaml:"target"`

	// IntervalMs is how often a Get entity is polled. Zero polls on every
	// emitter tick.
	IntervalMs int `json:"interval_ms" yaml:"interval_ms"`

	Conversion   Conversion `json:"conversion" yaml:"conversion"`
	EmitOnChange bool       `json:"emit_on_change" yaml:"emit_on_change"`
}

// Interval returns IntervalMs as a duration.
func (e Entry) Interval() time.Duration {
	return time.Duration(e.IntervalMs) * time.Millisecond
}

// TargetKey renders Target as sorted key=value pairs, used as topic and
// tag material by emitter sinks. An empty target falls back to Source.
func (e Entry) TargetKey() string {
	if len(e.Target) == 0 {
		return e.Source
	}
	keys := slices.Sorted(maps.Keys(e.Target))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + e.Target[k]
	}
	return strings.Join(parts, ",")
}

// Clone returns a deep copy.
func (e Entry) Clone() Entry {
	e.Target = maps.Clone(e.Target)
	return e
}

// Conversion transforms numeric provider values before they reach the twin.
// The zero value is the identity.
type Conversion struct {
	Linear *Linear `json:"linear,omitempty" yaml:"linear,omitempty"`
}

// Linear converts x to x*Mul + Offset.
type Linear struct {
	Mul    float64 `json:"mul" yaml:"mul"`
	Offset float64 `json:"offset" yaml:"offset"`
}

// IsNone reports whether c leaves values unchanged.
func (c Conversion) IsNone() bool {
	return c.Linear == nil
}

// Apply converts x.
func (c Conversion) Apply(x float64) float64 {
	if c.Linear == nil {
		return x
	}
	return x*c.Linear.Mul + c.Linear.Offset
}

// Inverse undoes Apply. A linear conversion with Mul 0 has no inverse and
// is returned unchanged.
func (c Conversion) Inverse() Conversion {
	if c.Linear == nil || c.Linear.Mul == 0 {
		return c
	}
	return Conversion{Linear: &Linear{
		Mul:    1 / c.Linear.Mul,
		Offset: -c.Linear.Offset / c.Linear.Mul,
	}}
}

// ApplyString converts a provider value if it parses as a number; other
// values pass through unchanged.
func (c Conversion) ApplyString(value string) string {
	if c.Linear == nil {
		return value
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return value
	}
	return strconv.FormatFloat(c.Apply(x), 'f', -1, 64)
}

// String implements fmt.Stringer.
func (c Conversion) String() string {
	if c.Linear == nil {
		return "none"
	}
	return fmt.Sprintf("linear(mul=%g, offset=%g)", c.Linear.Mul, c.Linear.Offset)
}
