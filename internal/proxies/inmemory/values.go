package inmemory

import (
	"errors"
	"fmt"
	"math"
)

// Stepwise describes a ramp from Start towards End in increments of Delta.
// The ramp holds at End once reached.
type Stepwise struct {
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
	Delta float64 `yaml:"delta"`
}

// Values is the value sequence for one simulated sensor. Exactly one of
// Static or Stepwise is set.
type Values struct {
	Static   *float64  `yaml:"static,omitempty"`
	Stepwise *Stepwise `yaml:"stepwise,omitempty"`
}

// Validate checks that exactly one sequence kind is configured.
func (v Values) Validate() error {
	switch {
	case v.Static != nil && v.Stepwise != nil:
		return errors.New("static and stepwise are mutually exclusive")
	case v.Static == nil && v.Stepwise == nil:
		return errors.New("one of static or stepwise is required")
	case v.Stepwise != nil && v.Stepwise.Delta == 0:
		return errors.New("stepwise delta must be non-zero")
	case v.Stepwise != nil && math.Signbit(v.Stepwise.End-v.Stepwise.Start) != math.Signbit(v.Stepwise.Delta) && v.Stepwise.End != v.Stepwise.Start:
		return fmt.Errorf("stepwise delta %g moves away from end %g", v.Stepwise.Delta, v.Stepwise.End)
	}
	return nil
}

// Nth returns the value for the n-th generation (zero based).
func (v Values) Nth(n uint64) float64 {
	if v.Static != nil {
		return *v.Static
	}

	s := v.Stepwise
	next := s.Start + float64(n)*s.Delta
	if s.Delta > 0 && next > s.End {
		return s.End
	}
	if s.Delta < 0 && next < s.End {
		return s.End
	}
	return next
}
