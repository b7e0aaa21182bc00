// Package sizing converts risk configuration into a concrete trade volume.
package sizing

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSizing is returned when a sizer cannot produce a positive volume.
var ErrInvalidSizing = errors.New("invalid sizing")

// Sizer yields the volume for the next order. Implementations must return a
// positive finite volume or an error wrapping ErrInvalidSizing.
type Sizer interface {
	Volume() (float64, error)
}

// FixedLot sizes every order at a constant lot volume.
// Risk-based sizing (balance, stop distance) can replace it behind the same
// interface without touching callers.
type FixedLot struct {
	Lots float64
}

// NewFixedLot creates a fixed-lot sizer.
func NewFixedLot(lots float64) FixedLot {
	return FixedLot{Lots: lots}
}

func (f FixedLot) Volume() (float64, error) {
	if f.Lots <= 0 || math.IsNaN(f.Lots) || math.IsInf(f.Lots, 0) {
		return 0, fmt.Errorf("%w: lot size %v", ErrInvalidSizing, f.Lots)
	}
	return f.Lots, nil
}
