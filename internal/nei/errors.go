package nei

import (
	"errors"
	"fmt"
)

var (
	ErrNumericalInstability = errors.New("nei: numerical instability")
	ErrStateLength          = errors.New("nei: charge-state vector length mismatch")
	ErrExposure             = errors.New("nei: exposure must be finite and non-negative")
)

// NumericalInstabilityError is returned when a propagated vector goes
// negative by more than the tolerance. Halving the step usually cures it.
type NumericalInstabilityError struct {
	Element   string
	Clamped   float64
	Tolerance float64
	Exposure  float64
}

func (e *NumericalInstabilityError) Error() string {
	return fmt.Sprintf("nei: %s: clamped %.3g of negative population (tolerance %.1g, exposure %.3g)",
		e.Element, e.Clamped, e.Tolerance, e.Exposure)
}

func (e *NumericalInstabilityError) Is(target error) bool {
	return target == ErrNumericalInstability
}
