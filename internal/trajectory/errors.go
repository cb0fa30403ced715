package trajectory

import (
	"errors"
	"fmt"
)

var (
	// ErrDomain matches every invalid trajectory parameter.
	ErrDomain = errors.New("trajectory: parameter outside valid domain")

	// ErrUnreachable means the parcel never reaches the requested height.
	ErrUnreachable = errors.New("trajectory: height not reachable")
)

// DomainError reports the offending parameter.
type DomainError struct {
	Param  string
	Value  float64
	Reason string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("trajectory: %s = %g: %s", e.Param, e.Value, e.Reason)
}

func (e *DomainError) Is(target error) bool { return target == ErrDomain }
