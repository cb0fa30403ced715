package sim

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownPolicy = errors.New("sim: unknown timestep policy")
	ErrNotConverged  = errors.New("sim: step failed after retry")
)

// Components named in RunError.
const (
	ComponentAtomic     = "atomic"
	ComponentTrajectory = "trajectory"
	ComponentTimestep   = "timestep"
	ComponentNEI        = "nei"
	ComponentSim        = "sim"
)

// RunError records where a run failed. It unwraps to the cause.
type RunError struct {
	Phase     Phase
	Component string
	Step      int
	Time      float64
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s failed while %s at step %d (t=%.4f): %v", e.Component, e.Phase, e.Step, e.Time, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
