package metrics

import (
	"math"

	"github.com/san-kum/cmeheat/internal/sim"
)

// ConservationDrift tracks the largest |sum - 1| of any charge-state vector
// after a step.
type ConservationDrift struct {
	name     string
	maxDrift float64
}

func NewConservationDrift() *ConservationDrift {
	return &ConservationDrift{name: "conservation_drift"}
}

func (c *ConservationDrift) Name() string { return c.name }

func (c *ConservationDrift) Observe(ev sim.StepEvent) {
	for _, cs := range ev.ChargeStates {
		c.maxDrift = math.Max(c.maxDrift, math.Abs(cs.Sum()-1))
	}
}

func (c *ConservationDrift) Value() float64 { return c.maxDrift }

func (c *ConservationDrift) Reset() {
	c.maxDrift = 0
}
