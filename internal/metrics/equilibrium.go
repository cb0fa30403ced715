package metrics

import (
	"math"

	"github.com/san-kum/cmeheat/internal/sim"
)

// EquilibriumDeparture is the largest L1 distance between any element's
// vector and the equilibrium at the local temperature. It grows as the
// plasma freezes in.
type EquilibriumDeparture struct {
	name string
	max  float64
	last float64
}

func NewEquilibriumDeparture() *EquilibriumDeparture {
	return &EquilibriumDeparture{name: "equilibrium_departure"}
}

func (e *EquilibriumDeparture) Name() string { return e.name }

func (e *EquilibriumDeparture) Observe(ev sim.StepEvent) {
	if ev.Store == nil {
		return
	}
	step := 0.0
	for sym, cs := range ev.ChargeStates {
		rec, ok := ev.Store.Record(sym)
		if !ok {
			continue
		}
		step = math.Max(step, cs.L1(rec.Equilibrium(ev.Bracket)))
	}
	e.last = step
	e.max = math.Max(e.max, step)
}

func (e *EquilibriumDeparture) Value() float64 { return e.max }

// Last is the departure at the most recent step.
func (e *EquilibriumDeparture) Last() float64 { return e.last }

func (e *EquilibriumDeparture) Reset() {
	e.max = 0
	e.last = 0
}
