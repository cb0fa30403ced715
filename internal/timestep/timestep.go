package timestep

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/cmeheat/internal/atomic"
	"github.com/san-kum/cmeheat/internal/plasma"
	"github.com/san-kum/cmeheat/internal/trajectory"
)

var (
	ErrNoStep     = errors.New("timestep: no valid step")
	ErrBadSetting = errors.New("timestep: invalid controller setting")
)

// Controller picks the next step size from the current plasma state, the
// evolving charge-state vectors and the atomic data.
type Controller interface {
	Next(s plasma.State, charges map[string]plasma.ChargeStates, store *atomic.Store) (float64, error)
}

// Fixed always returns Dt. It ignores stiffness and temperature change, so
// it is only suitable for comparison runs with a small enough Dt.
type Fixed struct {
	Dt float64
}

func (f Fixed) Next(plasma.State, map[string]plasma.ChargeStates, *atomic.Store) (float64, error) {
	if !(f.Dt > 0) || math.IsInf(f.Dt, 0) {
		return 0, fmt.Errorf("%w: fixed dt %g", ErrBadSetting, f.Dt)
	}
	return f.Dt, nil
}

const maxHalvings = 60

// Adaptive bounds each step by four limits and takes the smallest:
//
//   - Budget, the travel-time share of one step
//   - MaxGrowth times the previous step
//   - StiffnessThreshold e-folds of the fastest eigenmode
//   - the step over which log10 T changes by at most MaxDeltaLogT
//
// The result is then raised to at least MinDt, capped at Budget.
type Adaptive struct {
	Model  trajectory.Model
	Budget float64

	MinDt              float64
	MaxGrowth          float64
	StiffnessThreshold float64
	// MaxDeltaLogT of zero means one grid spacing of the store.
	MaxDeltaLogT    float64
	DensityWeighted bool

	prev float64
}

func NewAdaptive(model trajectory.Model, budget float64) *Adaptive {
	return &Adaptive{
		Model:              model,
		Budget:             budget,
		MinDt:              1e-3,
		MaxGrowth:          2.0,
		StiffnessThreshold: 10,
		DensityWeighted:    true,
	}
}

func (a *Adaptive) validate() error {
	switch {
	case a.Model == nil:
		return fmt.Errorf("%w: no trajectory model", ErrBadSetting)
	case !(a.Budget > 0) || math.IsInf(a.Budget, 0):
		return fmt.Errorf("%w: budget %g", ErrBadSetting, a.Budget)
	case !(a.MinDt > 0):
		return fmt.Errorf("%w: min dt %g", ErrBadSetting, a.MinDt)
	case a.MaxGrowth < 1:
		return fmt.Errorf("%w: max growth %g", ErrBadSetting, a.MaxGrowth)
	case !(a.StiffnessThreshold > 0):
		return fmt.Errorf("%w: stiffness threshold %g", ErrBadSetting, a.StiffnessThreshold)
	case a.MaxDeltaLogT < 0:
		return fmt.Errorf("%w: max delta log T %g", ErrBadSetting, a.MaxDeltaLogT)
	}
	return nil
}

func (a *Adaptive) Next(s plasma.State, charges map[string]plasma.ChargeStates, store *atomic.Store) (float64, error) {
	if err := a.validate(); err != nil {
		return 0, err
	}
	if !s.IsValid() {
		return 0, fmt.Errorf("%w: invalid plasma state at t=%g", ErrNoStep, s.Time)
	}

	dt := a.Budget
	if a.prev > 0 {
		dt = math.Min(dt, a.MaxGrowth*a.prev)
	}

	if store != nil {
		b := store.Locate(s.Temperature)
		rate := maxRate(store, b, charges)
		if a.DensityWeighted {
			rate *= s.Density()
		}
		if rate > 0 {
			dt = math.Min(dt, a.StiffnessThreshold/rate)
		}
	}

	dt = a.limitTemperatureChange(s, dt, store)
	// The floor never lifts dt above the budget.
	dt = math.Max(dt, math.Min(a.MinDt, a.Budget))

	if math.IsNaN(dt) || math.IsInf(dt, 0) {
		return 0, fmt.Errorf("%w: dt=%g at t=%g", ErrNoStep, dt, s.Time)
	}
	a.prev = dt
	return dt, nil
}

// Reset forgets the previous step so growth is unbounded on the next call.
func (a *Adaptive) Reset() { a.prev = 0 }

func (a *Adaptive) limitTemperatureChange(s plasma.State, dt float64, store *atomic.Store) float64 {
	limit := a.MaxDeltaLogT
	if limit == 0 && store != nil {
		limit = store.GridSpacing()
	}
	if limit <= 0 {
		return dt
	}

	logT := s.LogTemperature()
	for i := 0; i < maxHalvings && dt > a.MinDt; i++ {
		trial := a.Model.At(s.Time + dt)
		if math.Abs(trial.LogTemperature()-logT) <= limit {
			break
		}
		dt *= 0.5
	}
	return dt
}

// maxRate is the fastest eigenmode of the evolving elements, or of the whole
// store when charges is empty.
func maxRate(store *atomic.Store, b atomic.Bracket, charges map[string]plasma.ChargeStates) float64 {
	if len(charges) == 0 {
		return store.MaxRate(b)
	}
	rate := 0.0
	for sym := range charges {
		if rec, ok := store.Record(sym); ok {
			rate = math.Max(rate, rec.MaxRate(b))
		}
	}
	return rate
}
