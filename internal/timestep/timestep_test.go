package timestep

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/cmeheat/internal/atomic"
	"github.com/san-kum/cmeheat/internal/atomic/atomictest"
	"github.com/san-kum/cmeheat/internal/plasma"
	"github.com/san-kum/cmeheat/internal/trajectory"
)

// constant is a trajectory frozen at one state.
type constant struct{ s plasma.State }

func (c constant) At(t float64) plasma.State {
	s := c.s
	s.Time = t
	return s
}

func newStore(t *testing.T) *atomic.Store {
	t.Helper()
	st, err := atomictest.Store(atomictest.Grid(5.5, 6.5, 11), "H", "He", "C")
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestFixed(t *testing.T) {
	dt, err := Fixed{Dt: 2.5}.Next(plasma.State{}, nil, nil)
	if err != nil || dt != 2.5 {
		t.Errorf("expected 2.5, got %v (%v)", dt, err)
	}
	if _, err := (Fixed{}).Next(plasma.State{}, nil, nil); !errors.Is(err, ErrBadSetting) {
		t.Errorf("expected ErrBadSetting, got %v", err)
	}
}

func TestAdaptive_BudgetAndGrowth(t *testing.T) {
	s := plasma.State{Height: 1, LogDensity: 2, Temperature: 1e6}
	a := NewAdaptive(constant{s}, 100)
	a.StiffnessThreshold = 1e12

	a.prev = 10
	dt, err := a.Next(s, nil, newStore(t))
	if err != nil {
		t.Fatal(err)
	}
	if dt != 20 {
		t.Errorf("expected growth-limited 20, got %v", dt)
	}

	a.Reset()
	dt, _ = a.Next(s, nil, newStore(t))
	if dt != 100 {
		t.Errorf("expected budget 100, got %v", dt)
	}
}

func TestAdaptive_StiffnessLimit(t *testing.T) {
	st := newStore(t)
	s := plasma.State{Height: 1, LogDensity: 10, Temperature: 1e6}

	a := NewAdaptive(constant{s}, 1e6)
	dt, err := a.Next(s, nil, st)
	if err != nil {
		t.Fatal(err)
	}

	rate := st.MaxRate(st.Locate(s.Temperature)) * s.Density()
	want := a.StiffnessThreshold / rate
	if math.Abs(dt-want) > 1e-12*want {
		t.Errorf("expected %v, got %v", want, dt)
	}

	// only the elements being evolved count
	a.Reset()
	hOnly := map[string]plasma.ChargeStates{"H": {1, 0}}
	dtH, _ := a.Next(s, hOnly, st)
	if dtH < dt {
		t.Errorf("H-only step %v smaller than all-element step %v", dtH, dt)
	}

	a.Reset()
	a.DensityWeighted = false
	dtRaw, _ := a.Next(s, nil, st)
	if dtRaw <= dt {
		t.Errorf("unweighted step %v should exceed weighted step %v", dtRaw, dt)
	}
}

func TestAdaptive_TemperatureLimit(t *testing.T) {
	p := trajectory.DefaultParams()
	parcel, err := trajectory.New(p)
	if err != nil {
		t.Fatal(err)
	}
	s := parcel.At(3000)

	a := NewAdaptive(parcel, 1e5)
	a.StiffnessThreshold = 1e12
	a.MaxDeltaLogT = 0.01

	dt, err := a.Next(s, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if dt >= 1e5 {
		t.Fatalf("expected temperature limit to shrink the step, got %v", dt)
	}
	change := math.Abs(parcel.At(s.Time+dt).LogTemperature() - s.LogTemperature())
	if change > a.MaxDeltaLogT {
		t.Errorf("log T changes by %v over the step, limit %v", change, a.MaxDeltaLogT)
	}
}

func TestAdaptive_MinDt(t *testing.T) {
	s := plasma.State{Height: 1, LogDensity: 30, Temperature: 1e6}
	a := NewAdaptive(constant{s}, 100)
	a.MinDt = 0.5

	dt, err := a.Next(s, nil, newStore(t))
	if err != nil {
		t.Fatal(err)
	}
	if dt != 0.5 {
		t.Errorf("expected floor 0.5, got %v", dt)
	}
}

func TestAdaptive_MinDtBelowBudget(t *testing.T) {
	parcel, err := trajectory.New(trajectory.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	a := NewAdaptive(parcel, 1e-4)

	dt, err := a.Next(parcel.At(0), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if dt > a.Budget {
		t.Errorf("dt %v exceeds budget %v (min dt %v)", dt, a.Budget, a.MinDt)
	}
	if dt != 1e-4 {
		t.Errorf("expected the floor to settle on the budget, got %v", dt)
	}
}

func TestAdaptive_InvalidSettings(t *testing.T) {
	s := plasma.State{Height: 1, LogDensity: 9, Temperature: 1e6}

	tests := []struct {
		name   string
		modify func(a *Adaptive)
	}{
		{"no model", func(a *Adaptive) { a.Model = nil }},
		{"zero budget", func(a *Adaptive) { a.Budget = 0 }},
		{"zero min dt", func(a *Adaptive) { a.MinDt = 0 }},
		{"shrinking growth", func(a *Adaptive) { a.MaxGrowth = 0.5 }},
		{"negative delta", func(a *Adaptive) { a.MaxDeltaLogT = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdaptive(constant{s}, 10)
			tt.modify(a)
			if _, err := a.Next(s, nil, nil); !errors.Is(err, ErrBadSetting) {
				t.Errorf("expected ErrBadSetting, got %v", err)
			}
		})
	}

	a := NewAdaptive(constant{s}, 10)
	if _, err := a.Next(plasma.State{Temperature: -1}, nil, nil); !errors.Is(err, ErrNoStep) {
		t.Errorf("expected ErrNoStep for invalid state, got %v", err)
	}
}
