package plasma

import (
	"math"
	"testing"
)

func TestChargeStates_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		state ChargeStates
		valid bool
	}{
		{"empty", ChargeStates{}, true},
		{"normal", ChargeStates{0.2, 0.8}, true},
		{"with NaN", ChargeStates{1.0, math.NaN()}, false},
		{"with +Inf", ChargeStates{1.0, math.Inf(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestChargeStates_Normalize(t *testing.T) {
	c := ChargeStates{0.5, -0.01, 1.5}
	clamped := c.Normalize()

	if math.Abs(clamped-0.01) > 1e-15 {
		t.Errorf("clamped = %v, want 0.01", clamped)
	}
	if c[1] != 0 {
		t.Errorf("negative entry not clamped: %v", c)
	}
	if math.Abs(c.Sum()-1) > 1e-15 {
		t.Errorf("sum = %v, want 1", c.Sum())
	}
	if math.Abs(c[0]-0.25) > 1e-15 {
		t.Errorf("c[0] = %v, want 0.25", c[0])
	}
}

func TestChargeStates_CloneIndependent(t *testing.T) {
	src := ChargeStates{0.1, 0.9}
	dst := src.Clone()
	dst[0] = 99
	if src[0] == 99 {
		t.Error("Clone did not create independent copy")
	}
}

func TestChargeStates_MeanCharge(t *testing.T) {
	c := ChargeStates{0.25, 0.5, 0.25}
	if got := c.MeanCharge(); math.Abs(got-1.0) > 1e-15 {
		t.Errorf("MeanCharge = %v, want 1", got)
	}
}

func TestState_Density(t *testing.T) {
	s := State{LogDensity: 9, Temperature: 1e6}
	if math.Abs(s.Density()-1e9) > 1 {
		t.Errorf("Density = %v, want 1e9", s.Density())
	}
	if math.Abs(s.LogTemperature()-6) > 1e-12 {
		t.Errorf("LogTemperature = %v, want 6", s.LogTemperature())
	}
	if !s.IsValid() {
		t.Error("expected valid state")
	}
	if (State{Temperature: 0}).IsValid() {
		t.Error("zero temperature should be invalid")
	}
}

func TestElementTable(t *testing.T) {
	tests := []struct {
		symbol string
		states int
	}{
		{"H", 2},
		{"He", 3},
		{"fe", 27},
		{"O", 9},
	}
	for _, tt := range tests {
		n, err := DefaultElements.NumStates(tt.symbol)
		if err != nil {
			t.Fatalf("%s: %v", tt.symbol, err)
		}
		if n != tt.states {
			t.Errorf("%s: got %d states, want %d", tt.symbol, n, tt.states)
		}
	}

	if _, err := DefaultElements.AtomicNumber("Xx"); err == nil {
		t.Error("expected error for unknown symbol")
	}
}
