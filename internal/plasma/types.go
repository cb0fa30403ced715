package plasma

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// SolarRadius in km.
const SolarRadius = 6.957e5

// State is the plasma parcel at one instant.
type State struct {
	Time        float64 `json:"time"`
	Height      float64 `json:"height"`
	Velocity    float64 `json:"velocity"`
	LogDensity  float64 `json:"log_density"`
	Temperature float64 `json:"temperature"`
}

// Density returns the electron density in cm^-3.
func (s State) Density() float64 { return math.Pow(10, s.LogDensity) }

func (s State) LogTemperature() float64 { return math.Log10(s.Temperature) }

func (s State) IsValid() bool {
	for _, v := range []float64{s.Time, s.Height, s.Velocity, s.LogDensity, s.Temperature} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return s.Temperature > 0
}

// ChargeStates holds the ionization fractions of one element, indexed by
// charge (0 = neutral).
type ChargeStates []float64

func (c ChargeStates) Clone() ChargeStates {
	out := make(ChargeStates, len(c))
	copy(out, c)
	return out
}

func (c ChargeStates) Sum() float64 { return floats.Sum(c) }

func (c ChargeStates) IsValid() bool {
	for _, v := range c {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// L1 returns the L1 distance between two vectors of equal length.
func (c ChargeStates) L1(other ChargeStates) float64 {
	d := 0.0
	for i := range c {
		if i < len(other) {
			d += math.Abs(c[i] - other[i])
		} else {
			d += math.Abs(c[i])
		}
	}
	return d
}

// Normalize clamps negative entries to zero and rescales in place so the
// entries sum to one. It returns the total magnitude that was clamped.
func (c ChargeStates) Normalize() float64 {
	clamped := 0.0
	for i, v := range c {
		if v < 0 {
			clamped -= v
			c[i] = 0
		}
	}
	sum := c.Sum()
	if sum <= 0 {
		return clamped
	}
	floats.Scale(1/sum, c)
	return clamped
}

// MeanCharge returns the fraction-weighted average charge.
func (c ChargeStates) MeanCharge() float64 {
	q := 0.0
	for i, v := range c {
		q += float64(i) * v
	}
	return q
}
