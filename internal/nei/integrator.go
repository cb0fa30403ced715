// Package nei advances charge-state vectors through the eigenbasis of the
// tabulated rate matrices.
//
// For a rate matrix A = V diag(λ) V⁻¹ the exact solution of dn/dt = A n over
// an exposure τ is n(τ) = V diag(exp(λτ)) V⁻¹ n(0), so each step costs two
// matrix-vector products per element regardless of stiffness.
package nei

import (
	"fmt"
	"math"
	"runtime"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/cmeheat/internal/atomic"
	"github.com/san-kum/cmeheat/internal/plasma"
)

// Lookup selects how an off-grid temperature uses the table.
type Lookup int

const (
	// Interpolate propagates with both bracketing grid points and blends the
	// results in log T.
	Interpolate Lookup = iota
	// Nearest propagates with the nearest grid point only.
	Nearest
)

func (l Lookup) String() string {
	switch l {
	case Interpolate:
		return "interpolate"
	case Nearest:
		return "nearest"
	}
	return fmt.Sprintf("lookup(%d)", int(l))
}

func ParseLookup(s string) (Lookup, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "interpolate", "linear":
		return Interpolate, nil
	case "nearest":
		return Nearest, nil
	}
	return 0, fmt.Errorf("nei: unknown lookup %q", s)
}

const DefaultNegativeTolerance = 1e-6

type Integrator struct {
	Lookup            Lookup
	NegativeTolerance float64
	// DensityWeighted multiplies dt by the electron density, for tables whose
	// eigenvalues are rate coefficients in cm^3 s^-1.
	DensityWeighted bool
	// Workers bounds the per-element goroutines of Step.
	Workers int

	scratch pools
}

func New() *Integrator {
	return &Integrator{
		Lookup:            Interpolate,
		NegativeTolerance: DefaultNegativeTolerance,
		DensityWeighted:   true,
		Workers:           runtime.NumCPU(),
	}
}

// Exposure converts a time step into the eigenvalue multiplier.
func (in *Integrator) Exposure(dt, density float64) float64 {
	if in.DensityWeighted {
		return dt * density
	}
	return dt
}

// Advance propagates one element's vector by exposure at the bracketed
// temperature. The input is not modified. The result sums to one.
func (in *Integrator) Advance(rec *atomic.Record, b atomic.Bracket, state plasma.ChargeStates, exposure float64) (plasma.ChargeStates, error) {
	ns := rec.NumStates
	if len(state) != ns {
		return nil, fmt.Errorf("%w: %s has %d states, got %d", ErrStateLength, rec.Symbol, ns, len(state))
	}
	if exposure < 0 || math.IsNaN(exposure) || math.IsInf(exposure, 0) {
		return nil, fmt.Errorf("%w: %g", ErrExposure, exposure)
	}

	out := make(plasma.ChargeStates, ns)
	switch {
	case in.Lookup == Nearest:
		in.propagate(rec.Eigen(b.Nearest()), state, exposure, out)
	case b.Lower == b.Upper || b.Weight == 0:
		in.propagate(rec.Eigen(b.Lower), state, exposure, out)
	default:
		bp := in.scratch.get(ns)
		hi := bp.Get()
		in.propagate(rec.Eigen(b.Lower), state, exposure, out)
		in.propagate(rec.Eigen(b.Upper), state, exposure, hi)
		for i := range out {
			out[i] = (1-b.Weight)*out[i] + b.Weight*hi[i]
		}
		bp.Put(hi)
	}

	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &NumericalInstabilityError{Element: rec.Symbol, Clamped: math.Inf(1), Tolerance: in.tolerance(), Exposure: exposure}
		}
	}
	clamped := out.Normalize()
	if clamped > in.tolerance() || out.Sum() == 0 {
		return nil, &NumericalInstabilityError{Element: rec.Symbol, Clamped: clamped, Tolerance: in.tolerance(), Exposure: exposure}
	}
	return out, nil
}

func (in *Integrator) tolerance() float64 {
	if in.NegativeTolerance > 0 {
		return in.NegativeTolerance
	}
	return DefaultNegativeTolerance
}

// propagate writes V diag(exp(λτ)) V⁻¹ state into dst.
func (in *Integrator) propagate(es *atomic.Eigensystem, state []float64, exposure float64, dst []float64) {
	ns := len(state)
	bp := in.scratch.get(ns)
	buf := bp.Get()
	defer bp.Put(buf)

	coeffs := mat.NewVecDense(ns, buf)
	coeffs.MulVec(es.Inverse, mat.NewVecDense(ns, state))
	for i, lambda := range es.Values {
		buf[i] *= math.Exp(lambda * exposure)
	}
	mat.NewVecDense(ns, dst).MulVec(es.Vectors, coeffs)
}
