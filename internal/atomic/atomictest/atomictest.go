// Package atomictest builds small, self-consistent eigen tables for tests.
//
// The rate matrix of a single element is tridiagonal: ionization moves
// population up one charge state, recombination moves it down one. Such a
// matrix is similar to a symmetric one, so it is diagonalised exactly with
// mat.EigenSym and mapped back. Tables are only well conditioned over a few
// decades of temperature; keep fixture grids narrow for heavy elements.
package atomictest

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/cmeheat/internal/atomic"
	"github.com/san-kum/cmeheat/internal/plasma"
)

// RateFunc returns ionization (i -> i+1) and recombination (i -> i-1) rate
// coefficients in cm^3 s^-1, each of length z+1.
type RateFunc func(z int, T float64) (ion, rec []float64)

// DefaultRates is a smooth toy model: ionization grows with temperature,
// recombination falls with it.
func DefaultRates(z int, T float64) (ion, rec []float64) {
	t6 := T / 1e6
	ion = make([]float64, z+1)
	rec = make([]float64, z+1)
	for i := 0; i < z; i++ {
		ion[i] = 1e-11 * math.Sqrt(t6) * math.Exp(-0.2*float64(i+1)/t6)
	}
	for i := 1; i <= z; i++ {
		rec[i] = 1e-12 * float64(i) * math.Pow(t6, -0.7)
	}
	return ion, rec
}

// Grid returns n log-uniform temperatures between 10^logMin and 10^logMax.
func Grid(logMin, logMax float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		frac := 0.0
		if n > 1 {
			frac = float64(i) / float64(n-1)
		}
		out[i] = math.Pow(10, logMin+frac*(logMax-logMin))
	}
	return out
}

// Build diagonalises the rate matrix of symbol at every grid temperature.
func Build(symbol string, temps []float64, rates RateFunc) (*atomic.Record, error) {
	z, err := plasma.DefaultElements.AtomicNumber(symbol)
	if err != nil {
		return nil, err
	}
	if rates == nil {
		rates = DefaultRates
	}
	ns := z + 1

	d := atomic.RecordData{
		Symbol:         symbol,
		AtomicNumber:   z,
		HeaderElements: len(plasma.DefaultElements),
		Temperatures:   append([]float64(nil), temps...),
	}

	for _, T := range temps {
		ion, rec := rates(z, T)
		vals, vecs, inv, err := diagonalise(ion, rec)
		if err != nil {
			return nil, fmt.Errorf("%s at T=%g: %w", symbol, T, err)
		}
		d.Equilibrium = append(d.Equilibrium, equilibrium(ion, rec))
		d.Eigenvalues = append(d.Eigenvalues, vals)
		d.Eigenvectors = append(d.Eigenvectors, vecs)
		d.Inverses = append(d.Inverses, inv)
		d.Ionization = append(d.Ionization, ion)
		d.Recombination = append(d.Recombination, rec)
	}
	if len(d.Equilibrium) > 0 && len(d.Equilibrium[0]) != ns {
		return nil, fmt.Errorf("%s: rate function returned %d states, want %d", symbol, len(d.Equilibrium[0]), ns)
	}

	return atomic.NewRecord(d)
}

// Store builds an in-memory store for the given elements on one grid.
func Store(temps []float64, symbols ...string) (*atomic.Store, error) {
	recs := make([]*atomic.Record, 0, len(symbols))
	for _, sym := range symbols {
		rec, err := Build(sym, temps, nil)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return atomic.NewStore(recs...)
}

// WriteDir writes one eigen file per element into dir.
func WriteDir(dir string, temps []float64, symbols ...string) error {
	for _, sym := range symbols {
		rec, err := Build(sym, temps, nil)
		if err != nil {
			return err
		}
		if _, err := atomic.WriteFile(dir, rec); err != nil {
			return err
		}
	}
	return nil
}

// RateMatrix is the dense rate matrix A with dn/dt = n_e A n.
func RateMatrix(ion, rec []float64) *mat.Dense {
	ns := len(ion)
	a := mat.NewDense(ns, ns, nil)
	for i := 0; i < ns; i++ {
		a.Set(i, i, -(ion[i] + rec[i]))
		if i > 0 {
			a.Set(i, i-1, ion[i-1])
		}
		if i < ns-1 {
			a.Set(i, i+1, rec[i+1])
		}
	}
	return a
}

func diagonalise(ion, rec []float64) ([]float64, *mat.Dense, *mat.Dense, error) {
	ns := len(ion)

	// D^-1 A D is symmetric for d[i+1]/d[i] = sqrt(ion[i]/rec[i+1]).
	logd := make([]float64, ns)
	for i := 0; i < ns-1; i++ {
		if ion[i] <= 0 || rec[i+1] <= 0 {
			return nil, nil, nil, fmt.Errorf("rates between states %d and %d must be positive", i, i+1)
		}
		logd[i+1] = logd[i] + 0.5*(math.Log(ion[i])-math.Log(rec[i+1]))
	}
	dvec := make([]float64, ns)
	for i, l := range logd {
		dvec[i] = math.Exp(l)
	}

	sym := mat.NewSymDense(ns, nil)
	for i := 0; i < ns; i++ {
		sym.SetSym(i, i, -(ion[i] + rec[i]))
		if i < ns-1 {
			sym.SetSym(i, i+1, math.Sqrt(ion[i]*rec[i+1]))
		}
	}

	var es mat.EigenSym
	if ok := es.Factorize(sym, true); !ok {
		return nil, nil, nil, fmt.Errorf("eigen decomposition did not converge")
	}
	vals := es.Values(nil)
	for i, v := range vals {
		// The zero mode comes back with rounding noise of either sign.
		if v > 0 {
			vals[i] = 0
		}
	}
	var q mat.Dense
	es.VectorsTo(&q)

	// V = D Q with unit L1 columns; V^-1 = C^-1 Q^T D^-1 for the same scaling C.
	vecs := mat.NewDense(ns, ns, nil)
	inv := mat.NewDense(ns, ns, nil)
	for j := 0; j < ns; j++ {
		norm := 0.0
		for i := 0; i < ns; i++ {
			norm += math.Abs(dvec[i] * q.At(i, j))
		}
		for i := 0; i < ns; i++ {
			vecs.Set(i, j, dvec[i]*q.At(i, j)/norm)
			inv.Set(j, i, q.At(i, j)/dvec[i]*norm)
		}
	}
	return vals, vecs, inv, nil
}

// equilibrium solves the detailed balance n[i+1]/n[i] = ion[i]/rec[i+1].
func equilibrium(ion, rec []float64) []float64 {
	ns := len(ion)
	logn := make([]float64, ns)
	maxLog := 0.0
	for i := 0; i < ns-1; i++ {
		logn[i+1] = logn[i] + math.Log(ion[i]) - math.Log(rec[i+1])
		maxLog = math.Max(maxLog, logn[i+1])
	}
	out := make(plasma.ChargeStates, ns)
	for i, l := range logn {
		out[i] = math.Exp(l - maxLog)
	}
	out.Normalize()
	return out
}
