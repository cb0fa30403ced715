package atomic

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/cmeheat/internal/plasma"
)

// positiveEigenTolerance is the largest eigenvalue, relative to the fastest
// rate at the same temperature, still treated as the zero (equilibrium) mode.
const positiveEigenTolerance = 1e-6

// Eigensystem is the diagonalised rate matrix at one temperature. Columns of
// Vectors are the eigenvectors; Inverse is its matrix inverse.
type Eigensystem struct {
	Values  []float64
	Vectors *mat.Dense
	Inverse *mat.Dense
	// MaxRate is the largest eigenvalue magnitude.
	MaxRate float64
}

// Record is the eigen table of a single element over the shared temperature
// grid.
type Record struct {
	Symbol       string
	AtomicNumber int
	NumStates    int
	// HeaderElements is the element count written in the file header.
	HeaderElements int
	Temperatures   []float64

	equilibrium   [][]float64
	eigen         []Eigensystem
	ionization    [][]float64
	recombination [][]float64
}

// RecordData is the raw, per-temperature content of a record, used to build
// records in memory.
type RecordData struct {
	Symbol         string
	AtomicNumber   int
	HeaderElements int
	Temperatures   []float64
	// Equilibrium, Eigenvalues, Ionization and Recombination are [temperature][state].
	Equilibrium   [][]float64
	Eigenvalues   [][]float64
	Ionization    [][]float64
	Recombination [][]float64
	// Eigenvectors and Inverses are [temperature] matrices of size states x states.
	Eigenvectors []*mat.Dense
	Inverses     []*mat.Dense
}

// NewRecord validates raw table data and builds a Record.
func NewRecord(d RecordData) (*Record, error) {
	nte := len(d.Temperatures)
	ns := d.AtomicNumber + 1
	if nte == 0 {
		return nil, fmt.Errorf("%w: empty temperature grid", ErrMalformedRecord)
	}
	if err := checkGrid(d.Temperatures); err != nil {
		return nil, err
	}
	for name, tbl := range map[string][][]float64{
		"equilibrium":   d.Equilibrium,
		"eigenvalues":   d.Eigenvalues,
		"ionization":    d.Ionization,
		"recombination": d.Recombination,
	} {
		if len(tbl) != nte {
			return nil, fmt.Errorf("%w: %s has %d temperatures, want %d", ErrStateCount, name, len(tbl), nte)
		}
		for i, row := range tbl {
			if len(row) != ns {
				return nil, fmt.Errorf("%w: %s[%d] has %d states, want %d", ErrStateCount, name, i, len(row), ns)
			}
			if !finite(row) {
				return nil, fmt.Errorf("%w: %s[%d] contains non-finite values", ErrMalformedRecord, name, i)
			}
		}
	}
	if len(d.Eigenvectors) != nte || len(d.Inverses) != nte {
		return nil, fmt.Errorf("%w: eigenvector tables cover %d/%d temperatures, want %d",
			ErrStateCount, len(d.Eigenvectors), len(d.Inverses), nte)
	}

	rec := &Record{
		Symbol:         d.Symbol,
		AtomicNumber:   d.AtomicNumber,
		NumStates:      ns,
		HeaderElements: d.HeaderElements,
		Temperatures:   append([]float64(nil), d.Temperatures...),
		equilibrium:    d.Equilibrium,
		ionization:     d.Ionization,
		recombination:  d.Recombination,
		eigen:          make([]Eigensystem, nte),
	}

	for i := 0; i < nte; i++ {
		for _, m := range []*mat.Dense{d.Eigenvectors[i], d.Inverses[i]} {
			r, c := m.Dims()
			if r != ns || c != ns {
				return nil, fmt.Errorf("%w: eigenvector matrix %d is %dx%d, want %dx%d", ErrStateCount, i, r, c, ns, ns)
			}
			if !finite(m.RawMatrix().Data) {
				return nil, fmt.Errorf("%w: eigenvector matrix %d contains non-finite values", ErrMalformedRecord, i)
			}
		}

		vals := d.Eigenvalues[i]
		maxRate := 0.0
		for _, v := range vals {
			maxRate = math.Max(maxRate, math.Abs(v))
		}
		for j, v := range vals {
			if v > positiveEigenTolerance*maxRate {
				return nil, fmt.Errorf("%w: eigenvalue %d at T=%g is %g", ErrPositiveEigenvalue, j, d.Temperatures[i], v)
			}
		}

		rec.eigen[i] = Eigensystem{
			Values:  vals,
			Vectors: d.Eigenvectors[i],
			Inverse: d.Inverses[i],
			MaxRate: maxRate,
		}
	}

	return rec, nil
}

// Eigen returns the eigensystem at grid index i. It must not be modified.
func (r *Record) Eigen(i int) *Eigensystem { return &r.eigen[i] }

func (r *Record) EquilibriumAt(i int) plasma.ChargeStates {
	return plasma.ChargeStates(r.equilibrium[i]).Clone()
}

// Equilibrium blends the tabulated equilibrium vectors of the bracket in
// log temperature and renormalises the result.
func (r *Record) Equilibrium(b Bracket) plasma.ChargeStates {
	out := make(plasma.ChargeStates, r.NumStates)
	lo, hi := r.equilibrium[b.Lower], r.equilibrium[b.Upper]
	for i := range out {
		out[i] = (1-b.Weight)*lo[i] + b.Weight*hi[i]
	}
	out.Normalize()
	return out
}

// MaxRate is the fastest eigenmode over both ends of the bracket.
func (r *Record) MaxRate(b Bracket) float64 {
	return math.Max(r.eigen[b.Lower].MaxRate, r.eigen[b.Upper].MaxRate)
}

func (r *Record) IonizationRates(i int) []float64 {
	return append([]float64(nil), r.ionization[i]...)
}

func (r *Record) RecombinationRates(i int) []float64 {
	return append([]float64(nil), r.recombination[i]...)
}

// Decode reads one element file in the eigen table layout. The atomic number
// fixes the expected number of states; the header's grid size fixes the rest.
func Decode(r io.Reader, order binary.ByteOrder, symbol string, atomicNumber int) (*Record, error) {
	rr := newRecordReader(r, order)
	ns := atomicNumber + 1

	header, err := rr.int32s()
	if err != nil {
		return nil, err
	}
	if len(header) != 2 {
		return nil, fmt.Errorf("%w: header holds %d integers, want 2", ErrMalformedRecord, len(header))
	}
	nte, nelems := int(header[0]), int(header[1])
	if nte <= 0 {
		return nil, fmt.Errorf("%w: temperature count %d", ErrMalformedRecord, nte)
	}

	temps, err := rr.float64s(nte)
	if err != nil {
		return nil, err
	}

	vectors := func() ([][]float64, error) {
		flat, err := rr.float64s(nte * ns)
		if err != nil {
			return nil, err
		}
		return rows(flat, nte, ns), nil
	}
	matrices := func() ([]*mat.Dense, error) {
		flat, err := rr.float64s(nte * ns * ns)
		if err != nil {
			return nil, err
		}
		out := make([]*mat.Dense, nte)
		for t := 0; t < nte; t++ {
			slab := flat[t*ns*ns : (t+1)*ns*ns]
			// Each run of ns values is one column.
			m := mat.NewDense(ns, ns, nil)
			m.CloneFrom(mat.NewDense(ns, ns, slab).T())
			out[t] = m
		}
		return out, nil
	}

	d := RecordData{
		Symbol:         symbol,
		AtomicNumber:   atomicNumber,
		HeaderElements: nelems,
		Temperatures:   temps,
	}
	if d.Equilibrium, err = vectors(); err != nil {
		return nil, fmt.Errorf("equilibrium: %w", err)
	}
	if d.Eigenvalues, err = vectors(); err != nil {
		return nil, fmt.Errorf("eigenvalues: %w", err)
	}
	if d.Eigenvectors, err = matrices(); err != nil {
		return nil, fmt.Errorf("eigenvectors: %w", err)
	}
	if d.Inverses, err = matrices(); err != nil {
		return nil, fmt.Errorf("eigenvector inverse: %w", err)
	}
	if d.Ionization, err = vectors(); err != nil {
		return nil, fmt.Errorf("ionization rates: %w", err)
	}
	if d.Recombination, err = vectors(); err != nil {
		return nil, fmt.Errorf("recombination rates: %w", err)
	}

	return NewRecord(d)
}

// Encode writes a record in the layout Decode reads.
func Encode(w io.Writer, order binary.ByteOrder, rec *Record) error {
	rw := &recordWriter{w: w, order: order}
	nte, ns := len(rec.Temperatures), rec.NumStates

	if err := rw.int32s(int32(nte), int32(rec.HeaderElements)); err != nil {
		return err
	}
	if err := rw.float64s(rec.Temperatures); err != nil {
		return err
	}

	flatten := func(tbl [][]float64) []float64 {
		out := make([]float64, 0, nte*ns)
		for _, row := range tbl {
			out = append(out, row...)
		}
		return out
	}
	columns := func(pick func(Eigensystem) *mat.Dense) []float64 {
		out := make([]float64, 0, nte*ns*ns)
		for _, es := range rec.eigen {
			m := pick(es)
			for j := 0; j < ns; j++ {
				for i := 0; i < ns; i++ {
					out = append(out, m.At(i, j))
				}
			}
		}
		return out
	}
	values := make([][]float64, nte)
	for i, es := range rec.eigen {
		values[i] = es.Values
	}

	for _, payload := range [][]float64{
		flatten(rec.equilibrium),
		flatten(values),
		columns(func(es Eigensystem) *mat.Dense { return es.Vectors }),
		columns(func(es Eigensystem) *mat.Dense { return es.Inverse }),
		flatten(rec.ionization),
		flatten(rec.recombination),
	} {
		if err := rw.float64s(payload); err != nil {
			return err
		}
	}
	return nil
}

func rows(flat []float64, n, width int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = flat[i*width : (i+1)*width : (i+1)*width]
	}
	return out
}

func checkGrid(temps []float64) error {
	for i, t := range temps {
		if math.IsNaN(t) || math.IsInf(t, 0) || t <= 0 {
			return fmt.Errorf("%w: temperature %d is %g", ErrMalformedRecord, i, t)
		}
		if i > 0 && t <= temps[i-1] {
			return fmt.Errorf("%w: temperature grid not strictly increasing at index %d", ErrMalformedRecord, i)
		}
	}
	return nil
}

func finite(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
