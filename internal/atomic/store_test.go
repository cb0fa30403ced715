package atomic_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/cmeheat/internal/atomic"
	"github.com/san-kum/cmeheat/internal/atomic/atomictest"
)

func writeFixtures(t *testing.T, temps []float64, symbols ...string) string {
	t.Helper()
	dir := t.TempDir()
	if err := atomictest.WriteDir(dir, temps, symbols...); err != nil {
		t.Fatalf("write fixtures: %v", err)
	}
	return dir
}

func TestLoad_RoundTrip(t *testing.T) {
	temps := atomictest.Grid(5.5, 6.5, 21)
	dir := writeFixtures(t, temps, "H", "He")

	st, err := atomic.Load(context.Background(), atomic.Options{Dir: dir, Elements: []string{"H", "He"}})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if st.Len() != 2 {
		t.Errorf("expected 2 elements, got %d", st.Len())
	}
	if st.NumTemperatures() != 21 {
		t.Errorf("expected 21 temperatures, got %d", st.NumTemperatures())
	}

	want, err := atomictest.Build("He", temps, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := st.Record("He")
	if !ok {
		t.Fatal("He not in store")
	}
	if got.NumStates != 3 {
		t.Errorf("expected 3 states, got %d", got.NumStates)
	}

	for i := range temps {
		if !mat.EqualApprox(got.Eigen(i).Vectors, want.Eigen(i).Vectors, 1e-14) {
			t.Fatalf("eigenvectors at %d differ after round trip", i)
		}
		if !mat.EqualApprox(got.Eigen(i).Inverse, want.Eigen(i).Inverse, 1e-14) {
			t.Fatalf("inverse at %d differs after round trip", i)
		}
		for s, v := range want.EquilibriumAt(i) {
			if got.EquilibriumAt(i)[s] != v {
				t.Fatalf("equilibrium[%d][%d] = %v, want %v", i, s, got.EquilibriumAt(i)[s], v)
			}
		}
		for s, v := range want.RecombinationRates(i) {
			if got.RecombinationRates(i)[s] != v {
				t.Fatalf("recombination[%d][%d] differs", i, s)
			}
		}
	}
}

func TestLoad_EigenSystemReconstructsRateMatrix(t *testing.T) {
	temps := atomictest.Grid(5.8, 6.2, 5)
	st, err := atomictest.Store(temps, "C")
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := st.Record("C")

	for i, T := range temps {
		es := rec.Eigen(i)
		ns := rec.NumStates

		var id mat.Dense
		id.Mul(es.Vectors, es.Inverse)
		for r := 0; r < ns; r++ {
			for c := 0; c < ns; c++ {
				want := 0.0
				if r == c {
					want = 1
				}
				if math.Abs(id.At(r, c)-want) > 1e-9 {
					t.Fatalf("V*Vinv[%d][%d] = %g at T=%g", r, c, id.At(r, c), T)
				}
			}
		}

		ion, recRates := atomictest.DefaultRates(rec.AtomicNumber, T)
		a := atomictest.RateMatrix(ion, recRates)

		var scaled, rebuilt mat.Dense
		scaled.Mul(es.Vectors, mat.NewDiagDense(ns, es.Values))
		rebuilt.Mul(&scaled, es.Inverse)
		scale := es.MaxRate
		for r := 0; r < ns; r++ {
			for c := 0; c < ns; c++ {
				if math.Abs(rebuilt.At(r, c)-a.At(r, c)) > 1e-9*scale {
					t.Fatalf("rebuilt A[%d][%d] = %g, want %g", r, c, rebuilt.At(r, c), a.At(r, c))
				}
			}
		}
	}
}

func TestLoad_GridMismatch(t *testing.T) {
	dir := t.TempDir()
	if err := atomictest.WriteDir(dir, atomictest.Grid(5.5, 6.5, 21), "H"); err != nil {
		t.Fatal(err)
	}
	if err := atomictest.WriteDir(dir, atomictest.Grid(5.5, 6.6, 21), "He"); err != nil {
		t.Fatal(err)
	}

	_, err := atomic.Load(context.Background(), atomic.Options{Dir: dir, Elements: []string{"H", "He"}})
	if err == nil {
		t.Fatal("expected error for mismatched grids")
	}

	var dle *atomic.DataLoadError
	if !errors.As(err, &dle) {
		t.Fatalf("expected DataLoadError, got %T: %v", err, err)
	}
	if dle.Element != "He" {
		t.Errorf("expected offending element He, got %q", dle.Element)
	}
	if !errors.Is(err, atomic.ErrGridMismatch) {
		t.Errorf("expected ErrGridMismatch, got %v", err)
	}
	if !errors.Is(err, atomic.ErrDataLoad) {
		t.Errorf("expected ErrDataLoad, got %v", err)
	}
}

func TestLoad_GridLengthMismatch(t *testing.T) {
	dir := t.TempDir()
	if err := atomictest.WriteDir(dir, atomictest.Grid(5.5, 6.5, 21), "H"); err != nil {
		t.Fatal(err)
	}
	if err := atomictest.WriteDir(dir, atomictest.Grid(5.5, 6.5, 11), "He"); err != nil {
		t.Fatal(err)
	}

	_, err := atomic.Load(context.Background(), atomic.Options{Dir: dir, Elements: []string{"H", "He"}})
	if !errors.Is(err, atomic.ErrGridMismatch) {
		t.Fatalf("expected ErrGridMismatch, got %v", err)
	}
}

func TestLoad_Failures(t *testing.T) {
	temps := atomictest.Grid(5.5, 6.5, 11)

	tests := []struct {
		name    string
		prepare func(t *testing.T, dir string)
		element string
		cause   error
	}{
		{
			name:    "missing file",
			prepare: func(t *testing.T, dir string) {},
			element: "H",
			cause:   atomic.ErrMissingFile,
		},
		{
			name:    "unknown element",
			prepare: func(t *testing.T, dir string) {},
			element: "Xx",
			cause:   atomic.ErrUnknownElement,
		},
		{
			name: "truncated file",
			prepare: func(t *testing.T, dir string) {
				if err := atomictest.WriteDir(dir, temps, "H"); err != nil {
					t.Fatal(err)
				}
				path := filepath.Join(dir, "heigen.dat")
				info, err := os.Stat(path)
				if err != nil {
					t.Fatal(err)
				}
				if err := os.Truncate(path, info.Size()-13); err != nil {
					t.Fatal(err)
				}
			},
			element: "H",
			cause:   atomic.ErrMalformedRecord,
		},
		{
			name: "wrong state count",
			prepare: func(t *testing.T, dir string) {
				if err := atomictest.WriteDir(dir, temps, "H"); err != nil {
					t.Fatal(err)
				}
				if err := os.Rename(filepath.Join(dir, "heigen.dat"), filepath.Join(dir, "heeigen.dat")); err != nil {
					t.Fatal(err)
				}
			},
			element: "He",
			cause:   atomic.ErrStateCount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.prepare(t, dir)

			_, err := atomic.Load(context.Background(), atomic.Options{Dir: dir, Elements: []string{tt.element}})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, atomic.ErrDataLoad) {
				t.Errorf("expected ErrDataLoad, got %v", err)
			}
			if !errors.Is(err, tt.cause) {
				t.Errorf("expected cause %v, got %v", tt.cause, err)
			}
			var dle *atomic.DataLoadError
			if errors.As(err, &dle) && dle.Element != tt.element {
				t.Errorf("expected element %q, got %q", tt.element, dle.Element)
			}
		})
	}
}

func TestLoad_NoElements(t *testing.T) {
	_, err := atomic.Load(context.Background(), atomic.Options{Dir: t.TempDir()})
	if !errors.Is(err, atomic.ErrDataLoad) {
		t.Fatalf("expected ErrDataLoad, got %v", err)
	}
}

func TestNewRecord_PositiveEigenvalue(t *testing.T) {
	temps := atomictest.Grid(5.5, 6.5, 3)
	rec, err := atomictest.Build("H", temps, nil)
	if err != nil {
		t.Fatal(err)
	}

	d := atomic.RecordData{
		Symbol:         "H",
		AtomicNumber:   1,
		HeaderElements: rec.HeaderElements,
		Temperatures:   temps,
	}
	for i := range temps {
		es := rec.Eigen(i)
		vals := append([]float64(nil), es.Values...)
		vals[0] = 0.5 * es.MaxRate
		d.Equilibrium = append(d.Equilibrium, rec.EquilibriumAt(i))
		d.Eigenvalues = append(d.Eigenvalues, vals)
		d.Eigenvectors = append(d.Eigenvectors, es.Vectors)
		d.Inverses = append(d.Inverses, es.Inverse)
		d.Ionization = append(d.Ionization, rec.IonizationRates(i))
		d.Recombination = append(d.Recombination, rec.RecombinationRates(i))
	}

	if _, err := atomic.NewRecord(d); !errors.Is(err, atomic.ErrPositiveEigenvalue) {
		t.Fatalf("expected ErrPositiveEigenvalue, got %v", err)
	}
}

func TestStore_Locate(t *testing.T) {
	st, err := atomictest.Store(atomictest.Grid(5, 7, 21), "H")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		T      float64
		lower  int
		upper  int
		weight float64
	}{
		{"below grid", 1e4, 0, 0, 0},
		{"above grid", 1e8, 20, 20, 0},
		{"on grid point", 1e6, 10, 10, 0},
		{"midway", math.Pow(10, 6.05), 10, 11, 0.5},
		{"quarter", math.Pow(10, 5.025), 0, 1, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := st.Locate(tt.T)
			if b.Lower != tt.lower || b.Upper != tt.upper {
				t.Errorf("Locate(%g) = [%d,%d], want [%d,%d]", tt.T, b.Lower, b.Upper, tt.lower, tt.upper)
			}
			if math.Abs(b.Weight-tt.weight) > 1e-9 {
				t.Errorf("Locate(%g) weight = %v, want %v", tt.T, b.Weight, tt.weight)
			}
		})
	}

	if got := (atomic.Bracket{Lower: 3, Upper: 4, Weight: 0.7}).Nearest(); got != 4 {
		t.Errorf("Nearest = %d, want 4", got)
	}
	if got := st.GridSpacing(); math.Abs(got-0.1) > 1e-9 {
		t.Errorf("GridSpacing = %v, want 0.1", got)
	}
}

func TestRecord_EquilibriumBlend(t *testing.T) {
	st, err := atomictest.Store(atomictest.Grid(5.5, 6.5, 11), "He")
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := st.Record("He")

	eq := rec.Equilibrium(atomic.Bracket{Lower: 4, Upper: 5, Weight: 0.5})
	if math.Abs(eq.Sum()-1) > 1e-12 {
		t.Errorf("blended equilibrium sums to %v", eq.Sum())
	}
	lo, hi := rec.EquilibriumAt(4), rec.EquilibriumAt(5)
	for i := range eq {
		minV, maxV := math.Min(lo[i], hi[i]), math.Max(lo[i], hi[i])
		if eq[i] < minV-1e-12 || eq[i] > maxV+1e-12 {
			t.Errorf("state %d: %v not between %v and %v", i, eq[i], lo[i], hi[i])
		}
	}
}
