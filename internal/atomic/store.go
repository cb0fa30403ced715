package atomic

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/san-kum/cmeheat/internal/plasma"
)

// Grid comparison tolerances between element files.
const (
	gridRelTol = 1e-5
	gridAbsTol = 1e-8
)

// Store holds the eigen tables of every loaded element. All records share
// one temperature grid. A Store is immutable and safe for concurrent reads.
type Store struct {
	temperatures []float64
	logTemps     []float64
	numElements  int
	order        []string
	records      map[string]*Record
}

// Options configures Load.
type Options struct {
	Dir      string
	Elements []string
	// Table resolves symbols to atomic numbers. Defaults to plasma.DefaultElements.
	Table plasma.ElementTable
	// FileName maps a symbol to its file name inside Dir.
	FileName  func(symbol string) string
	ByteOrder binary.ByteOrder
	Logger    zerolog.Logger
}

// DefaultFileName is the eigen table naming scheme, e.g. "fe" -> "feeigen.dat".
func DefaultFileName(symbol string) string {
	return strings.ToLower(symbol) + "eigen.dat"
}

// Load reads one table per requested element. Any inconsistency between
// files aborts the whole load.
func Load(ctx context.Context, opts Options) (*Store, error) {
	if opts.Table == nil {
		opts.Table = plasma.DefaultElements
	}
	if opts.FileName == nil {
		opts.FileName = DefaultFileName
	}
	if opts.ByteOrder == nil {
		opts.ByteOrder = binary.LittleEndian
	}
	logger := opts.Logger

	logger.Debug().Str("dir", opts.Dir).Strs("elements", opts.Elements).Msg("reading atomic data")

	records := make([]*Record, 0, len(opts.Elements))
	seen := make(map[string]bool, len(opts.Elements))
	for _, symbol := range opts.Elements {
		if err := ctx.Err(); err != nil {
			return nil, loadError(symbol, err)
		}
		if seen[symbol] {
			logger.Debug().Str("element", symbol).Msg("duplicate element ignored")
			continue
		}
		seen[symbol] = true

		rec, err := loadFile(opts, symbol)
		if err != nil {
			return nil, loadError(symbol, err)
		}
		logger.Debug().Str("element", symbol).Int("states", rec.NumStates).Int("temperatures", len(rec.Temperatures)).Msg("element loaded")
		records = append(records, rec)
	}

	st, err := NewStore(records...)
	if err != nil {
		return nil, err
	}

	logger.Info().Int("elements", st.Len()).Int("temperatures", st.NumTemperatures()).Msg("atomic data loaded")
	return st, nil
}

func loadFile(opts Options, symbol string) (*Record, error) {
	z, err := opts.Table.AtomicNumber(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownElement, err)
	}

	path := filepath.Join(opts.Dir, opts.FileName(symbol))
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, path)
		}
		return nil, err
	}
	defer f.Close()

	return Decode(f, opts.ByteOrder, symbol, z)
}

// NewStore assembles already decoded records, checking that they share the
// first record's grid and header.
func NewStore(records ...*Record) (*Store, error) {
	if len(records) == 0 {
		return nil, loadError("", errors.New("no elements requested"))
	}

	first := records[0]
	st := &Store{
		temperatures: first.Temperatures,
		logTemps:     make([]float64, len(first.Temperatures)),
		numElements:  first.HeaderElements,
		order:        make([]string, 0, len(records)),
		records:      make(map[string]*Record, len(records)),
	}
	for i, t := range first.Temperatures {
		st.logTemps[i] = math.Log10(t)
	}

	for _, rec := range records {
		if rec.NumStates != rec.AtomicNumber+1 {
			return nil, loadError(rec.Symbol, fmt.Errorf("%w: %d states for Z=%d", ErrStateCount, rec.NumStates, rec.AtomicNumber))
		}
		if len(rec.Temperatures) != len(st.temperatures) {
			return nil, loadError(rec.Symbol, fmt.Errorf("%w: %d temperatures, first element has %d",
				ErrGridMismatch, len(rec.Temperatures), len(st.temperatures)))
		}
		if rec.HeaderElements != st.numElements {
			return nil, loadError(rec.Symbol, fmt.Errorf("%w: header element count %d, first element has %d",
				ErrGridMismatch, rec.HeaderElements, st.numElements))
		}
		for i, t := range rec.Temperatures {
			ref := st.temperatures[i]
			if math.Abs(t-ref) > gridAbsTol+gridRelTol*math.Abs(ref) {
				return nil, loadError(rec.Symbol, fmt.Errorf("%w: T[%d]=%g, first element has %g", ErrGridMismatch, i, t, ref))
			}
		}
		if _, dup := st.records[rec.Symbol]; dup {
			continue
		}
		st.records[rec.Symbol] = rec
		st.order = append(st.order, rec.Symbol)
	}

	return st, nil
}

func (s *Store) Record(symbol string) (*Record, bool) {
	rec, ok := s.records[symbol]
	return rec, ok
}

// Elements returns the symbols in load order.
func (s *Store) Elements() []string { return append([]string(nil), s.order...) }

func (s *Store) Len() int { return len(s.order) }

func (s *Store) NumTemperatures() int { return len(s.temperatures) }

// NumElements is the element count stored in the file headers.
func (s *Store) NumElements() int { return s.numElements }

func (s *Store) Temperatures() []float64 { return append([]float64(nil), s.temperatures...) }

// GridSpacing is the median log10 temperature step of the grid.
func (s *Store) GridSpacing() float64 {
	if len(s.logTemps) < 2 {
		return 0
	}
	steps := make([]float64, len(s.logTemps)-1)
	for i := range steps {
		steps[i] = s.logTemps[i+1] - s.logTemps[i]
	}
	sort.Float64s(steps)
	return steps[len(steps)/2]
}

// MaxRate is the fastest eigenmode of any element at the bracket.
func (s *Store) MaxRate(b Bracket) float64 {
	rate := 0.0
	for _, rec := range s.records {
		rate = math.Max(rate, rec.MaxRate(b))
	}
	return rate
}

// Bracket locates a temperature between two grid points. Weight is the
// fractional distance from Lower to Upper in log10 T.
type Bracket struct {
	Lower  int
	Upper  int
	Weight float64
}

func (b Bracket) Nearest() int {
	if b.Weight < 0.5 {
		return b.Lower
	}
	return b.Upper
}

// Locate brackets temperature T (kelvin). Temperatures off the grid clamp to
// the end points.
func (s *Store) Locate(T float64) Bracket {
	n := len(s.logTemps)
	logT := math.Log10(T)
	switch {
	case math.IsNaN(logT) || logT <= s.logTemps[0]:
		return Bracket{}
	case logT >= s.logTemps[n-1]:
		return Bracket{Lower: n - 1, Upper: n - 1}
	}

	i := sort.SearchFloat64s(s.logTemps, logT)
	if s.logTemps[i] == logT {
		return Bracket{Lower: i, Upper: i}
	}
	lo, hi := s.logTemps[i-1], s.logTemps[i]
	return Bracket{Lower: i - 1, Upper: i, Weight: (logT - lo) / (hi - lo)}
}
