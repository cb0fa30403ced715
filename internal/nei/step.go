package nei

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/cmeheat/internal/atomic"
	"github.com/san-kum/cmeheat/internal/plasma"
)

// Step advances every element in states by dt at plasma conditions mid,
// which should be the midpoint of the step. Elements run concurrently,
// bounded by Workers. The input map is not modified; on error no partial
// result is returned.
func (in *Integrator) Step(ctx context.Context, store *atomic.Store, states map[string]plasma.ChargeStates, mid plasma.State, dt float64) (map[string]plasma.ChargeStates, error) {
	if !mid.IsValid() {
		return nil, fmt.Errorf("nei: invalid plasma state at t=%g", mid.Time)
	}

	b := store.Locate(mid.Temperature)
	exposure := in.Exposure(dt, mid.Density())

	symbols := make([]string, 0, len(states))
	for sym := range states {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	records := make([]*atomic.Record, len(symbols))
	for i, sym := range symbols {
		rec, ok := store.Record(sym)
		if !ok {
			return nil, fmt.Errorf("%w: %s", atomic.ErrUnknownElement, sym)
		}
		records[i] = rec
	}

	next := make([]plasma.ChargeStates, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	if in.Workers > 0 {
		g.SetLimit(in.Workers)
	}
	for i := range symbols {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := in.Advance(records[i], b, states[symbols[i]], exposure)
			if err != nil {
				return err
			}
			next[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]plasma.ChargeStates, len(symbols))
	for i, sym := range symbols {
		out[sym] = next[i]
	}
	return out, nil
}
