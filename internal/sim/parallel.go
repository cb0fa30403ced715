package sim

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Ensemble runs independent configurations concurrently. Each run gets a
// fresh Simulator so metrics never share state.
type Ensemble struct {
	opts    []Option
	metrics func() []Metric
	workers int
}

func NewEnsemble(workers int, metrics func() []Metric, opts ...Option) *Ensemble {
	if workers < 1 {
		workers = 1
	}
	return &Ensemble{opts: opts, metrics: metrics, workers: workers}
}

// Run returns one result and one error per configuration, in order. A failed
// run does not stop the others.
func (e *Ensemble) Run(ctx context.Context, cfgs []Config) ([]*Result, []error) {
	results := make([]*Result, len(cfgs))
	errs := make([]error, len(cfgs))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range cfgs {
		i := i
		g.Go(func() error {
			s := New(e.opts...)
			if e.metrics != nil {
				for _, m := range e.metrics() {
					s.AddMetric(m)
				}
			}
			results[i], errs[i] = s.Run(ctx, cfgs[i])
			return nil
		})
	}

	_ = g.Wait()
	return results, errs
}
