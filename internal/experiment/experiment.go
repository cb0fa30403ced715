package experiment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/san-kum/cmeheat/internal/atomic"
	"github.com/san-kum/cmeheat/internal/sim"
)

// Experiment is one named run with its simulator wiring.
type Experiment struct {
	Name      string
	cfg       sim.Config
	simulator *sim.Simulator
}

func New(name string, cfg sim.Config) *Experiment {
	return &Experiment{Name: name, cfg: cfg}
}

// Setup builds the simulator. A nil store means atomic data is read from
// the configured directory.
func (e *Experiment) Setup(store *atomic.Store, logger zerolog.Logger, metrics []sim.Metric) error {
	opts := []sim.Option{sim.WithLogger(logger.With().Str("run", e.Name).Logger())}
	if store != nil {
		opts = append(opts, sim.WithStore(store))
	}
	e.simulator = sim.New(opts...)
	for _, m := range metrics {
		e.simulator.AddMetric(m)
	}
	return nil
}

func (e *Experiment) Run(ctx context.Context) (*sim.Result, error) {
	if e.simulator == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	return e.simulator.Run(ctx, e.cfg)
}

func (e *Experiment) Config() sim.Config { return e.cfg }

// GetSimulator returns the underlying simulator for adding observers
func (e *Experiment) GetSimulator() *sim.Simulator {
	return e.simulator
}
