package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/san-kum/cmeheat/internal/atomic"
	"github.com/san-kum/cmeheat/internal/nei"
	"github.com/san-kum/cmeheat/internal/plasma"
	"github.com/san-kum/cmeheat/internal/timestep"
	"github.com/san-kum/cmeheat/internal/trajectory"
)

type Simulator struct {
	store     *atomic.Store
	stepper   Stepper
	logger    zerolog.Logger
	metrics   []Metric
	observers []Observer
}

type Option func(*Simulator)

// WithStore injects preloaded atomic data; Config.AtomicDir is then ignored.
func WithStore(st *atomic.Store) Option { return func(s *Simulator) { s.store = st } }

// WithStepper replaces the eigenbasis integrator; Config.Integrator is then
// ignored.
func WithStepper(st Stepper) Option { return func(s *Simulator) { s.stepper = st } }

func WithLogger(l zerolog.Logger) Option { return func(s *Simulator) { s.logger = l } }

func New(opts ...Option) *Simulator {
	s := &Simulator{
		logger:    zerolog.Nop(),
		metrics:   make([]Metric, 0),
		observers: make([]Observer, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) AddMetric(m Metric)     { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o Observer) { s.observers = append(s.observers, o) }

// run holds the mutable state of one Run call.
type run struct {
	sim     *Simulator
	cfg     Config
	res     *Result
	log     zerolog.Logger
	store   *atomic.Store
	model   *trajectory.Parcel
	ctrl    timestep.Controller
	integ   Stepper
	heights []float64
	next    int

	step    int
	t       float64
	plasma  plasma.State
	charges map[string]plasma.ChargeStates
}

// Run integrates every configured element along the trajectory. A failed run
// returns the partial result together with a *RunError.
func (s *Simulator) Run(ctx context.Context, cfg Config) (*Result, error) {
	r := &run{
		sim: s,
		cfg: cfg,
		log: s.logger,
		res: &Result{
			Phase:   Initializing,
			History: make(History, 0, len(cfg.OutputHeights)),
			Metrics: make(map[string]float64),
		},
	}
	for _, m := range s.metrics {
		m.Reset()
	}
	s.notifyPhase(Initializing)

	if component, err := r.initialize(ctx); err != nil {
		return r.fail(component, err)
	}
	r.sampleCrossed(math.Inf(-1))

	r.setPhase(Stepping)
	for r.step < r.cfg.MaxSteps && r.plasma.Height <= r.res.Inputs.MaxHeight {
		select {
		case <-ctx.Done():
			return r.fail(ComponentSim, ctx.Err())
		default:
		}

		if component, err := r.advance(ctx); err != nil {
			return r.fail(component, err)
		}
	}

	for _, h := range r.heights[r.next:] {
		r.log.Warn().Float64("height", h).Float64("reached", r.plasma.Height).Msg("output height not reached")
	}

	r.finish()
	r.setPhase(Done)
	r.log.Info().Int("steps", r.step).Float64("time", r.t).Float64("height", r.plasma.Height).
		Int("samples", len(r.res.History)).Msg("run complete")
	return r.res, nil
}

func (r *run) initialize(ctx context.Context) (string, error) {
	cfg := &r.cfg
	if err := validate(*cfg); err != nil {
		return ComponentSim, err
	}

	model, err := trajectory.New(cfg.Trajectory, cfg.TrajectoryOptions...)
	if err != nil {
		return ComponentTrajectory, err
	}
	r.model = model

	r.store = r.sim.store
	if r.store == nil {
		r.store, err = atomic.Load(ctx, atomic.Options{
			Dir:      cfg.AtomicDir,
			Elements: cfg.Elements,
			Table:    cfg.Table,
			Logger:   r.log,
		})
		if err != nil {
			return ComponentAtomic, err
		}
	}
	for _, sym := range cfg.Elements {
		if _, ok := r.store.Record(sym); !ok {
			return ComponentAtomic, &atomic.DataLoadError{Element: sym, Cause: atomic.ErrUnknownElement}
		}
	}

	maxHeight := cfg.MaxHeight
	if maxHeight == 0 {
		maxHeight = cfg.Trajectory.HeightOfFinalDens
		for _, h := range cfg.OutputHeights {
			maxHeight = math.Max(maxHeight, h)
		}
	}
	travel, err := model.TimeAtHeight(maxHeight)
	if err != nil {
		return ComponentTrajectory, err
	}
	budget := travel / float64(cfg.MaxSteps)

	r.ctrl, err = r.controller(budget)
	if err != nil {
		return ComponentTimestep, err
	}

	r.integ = r.sim.stepper
	if r.integ == nil {
		in := nei.New()
		in.Lookup = cfg.Integrator.Lookup
		in.DensityWeighted = cfg.Integrator.DensityWeighted
		if cfg.Integrator.NegativeTolerance > 0 {
			in.NegativeTolerance = cfg.Integrator.NegativeTolerance
		}
		if cfg.Integrator.Workers > 0 {
			in.Workers = cfg.Integrator.Workers
		}
		r.integ = in
	}

	r.heights = append([]float64(nil), cfg.OutputHeights...)
	sort.Float64s(r.heights)

	r.plasma = model.At(0)
	b := r.store.Locate(r.plasma.Temperature)
	r.charges = make(map[string]plasma.ChargeStates, len(cfg.Elements))
	for _, sym := range cfg.Elements {
		rec, _ := r.store.Record(sym)
		if cfg.Integrator.Lookup == nei.Nearest {
			r.charges[sym] = rec.EquilibriumAt(b.Nearest())
		} else {
			r.charges[sym] = rec.Equilibrium(b)
		}
	}

	policy := cfg.Timestep.Policy
	if cfg.Controller != nil {
		policy = "custom"
	}
	r.res.Inputs = Inputs{
		Elements:      append([]string(nil), cfg.Elements...),
		Trajectory:    cfg.Trajectory,
		MaxSteps:      cfg.MaxSteps,
		MaxHeight:     maxHeight,
		OutputHeights: append([]float64(nil), r.heights...),
		TravelTime:    travel,
		Budget:        budget,
		Policy:        policy,
		Lookup:        cfg.Integrator.Lookup.String(),
		DensityWeight: cfg.Integrator.DensityWeighted,
		Temperatures:  r.store.NumTemperatures(),
	}

	r.log.Info().Strs("elements", cfg.Elements).Float64("travel_time", travel).Float64("budget", budget).
		Float64("max_height", maxHeight).Msg("run initialized")
	return "", nil
}

func (r *run) controller(budget float64) (timestep.Controller, error) {
	if r.cfg.Controller != nil {
		return r.cfg.Controller(r.model, budget)
	}

	ts := r.cfg.Timestep
	switch ts.Policy {
	case "", PolicyAdaptive:
		a := timestep.NewAdaptive(r.model, budget)
		if ts.MinDt > 0 {
			a.MinDt = ts.MinDt
		}
		if ts.MaxGrowth > 0 {
			a.MaxGrowth = ts.MaxGrowth
		}
		if ts.StiffnessThreshold > 0 {
			a.StiffnessThreshold = ts.StiffnessThreshold
		}
		a.MaxDeltaLogT = ts.MaxDeltaLogT
		a.DensityWeighted = r.cfg.Integrator.DensityWeighted
		return a, nil
	case PolicyFixed:
		return timestep.Fixed{Dt: ts.FixedDt}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, ts.Policy)
}

// advance performs one step, halving dt once on numerical instability.
func (r *run) advance(ctx context.Context) (string, error) {
	dt, err := r.ctrl.Next(r.plasma, r.charges, r.store)
	if err != nil {
		return ComponentTimestep, err
	}

	mid := r.model.At(r.t + dt/2)
	next, err := r.integ.Step(ctx, r.store, r.charges, mid, dt)
	retried := false
	if errors.Is(err, nei.ErrNumericalInstability) {
		r.log.Warn().Err(err).Int("step", r.step).Float64("dt", dt).Msg("retrying with half step")
		retried = true
		r.res.Retries++
		dt /= 2
		mid = r.model.At(r.t + dt/2)
		next, err = r.integ.Step(ctx, r.store, r.charges, mid, dt)
		if errors.Is(err, nei.ErrNumericalInstability) {
			err = fmt.Errorf("%w: %w", ErrNotConverged, err)
		}
	}
	if err != nil {
		return ComponentNEI, err
	}

	prevHeight := r.plasma.Height
	r.t += dt
	r.step++
	r.plasma = r.model.At(r.t)
	r.charges = next

	ev := StepEvent{
		Step:         r.step,
		Phase:        r.res.Phase,
		Dt:           dt,
		Retried:      retried,
		Plasma:       r.plasma,
		ChargeStates: r.charges,
		Store:        r.store,
		Bracket:      r.store.Locate(r.plasma.Temperature),
	}
	for _, m := range r.sim.metrics {
		m.Observe(ev)
	}
	for _, o := range r.sim.observers {
		o.OnStep(ev)
	}
	if r.cfg.RecordTrace {
		r.res.Trace = append(r.res.Trace, TraceEntry{Step: r.step, Dt: dt, Retried: retried, Plasma: r.plasma})
	}
	r.log.Debug().Int("step", r.step).Float64("t", r.t).Float64("dt", dt).
		Float64("height", r.plasma.Height).Float64("log_t", r.plasma.LogTemperature()).Msg("step")

	r.sampleCrossed(prevHeight)
	return "", nil
}

// sampleCrossed records one sample for every pending output height in
// (prev, current height].
func (r *run) sampleCrossed(prev float64) {
	sampled := false
	for r.next < len(r.heights) && r.heights[r.next] <= r.plasma.Height {
		h := r.heights[r.next]
		r.next++
		if h <= prev {
			continue
		}
		if !sampled {
			r.setPhase(Sampling)
			sampled = true
		}
		r.res.History = append(r.res.History, Sample{
			Target:       h,
			Time:         r.t,
			Step:         r.step,
			Plasma:       r.plasma,
			ChargeStates: cloneCharges(r.charges),
		})
	}
	if sampled {
		r.setPhase(Stepping)
	}
}

func (r *run) setPhase(p Phase) {
	r.res.Phase = p
	r.sim.notifyPhase(p)
}

func (r *run) finish() {
	r.res.Steps = r.step
	r.res.Time = r.t
	r.res.FinalPlasma = r.plasma
	r.res.Final = cloneCharges(r.charges)
	for _, m := range r.sim.metrics {
		r.res.Metrics[m.Name()] = m.Value()
	}
}

func (r *run) fail(component string, err error) (*Result, error) {
	re := &RunError{
		Phase:     r.res.Phase,
		Component: component,
		Step:      r.step,
		Time:      r.t,
		Err:       err,
	}
	r.finish()
	r.setPhase(Failed)
	r.log.Error().Err(err).Str("component", component).Str("phase", re.Phase.String()).Int("step", r.step).Msg("run failed")
	return r.res, re
}

func (s *Simulator) notifyPhase(p Phase) {
	for _, o := range s.observers {
		if po, ok := o.(PhaseObserver); ok {
			po.OnPhase(p)
		}
	}
}

func cloneCharges(in map[string]plasma.ChargeStates) map[string]plasma.ChargeStates {
	if in == nil {
		return nil
	}
	out := make(map[string]plasma.ChargeStates, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

func validate(cfg Config) error {
	if len(cfg.Elements) == 0 {
		return &trajectory.DomainError{Param: "elements", Value: 0, Reason: "at least one element required"}
	}
	if cfg.MaxSteps <= 0 {
		return &trajectory.DomainError{Param: "max_steps", Value: float64(cfg.MaxSteps), Reason: "must be positive"}
	}
	if math.IsNaN(cfg.MaxHeight) || math.IsInf(cfg.MaxHeight, 0) || cfg.MaxHeight < 0 {
		return &trajectory.DomainError{Param: "max_height", Value: cfg.MaxHeight, Reason: "must be finite and non-negative"}
	}
	if cfg.MaxHeight != 0 && cfg.MaxHeight <= cfg.Trajectory.InitialHeight {
		return &trajectory.DomainError{Param: "max_height", Value: cfg.MaxHeight, Reason: "must exceed initial_height"}
	}
	for _, h := range cfg.OutputHeights {
		if math.IsNaN(h) || math.IsInf(h, 0) {
			return &trajectory.DomainError{Param: "output_heights", Value: h, Reason: "must be finite"}
		}
	}
	ts := cfg.Timestep
	for name, v := range map[string]float64{
		"timestep.fixed_dt":             ts.FixedDt,
		"timestep.min_dt":               ts.MinDt,
		"timestep.max_growth":           ts.MaxGrowth,
		"timestep.stiffness_threshold":  ts.StiffnessThreshold,
		"timestep.max_delta_log_t":      ts.MaxDeltaLogT,
		"integrator.negative_tolerance": cfg.Integrator.NegativeTolerance,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return &trajectory.DomainError{Param: name, Value: v, Reason: "must be finite and non-negative"}
		}
	}
	return nil
}
