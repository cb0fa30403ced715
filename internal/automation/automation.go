package automation

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/cmeheat/internal/atomic"
	"github.com/san-kum/cmeheat/internal/config"
	"github.com/san-kum/cmeheat/internal/metrics"
	"github.com/san-kum/cmeheat/internal/plasma"
	"github.com/san-kum/cmeheat/internal/sim"
)

// Scenario defines a batch of runs
type Scenario struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Preset      string        `yaml:"preset"`
	Runs        []ScenarioRun `yaml:"runs"`
}

// ScenarioRun is one run of a batch. Config holds a partial configuration
// applied over the scenario preset, or the defaults.
type ScenarioRun struct {
	Name   string    `yaml:"name"`
	Preset string    `yaml:"preset"`
	Config yaml.Node `yaml:"config"`
}

// Options are shared by every run of a batch.
type Options struct {
	Workers int
	// Store is shared across runs when set; otherwise each run reads its
	// own atomic directory.
	Store  *atomic.Store
	Logger zerolog.Logger
}

func (o Options) ensemble() *sim.Ensemble {
	opts := []sim.Option{sim.WithLogger(o.Logger)}
	if o.Store != nil {
		opts = append(opts, sim.WithStore(o.Store))
	}
	return sim.NewEnsemble(o.Workers, metrics.Default, opts...)
}

// LoadScenario loads a scenario from a YAML file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, err
	}
	if len(scenario.Runs) == 0 {
		return nil, fmt.Errorf("scenario %q has no runs", scenario.Name)
	}

	return &scenario, nil
}

// Configs resolves every run into a full configuration.
func (s *Scenario) Configs() ([]*config.Config, error) {
	cfgs := make([]*config.Config, 0, len(s.Runs))
	for i, run := range s.Runs {
		preset := run.Preset
		if preset == "" {
			preset = s.Preset
		}

		cfg := config.DefaultConfig()
		if preset != "" {
			cfg = config.GetPreset(preset)
			if cfg == nil {
				return nil, fmt.Errorf("run %d: unknown preset %q", i+1, preset)
			}
		}
		if !run.Config.IsZero() {
			if err := run.Config.Decode(cfg); err != nil {
				return nil, fmt.Errorf("run %d: %w", i+1, err)
			}
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

type ScenarioResult struct {
	Name   string
	Result *sim.Result
	Err    error
}

// RunScenario executes all runs of a scenario concurrently. Configuration
// errors abort the batch; run failures are reported per run.
func RunScenario(ctx context.Context, scenario *Scenario, opts Options) ([]ScenarioResult, error) {
	cfgs, err := scenario.Configs()
	if err != nil {
		return nil, err
	}

	simCfgs := make([]sim.Config, len(cfgs))
	for i, c := range cfgs {
		if simCfgs[i], err = c.ToSim(); err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}
	}

	opts.Logger.Info().Str("scenario", scenario.Name).Int("runs", len(simCfgs)).Msg("running batch")
	results, errs := opts.ensemble().Run(ctx, simCfgs)

	out := make([]ScenarioResult, len(results))
	for i := range results {
		name := scenario.Runs[i].Name
		if name == "" {
			name = fmt.Sprintf("%s_%d", scenario.Name, i+1)
		}
		out[i] = ScenarioResult{Name: name, Result: results[i], Err: errs[i]}
		if errs[i] != nil {
			opts.Logger.Warn().Err(errs[i]).Str("run", name).Msg("run failed")
		}
	}
	return out, nil
}

// sweepParams are the settings a sweep or Monte Carlo trial may vary.
var sweepParams = map[string]func(c *config.Config) *float64{
	"initial_height":       func(c *config.Config) *float64 { return &c.Trajectory.InitialHeight },
	"log_initial_temp":     func(c *config.Config) *float64 { return &c.Trajectory.LogInitialTemp },
	"log_initial_dens":     func(c *config.Config) *float64 { return &c.Trajectory.LogInitialDens },
	"log_final_dens":       func(c *config.Config) *float64 { return &c.Trajectory.LogFinalDens },
	"height_of_final_dens": func(c *config.Config) *float64 { return &c.Trajectory.HeightOfFinalDens },
	"expansion_exponent":   func(c *config.Config) *float64 { return &c.Trajectory.ExpansionExponent },
	"final_velocity":       func(c *config.Config) *float64 { return &c.Trajectory.FinalVelocity },
	"scale_time":           func(c *config.Config) *float64 { return &c.Trajectory.ScaleTime },
	"temperature_index":    func(c *config.Config) *float64 { return &c.Trajectory.TemperatureIndex },
	"stiffness_threshold":  func(c *config.Config) *float64 { return &c.Timestep.StiffnessThreshold },
	"fixed_dt":             func(c *config.Config) *float64 { return &c.Timestep.FixedDt },
}

// SweepParams lists the parameter names accepted by sweeps.
func SweepParams() []string {
	names := make([]string, 0, len(sweepParams))
	for name := range sweepParams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func cloneConfig(c *config.Config) *config.Config {
	out := *c
	out.Elements = append([]string(nil), c.Elements...)
	out.OutputHeights = append([]float64(nil), c.OutputHeights...)
	return &out
}

// ParameterSweep runs simulations across a range of parameter values
type ParameterSweep struct {
	Base      *config.Config
	ParamName string
	ParamMin  float64
	ParamMax  float64
	NumSteps  int
}

// SweepResult holds results from a parameter sweep
type SweepResult struct {
	ParamValue float64
	Phase      sim.Phase
	Steps      int
	// MeanCharge is the frozen-in mean charge of every element.
	MeanCharge map[string]float64
	Final      map[string]plasma.ChargeStates
	Err        error
}

// RunSweep executes a parameter sweep. Invalid parameter values fail the
// sweep before anything runs.
func RunSweep(ctx context.Context, sweep *ParameterSweep, opts Options) ([]SweepResult, error) {
	field, ok := sweepParams[sweep.ParamName]
	if !ok {
		return nil, fmt.Errorf("unknown sweep parameter: %s", sweep.ParamName)
	}
	if sweep.NumSteps < 1 {
		return nil, fmt.Errorf("sweep needs at least one step, got %d", sweep.NumSteps)
	}
	base := sweep.Base
	if base == nil {
		base = config.DefaultConfig()
	}

	paramStep := 0.0
	if sweep.NumSteps > 1 {
		paramStep = (sweep.ParamMax - sweep.ParamMin) / float64(sweep.NumSteps-1)
	}

	values := make([]float64, sweep.NumSteps)
	cfgs := make([]sim.Config, sweep.NumSteps)
	for i := range cfgs {
		values[i] = sweep.ParamMin + float64(i)*paramStep
		c := cloneConfig(base)
		*field(c) = values[i]

		sc, err := c.ToSim()
		if err != nil {
			return nil, fmt.Errorf("%s=%g: %w", sweep.ParamName, values[i], err)
		}
		cfgs[i] = sc
	}

	results, errs := opts.ensemble().Run(ctx, cfgs)

	out := make([]SweepResult, len(results))
	for i, res := range results {
		out[i] = SweepResult{ParamValue: values[i], Err: errs[i]}
		if res != nil {
			out[i].Phase = res.Phase
			out[i].Steps = res.Steps
			out[i].Final = res.Final
			out[i].MeanCharge = meanCharges(res.Final)
		}
		opts.Logger.Info().Int("run", i+1).Int("of", len(results)).
			Str("param", sweep.ParamName).Float64("value", values[i]).Msg("sweep")
	}
	return out, nil
}

func meanCharges(final map[string]plasma.ChargeStates) map[string]float64 {
	out := make(map[string]float64, len(final))
	for sym, cs := range final {
		out[sym] = cs.MeanCharge()
	}
	return out
}

// MonteCarloConfig perturbs trajectory parameters by a relative amount
type MonteCarloConfig struct {
	Base *config.Config
	// Params are the perturbed parameter names.
	Params []string
	// Perturbation is the half width of the uniform relative perturbation.
	Perturbation float64
	NumTrials    int
	Seed         int64
}

// MonteCarloResult holds one trial
type MonteCarloResult struct {
	TrialID int
	Params  map[string]float64
	Final   map[string]plasma.ChargeStates
	Stable  bool // finished without a numerical failure
	Err     error
}

// RunMonteCarlo executes trials with random perturbations. Trials whose
// perturbed parameters are invalid are reported as unstable.
func RunMonteCarlo(ctx context.Context, cfg *MonteCarloConfig, opts Options) ([]MonteCarloResult, error) {
	for _, name := range cfg.Params {
		if _, ok := sweepParams[name]; !ok {
			return nil, fmt.Errorf("unknown parameter: %s", name)
		}
	}
	base := cfg.Base
	if base == nil {
		base = config.DefaultConfig()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	if cfg.Seed == 0 {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	out := make([]MonteCarloResult, cfg.NumTrials)
	var cfgs []sim.Config
	var index []int
	for trial := range out {
		c := cloneConfig(base)
		params := make(map[string]float64, len(cfg.Params))
		for _, name := range cfg.Params {
			p := sweepParams[name](c)
			*p *= 1 + (rng.Float64()-0.5)*2*cfg.Perturbation
			params[name] = *p
		}
		out[trial] = MonteCarloResult{TrialID: trial, Params: params}

		sc, err := c.ToSim()
		if err != nil {
			out[trial].Err = err
			continue
		}
		cfgs = append(cfgs, sc)
		index = append(index, trial)
	}

	results, errs := opts.ensemble().Run(ctx, cfgs)
	for k, res := range results {
		r := &out[index[k]]
		r.Err = errs[k]
		if res != nil {
			r.Final = res.Final
			r.Stable = errs[k] == nil && res.Phase == sim.Done
		}
	}

	opts.Logger.Info().Int("trials", cfg.NumTrials).Msg("monte carlo complete")
	return out, nil
}

// MeanChargeStats summarises the final mean charge of one element over the
// stable trials. StdDev is the sample standard deviation, zero for a single
// trial.
type MeanChargeStats struct {
	Trials int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// MonteCarloStats counts the stable trials and summarises each element's
// final mean charge across them.
func MonteCarloStats(results []MonteCarloResult) (stable int, perElement map[string]MeanChargeStats) {
	charges := make(map[string][]float64)
	for _, r := range results {
		if !r.Stable {
			continue
		}
		stable++
		for sym, cs := range r.Final {
			charges[sym] = append(charges[sym], cs.MeanCharge())
		}
	}

	perElement = make(map[string]MeanChargeStats, len(charges))
	for sym, qs := range charges {
		st := MeanChargeStats{Trials: len(qs), Min: floats.Min(qs), Max: floats.Max(qs)}
		if len(qs) > 1 {
			st.Mean, st.StdDev = stat.MeanStdDev(qs, nil)
		} else {
			st.Mean = qs[0]
		}
		perElement[sym] = st
	}
	return stable, perElement
}
