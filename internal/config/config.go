package config

import (
	"fmt"
	"os"
	"runtime"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/cmeheat/internal/experiment"
	"github.com/san-kum/cmeheat/internal/nei"
	"github.com/san-kum/cmeheat/internal/sim"
	"github.com/san-kum/cmeheat/internal/trajectory"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "CMEHEAT_"

type Trajectory struct {
	InitialHeight     float64 `yaml:"initial_height" env:"INITIAL_HEIGHT"`
	LogInitialTemp    float64 `yaml:"log_initial_temp" env:"LOG_INITIAL_TEMP"`
	LogInitialDens    float64 `yaml:"log_initial_dens" env:"LOG_INITIAL_DENS"`
	LogFinalDens      float64 `yaml:"log_final_dens" env:"LOG_FINAL_DENS"`
	HeightOfFinalDens float64 `yaml:"height_of_final_dens" env:"HEIGHT_OF_FINAL_DENS"`
	ExpansionExponent float64 `yaml:"expansion_exponent" env:"EXPANSION_EXPONENT"`
	FinalVelocity     float64 `yaml:"final_velocity" env:"FINAL_VELOCITY"`
	ScaleTime         float64 `yaml:"scale_time" env:"SCALE_TIME"`
	TemperatureIndex  float64 `yaml:"temperature_index" env:"TEMPERATURE_INDEX"`
	DensityLaw        string  `yaml:"density_law" env:"DENSITY_LAW"`
	TemperatureLaw    string  `yaml:"temperature_law" env:"TEMPERATURE_LAW"`
}

func (t Trajectory) Params() trajectory.Params {
	return trajectory.Params{
		InitialHeight:     t.InitialHeight,
		LogInitialTemp:    t.LogInitialTemp,
		LogInitialDens:    t.LogInitialDens,
		LogFinalDens:      t.LogFinalDens,
		HeightOfFinalDens: t.HeightOfFinalDens,
		ExpansionExponent: t.ExpansionExponent,
		FinalVelocity:     t.FinalVelocity,
		ScaleTime:         t.ScaleTime,
		TemperatureIndex:  t.TemperatureIndex,
	}
}

type Timestep struct {
	Policy             string  `yaml:"policy" env:"POLICY"`
	FixedDt            float64 `yaml:"fixed_dt" env:"FIXED_DT"`
	MinDt              float64 `yaml:"min_dt" env:"MIN_DT"`
	MaxGrowth          float64 `yaml:"max_growth" env:"MAX_GROWTH"`
	StiffnessThreshold float64 `yaml:"stiffness_threshold" env:"STIFFNESS_THRESHOLD"`
	MaxDeltaLogT       float64 `yaml:"max_delta_log_t" env:"MAX_DELTA_LOG_T"`
}

type Integrator struct {
	Lookup            string  `yaml:"lookup" env:"LOOKUP"`
	NegativeTolerance float64 `yaml:"negative_tolerance" env:"NEGATIVE_TOLERANCE"`
	DensityWeighted   bool    `yaml:"density_weighted" env:"DENSITY_WEIGHTED"`
	// Workers of zero means one per CPU.
	Workers int `yaml:"workers" env:"WORKERS"`
}

type Log struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

type Config struct {
	AtomicDir     string     `yaml:"atomic_dir" env:"ATOMIC_DIR"`
	Elements      []string   `yaml:"elements" env:"ELEMENTS" envSeparator:","`
	Trajectory    Trajectory `yaml:"trajectory" envPrefix:"TRAJECTORY_"`
	MaxSteps      int        `yaml:"max_steps" env:"MAX_STEPS"`
	MaxHeight     float64    `yaml:"max_height" env:"MAX_HEIGHT"`
	OutputHeights []float64  `yaml:"output_heights" env:"OUTPUT_HEIGHTS" envSeparator:","`
	Timestep      Timestep   `yaml:"timestep" envPrefix:"TIMESTEP_"`
	Integrator    Integrator `yaml:"integrator" envPrefix:"INTEGRATOR_"`
	RecordTrace   bool       `yaml:"record_trace" env:"RECORD_TRACE"`
	Log           Log        `yaml:"log" envPrefix:"LOG_"`
}

func DefaultConfig() *Config {
	p := trajectory.DefaultParams()
	return &Config{
		AtomicDir: "atomic",
		Elements:  append([]string(nil), sim.DefaultElements...),
		Trajectory: Trajectory{
			InitialHeight:     p.InitialHeight,
			LogInitialTemp:    p.LogInitialTemp,
			LogInitialDens:    p.LogInitialDens,
			LogFinalDens:      p.LogFinalDens,
			HeightOfFinalDens: p.HeightOfFinalDens,
			ExpansionExponent: p.ExpansionExponent,
			FinalVelocity:     p.FinalVelocity,
			ScaleTime:         p.ScaleTime,
			TemperatureIndex:  p.TemperatureIndex,
			DensityLaw:        "power",
			TemperatureLaw:    "polytropic",
		},
		MaxSteps:      100,
		OutputHeights: []float64{2, 3},
		Timestep: Timestep{
			Policy:             sim.PolicyAdaptive,
			MinDt:              1e-3,
			MaxGrowth:          2.0,
			StiffnessThreshold: 10,
		},
		Integrator: Integrator{
			Lookup:            nei.Interpolate.String(),
			NegativeTolerance: nei.DefaultNegativeTolerance,
			DensityWeighted:   true,
		},
		Log: Log{Level: "info", Format: "console"},
	}
}

// Load reads a YAML file over the defaults, so omitted keys keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides fields from CMEHEAT_* variables. Unset variables leave
// the current value alone.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

var (
	logLevels  = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	logFormats = map[string]bool{"console": true, "json": true}
)

// Validate checks names and ranges that do not need atomic data. Numerical
// checks on the trajectory are repeated by the simulator.
func (c *Config) Validate() error {
	if len(c.Elements) == 0 {
		return fmt.Errorf("elements: at least one element is required")
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps: must be positive, got %d", c.MaxSteps)
	}
	if len(c.OutputHeights) == 0 {
		return fmt.Errorf("output_heights: at least one height is required")
	}
	if err := c.Trajectory.Params().Validate(); err != nil {
		return err
	}
	if _, err := nei.ParseLookup(c.Integrator.Lookup); err != nil {
		return err
	}
	if c.Integrator.Workers < 0 {
		return fmt.Errorf("integrator.workers: must be non-negative, got %d", c.Integrator.Workers)
	}
	if c.Timestep.Policy == sim.PolicyFixed && c.Timestep.FixedDt <= 0 {
		return fmt.Errorf("timestep.fixed_dt: must be positive for the fixed policy")
	}
	if c.Log.Level != "" && !logLevels[c.Log.Level] {
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	if c.Log.Format != "" && !logFormats[c.Log.Format] {
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}

	reg := experiment.NewRegistry()
	if _, err := reg.TrajectoryOptions(c.Trajectory.DensityLaw, c.Trajectory.TemperatureLaw, c.Trajectory.Params()); err != nil {
		return err
	}
	if _, err := reg.Controller(c.Timestep.Policy, experiment.TimestepSettings{}); err != nil {
		return err
	}
	return nil
}

// ToSim resolves law and policy names into a simulator configuration.
func (c *Config) ToSim() (sim.Config, error) {
	if err := c.Validate(); err != nil {
		return sim.Config{}, err
	}

	lookup, _ := nei.ParseLookup(c.Integrator.Lookup)
	params := c.Trajectory.Params()

	reg := experiment.NewRegistry()
	opts, err := reg.TrajectoryOptions(c.Trajectory.DensityLaw, c.Trajectory.TemperatureLaw, params)
	if err != nil {
		return sim.Config{}, err
	}

	workers := c.Integrator.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}

	out := sim.Config{
		Elements:          append([]string(nil), c.Elements...),
		AtomicDir:         c.AtomicDir,
		Trajectory:        params,
		TrajectoryOptions: opts,
		MaxSteps:          c.MaxSteps,
		MaxHeight:         c.MaxHeight,
		OutputHeights:     append([]float64(nil), c.OutputHeights...),
		Timestep: sim.TimestepConfig{
			Policy:             c.Timestep.Policy,
			FixedDt:            c.Timestep.FixedDt,
			MinDt:              c.Timestep.MinDt,
			MaxGrowth:          c.Timestep.MaxGrowth,
			StiffnessThreshold: c.Timestep.StiffnessThreshold,
			MaxDeltaLogT:       c.Timestep.MaxDeltaLogT,
		},
		Integrator: sim.IntegratorConfig{
			Lookup:            lookup,
			NegativeTolerance: c.Integrator.NegativeTolerance,
			DensityWeighted:   c.Integrator.DensityWeighted,
			Workers:           workers,
		},
		RecordTrace: c.RecordTrace,
	}
	if out.Timestep.Policy == "" {
		out.Timestep.Policy = sim.PolicyAdaptive
	}
	return out, nil
}
