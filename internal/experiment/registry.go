package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/cmeheat/internal/sim"
	"github.com/san-kum/cmeheat/internal/timestep"
	"github.com/san-kum/cmeheat/internal/trajectory"
)

// TimestepSettings are the tunables a policy factory may use.
type TimestepSettings struct {
	FixedDt            float64
	MinDt              float64
	MaxGrowth          float64
	StiffnessThreshold float64
	MaxDeltaLogT       float64
	DensityWeighted    bool
}

type Registry struct {
	density     map[string]func(trajectory.Params) trajectory.DensityLaw
	temperature map[string]func(trajectory.Params) trajectory.TemperatureLaw
	policies    map[string]func(TimestepSettings) sim.ControllerFactory
}

func NewRegistry() *Registry {
	r := &Registry{
		density:     make(map[string]func(trajectory.Params) trajectory.DensityLaw),
		temperature: make(map[string]func(trajectory.Params) trajectory.TemperatureLaw),
		policies:    make(map[string]func(TimestepSettings) sim.ControllerFactory),
	}

	r.density["power"] = func(p trajectory.Params) trajectory.DensityLaw {
		return trajectory.PowerLaw{
			InitialHeight:     p.InitialHeight,
			HeightOfFinalDens: p.HeightOfFinalDens,
			LogInitialDens:    p.LogInitialDens,
			LogFinalDens:      p.LogFinalDens,
			Exponent:          p.ExpansionExponent,
		}
	}
	r.density["expansion"] = func(p trajectory.Params) trajectory.DensityLaw {
		return trajectory.Expansion{
			InitialHeight:  p.InitialHeight,
			LogInitialDens: p.LogInitialDens,
			Exponent:       p.ExpansionExponent,
		}
	}

	r.temperature["polytropic"] = func(p trajectory.Params) trajectory.TemperatureLaw {
		return trajectory.Polytropic{
			LogInitialTemp: p.LogInitialTemp,
			LogInitialDens: p.LogInitialDens,
			Index:          p.TemperatureIndex,
		}
	}
	r.temperature["isothermal"] = func(p trajectory.Params) trajectory.TemperatureLaw {
		return trajectory.Isothermal{LogTemp: p.LogInitialTemp}
	}

	r.policies[sim.PolicyAdaptive] = func(s TimestepSettings) sim.ControllerFactory {
		return func(model trajectory.Model, budget float64) (timestep.Controller, error) {
			a := timestep.NewAdaptive(model, budget)
			if s.MinDt > 0 {
				a.MinDt = s.MinDt
			}
			if s.MaxGrowth > 0 {
				a.MaxGrowth = s.MaxGrowth
			}
			if s.StiffnessThreshold > 0 {
				a.StiffnessThreshold = s.StiffnessThreshold
			}
			a.MaxDeltaLogT = s.MaxDeltaLogT
			a.DensityWeighted = s.DensityWeighted
			return a, nil
		}
	}
	r.policies[sim.PolicyFixed] = func(s TimestepSettings) sim.ControllerFactory {
		return func(trajectory.Model, float64) (timestep.Controller, error) {
			return timestep.Fixed{Dt: s.FixedDt}, nil
		}
	}

	return r
}

// TrajectoryOptions resolves law names into parcel options. Empty names keep
// the parcel defaults.
func (r *Registry) TrajectoryOptions(density, temperature string, p trajectory.Params) ([]trajectory.Option, error) {
	var opts []trajectory.Option
	if density != "" {
		fn, ok := r.density[density]
		if !ok {
			return nil, fmt.Errorf("unknown density law: %s", density)
		}
		opts = append(opts, trajectory.WithDensityLaw(fn(p)))
	}
	if temperature != "" {
		fn, ok := r.temperature[temperature]
		if !ok {
			return nil, fmt.Errorf("unknown temperature law: %s", temperature)
		}
		opts = append(opts, trajectory.WithTemperatureLaw(fn(p)))
	}
	return opts, nil
}

func (r *Registry) Controller(policy string, s TimestepSettings) (sim.ControllerFactory, error) {
	if policy == "" {
		policy = sim.PolicyAdaptive
	}
	fn, ok := r.policies[policy]
	if !ok {
		return nil, fmt.Errorf("unknown timestep policy: %s", policy)
	}
	return fn(s), nil
}

func (r *Registry) ListDensityLaws() []string     { return sortedKeys(r.density) }
func (r *Registry) ListTemperatureLaws() []string { return sortedKeys(r.temperature) }
func (r *Registry) ListPolicies() []string        { return sortedKeys(r.policies) }

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
