package config

import (
	"sort"

	"github.com/san-kum/cmeheat/internal/sim"
)

// Presets tweak the defaults. Each entry edits a fresh copy.
var Presets = map[string]func(c *Config){
	"slow": func(c *Config) {
		c.Trajectory.FinalVelocity = 300
		c.Trajectory.ScaleTime = -3600
	},
	"fast": func(c *Config) {
		c.Trajectory.FinalVelocity = 1500
		c.Trajectory.ScaleTime = -600
	},
	"isothermal": func(c *Config) {
		c.Trajectory.TemperatureLaw = "isothermal"
	},
	"expansion": func(c *Config) {
		c.Trajectory.DensityLaw = "expansion"
		c.Trajectory.ExpansionExponent = 2.0
	},
	"hydrogen": func(c *Config) {
		c.Elements = []string{"H"}
		c.OutputHeights = []float64{2.0}
	},
	"fine": func(c *Config) {
		c.MaxSteps = 400
		c.Timestep.Policy = sim.PolicyAdaptive
		c.RecordTrace = true
	},
}

// GetPreset returns the defaults with the named preset applied, or nil.
func GetPreset(name string) *Config {
	apply, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	apply(cfg)
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
