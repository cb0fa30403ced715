package sim

import (
	"context"
	"fmt"
	"runtime"

	"github.com/san-kum/cmeheat/internal/atomic"
	"github.com/san-kum/cmeheat/internal/nei"
	"github.com/san-kum/cmeheat/internal/plasma"
	"github.com/san-kum/cmeheat/internal/timestep"
	"github.com/san-kum/cmeheat/internal/trajectory"
)

// Phase is the lifecycle position of a run.
type Phase int

const (
	Initializing Phase = iota
	Stepping
	Sampling
	Done
	Failed
)

var phaseNames = [...]string{"initializing", "stepping", "sampling", "done", "failed"}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	for i, name := range phaseNames {
		if name == string(b) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("sim: unknown phase %q", b)
}

// Terminal reports whether no further transitions can happen.
func (p Phase) Terminal() bool { return p == Done || p == Failed }

const (
	PolicyAdaptive = "adaptive"
	PolicyFixed    = "fixed"
)

type TimestepConfig struct {
	Policy             string
	FixedDt            float64
	MinDt              float64
	MaxGrowth          float64
	StiffnessThreshold float64
	// MaxDeltaLogT of zero means one grid spacing.
	MaxDeltaLogT float64
}

type IntegratorConfig struct {
	Lookup            nei.Lookup
	NegativeTolerance float64
	DensityWeighted   bool
	Workers           int
}

// ControllerFactory builds the step controller once the trajectory and the
// per-step budget are known.
type ControllerFactory func(model trajectory.Model, budget float64) (timestep.Controller, error)

type Config struct {
	Elements  []string
	AtomicDir string
	// Table maps symbols to atomic numbers; nil means plasma.DefaultElements.
	Table plasma.ElementTable

	Trajectory        trajectory.Params
	TrajectoryOptions []trajectory.Option

	MaxSteps int
	// MaxHeight of zero means the larger of the highest output height and
	// the height of final density.
	MaxHeight     float64
	OutputHeights []float64

	Timestep TimestepConfig
	// Controller overrides Timestep.Policy when set.
	Controller ControllerFactory
	Integrator IntegratorConfig

	RecordTrace bool
}

// DefaultElements are the elements of a default run.
var DefaultElements = []string{"H", "He", "C", "N", "O", "Ne", "Mg", "Si", "S", "Ar", "Ca", "Fe"}

func DefaultConfig() Config {
	return Config{
		Elements:      append([]string(nil), DefaultElements...),
		AtomicDir:     "atomic",
		Trajectory:    trajectory.DefaultParams(),
		MaxSteps:      100,
		OutputHeights: []float64{2, 3},
		Timestep: TimestepConfig{
			Policy:             PolicyAdaptive,
			MinDt:              1e-3,
			MaxGrowth:          2.0,
			StiffnessThreshold: 10,
		},
		Integrator: IntegratorConfig{
			Lookup:            nei.Interpolate,
			NegativeTolerance: nei.DefaultNegativeTolerance,
			DensityWeighted:   true,
			Workers:           runtime.NumCPU(),
		},
	}
}

// Sample is the run state recorded when the parcel crosses an output height.
type Sample struct {
	Target       float64                        `json:"target_height"`
	Time         float64                        `json:"time"`
	Step         int                            `json:"step"`
	Plasma       plasma.State                   `json:"plasma"`
	ChargeStates map[string]plasma.ChargeStates `json:"charge_states"`
}

type History []Sample

// Heights returns the plasma height of every sample.
func (h History) Heights() []float64 {
	out := make([]float64, len(h))
	for i, s := range h {
		out[i] = s.Plasma.Height
	}
	return out
}

type TraceEntry struct {
	Step    int          `json:"step"`
	Dt      float64      `json:"dt"`
	Retried bool         `json:"retried"`
	Plasma  plasma.State `json:"plasma"`
}

// Inputs echoes the resolved settings a run used.
type Inputs struct {
	Elements      []string          `json:"elements"`
	Trajectory    trajectory.Params `json:"trajectory"`
	MaxSteps      int               `json:"max_steps"`
	MaxHeight     float64           `json:"max_height"`
	OutputHeights []float64         `json:"output_heights"`
	TravelTime    float64           `json:"travel_time"`
	Budget        float64           `json:"budget"`
	Policy        string            `json:"policy"`
	Lookup        string            `json:"lookup"`
	DensityWeight bool              `json:"density_weighted"`
	Temperatures  int               `json:"temperatures"`
}

type Result struct {
	History     History                        `json:"history"`
	Inputs      Inputs                         `json:"inputs"`
	Phase       Phase                          `json:"phase"`
	Steps       int                            `json:"steps"`
	Time        float64                        `json:"time"`
	FinalPlasma plasma.State                   `json:"final_plasma"`
	Final       map[string]plasma.ChargeStates `json:"final"`
	Trace       []TraceEntry                   `json:"trace,omitempty"`
	Metrics     map[string]float64             `json:"metrics"`
	Retries     int                            `json:"retries"`
}

// StepEvent describes one completed step.
type StepEvent struct {
	Step         int
	Phase        Phase
	Dt           float64
	Retried      bool
	Plasma       plasma.State
	ChargeStates map[string]plasma.ChargeStates
	Store        *atomic.Store
	Bracket      atomic.Bracket
}

// Stepper advances every element by dt at the midpoint plasma state mid.
// *nei.Integrator is the default.
type Stepper interface {
	Step(ctx context.Context, store *atomic.Store, states map[string]plasma.ChargeStates, mid plasma.State, dt float64) (map[string]plasma.ChargeStates, error)
}

type Metric interface {
	Name() string
	Observe(ev StepEvent)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(ev StepEvent)
}

// PhaseObserver is notified of every phase transition.
type PhaseObserver interface {
	OnPhase(p Phase)
}
