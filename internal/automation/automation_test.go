package automation

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"

	"github.com/san-kum/cmeheat/internal/atomic/atomictest"
	"github.com/san-kum/cmeheat/internal/config"
	"github.com/san-kum/cmeheat/internal/plasma"
	"github.com/san-kum/cmeheat/internal/sim"
)

const batchYAML = `
name: velocities
description: slow and fast hydrogen parcels
preset: hydrogen
runs:
  - name: slow
    config:
      trajectory:
        final_velocity: 300
  - name: fast
    preset: fast
    config:
      elements: [H]
      output_heights: [1.5]
  - config:
      timestep:
        policy: fixed
        fixed_dt: 120
`

func testOptions(t *testing.T) Options {
	t.Helper()
	st, err := atomictest.Store(atomictest.Grid(3.5, 7.0, 71), "H")
	if err != nil {
		t.Fatal(err)
	}
	return Options{Workers: 2, Store: st, Logger: zerolog.Nop()}
}

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadScenario(t *testing.T) {
	sc, err := LoadScenario(writeScenario(t, batchYAML))
	if err != nil {
		t.Fatal(err)
	}

	cfgs, err := sc.Configs()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfgs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(cfgs))
	}
	if cfgs[0].Trajectory.FinalVelocity != 300 || cfgs[0].Elements[0] != "H" {
		t.Errorf("first run not merged over preset: %+v", cfgs[0])
	}
	if cfgs[1].Trajectory.ScaleTime != -600 || cfgs[1].OutputHeights[0] != 1.5 {
		t.Errorf("run preset not applied: %+v", cfgs[1])
	}
	if cfgs[2].Timestep.Policy != sim.PolicyFixed {
		t.Errorf("expected fixed policy, got %s", cfgs[2].Timestep.Policy)
	}
}

func TestLoadScenario_Errors(t *testing.T) {
	if _, err := LoadScenario(writeScenario(t, "name: empty\n")); err == nil {
		t.Error("expected error for scenario without runs")
	}

	sc, err := LoadScenario(writeScenario(t, "runs:\n  - preset: warp\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sc.Configs(); err == nil {
		t.Error("expected unknown preset error")
	}

	sc, err = LoadScenario(writeScenario(t, "runs:\n  - config:\n      max_steps: 0\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sc.Configs(); err == nil {
		t.Error("expected validation error")
	}
}

func TestRunScenario(t *testing.T) {
	sc, err := LoadScenario(writeScenario(t, batchYAML))
	if err != nil {
		t.Fatal(err)
	}

	results, err := RunScenario(context.Background(), sc, testOptions(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	names := []string{"slow", "fast", "velocities_3"}
	for i, r := range results {
		if r.Name != names[i] {
			t.Errorf("result %d named %q, want %q", i, r.Name, names[i])
		}
		if r.Err != nil {
			t.Errorf("%s failed: %v", r.Name, r.Err)
			continue
		}
		if r.Result.Phase != sim.Done || len(r.Result.History) != 1 {
			t.Errorf("%s: phase %v with %d samples", r.Name, r.Result.Phase, len(r.Result.History))
		}
		if _, ok := r.Result.Metrics["conservation_drift"]; !ok {
			t.Errorf("%s: metrics not attached", r.Name)
		}
	}
}

func TestRunSweep(t *testing.T) {
	sweep := &ParameterSweep{
		Base:      config.GetPreset("hydrogen"),
		ParamName: "final_velocity",
		ParamMin:  300,
		ParamMax:  900,
		NumSteps:  3,
	}

	results, err := RunSweep(context.Background(), sweep, testOptions(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	want := []float64{300, 600, 900}
	for i, r := range results {
		if r.ParamValue != want[i] {
			t.Errorf("value %d = %g, want %g", i, r.ParamValue, want[i])
		}
		if r.Err != nil || r.Phase != sim.Done {
			t.Fatalf("run %d: %v %v", i, r.Phase, r.Err)
		}
		q := r.MeanCharge["H"]
		if q < 0 || q > 1 {
			t.Errorf("run %d: mean charge %g out of range", i, q)
		}
	}
}

func TestRunSweep_Errors(t *testing.T) {
	opts := testOptions(t)

	if _, err := RunSweep(context.Background(), &ParameterSweep{ParamName: "mass", NumSteps: 2}, opts); err == nil {
		t.Error("expected unknown parameter error")
	}
	if _, err := RunSweep(context.Background(), &ParameterSweep{ParamName: "scale_time", NumSteps: 0}, opts); err == nil {
		t.Error("expected step count error")
	}

	// scale_time passes through zero
	bad := &ParameterSweep{Base: config.GetPreset("hydrogen"), ParamName: "scale_time", ParamMin: -100, ParamMax: 100, NumSteps: 3}
	if _, err := RunSweep(context.Background(), bad, opts); err == nil {
		t.Error("expected invalid value error")
	}
}

func TestRunMonteCarlo(t *testing.T) {
	mc := &MonteCarloConfig{
		Base:         config.GetPreset("hydrogen"),
		Params:       []string{"final_velocity", "log_initial_temp"},
		Perturbation: 0.05,
		NumTrials:    4,
		Seed:         7,
	}

	results, err := RunMonteCarlo(context.Background(), mc, testOptions(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 trials, got %d", len(results))
	}

	stable, perElement := MonteCarloStats(results)
	if stable != 4 {
		t.Errorf("expected all stable, got %d", stable)
	}
	if h := perElement["H"]; h.Trials != 4 || h.Min > h.Mean || h.Mean > h.Max {
		t.Errorf("unexpected H stats: %+v", h)
	}
	for _, r := range results {
		v := r.Params["final_velocity"]
		if v < 475 || v > 525 {
			t.Errorf("trial %d: velocity %g outside perturbation", r.TrialID, v)
		}
	}

	again, err := RunMonteCarlo(context.Background(), mc, testOptions(t))
	if err != nil {
		t.Fatal(err)
	}
	if again[2].Params["final_velocity"] != results[2].Params["final_velocity"] {
		t.Error("seeded trials not reproducible")
	}
}

func TestMonteCarloStats(t *testing.T) {
	results := []MonteCarloResult{
		{TrialID: 0, Stable: true, Final: map[string]plasma.ChargeStates{"H": {0.5, 0.5}, "He": {0, 0, 1}}},
		{TrialID: 1, Stable: true, Final: map[string]plasma.ChargeStates{"H": {0.3, 0.7}}},
		{TrialID: 2, Stable: false, Final: map[string]plasma.ChargeStates{"H": {1, 0}}},
		{TrialID: 3, Err: errors.New("failed")},
	}

	stable, perElement := MonteCarloStats(results)
	if stable != 2 {
		t.Errorf("expected 2 stable trials, got %d", stable)
	}

	tests := []struct {
		sym  string
		want MeanChargeStats
	}{
		{"H", MeanChargeStats{Trials: 2, Mean: 0.6, StdDev: math.Sqrt(0.02), Min: 0.5, Max: 0.7}},
		{"He", MeanChargeStats{Trials: 1, Mean: 2, StdDev: 0, Min: 2, Max: 2}},
	}
	approx := cmpopts.EquateApprox(0, 1e-12)
	for _, tt := range tests {
		got, ok := perElement[tt.sym]
		if !ok {
			t.Errorf("%s: missing stats", tt.sym)
			continue
		}
		if diff := cmp.Diff(tt.want, got, approx); diff != "" {
			t.Errorf("%s stats mismatch (-want +got):\n%s", tt.sym, diff)
		}
	}
	if len(perElement) != 2 {
		t.Errorf("expected stats for 2 elements, got %v", perElement)
	}
}

func TestRunMonteCarlo_UnknownParam(t *testing.T) {
	mc := &MonteCarloConfig{Params: []string{"mass"}, NumTrials: 1}
	if _, err := RunMonteCarlo(context.Background(), mc, testOptions(t)); err == nil {
		t.Error("expected unknown parameter error")
	}
}

func TestSweepParams(t *testing.T) {
	names := SweepParams()
	if len(names) != len(sweepParams) {
		t.Errorf("expected %d names, got %d", len(sweepParams), len(names))
	}
	for _, name := range names {
		if sweepParams[name](config.DefaultConfig()) == nil {
			t.Errorf("%s has no field", name)
		}
	}
}
