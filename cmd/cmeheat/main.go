package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/san-kum/cmeheat/internal/automation"
	"github.com/san-kum/cmeheat/internal/config"
	"github.com/san-kum/cmeheat/internal/experiment"
	"github.com/san-kum/cmeheat/internal/export"
	"github.com/san-kum/cmeheat/internal/logging"
	"github.com/san-kum/cmeheat/internal/metrics"
	"github.com/san-kum/cmeheat/internal/sim"
	"github.com/san-kum/cmeheat/internal/storage"
	"github.com/san-kum/cmeheat/internal/tui"
)

var (
	dataDir   string
	logLevel  string
	logFormat string

	configFile    string
	preset        string
	atomicDir     string
	elements      []string
	outputHeights []float64
	maxSteps      int
	maxHeight     float64
	policy        string
	fixedDt       float64
	lookup        string
	densityLaw    string
	tempLaw       string
	recordTrace   bool
	live          bool
	runName       string

	outFile    string
	svgElement string
	workers    int
	noSave     bool
	sweepMin   float64
	sweepMax   float64
	sweepN     int
	mcParams   []string
	mcDelta    float64
	mcTrials   int
	mcSeed     int64
)

var logger = zerolog.Nop()

func main() {
	rootCmd := &cobra.Command{
		Use:           "cmeheat",
		Short:         "non-equilibrium ionization of CME plasma",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logging.Init("cmeheat", logging.Options{Level: logLevel, Format: logFormat})
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".cmeheat", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run simulation",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	addConfigFlags(runCmd)
	runCmd.Flags().StringVar(&atomicDir, "atomic", "", "atomic data directory")
	runCmd.Flags().StringSliceVar(&elements, "elements", nil, "elements to evolve")
	runCmd.Flags().Float64SliceVar(&outputHeights, "heights", nil, "output heights in solar radii")
	runCmd.Flags().IntVar(&maxSteps, "steps", 0, "maximum number of steps")
	runCmd.Flags().Float64Var(&maxHeight, "max-height", 0, "stop above this height")
	runCmd.Flags().StringVar(&policy, "policy", "", "timestep policy (adaptive, fixed)")
	runCmd.Flags().Float64Var(&fixedDt, "dt", 0, "step for the fixed policy")
	runCmd.Flags().StringVar(&lookup, "lookup", "", "temperature lookup (interpolate, nearest)")
	runCmd.Flags().StringVar(&densityLaw, "density-law", "", "density law")
	runCmd.Flags().StringVar(&tempLaw, "temperature-law", "", "temperature law")
	runCmd.Flags().BoolVar(&recordTrace, "trace", false, "record every step")
	runCmd.Flags().BoolVar(&live, "live", false, "show the live view")
	runCmd.Flags().StringVar(&runName, "name", "run", "run name")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "show run samples",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run results",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export run samples to CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportCSVCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")

	exportSVGCmd := &cobra.Command{
		Use:   "export-svg [run_id]",
		Short: "plot one element's charge states against height as SVG",
		Args:  cobra.ExactArgs(1),
		RunE:  exportSVG,
	}
	exportSVGCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")
	exportSVGCmd.Flags().StringVar(&svgElement, "element", "O", "element to plot")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range config.ListPresets() {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	lawsCmd := &cobra.Command{
		Use:   "laws",
		Short: "list trajectory laws and timestep policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := experiment.NewRegistry()
			fmt.Printf("density:     %s\n", strings.Join(reg.ListDensityLaws(), ", "))
			fmt.Printf("temperature: %s\n", strings.Join(reg.ListTemperatureLaws(), ", "))
			fmt.Printf("policies:    %s\n", strings.Join(reg.ListPolicies(), ", "))
			fmt.Printf("sweepable:   %s\n", strings.Join(automation.SweepParams(), ", "))
			return nil
		},
	}

	batchCmd := &cobra.Command{
		Use:   "batch [scenario.yaml]",
		Short: "run a batch scenario",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}
	batchCmd.Flags().IntVar(&workers, "workers", 2, "concurrent runs")

	sweepCmd := &cobra.Command{
		Use:   "sweep [param]",
		Short: "sweep one parameter",
		Args:  cobra.ExactArgs(1),
		RunE:  runSweep,
	}
	addConfigFlags(sweepCmd)
	sweepCmd.Flags().Float64Var(&sweepMin, "min", 0, "first value")
	sweepCmd.Flags().Float64Var(&sweepMax, "max", 0, "last value")
	sweepCmd.Flags().IntVar(&sweepN, "n", 5, "number of values")
	sweepCmd.Flags().IntVar(&workers, "workers", 2, "concurrent runs")

	mcCmd := &cobra.Command{
		Use:   "montecarlo",
		Short: "perturb trajectory parameters at random",
		RunE:  runMonteCarlo,
	}
	addConfigFlags(mcCmd)
	mcCmd.Flags().StringSliceVar(&mcParams, "params", []string{"final_velocity", "log_initial_temp"}, "perturbed parameters")
	mcCmd.Flags().Float64Var(&mcDelta, "perturb", 0.05, "relative half width")
	mcCmd.Flags().IntVar(&mcTrials, "trials", 20, "number of trials")
	mcCmd.Flags().Int64Var(&mcSeed, "seed", 0, "random seed (0 = time)")
	mcCmd.Flags().IntVar(&workers, "workers", 2, "concurrent runs")

	rootCmd.AddCommand(runCmd, listCmd, showCmd, plotCmd, exportJSONCmd, exportCSVCmd, exportSVGCmd, presetsCmd, lawsCmd, batchCmd, sweepCmd, mcCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("command failed")
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
}

// loadConfig layers preset or defaults, the config file, CMEHEAT_* variables
// and finally explicit flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("atomic") {
		cfg.AtomicDir = atomicDir
	}
	if flags.Changed("elements") {
		cfg.Elements = elements
	}
	if flags.Changed("heights") {
		cfg.OutputHeights = outputHeights
	}
	if flags.Changed("steps") {
		cfg.MaxSteps = maxSteps
	}
	if flags.Changed("max-height") {
		cfg.MaxHeight = maxHeight
	}
	if flags.Changed("policy") {
		cfg.Timestep.Policy = policy
	}
	if flags.Changed("dt") {
		cfg.Timestep.FixedDt = fixedDt
	}
	if flags.Changed("lookup") {
		cfg.Integrator.Lookup = lookup
	}
	if flags.Changed("density-law") {
		cfg.Trajectory.DensityLaw = densityLaw
	}
	if flags.Changed("temperature-law") {
		cfg.Trajectory.TemperatureLaw = tempLaw
	}
	if flags.Changed("trace") {
		cfg.RecordTrace = recordTrace
	}

	return cfg, cfg.Validate()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	simCfg, err := cfg.ToSim()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	exp := experiment.New(runName, simCfg)
	if err := exp.Setup(nil, logger, metrics.Default()); err != nil {
		return err
	}

	start := time.Now()
	var result *sim.Result
	if live {
		result, err = tui.RunLive(ctx, exp.GetSimulator(), simCfg)
	} else {
		result, err = exp.Run(ctx)
	}
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if !noSave {
		st := storage.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		runID, err := st.Save(runName, result)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", runID)
	}

	fmt.Printf("completed in %v\n", elapsed)
	fmt.Printf("steps: %d  time: %.1fs  height: %.3f  retries: %d\n",
		result.Steps, result.Time, result.FinalPlasma.Height, result.Retries)
	fmt.Println(finalTable(result))

	fmt.Println("metrics:")
	names := make([]string, 0, len(result.Metrics))
	for name := range result.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s: %.6g\n", name, result.Metrics[name])
	}
	return nil
}

func finalTable(result *sim.Result) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"element", "mean charge", "dominant", "fraction"})
	for _, sym := range sortedKeys(result.Final) {
		cs := result.Final[sym]
		dom := 0
		for q, v := range cs {
			if v > cs[dom] {
				dom = q
			}
		}
		t.AppendRow(table.Row{sym, fmt.Sprintf("%.3f", cs.MeanCharge()), fmt.Sprintf("+%d", dom), fmt.Sprintf("%.4f", cs[dom])})
	}
	return t.Render()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"id", "time", "phase", "steps", "elements", "policy", "lookup", "samples"})
	for _, run := range runs {
		t.AppendRow(table.Row{
			run.ID,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Phase,
			run.Steps,
			strings.Join(run.Inputs.Elements, ","),
			run.Inputs.Policy,
			run.Inputs.Lookup,
			len(run.Inputs.OutputHeights),
		})
	}
	fmt.Println(t.Render())
	return nil
}

func showRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	result, err := st.LoadResult(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("run: %s  phase: %s  steps: %d  budget: %.2fs\n\n", args[0], result.Phase, result.Steps, result.Inputs.Budget)

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	header := table.Row{"target", "height", "time", "log T", "log n"}
	symbols := result.Inputs.Elements
	for _, sym := range symbols {
		header = append(header, sym+" <q>")
	}
	t.AppendHeader(header)
	for _, s := range result.History {
		row := table.Row{
			fmt.Sprintf("%.2f", s.Target),
			fmt.Sprintf("%.3f", s.Plasma.Height),
			fmt.Sprintf("%.1f", s.Time),
			fmt.Sprintf("%.3f", s.Plasma.LogTemperature()),
			fmt.Sprintf("%.3f", s.Plasma.LogDensity),
		}
		for _, sym := range symbols {
			row = append(row, fmt.Sprintf("%.3f", s.ChargeStates[sym].MeanCharge()))
		}
		t.AppendRow(row)
	}
	fmt.Println(t.Render())
	fmt.Println(finalTable(result))
	return nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	result, err := st.LoadResult(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", args[0])
	fmt.Printf("samples: %d  trace: %d\n\n", len(result.History), len(result.Trace))

	if len(result.Trace) > 1 {
		logT := make([]float64, len(result.Trace))
		height := make([]float64, len(result.Trace))
		dt := make([]float64, len(result.Trace))
		for i, e := range result.Trace {
			logT[i] = e.Plasma.LogTemperature()
			height[i] = e.Plasma.Height
			dt[i] = e.Dt
		}
		for _, p := range []struct {
			data    []float64
			caption string
		}{
			{logT, "log T vs step"},
			{height, "height (Rsun) vs step"},
			{dt, "dt (s) vs step"},
		} {
			fmt.Println(asciigraph.Plot(p.data,
				asciigraph.Height(10),
				asciigraph.Width(80),
				asciigraph.Caption(p.caption),
			))
			fmt.Println()
		}
	}

	if len(result.History) > 1 {
		series := make([][]float64, 0, len(result.Inputs.Elements))
		for _, sym := range result.Inputs.Elements {
			q := make([]float64, len(result.History))
			for i, s := range result.History {
				if cs := s.ChargeStates[sym]; len(cs) > 0 {
					q[i] = cs.MeanCharge() / float64(len(cs)-1)
				}
			}
			series = append(series, q)
		}
		fmt.Println(asciigraph.PlotMany(series,
			asciigraph.Height(12),
			asciigraph.Width(80),
			asciigraph.Caption("relative mean charge per sample: "+strings.Join(result.Inputs.Elements, " ")),
		))
	} else if len(result.Trace) <= 1 {
		return fmt.Errorf("no data to plot (record with --trace or add output heights)")
	}
	return nil
}

func output() (*os.File, func() error, error) {
	if outFile == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(outFile)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	result, err := st.LoadResult(args[0])
	if err != nil {
		return err
	}

	f, closeFn, err := output()
	if err != nil {
		return err
	}
	if err := storage.ExportJSON(f, args[0], result); err != nil {
		closeFn()
		return err
	}
	return closeFn()
}

func exportCSV(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	history, err := st.LoadSamples(args[0])
	if err != nil {
		return err
	}

	f, closeFn, err := output()
	if err != nil {
		return err
	}
	if err := storage.WriteSamplesCSV(f, history); err != nil {
		closeFn()
		return err
	}
	return closeFn()
}

func exportSVG(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	history, err := st.LoadSamples(args[0])
	if err != nil {
		return err
	}

	svg := export.ChargeStatesSVG(history, svgElement, 800, 400)
	if svg == "" {
		return fmt.Errorf("need at least two samples of %s to plot", svgElement)
	}

	f, closeFn, err := output()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f, svg); err != nil {
		closeFn()
		return err
	}
	return closeFn()
}

func runBatch(cmd *cobra.Command, args []string) error {
	scenario, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	results, err := automation.RunScenario(ctx, scenario, automation.Options{Workers: workers, Logger: logger})
	if err != nil {
		return err
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"run", "phase", "steps", "samples", "run id"})
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			phase := sim.Failed
			if r.Result != nil {
				phase = r.Result.Phase
			}
			t.AppendRow(table.Row{r.Name, phase, "-", "-", r.Err.Error()})
			continue
		}
		runID, err := st.Save(r.Name, r.Result)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{r.Name, r.Result.Phase, r.Result.Steps, len(r.Result.History), runID})
	}
	fmt.Println(t.Render())

	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(results))
	}
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	results, err := automation.RunSweep(ctx, &automation.ParameterSweep{
		Base:      cfg,
		ParamName: args[0],
		ParamMin:  sweepMin,
		ParamMax:  sweepMax,
		NumSteps:  sweepN,
	}, automation.Options{Workers: workers, Logger: logger})
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	header := table.Row{args[0], "phase", "steps"}
	for _, sym := range cfg.Elements {
		header = append(header, sym+" <q>")
	}
	t.AppendHeader(header)
	for _, r := range results {
		row := table.Row{fmt.Sprintf("%.4g", r.ParamValue), r.Phase, r.Steps}
		if r.Err != nil {
			row[1] = sim.Failed
		}
		for _, sym := range cfg.Elements {
			if q, ok := r.MeanCharge[sym]; ok {
				row = append(row, fmt.Sprintf("%.3f", q))
			} else {
				row = append(row, "-")
			}
		}
		t.AppendRow(row)
	}
	fmt.Println(t.Render())
	return nil
}

func runMonteCarlo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	results, err := automation.RunMonteCarlo(ctx, &automation.MonteCarloConfig{
		Base:         cfg,
		Params:       mcParams,
		Perturbation: mcDelta,
		NumTrials:    mcTrials,
		Seed:         mcSeed,
	}, automation.Options{Workers: workers, Logger: logger})
	if err != nil {
		return err
	}

	stable, perElement := automation.MonteCarloStats(results)
	fmt.Printf("trials: %d  stable: %d  unstable: %d\n\n", len(results), stable, len(results)-stable)

	summary := table.NewWriter()
	summary.SetStyle(table.StyleLight)
	summary.AppendHeader(table.Row{"element", "trials", "mean <q>", "std", "min", "max"})
	for _, sym := range cfg.Elements {
		st, ok := perElement[sym]
		if !ok {
			continue
		}
		summary.AppendRow(table.Row{sym, st.Trials,
			fmt.Sprintf("%.4f", st.Mean), fmt.Sprintf("%.4f", st.StdDev),
			fmt.Sprintf("%.4f", st.Min), fmt.Sprintf("%.4f", st.Max)})
	}
	fmt.Println(summary.Render())
	fmt.Println()

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	header := table.Row{"trial"}
	for _, p := range mcParams {
		header = append(header, p)
	}
	for _, sym := range cfg.Elements {
		header = append(header, sym+" <q>")
	}
	t.AppendHeader(header)
	for _, r := range results {
		row := table.Row{r.TrialID}
		for _, p := range mcParams {
			row = append(row, fmt.Sprintf("%.4g", r.Params[p]))
		}
		for _, sym := range cfg.Elements {
			if cs, ok := r.Final[sym]; ok {
				row = append(row, fmt.Sprintf("%.3f", cs.MeanCharge()))
			} else {
				row = append(row, "-")
			}
		}
		t.AppendRow(row)
	}
	fmt.Println(t.Render())
	return nil
}
