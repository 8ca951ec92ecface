package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pkpdsim/pkpdsim/sim"
	"github.com/pkpdsim/pkpdsim/sim/metrics"
	"github.com/pkpdsim/pkpdsim/sim/models"
	"github.com/pkpdsim/pkpdsim/sim/ode"
	"github.com/pkpdsim/pkpdsim/sim/scenario"
	"github.com/pkpdsim/pkpdsim/sim/trace"
)

var (
	// CLI flags for the run command
	modelName      string  // bundled model name
	specPath       string  // YAML run spec; overrides the model's default run
	seed           int64   // Seed for ETA/EPS draws
	workers        int     // Worker count (0 = GOMAXPROCS)
	solverMethod   string  // Integrator (dopri5, rosenbrock, auto)
	rtol           float64 // Relative tolerance (0 = default)
	atol           float64 // Absolute tolerance (0 = default)
	mainPolicy     string  // When main is re-evaluated
	traceLevel     string  // Per-individual trace level
	outPath        string  // Output table CSV ("" = stdout)
	diagPath       string  // Diagnostics CSV ("" = log only)
	metricsOutPath string  // Prometheus text exposition file
	logLevel       string  // Log verbosity level
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "pkpdsim",
	Short: "Compartmental PK/PD population simulator",
}

// runOptions is the resolved flag set of one run invocation.
type runOptions struct {
	Model       string
	SpecPath    string
	Seed        int64
	SeedSet     bool
	Workers     int
	Solver      string
	RTol        float64
	ATol        float64
	MainPolicy  string
	Trace       string
	Out         string
	Diagnostics string
	MetricsOut  string
}

// runCmd executes the simulation using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Simulate a bundled model over a population",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		opts := runOptions{
			Model:       modelName,
			SpecPath:    specPath,
			Seed:        seed,
			SeedSet:     cmd.Flags().Changed("seed"),
			Workers:     workers,
			Solver:      solverMethod,
			RTol:        rtol,
			ATol:        atol,
			MainPolicy:  mainPolicy,
			Trace:       traceLevel,
			Out:         outPath,
			Diagnostics: diagPath,
			MetricsOut:  metricsOutPath,
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := runSimulation(ctx, opts, os.Stdout, os.Stderr); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// buildRunConfig resolves the model name and run configuration from a spec
// file or the model's defaults, then applies CLI overrides.
func buildRunConfig(opts runOptions) (string, sim.RunConfig, error) {
	name := opts.Model
	var cfg sim.RunConfig
	if opts.SpecPath != "" {
		spec, err := scenario.LoadSpec(opts.SpecPath)
		if err != nil {
			return "", cfg, err
		}
		if err := spec.Validate(); err != nil {
			return "", cfg, fmt.Errorf("run spec %s: %w", opts.SpecPath, err)
		}
		if name == "" {
			name = spec.Model
		} else if spec.Model != "" && spec.Model != name {
			logrus.Warnf("--model %s overrides spec model %s", name, spec.Model)
		}
		cfg = spec.RunConfig()
	}
	if name == "" {
		return "", cfg, fmt.Errorf("no model given; use --model or set model in the run spec")
	}
	if opts.SpecPath == "" {
		def, err := models.Defaults(name)
		if err != nil {
			return "", cfg, err
		}
		cfg = def
		cfg.Seed = opts.Seed
	} else if opts.SeedSet {
		cfg.Seed = opts.Seed
	}
	if opts.Workers != 0 {
		cfg.Workers = opts.Workers
	}
	if opts.Solver != "" {
		cfg.Solver.Method = ode.Method(opts.Solver)
	}
	if opts.RTol != 0 {
		cfg.Solver.RTol = opts.RTol
	}
	if opts.ATol != 0 {
		cfg.Solver.ATol = opts.ATol
	}
	if opts.MainPolicy != "" {
		cfg.MainPolicy = sim.MainPolicy(opts.MainPolicy)
	}
	return name, cfg, nil
}

// runSimulation performs one run and writes every requested output. The table
// goes to opts.Out, or to stdout with the summary moved to stderr.
func runSimulation(ctx context.Context, opts runOptions, stdout, stderr io.Writer) error {
	if !trace.IsValidLevel(opts.Trace) {
		return fmt.Errorf("unknown trace level %q; valid: none, individuals", opts.Trace)
	}
	name, cfg, err := buildRunConfig(opts)
	if err != nil {
		return err
	}
	m, err := models.Compile(name)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	res, err := sim.Run(ctx, m, cfg,
		sim.WithMetrics(metrics.New(reg)),
		sim.WithTrace(trace.Level(opts.Trace)))
	if err != nil {
		return err
	}

	if opts.Out == "" {
		if err := writeTable(stdout, res.Table); err != nil {
			return err
		}
	} else if err := writeTableFile(opts.Out, res.Table); err != nil {
		return err
	}
	for _, f := range res.Diagnostics {
		logrus.Warnf("diagnostic: %s", f)
	}
	if opts.Diagnostics != "" {
		if err := writeDiagnosticsFile(opts.Diagnostics, res.Diagnostics); err != nil {
			return err
		}
	}
	if opts.MetricsOut != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsOut, reg); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}

	report := stdout
	if opts.Out == "" {
		report = stderr
	}
	res.Summary.Print(report)
	if res.Trace != nil {
		printTraceSummary(report, trace.Summarize(res.Trace))
	}
	return nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&modelName, "model", "", "Bundled model name (see `pkpdsim models`)")
	runCmd.Flags().StringVar(&specPath, "spec", "", "Path to YAML run spec (population, doses, design, solver)")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for ETA/EPS draws (overrides the run spec seed when set)")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Number of workers (0 = GOMAXPROCS)")
	runCmd.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")

	// Solver
	runCmd.Flags().StringVar(&solverMethod, "solver", "", "Integrator: dopri5, rosenbrock, auto")
	runCmd.Flags().Float64Var(&rtol, "rtol", 0, "Relative tolerance (0 = default 1e-8)")
	runCmd.Flags().Float64Var(&atol, "atol", 0, "Absolute tolerance (0 = default 1e-8)")
	runCmd.Flags().StringVar(&mainPolicy, "main-policy", "", "Main block evaluation: every-record, on-dose")

	// Outputs
	runCmd.Flags().StringVar(&traceLevel, "trace", "none", "Per-individual trace level: none, individuals")
	runCmd.Flags().StringVar(&outPath, "out", "", "Output table CSV (default stdout)")
	runCmd.Flags().StringVar(&diagPath, "diagnostics", "", "Diagnostics CSV of failed individuals")
	runCmd.Flags().StringVar(&metricsOutPath, "metrics-out", "", "Write Prometheus metrics in text format to this file")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
