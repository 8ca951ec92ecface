package sim

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pkpdsim/pkpdsim/sim/metrics"
	"github.com/pkpdsim/pkpdsim/sim/ode"
	"github.com/pkpdsim/pkpdsim/sim/trace"
)

// Result is everything a run hands to downstream consumers.
type Result struct {
	RunID       string
	Model       string
	Table       *Table
	Diagnostics []Failure       // one entry per failed individual, by id
	Trace       *trace.RunTrace // nil unless WithTrace enabled it
	Summary     Summary
}

// Summary aggregates run-level counters for final reporting.
type Summary struct {
	Individuals int
	Failed      int
	Rows        int
	Solver      ode.Stats
	Stiff       int // individuals for which auto mode switched methods
	Workers     int
	Elapsed     time.Duration
}

// Print writes the summary in the same layout the CLI reports it.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Summary ===")
	fmt.Fprintf(w, "Individuals          : %d\n", s.Individuals)
	fmt.Fprintf(w, "Failed Individuals   : %d\n", s.Failed)
	fmt.Fprintf(w, "Rows                 : %d\n", s.Rows)
	fmt.Fprintf(w, "Workers              : %d\n", s.Workers)
	if s.Individuals > 0 {
		fmt.Fprintf(w, "Average Steps        : %.2f\n", float64(s.Solver.Steps)/float64(s.Individuals))
		fmt.Fprintf(w, "Rejected Steps       : %d\n", s.Solver.Rejected)
		fmt.Fprintf(w, "RHS Evaluations      : %d\n", s.Solver.Evals)
		fmt.Fprintf(w, "Stiff Individuals    : %d\n", s.Stiff)
	}
	fmt.Fprintf(w, "Elapsed              : %s\n", s.Elapsed.Round(time.Millisecond))
}

type runOptions struct {
	metrics *metrics.Metrics
	trace   trace.Config
}

// Option customizes Run.
type Option func(*runOptions)

// WithMetrics records run instrumentation into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *runOptions) { o.metrics = m }
}

// WithTrace collects per-individual records at the given level.
func WithTrace(level trace.Level) Option {
	return func(o *runOptions) { o.trace = trace.Config{Level: level} }
}

// runner holds the state shared by the workers of one Run.
type runner struct {
	model   *Model
	metrics *metrics.Metrics
	trace   *trace.RunTrace
	coll    *Collector

	mu       sync.Mutex
	failures []Failure
	summary  Summary
}

// Run simulates every individual of cfg on a worker pool and returns the
// merged result. Output is bit-identical for any worker count: each
// individual draws from random streams keyed by its id, and rows are merged
// in id order.
//
// Configuration problems are returned as *ConfigError before any individual
// starts. Numerical failures are reported in Result.Diagnostics and never stop
// sibling individuals. Cancellation and worker panics abort the run with an
// error matching ErrResource.
func Run(ctx context.Context, m *Model, cfg RunConfig, opts ...Option) (*Result, error) {
	if m == nil {
		return nil, configErrorf("", "model", "nil model")
	}
	o := runOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.trace.Level != "" && !trace.IsValidLevel(string(o.trace.Level)) {
		return nil, configErrorf(m.Name(), "trace", "unknown level %q", o.trace.Level)
	}
	cfg, err := cfg.resolve(m)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	runID := uuid.NewString()
	workers := min(cfg.Workers, len(cfg.Individuals))
	log := logrus.WithFields(logrus.Fields{"run": runID, "model": m.Name()})
	log.Infof("starting %d individuals on %d workers (seed=%d, solver=%s, main=%s)",
		len(cfg.Individuals), workers, cfg.Seed, cfg.Solver.Method, cfg.MainPolicy)

	r := &runner{
		model:   m,
		metrics: o.metrics,
		coll:    NewCollector(m.desc.Captures),
	}
	if o.trace.Enabled() {
		r.trace = trace.NewRunTrace(o.trace)
	}

	pool := make(chan *executor, workers)
	for range workers {
		e, err := newExecutor(m, cfg)
		if err != nil {
			return nil, err
		}
		pool <- e
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, ind := range cfg.Individuals {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e := <-pool
			defer func() { pool <- e }()
			return r.simulate(e, ind)
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if !errors.Is(err, ErrConfig) && !errors.Is(err, ErrResource) {
			err = fmt.Errorf("%w: %w", ErrResource, err)
		}
		log.WithError(err).Error("run aborted")
		return nil, err
	}

	slices.SortFunc(r.failures, func(a, b Failure) int { return cmp.Compare(a.ID, b.ID) })
	r.trace.Sort()
	res := &Result{
		RunID:       runID,
		Model:       m.Name(),
		Table:       r.coll.Table(),
		Diagnostics: r.failures,
		Trace:       r.trace,
		Summary:     r.summary,
	}
	res.Summary.Individuals = len(cfg.Individuals)
	res.Summary.Rows = res.Table.Len()
	res.Summary.Workers = workers
	res.Summary.Elapsed = time.Since(start)
	r.metrics.ObserveRun(m.Name(), res.Summary.Elapsed)
	log.Infof("finished: %d rows, %d failed individuals in %s",
		res.Summary.Rows, res.Summary.Failed, res.Summary.Elapsed.Round(time.Millisecond))
	return res, nil
}

// simulate runs one individual on e and publishes its outcome.
func (r *runner) simulate(e *executor, ind Individual) (err error) {
	name := r.model.Name()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: individual %d: worker panic: %v", ErrResource, ind.ID, p)
		}
	}()

	start := time.Now()
	r.metrics.IndividualStarted(name)
	defer r.metrics.IndividualFinished(name)
	out, err := e.run(ind)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	if err := r.coll.Commit(out.id, out.rows); err != nil {
		return fmt.Errorf("%w: %w", ErrResource, err)
	}

	failed := out.failure != nil
	r.metrics.ObserveIndividual(name, elapsed, failed, len(out.rows))
	r.metrics.AddSolverWork(name, out.stats.Steps, out.stats.Rejected, out.stats.Evals, out.stats.Jacobians, out.stats.Switched)

	rec := trace.IndividualRecord{
		ID:        out.id,
		Points:    out.points,
		Rows:      len(out.rows),
		Steps:     out.stats.Steps,
		Rejected:  out.stats.Rejected,
		Evals:     out.stats.Evals,
		Jacobians: out.stats.Jacobians,
		Switched:  out.stats.Switched,
		Elapsed:   elapsed,
	}
	if failed {
		rec.Failed = true
		rec.FailTime = out.failure.Time
		rec.Reason = rootCause(out.failure.Cause()).Error()
	}
	r.trace.Record(rec)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Solver.Add(out.stats)
	if out.stats.Switched {
		r.summary.Stiff++
	}
	if failed {
		r.summary.Failed++
		r.failures = append(r.failures, *out.failure)
	}
	return nil
}

// rootCause follows single-error wrapping down to the innermost error, so
// trace reasons group by failure kind rather than by time and step.
func rootCause(err error) error {
	for {
		u := errors.Unwrap(err)
		if u == nil {
			return err
		}
		err = u
	}
}
