// Package metrics provides Prometheus instrumentation for population runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for simulation runs. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Individuals completed by outcome ("ok", "failed")
	Individuals *prometheus.CounterVec

	// Wall time to simulate one individual's full timeline
	IndividualLatency *prometheus.HistogramVec

	// Individuals currently being simulated
	InFlight *prometheus.GaugeVec

	// Captured rows
	Rows *prometheus.CounterVec

	// Integrator work by kind ("accepted", "rejected")
	SolverSteps *prometheus.CounterVec

	// Right-hand side evaluations and finite-difference Jacobians
	SolverEvals     *prometheus.CounterVec
	SolverJacobians *prometheus.CounterVec

	// Individuals for which auto mode switched to the stiff method
	StiffSwitches *prometheus.CounterVec

	// Overall run latency
	RunLatency *prometheus.HistogramVec
}

// New creates a Metrics instance with every collector registered on reg.
// Pass prometheus.DefaultRegisterer for process-wide exposition or a fresh
// prometheus.NewRegistry() per run.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Individuals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pkpdsim_individuals_total",
			Help: "Total simulated individuals by model and outcome",
		}, []string{"model", "outcome"}),

		IndividualLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pkpdsim_individual_duration_seconds",
			Help:    "Duration of one individual's simulation",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
		}, []string{"model"}),

		InFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pkpdsim_individuals_in_flight",
			Help: "Individuals currently being simulated",
		}, []string{"model"}),

		Rows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pkpdsim_rows_total",
			Help: "Total captured observation rows",
		}, []string{"model"}),

		SolverSteps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pkpdsim_solver_steps_total",
			Help: "Integrator steps by kind (accepted, rejected)",
		}, []string{"model", "kind"}),

		SolverEvals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pkpdsim_solver_rhs_evaluations_total",
			Help: "ODE right-hand side evaluations",
		}, []string{"model"}),

		SolverJacobians: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pkpdsim_solver_jacobians_total",
			Help: "Finite-difference Jacobians formed by the stiff method",
		}, []string{"model"}),

		StiffSwitches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pkpdsim_solver_stiff_switches_total",
			Help: "Individuals for which auto mode switched to the stiff method",
		}, []string{"model"}),

		RunLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pkpdsim_run_duration_seconds",
			Help:    "Duration of a full population run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"model"}),
	}
}

// IndividualStarted marks one individual in flight.
func (m *Metrics) IndividualStarted(model string) {
	if m != nil {
		m.InFlight.WithLabelValues(model).Inc()
	}
}

// IndividualFinished releases the in-flight slot taken by IndividualStarted,
// whatever the outcome.
func (m *Metrics) IndividualFinished(model string) {
	if m != nil {
		m.InFlight.WithLabelValues(model).Dec()
	}
}

// ObserveIndividual records a finished individual.
func (m *Metrics) ObserveIndividual(model string, d time.Duration, failed bool, rows int) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	m.Individuals.WithLabelValues(model, outcome).Inc()
	m.IndividualLatency.WithLabelValues(model).Observe(d.Seconds())
	m.Rows.WithLabelValues(model).Add(float64(rows))
}

// AddSolverWork records integrator effort for one individual.
func (m *Metrics) AddSolverWork(model string, accepted, rejected, evals, jacobians int, switched bool) {
	if m == nil {
		return
	}
	m.SolverSteps.WithLabelValues(model, "accepted").Add(float64(accepted))
	m.SolverSteps.WithLabelValues(model, "rejected").Add(float64(rejected))
	m.SolverEvals.WithLabelValues(model).Add(float64(evals))
	m.SolverJacobians.WithLabelValues(model).Add(float64(jacobians))
	if switched {
		m.StiffSwitches.WithLabelValues(model).Inc()
	}
}

// ObserveRun records the total run duration.
func (m *Metrics) ObserveRun(model string, d time.Duration) {
	if m != nil {
		m.RunLatency.WithLabelValues(model).Observe(d.Seconds())
	}
}
