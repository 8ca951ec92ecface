package sim

import (
	"errors"
	"math/rand"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/pkpdsim/pkpdsim/sim/ode"
)

// IndividualState is the lifecycle position of one individual's simulation.
type IndividualState int

const (
	StateInitializing IndividualState = iota
	StateAtEvent
	StateIntegrating
	StateDone
)

func (s IndividualState) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateAtEvent:
		return "AT_EVENT"
	case StateIntegrating:
		return "INTEGRATING"
	case StateDone:
		return "DONE"
	}
	return "UNKNOWN"
}

type infusion struct {
	seq  int
	cmt  int
	rate float64
}

// outcome is what one individual hands back to the runner.
type outcome struct {
	id      int
	rows    []Row
	failure *Failure
	stats   ode.Stats
	points  int
}

// executor simulates individuals one at a time. It is owned by one worker
// and reused across that worker's individuals; nothing in it is shared.
type executor struct {
	model  *Model
	key    SimulationKey
	design Design
	params map[string]float64
	policy MainPolicy

	frame  *Frame
	solver *ode.Solver
	inflow []float64
	active []infusion // start order, so inflow sums are reproducible
	rhs    ode.Func
	state  IndividualState
}

func newExecutor(m *Model, cfg RunConfig) (*executor, error) {
	solver, err := ode.NewSolver(cfg.Solver, len(m.desc.Compartments))
	if err != nil {
		return nil, &ConfigError{Model: m.Name(), Field: "solver", Err: err}
	}
	e := &executor{
		model:  m,
		key:    NewSimulationKey(cfg.Seed),
		design: cfg.Design,
		params: cfg.Params,
		policy: cfg.MainPolicy,
		frame:  newFrame(m),
		solver: solver,
		inflow: make([]float64, len(m.desc.Compartments)),
	}
	e.rhs = func(t float64, y, dydt []float64) {
		e.model.desc.Blocks.ODE(t, y, e.frame, dydt)
		for i, r := range e.inflow {
			dydt[i] += r
		}
	}
	return e, nil
}

// State reports where the current individual is in its lifecycle.
func (e *executor) State() IndividualState {
	return e.state
}

// run simulates one individual. Numerical failures are contained in the
// outcome with the rows captured before them; the returned error is always
// a *ConfigError and aborts the run.
func (e *executor) run(ind Individual) (outcome, error) {
	m := e.model
	out := outcome{id: ind.ID}
	e.state = StateInitializing

	params, err := m.resolveParams(e.params, ind.Covariates)
	if err != nil {
		return out, &ConfigError{Model: m.Name(), Field: "covariates", Err: err}
	}
	tl, err := BuildTimeline(m, e.design, ind.Doses)
	if err != nil {
		return out, &ConfigError{Model: m.Name(), Field: "doses", Err: err}
	}
	out.points = len(tl.Points)

	f := e.frame
	f.reset(ind.ID, params)
	rng := NewPartitionedRNG(e.key)
	epsRNG := rng.ForSubsystem(SubsystemEps(ind.ID))
	m.omega.Draw(rng.ForSubsystem(SubsystemEta(ind.ID)), &f.eta)
	e.active = e.active[:0]
	e.recomputeInflow()

	logrus.Debugf("model %s: individual %d starting (%d schedule points)", m.Name(), ind.ID, len(tl.Points))

	for i, p := range tl.Points {
		if i > 0 {
			e.state = StateIntegrating
			prev := tl.Points[i-1].Time
			st, err := e.solver.Integrate(e.rhs, prev, p.Time, f.amounts)
			out.stats.Add(st)
			if ferr := f.blockFault("ode"); ferr != nil {
				return out, ferr
			}
			if err != nil {
				at := prev
				var ie *ode.IntegrationError
				if errors.As(err, &ie) {
					at = ie.T
				}
				e.fail(&out, at, err)
				return out, nil
			}
		}

		e.state = StateAtEvent
		f.time = p.Time
		if len(p.InfusionEnds) > 0 {
			e.active = slices.DeleteFunc(e.active, func(inf infusion) bool {
				return slices.Contains(p.InfusionEnds, inf.seq)
			})
			e.recomputeInflow()
		}

		if e.policy != MainOnDose || i == 0 || len(p.Doses) > 0 {
			if err := f.runMain(); err != nil {
				return out, err
			}
			if err := f.checkDerived(); err != nil {
				e.fail(&out, p.Time, err)
				return out, nil
			}
		}

		if len(p.Doses) > 0 {
			e.applyDoses(p.Doses)
		}

		if p.Obs {
			if err := e.observe(&out, epsRNG); err != nil {
				return out, err
			}
		}
		f.newInd = false
	}

	e.state = StateDone
	logrus.Debugf("model %s: individual %d done (%d rows, %d steps)", m.Name(), ind.ID, len(out.rows), out.stats.Steps)
	return out, nil
}

// applyDoses adds boluses to the state and registers infusions, scaling each
// amount by the bioavailability main left in effect at this record.
func (e *executor) applyDoses(doses []ScheduledDose) {
	f := e.frame
	changed := false
	for _, d := range doses {
		amt := d.Amount * f.bioav[d.Cmt]
		if d.Duration == 0 {
			f.amounts[d.Cmt] += amt
			continue
		}
		e.active = append(e.active, infusion{seq: d.Seq, cmt: d.Cmt, rate: amt / d.Duration})
		changed = true
	}
	if changed {
		e.recomputeInflow()
	}
}

func (e *executor) recomputeInflow() {
	clear(e.inflow)
	for _, inf := range e.active {
		e.inflow[inf.cmt] += inf.rate
	}
}

func (e *executor) observe(out *outcome, epsRNG *rand.Rand) error {
	f := e.frame
	e.model.sigma.Draw(epsRNG, &f.eps)
	values, err := f.runTable()
	if err != nil {
		return err
	}
	out.rows = append(out.rows, Row{ID: f.id, Time: f.time, Values: values})
	return nil
}

func (e *executor) fail(out *outcome, at float64, cause error) {
	e.state = StateDone
	err := &NumericalError{ID: out.id, Time: at, Err: cause}
	out.failure = &Failure{ID: out.id, Time: at, Err: err}
	logrus.WithFields(logrus.Fields{
		"model": e.model.Name(),
		"id":    out.id,
		"time":  at,
	}).Warnf("individual aborted: %v", cause)
}
