// Package ode advances compartment state vectors across one inter-event interval.
//
// Three methods are available:
//   - dopri5: explicit Dormand-Prince 5(4) with FSAL
//   - rosenbrock: linearly implicit Rosenbrock 2(3) (ode23s), L-stable, for stiff systems
//   - auto: dopri5 with Hairer's stiffness detection; switches to rosenbrock for the
//     remainder of the interval once stiffness is detected
//
// A Solver owns its work buffers and is not safe for concurrent use. The engine
// creates one Solver per individual.
package ode

import (
	"errors"
	"fmt"
	"math"
)

// Func evaluates the right-hand side dy/dt = f(t, y) into dydt.
// dydt is zeroed before every call.
type Func func(t float64, y, dydt []float64)

// Method selects the integration scheme.
type Method string

const (
	MethodDOPRI5     Method = "dopri5"
	MethodRosenbrock Method = "rosenbrock"
	MethodAuto       Method = "auto"
)

// ValidMethods is the set of recognized method names. Empty means MethodAuto.
var ValidMethods = map[Method]bool{"": true, MethodDOPRI5: true, MethodRosenbrock: true, MethodAuto: true}

var (
	// ErrNonFinite indicates the state or its derivative became NaN or Inf.
	ErrNonFinite = errors.New("ode: non-finite state")
	// ErrStepTooSmall indicates step control could not satisfy the tolerances.
	ErrStepTooSmall = errors.New("ode: step size underflow")
	// ErrTooManySteps indicates MaxSteps was exhausted before reaching the end of the interval.
	ErrTooManySteps = errors.New("ode: step budget exhausted")
)

// IntegrationError carries where in the interval the solver gave up.
type IntegrationError struct {
	T    float64
	Step int
	Err  error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("t=%g step=%d: %v", e.T, e.Step, e.Err)
}

func (e *IntegrationError) Unwrap() error {
	return e.Err
}

// Config controls local error and step budget.
type Config struct {
	Method      Method  // "" = auto
	RTol        float64 // relative tolerance (> 0)
	ATol        float64 // absolute tolerance (> 0)
	InitialStep float64 // 0 = estimated per interval
	MaxStep     float64 // 0 = unbounded
	MaxSteps    int     // accepted+rejected steps per interval (0 = default)
}

const (
	defaultMaxSteps = 100000
	epsilon         = 2.220446049250313e-16
	// maxNonFinite bounds consecutive step retries after a NaN/Inf trial state.
	maxNonFinite = 12
)

// DefaultConfig matches the tolerances the bundled models are calibrated against.
func DefaultConfig() Config {
	return Config{
		Method:   MethodAuto,
		RTol:     1e-8,
		ATol:     1e-8,
		MaxSteps: defaultMaxSteps,
	}
}

// Validate checks tolerances and method name.
func (c Config) Validate() error {
	if !ValidMethods[c.Method] {
		return fmt.Errorf("unknown method %q; valid: dopri5, rosenbrock, auto", c.Method)
	}
	if !(c.RTol > 0) || math.IsInf(c.RTol, 0) {
		return fmt.Errorf("rtol must be positive and finite, got %g", c.RTol)
	}
	if !(c.ATol > 0) || math.IsInf(c.ATol, 0) {
		return fmt.Errorf("atol must be positive and finite, got %g", c.ATol)
	}
	if c.InitialStep < 0 || math.IsNaN(c.InitialStep) {
		return fmt.Errorf("initial_step must be non-negative, got %g", c.InitialStep)
	}
	if c.MaxStep < 0 || math.IsNaN(c.MaxStep) {
		return fmt.Errorf("max_step must be non-negative, got %g", c.MaxStep)
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative, got %d", c.MaxSteps)
	}
	return nil
}

// Stats reports the work done by one or more Integrate calls.
type Stats struct {
	Steps     int  // accepted steps
	Rejected  int  // rejected steps
	Evals     int  // right-hand side evaluations
	Jacobians int  // finite-difference Jacobians formed
	Switched  bool // auto mode switched to the stiff method at least once
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Steps += o.Steps
	s.Rejected += o.Rejected
	s.Evals += o.Evals
	s.Jacobians += o.Jacobians
	s.Switched = s.Switched || o.Switched
}

// Solver integrates systems of a fixed dimension.
type Solver struct {
	cfg Config
	n   int

	// explicit stages
	k   [7][]float64
	tmp []float64
	out []float64
	// rosenbrock scratch lives in its own struct so dopri5-only runs stay light
	ros *rosenbrockWork
}

// NewSolver allocates a solver for n-dimensional systems.
func NewSolver(cfg Config, n int) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("system dimension must be positive, got %d", n)
	}
	if cfg.Method == "" {
		cfg.Method = MethodAuto
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	s := &Solver{cfg: cfg, n: n, tmp: make([]float64, n), out: make([]float64, n)}
	for i := range s.k {
		s.k[i] = make([]float64, n)
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Solver) Config() Config {
	return s.cfg
}

// Integrate advances y in place from t0 to t1. A zero-length interval returns
// immediately without evaluating f and leaves y untouched.
func (s *Solver) Integrate(f Func, t0, t1 float64, y []float64) (Stats, error) {
	var st Stats
	if len(y) != s.n {
		return st, fmt.Errorf("state has %d entries, solver built for %d", len(y), s.n)
	}
	if t0 == t1 {
		return st, nil
	}
	if t1 < t0 {
		return st, fmt.Errorf("cannot integrate backwards from %g to %g", t0, t1)
	}
	if !finite(y) {
		return st, &IntegrationError{T: t0, Err: ErrNonFinite}
	}
	switch s.cfg.Method {
	case MethodRosenbrock:
		h := s.cfg.InitialStep
		if h == 0 {
			s.eval(f, t0, y, s.k[0], &st)
			h = s.initialStep(f, t0, t1, y, s.k[0], 3, &st)
		}
		err := s.rosenbrock(f, t0, t1, y, h, &st)
		return st, err
	default:
		err := s.dopri5(f, t0, t1, y, s.cfg.Method == MethodAuto, &st)
		return st, err
	}
}

func (s *Solver) eval(f Func, t float64, y, dydt []float64, st *Stats) {
	for i := range dydt {
		dydt[i] = 0
	}
	f(t, y, dydt)
	st.Evals++
}

// initialStep follows Hairer, Norsett & Wanner (II.4) for a starting step guess.
// f0 must hold f(t0, y).
func (s *Solver) initialStep(f Func, t0, t1 float64, y, f0 []float64, order int, st *Stats) float64 {
	span := t1 - t0
	var d0, d1 float64
	for i := range y {
		sc := s.cfg.ATol + s.cfg.RTol*math.Abs(y[i])
		d0 += (y[i] / sc) * (y[i] / sc)
		d1 += (f0[i] / sc) * (f0[i] / sc)
	}
	d0 = math.Sqrt(d0 / float64(s.n))
	d1 = math.Sqrt(d1 / float64(s.n))

	h0 := 1e-6
	if d0 >= 1e-5 && d1 >= 1e-5 {
		h0 = 0.01 * d0 / d1
	}
	h0 = math.Min(h0, span)

	for i := range y {
		s.tmp[i] = y[i] + h0*f0[i]
	}
	f1 := s.out
	s.eval(f, t0+h0, s.tmp, f1, st)
	var d2 float64
	for i := range y {
		sc := s.cfg.ATol + s.cfg.RTol*math.Abs(y[i])
		d := (f1[i] - f0[i]) / sc
		d2 += d * d
	}
	d2 = math.Sqrt(d2/float64(s.n)) / h0

	var h1 float64
	if m := math.Max(d1, d2); m <= 1e-15 {
		h1 = math.Max(1e-6, h0*1e-3)
	} else {
		h1 = math.Pow(0.01/m, 1/float64(order+1))
	}
	h := math.Min(100*h0, h1)
	h = math.Min(h, span)
	if s.cfg.MaxStep > 0 {
		h = math.Min(h, s.cfg.MaxStep)
	}
	if !(h > 0) || math.IsNaN(h) {
		h = math.Min(1e-6, span)
	}
	return h
}

// minStep is the smallest step distinguishable from t in floating point.
func minStep(t float64) float64 {
	return 16 * epsilon * (math.Abs(t) + 1)
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
