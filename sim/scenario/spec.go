// Package scenario loads YAML run specifications and converts them into
// sim.RunConfig values.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pkpdsim/pkpdsim/sim"
	"github.com/pkpdsim/pkpdsim/sim/ode"
)

// Spec is the top-level run specification.
// Loaded from YAML via LoadSpec(path).
type Spec struct {
	Model       string             `yaml:"model,omitempty"`
	Seed        int64              `yaml:"seed"`
	Design      *DesignSpec        `yaml:"design,omitempty"` // nil = the model's design
	Params      map[string]float64 `yaml:"params,omitempty"`
	Solver      SolverSpec         `yaml:"solver,omitempty"`
	MainPolicy  string             `yaml:"main_policy,omitempty"`
	Workers     int                `yaml:"workers,omitempty"`
	Population  *PopulationSpec    `yaml:"population,omitempty"`
	Individuals []IndividualSpec   `yaml:"individuals,omitempty"`
}

// DesignSpec is the observation design ($SET end, delta, add).
type DesignSpec struct {
	Start float64   `yaml:"start"`
	End   float64   `yaml:"end"`
	Delta float64   `yaml:"delta"`
	Add   []float64 `yaml:"add,omitempty"`
}

// SolverSpec overrides integrator settings. Zero fields keep defaults.
type SolverSpec struct {
	Method      string  `yaml:"method,omitempty"`
	RTol        float64 `yaml:"rtol,omitempty"`
	ATol        float64 `yaml:"atol,omitempty"`
	InitialStep float64 `yaml:"initial_step,omitempty"`
	MaxStep     float64 `yaml:"max_step,omitempty"`
	MaxSteps    int     `yaml:"max_steps,omitempty"`
}

// PopulationSpec generates Count identical individuals numbered from 1.
type PopulationSpec struct {
	Count      int                `yaml:"count"`
	Covariates map[string]float64 `yaml:"covariates,omitempty"`
	Doses      []DoseSpec         `yaml:"doses,omitempty"`
}

// IndividualSpec is one explicitly listed individual.
type IndividualSpec struct {
	ID         int                `yaml:"id,omitempty"` // 0 = next free id
	Covariates map[string]float64 `yaml:"covariates,omitempty"`
	Doses      []DoseSpec         `yaml:"doses,omitempty"`
}

// DoseSpec is one dosing record.
type DoseSpec struct {
	Time float64 `yaml:"time"`
	Cmt  string  `yaml:"cmt,omitempty"`
	Amt  float64 `yaml:"amt"`
	Dur  float64 `yaml:"dur,omitempty"`
	Rate float64 `yaml:"rate,omitempty"`
	Addl int     `yaml:"addl,omitempty"`
	II   float64 `yaml:"ii,omitempty"`
}

// maxPopulation bounds generated populations.
const maxPopulation = 10_000_000

// LoadSpec reads and parses a YAML run specification file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run spec: %w", err)
	}
	return ParseSpec(data)
}

// ParseSpec parses a YAML run specification.
func ParseSpec(data []byte) (*Spec, error) {
	var spec Spec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return &spec, nil
		}
		return nil, fmt.Errorf("parsing run spec: %w", err)
	}
	return &spec, nil
}

// Validate checks fields that do not depend on the model. Model-dependent
// checks (param names, compartments) happen in sim.RunConfig.Validate.
func (s *Spec) Validate() error {
	if s.Design != nil {
		if err := s.design().Validate(); err != nil {
			return fmt.Errorf("design: %w", err)
		}
	}
	if err := validateParams("params", s.Params); err != nil {
		return err
	}
	if !ode.ValidMethods[ode.Method(s.Solver.Method)] {
		return fmt.Errorf("solver: unknown method %q; valid: dopri5, rosenbrock, auto", s.Solver.Method)
	}
	for name, v := range map[string]float64{"rtol": s.Solver.RTol, "atol": s.Solver.ATol, "initial_step": s.Solver.InitialStep, "max_step": s.Solver.MaxStep} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("solver.%s must be a non-negative finite number, got %g", name, v)
		}
	}
	if s.Solver.MaxSteps < 0 {
		return fmt.Errorf("solver.max_steps must be non-negative, got %d", s.Solver.MaxSteps)
	}
	if !sim.IsValidMainPolicy(s.MainPolicy) {
		return fmt.Errorf("unknown main_policy %q; valid: every-record, on-dose", s.MainPolicy)
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", s.Workers)
	}
	if s.Population == nil && len(s.Individuals) == 0 {
		return fmt.Errorf("at least one of population or individuals is required")
	}
	if p := s.Population; p != nil {
		if p.Count <= 0 || p.Count > maxPopulation {
			return fmt.Errorf("population.count must be in [1, %d], got %d", maxPopulation, p.Count)
		}
		if err := validateParams("population.covariates", p.Covariates); err != nil {
			return err
		}
		if err := validateDoses("population", p.Doses); err != nil {
			return err
		}
	}
	for i, ind := range s.Individuals {
		prefix := fmt.Sprintf("individuals[%d]", i)
		if ind.ID < 0 {
			return fmt.Errorf("%s: id must be positive, got %d", prefix, ind.ID)
		}
		if err := validateParams(prefix+".covariates", ind.Covariates); err != nil {
			return err
		}
		if err := validateDoses(prefix, ind.Doses); err != nil {
			return err
		}
	}
	return nil
}

func (s *Spec) design() sim.Design {
	return sim.Design{Start: s.Design.Start, End: s.Design.End, Delta: s.Design.Delta, Add: s.Design.Add}
}

func validateDoses(prefix string, doses []DoseSpec) error {
	for j, d := range doses {
		if err := d.toDose().Validate(); err != nil {
			return fmt.Errorf("%s.doses[%d]: %w", prefix, j, err)
		}
	}
	return nil
}

func validateParams(prefix string, params map[string]float64) error {
	for name, v := range params {
		if err := validateFinite(prefix+"."+name, v); err != nil {
			return err
		}
	}
	return nil
}

func validateFinite(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	return nil
}

func (d DoseSpec) toDose() sim.Dose {
	return sim.Dose{
		Time:     d.Time,
		Cmt:      d.Cmt,
		Amount:   d.Amt,
		Duration: d.Dur,
		Rate:     d.Rate,
		Addl:     d.Addl,
		II:       d.II,
	}
}

func toDoses(specs []DoseSpec) []sim.Dose {
	out := make([]sim.Dose, len(specs))
	for i, d := range specs {
		out[i] = d.toDose()
	}
	return out
}

// RunConfig converts the spec. Population individuals take ids 1..count;
// explicit individuals without an id continue from the highest id so far.
func (s *Spec) RunConfig() sim.RunConfig {
	cfg := sim.RunConfig{
		Params: s.Params,
		Seed:   s.Seed,
		Solver: ode.Config{
			Method:      ode.Method(s.Solver.Method),
			RTol:        s.Solver.RTol,
			ATol:        s.Solver.ATol,
			InitialStep: s.Solver.InitialStep,
			MaxStep:     s.Solver.MaxStep,
			MaxSteps:    s.Solver.MaxSteps,
		},
		MainPolicy: sim.MainPolicy(s.MainPolicy),
		Workers:    s.Workers,
	}
	if s.Design != nil {
		cfg.Design = s.design()
	}
	next := 1
	if p := s.Population; p != nil {
		for i := 0; i < p.Count; i++ {
			cfg.Individuals = append(cfg.Individuals, sim.Individual{
				ID:         next,
				Covariates: p.Covariates,
				Doses:      toDoses(p.Doses),
			})
			next++
		}
	}
	for _, ind := range s.Individuals {
		id := ind.ID
		if id == 0 {
			id = next
		}
		if id >= next {
			next = id + 1
		}
		cfg.Individuals = append(cfg.Individuals, sim.Individual{
			ID:         id,
			Covariates: ind.Covariates,
			Doses:      toDoses(ind.Doses),
		})
	}
	return cfg
}

// FromRunConfig renders cfg as a spec for model, the inverse of RunConfig for
// explicitly listed individuals.
func FromRunConfig(model string, cfg sim.RunConfig) *Spec {
	s := &Spec{
		Model:  model,
		Seed:   cfg.Seed,
		Params: cfg.Params,
		Solver: SolverSpec{
			Method:      string(cfg.Solver.Method),
			RTol:        cfg.Solver.RTol,
			ATol:        cfg.Solver.ATol,
			InitialStep: cfg.Solver.InitialStep,
			MaxStep:     cfg.Solver.MaxStep,
			MaxSteps:    cfg.Solver.MaxSteps,
		},
		MainPolicy: string(cfg.MainPolicy),
		Workers:    cfg.Workers,
	}
	if !cfg.Design.IsZero() {
		d := cfg.Design
		s.Design = &DesignSpec{Start: d.Start, End: d.End, Delta: d.Delta, Add: d.Add}
	}
	for i, ind := range cfg.Individuals {
		is := IndividualSpec{ID: ind.ID, Covariates: ind.Covariates}
		if is.ID == 0 {
			is.ID = i + 1
		}
		for _, d := range ind.Doses {
			is.Doses = append(is.Doses, DoseSpec{
				Time: d.Time,
				Cmt:  d.Cmt,
				Amt:  d.Amount,
				Dur:  d.Duration,
				Rate: d.Rate,
				Addl: d.Addl,
				II:   d.II,
			})
		}
		s.Individuals = append(s.Individuals, is)
	}
	return s
}
