package sim

import (
	"fmt"
	"runtime"

	"github.com/pkpdsim/pkpdsim/sim/ode"
)

// MainPolicy selects the records at which the main block is re-evaluated.
type MainPolicy string

const (
	// MainEveryRecord runs main at every schedule point (default).
	MainEveryRecord MainPolicy = "every-record"
	// MainOnDose runs main at the first schedule point and at points carrying
	// dose starts; derived parameters are held constant in between.
	MainOnDose MainPolicy = "on-dose"
)

// validMainPolicies maps accepted policy names. Empty means MainEveryRecord.
var validMainPolicies = map[MainPolicy]bool{
	"":              true,
	MainEveryRecord: true,
	MainOnDose:      true,
}

// IsValidMainPolicy returns true if name is a recognized main policy.
func IsValidMainPolicy(name string) bool {
	return validMainPolicies[MainPolicy(name)]
}

// Individual is one simulated subject.
type Individual struct {
	ID         int                // output key; 0 = position+1
	Covariates map[string]float64 // per-individual param overrides
	Doses      []Dose
}

// Population returns n individuals with IDs 1..n sharing the same doses.
func Population(n int, doses ...Dose) []Individual {
	out := make([]Individual, n)
	for i := range out {
		out[i] = Individual{ID: i + 1, Doses: append([]Dose(nil), doses...)}
	}
	return out
}

// RunConfig groups everything a run needs besides the compiled model.
type RunConfig struct {
	Design      Design             // zero = the model's design
	Individuals []Individual       // at least one
	Params      map[string]float64 // run-wide param overrides
	Seed        int64
	Solver      ode.Config // zero fields take ode.DefaultConfig values
	MainPolicy  MainPolicy // "" = every-record
	Workers     int        // 0 = GOMAXPROCS
}

// normalized returns a copy with defaults applied.
func (c RunConfig) normalized(m *Model) RunConfig {
	if c.Design.IsZero() {
		c.Design = m.Design()
	}
	def := ode.DefaultConfig()
	if c.Solver.Method == "" {
		c.Solver.Method = def.Method
	}
	if c.Solver.RTol == 0 {
		c.Solver.RTol = def.RTol
	}
	if c.Solver.ATol == 0 {
		c.Solver.ATol = def.ATol
	}
	if c.Solver.MaxSteps == 0 {
		c.Solver.MaxSteps = def.MaxSteps
	}
	if c.MainPolicy == "" {
		c.MainPolicy = MainEveryRecord
	}
	if c.Workers == 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	inds := make([]Individual, len(c.Individuals))
	for i, ind := range c.Individuals {
		if ind.ID == 0 {
			ind.ID = i + 1
		}
		inds[i] = ind
	}
	c.Individuals = inds
	return c
}

// Validate checks the configuration against m. Every error is a *ConfigError.
// Doses are checked by building each individual's timeline, so a run that
// passes Validate never fails on configuration inside the simulation loop
// (capture divergence aside).
func (c RunConfig) Validate(m *Model) error {
	_, err := c.resolve(m)
	return err
}

func (c RunConfig) resolve(m *Model) (RunConfig, error) {
	name := m.Name()
	c = c.normalized(m)
	if err := c.Design.Validate(); err != nil {
		return c, &ConfigError{Model: name, Field: "design", Err: err}
	}
	if err := c.Solver.Validate(); err != nil {
		return c, &ConfigError{Model: name, Field: "solver", Err: err}
	}
	if !validMainPolicies[c.MainPolicy] {
		return c, configErrorf(name, "main_policy", "unknown policy %q; valid: every-record, on-dose", c.MainPolicy)
	}
	if c.Workers < 0 {
		return c, configErrorf(name, "workers", "must be non-negative, got %d", c.Workers)
	}
	if len(c.Individuals) == 0 {
		return c, configErrorf(name, "individuals", "at least one individual is required")
	}
	if _, err := m.resolveParams(c.Params); err != nil {
		return c, &ConfigError{Model: name, Field: "params", Err: err}
	}
	seen := make(map[int]bool, len(c.Individuals))
	for i, ind := range c.Individuals {
		field := fmt.Sprintf("individuals[%d]", i)
		if ind.ID < 0 {
			return c, configErrorf(name, field, "id must be positive, got %d", ind.ID)
		}
		if seen[ind.ID] {
			return c, configErrorf(name, field, "duplicate id %d", ind.ID)
		}
		seen[ind.ID] = true
		if _, err := m.resolveParams(c.Params, ind.Covariates); err != nil {
			return c, &ConfigError{Model: name, Field: field + ".covariates", Err: err}
		}
		if _, err := BuildTimeline(m, c.Design, ind.Doses); err != nil {
			return c, &ConfigError{Model: name, Field: field + ".doses", Err: err}
		}
	}
	return c, nil
}
