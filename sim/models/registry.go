package models

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkpdsim/pkpdsim/sim"
)

// Entry is one bundled model.
type Entry struct {
	Descriptor func() sim.Descriptor
	// Defaults is the run the CLI performs when no run spec is given.
	Defaults func() sim.RunConfig
}

var registry = map[string]Entry{
	"adaptive": {
		Descriptor: Adaptive,
		Defaults: func() sim.RunConfig {
			return sim.RunConfig{
				Individuals: sim.Population(1, sim.Dose{Time: 0, Cmt: "DEPOT", Amount: 2000}),
			}
		},
	},
	"population": {
		Descriptor: Population,
		Defaults: func() sim.RunConfig {
			return sim.RunConfig{
				Individuals: sim.Population(10, sim.Dose{Time: 0, Cmt: "GUT", Amount: 100, Addl: 9, II: 24}),
			}
		},
	},
	"two-endpoints": {
		Descriptor: TwoEndpoints,
		Defaults: func() sim.RunConfig {
			return sim.RunConfig{
				Individuals: sim.Population(1, sim.Dose{Time: 0, Cmt: "GUT", Amount: 100}),
			}
		},
	},
}

// Names returns the bundled model names, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// IsValidName returns true if name is a bundled model.
func IsValidName(name string) bool {
	_, ok := registry[name]
	return ok
}

// Lookup returns the registry entry for name.
func Lookup(name string) (Entry, error) {
	e, ok := registry[name]
	if !ok {
		return Entry{}, fmt.Errorf("unknown model %q; valid: %s", name, strings.Join(Names(), ", "))
	}
	return e, nil
}

// Compile compiles the bundled model name.
func Compile(name string) (*sim.Model, error) {
	e, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return sim.Compile(e.Descriptor())
}

// Defaults returns the default run configuration of the bundled model name.
func Defaults(name string) (sim.RunConfig, error) {
	e, err := Lookup(name)
	if err != nil {
		return sim.RunConfig{}, err
	}
	return e.Defaults(), nil
}
