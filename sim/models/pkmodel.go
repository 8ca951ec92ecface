// Package models holds compiled descriptors for the bundled PK/PD models.
// Each model is a sim.Descriptor whose blocks are plain Go; the registry maps
// model names to descriptors and to a default run configuration for the CLI.
package models

import "github.com/pkpdsim/pkpdsim/sim"

// PKValues supplies clearance, volume and absorption rate constant for the
// current record, from params or derived values as the model defines them.
type PKValues func(f *sim.Frame) (cl, v, ka float64)

// OneCmtDepot returns the ODE block of a one-compartment model with
// first-order absorption. The depot must be compartment 0 and the central
// compartment 1; any further compartments get no contribution.
func OneCmtDepot(pk PKValues) func(t float64, a []float64, f *sim.Frame, dadt []float64) {
	return func(_ float64, a []float64, f *sim.Frame, dadt []float64) {
		cl, v, ka := pk(f)
		absorbed := ka * a[0]
		dadt[0] = -absorbed
		dadt[1] = absorbed - cl/v*a[1]
	}
}

// derivedPK reads CL, V and KA written by main.
func derivedPK(f *sim.Frame) (cl, v, ka float64) {
	d := f.Derived()
	return d[0], d[1], d[2]
}

// paramPK reads CL, V and KA from params.
func paramPK(f *sim.Frame) (cl, v, ka float64) {
	return f.Param("CL"), f.Param("V"), f.Param("KA")
}
