package models

import (
	"math"

	"github.com/pkpdsim/pkpdsim/sim"
)

// Population is a one-compartment depot model with allometric weight scaling
// and log-normal between-subject variability on CL, V and KA.
func Population() sim.Descriptor {
	return sim.Descriptor{
		Name:        "population",
		Description: "Example population PK model",
		Compartments: []sim.Compartment{
			{Name: "GUT", Depot: true},
			{Name: "CENT"},
		},
		Params: []sim.Param{{Name: "WT", Value: 70}},
		Thetas: []sim.Theta{
			{Value: math.Log(1), Transform: sim.TransformLog},
			{Value: math.Log(24), Transform: sim.TransformLog},
			{Value: math.Log(0.5), Transform: sim.TransformLog},
		},
		Omega:    sim.Diag([]string{"ECL", "EV", "EKA"}, 0.3, 0.1, 0.5),
		Sigma:    sim.Diag(nil, 0),
		Derived:  []string{"CL", "V", "KA"},
		Captures: []string{"IPRED", "DV", "CL", "V", "ECL"},
		Design:   sim.Design{Start: 0, End: 240, Delta: 0.5},
		Blocks: sim.BlockFuncs{
			MainFunc:  populationMain,
			ODEFunc:   OneCmtDepot(derivedPK),
			TableFunc: populationTable,
		},
	}
}

func populationMain(f *sim.Frame) {
	lw := math.Log(f.Param("WT") / 70)
	f.Set("CL", math.Exp(f.ThetaRaw(1)+0.75*lw+f.Eta("ECL")))
	f.Set("V", math.Exp(f.ThetaRaw(2)+lw+f.Eta("EV")))
	f.Set("KA", math.Exp(f.ThetaRaw(3)+f.Eta("EKA")))
}

func populationTable(f *sim.Frame) {
	ipred := f.Amount("CENT") / f.Get("V")
	f.Capture("IPRED", ipred)
	f.Capture("DV", ipred*math.Exp(f.EpsAt(1)))
}
