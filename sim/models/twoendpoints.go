package models

import (
	"math"

	"github.com/pkpdsim/pkpdsim/sim"
)

// TwoEndpoints tracks plasma concentration and cumulative urinary excretion;
// dvtype selects which one is aliased to DV.
func TwoEndpoints() sim.Descriptor {
	return sim.Descriptor{
		Name:        "two-endpoints",
		Description: "Plasma and urine endpoints; dvtype=2 reports UR as DV, otherwise CP",
		Compartments: []sim.Compartment{
			{Name: "GUT", Depot: true},
			{Name: "CENT"},
			{Name: "URINE"},
		},
		Params: []sim.Param{
			{Name: "CLnr", Value: 0.97},
			{Name: "V", Value: 22.3},
			{Name: "KA", Value: 1.9},
			{Name: "CLr", Value: 0.2},
			{Name: "dvtype", Value: 0},
		},
		Sigma:    sim.Diag(nil, 0, 0),
		Captures: []string{"CP", "UR", "DV"},
		Design:   sim.Design{Start: 0, End: 72, Delta: 0.25, Add: []float64{0.05}},
		Blocks: sim.BlockFuncs{
			ODEFunc:   twoEndpointsODE,
			TableFunc: twoEndpointsTable,
		},
	}
}

func twoEndpointsODE(_ float64, a []float64, f *sim.Frame, dadt []float64) {
	p := f.Params() // CLnr, V, KA, CLr
	clnr, v, ka, clr := p[0], p[1], p[2], p[3]
	gut, cent := a[0], a[1]
	dadt[0] = -ka * gut
	dadt[1] = ka*gut - clnr*(cent/v) - clr*(cent/v)
	dadt[2] = clr * (cent / v)
}

func twoEndpointsTable(f *sim.Frame) {
	cp := f.Amount("CENT") / f.Param("V") * math.Exp(f.EpsAt(1))
	ur := f.Amount("URINE") * math.Exp(f.EpsAt(2))
	f.Capture("CP", cp)
	f.Capture("UR", ur)
	dv := cp
	if f.Param("dvtype") == 2 {
		dv = ur
	}
	f.Capture("DV", dv)
}
