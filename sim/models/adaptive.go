package models

import "github.com/pkpdsim/pkpdsim/sim"

// Adaptive is a one-compartment depot model that permanently scales depot
// bioavailability by F1adjust once CP has exceeded condition.
func Adaptive() sim.Descriptor {
	return sim.Descriptor{
		Name:        "adaptive",
		Description: "Simple code to adjust doses: depot F drops to F1*F1adjust once CP has exceeded condition",
		Compartments: []sim.Compartment{
			{Name: "DEPOT", Depot: true},
			{Name: "CENT"},
		},
		Params: []sim.Param{
			{Name: "CL", Value: 1},
			{Name: "V", Value: 20},
			{Name: "KA", Value: 1.1},
			{Name: "F1", Value: 1},
			{Name: "F1adjust", Value: 0.5},
			{Name: "condition", Value: 100},
		},
		Scratch:  []sim.ScratchVar{{Name: "condition_met", Init: 0}},
		Captures: []string{"CP", "F_DEPOT", "condition_met"},
		Blocks: sim.BlockFuncs{
			MainFunc:  adaptiveMain,
			ODEFunc:   OneCmtDepot(paramPK),
			TableFunc: adaptiveTable,
		},
	}
}

func adaptiveMain(f *sim.Frame) {
	s := f.Scratch()
	if f.NewInd() {
		s.SetBool("condition_met", false)
	}
	fd := f.Param("F1")
	if s.Bool("condition_met") {
		fd = f.Param("F1") * f.Param("F1adjust")
	}
	f.SetBioav("DEPOT", fd)
}

func adaptiveTable(f *sim.Frame) {
	cp := f.Amount("CENT") / f.Param("V")
	f.Capture("CP", cp)
	f.Capture("F_DEPOT", f.Bioav("DEPOT"))

	s := f.Scratch()
	s.SetBool("condition_met", cp > f.Param("condition") || s.Bool("condition_met"))
}
