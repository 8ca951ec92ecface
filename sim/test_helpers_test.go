package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// decayDescriptor is a one-compartment model with first-order elimination
// rate K out of CENT and a depot feeding it at rate KA.
func decayDescriptor() Descriptor {
	return Descriptor{
		Name: "decay",
		Compartments: []Compartment{
			{Name: "DEPOT", Depot: true},
			{Name: "CENT"},
		},
		Params:   []Param{{Name: "K", Value: 0.1}, {Name: "KA", Value: 1}},
		Captures: []string{"DEPOT", "CENT"},
		Blocks: BlockFuncs{
			ODEFunc: func(_ float64, a []float64, f *Frame, dadt []float64) {
				p := f.Params()
				dadt[0] = -p[1] * a[0]
				dadt[1] = p[1]*a[0] - p[0]*a[1]
			},
		},
	}
}

func mustCompile(t *testing.T, d Descriptor) *Model {
	t.Helper()
	m, err := Compile(d)
	require.NoError(t, err)
	return m
}

func rowsAt(t *testing.T, tbl *Table, id int, time float64) Row {
	t.Helper()
	for _, r := range tbl.Individual(id) {
		if math.Abs(r.Time-time) < 1e-12 {
			return r
		}
	}
	t.Fatalf("no row for individual %d at t=%g", id, time)
	return Row{}
}
