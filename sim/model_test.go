package sim

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_ValidModel(t *testing.T) {
	m, err := Compile(decayDescriptor())
	require.NoError(t, err)

	assert.Equal(t, "decay", m.Name())
	assert.Equal(t, []string{"DEPOT", "CENT"}, m.Compartments())
	assert.Equal(t, []string{"DEPOT", "CENT"}, m.Captures())
	assert.Equal(t, DefaultDesign, m.Design(), "zero design falls back to the default")
	assert.True(t, m.HasParam("K"))
	assert.False(t, m.HasParam("V"))

	i, ok := m.CompartmentIndex("")
	assert.True(t, ok)
	assert.Equal(t, 0, i, "first depot is the default dose compartment")
}

func TestCompile_DefaultDoseCompartmentWithoutDepot(t *testing.T) {
	d := decayDescriptor()
	d.Compartments = []Compartment{{Name: "A"}, {Name: "B", Depot: true}}
	d.Captures = nil
	m := mustCompile(t, d)

	i, _ := m.CompartmentIndex("")
	assert.Equal(t, 1, i)
}

func TestCompile_DescriptorIsCopied(t *testing.T) {
	// GIVEN a descriptor that is mutated after compilation
	d := decayDescriptor()
	m := mustCompile(t, d)
	d.Params[0].Value = 99
	d.Captures[0] = "K"

	// THEN the compiled model is unaffected
	assert.Equal(t, 0.1, m.Params()[0].Value)
	assert.Equal(t, "DEPOT", m.Captures()[0])
}

func TestCompile_ConfigErrors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(d *Descriptor)
		wantField string
	}{
		{"no name", func(d *Descriptor) { d.Name = "" }, "name"},
		{"no blocks", func(d *Descriptor) { d.Blocks = nil }, "blocks"},
		{"no compartments", func(d *Descriptor) { d.Compartments = nil; d.Captures = nil }, "compartments"},
		{"duplicate compartment", func(d *Descriptor) { d.Compartments[1].Name = "DEPOT" }, "compartments"},
		{"param collides with compartment", func(d *Descriptor) { d.Params = append(d.Params, Param{Name: "CENT"}) }, "params"},
		{"non-finite param", func(d *Descriptor) { d.Params[0].Value = math.Inf(1) }, "params"},
		{"derived collides with param", func(d *Descriptor) { d.Derived = []string{"K"} }, "derived"},
		{"scratch collides with derived", func(d *Descriptor) {
			d.Derived = []string{"X"}
			d.Scratch = []ScratchVar{{Name: "X"}}
		}, "scratch"},
		{"bad transform", func(d *Descriptor) { d.Thetas = []Theta{{Value: 1, Transform: "logit"}} }, "theta[1]"},
		{"theta overflows", func(d *Descriptor) { d.Thetas = []Theta{{Value: 1000, Transform: TransformLog}} }, "theta[1]"},
		{"omega not PSD", func(d *Descriptor) { d.Omega = BlockLower(nil, 1, 2, 1) }, "omega"},
		{"sigma negative", func(d *Descriptor) { d.Sigma = Diag(nil, -1) }, "sigma"},
		{"duplicate capture", func(d *Descriptor) { d.Captures = []string{"CENT", "CENT"} }, "captures"},
		{"bad design", func(d *Descriptor) { d.Design = Design{Start: 5, End: 1} }, "design"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := decayDescriptor()
			tt.mutate(&d)

			_, err := Compile(d)

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfig), "want ErrConfig, got %v", err)
			var ce *ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.wantField, ce.Field)
		})
	}
}

func TestCompile_ProbeCatchesUndeclaredNames(t *testing.T) {
	tests := []struct {
		name      string
		blocks    BlockFuncs
		wantField string
	}{
		{"main reads unknown param", BlockFuncs{MainFunc: func(f *Frame) { f.Param("CL") }}, "main block"},
		{"main sets unknown derived", BlockFuncs{MainFunc: func(f *Frame) { f.Set("CL", 1) }}, "main block"},
		{"main reads unknown eta", BlockFuncs{MainFunc: func(f *Frame) { f.Eta("ECL") }}, "main block"},
		{"ode reads unknown compartment", BlockFuncs{ODEFunc: func(_ float64, _ []float64, f *Frame, _ []float64) { f.Amount("GUT") }}, "ode block"},
		{"table captures undeclared", BlockFuncs{TableFunc: func(f *Frame) { f.Capture("AUC", 1) }}, "table block"},
		{"table scratch unknown", BlockFuncs{TableFunc: func(f *Frame) { f.Scratch().Set("flag", 1) }}, "table block"},
		{"eps position out of range", BlockFuncs{TableFunc: func(f *Frame) { f.EpsAt(1) }}, "table block"},
		{"theta out of range", BlockFuncs{MainFunc: func(f *Frame) { f.Theta(1) }}, "main block"},
		{"panic", BlockFuncs{MainFunc: func(f *Frame) { panic("boom") }}, "blocks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := decayDescriptor()
			d.Blocks = tt.blocks

			_, err := Compile(d)

			var ce *ConfigError
			require.True(t, errors.As(err, &ce), "want *ConfigError, got %v", err)
			assert.Equal(t, tt.wantField, ce.Field)
			assert.Equal(t, "decay", ce.Model)
		})
	}
}

func TestCompile_TableCaptureNeverSet(t *testing.T) {
	// GIVEN a capture that names no model symbol and a table that never sets it
	d := decayDescriptor()
	d.Captures = []string{"CP"}

	// WHEN compiled
	_, err := Compile(d)

	// THEN the divergence is caught before any simulation
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
	assert.True(t, errors.Is(err, errUnsetCapture))
}

func TestTheta_Natural(t *testing.T) {
	assert.Equal(t, 2.5, Theta{Value: 2.5}.Natural())
	assert.InDelta(t, 24.0, Theta{Value: math.Log(24), Transform: TransformLog}.Natural(), 1e-12)
}

func TestFrame_ThetaScales(t *testing.T) {
	// GIVEN a log-scale THETA read on both scales
	d := decayDescriptor()
	d.Thetas = []Theta{{Value: math.Log(24), Transform: TransformLog}}
	d.Derived = []string{"NAT", "RAW"}
	d.Captures = []string{"NAT", "RAW"}
	d.Blocks = BlockFuncs{MainFunc: func(f *Frame) {
		f.Set("NAT", f.Theta(1))
		f.Set("RAW", f.ThetaRaw(1))
	}}
	m := mustCompile(t, d)

	f := newFrame(m)
	f.reset(1, m.paramDefaults())
	require.NoError(t, f.runMain())

	assert.InDelta(t, 24.0, f.Get("NAT"), 1e-12)
	assert.Equal(t, math.Log(24), f.Get("RAW"))
}

func TestFrame_AutoCaptureSources(t *testing.T) {
	// GIVEN captures drawn from every kind of model symbol
	d := decayDescriptor()
	d.Omega = Diag([]string{"ECL"}, 0)
	d.Sigma = Diag(nil, 0)
	d.Derived = []string{"CL"}
	d.Scratch = []ScratchVar{{Name: "doses", Init: 3}}
	d.Captures = []string{"CL", "K", "doses", "CENT", "ECL", "EPS1", "OVERRIDE"}
	d.Blocks = BlockFuncs{
		MainFunc:  func(f *Frame) { f.Set("CL", 2*f.Param("K")) },
		TableFunc: func(f *Frame) { f.Capture("OVERRIDE", -1); f.Capture("K", 7) },
	}
	m := mustCompile(t, d)

	f := newFrame(m)
	f.reset(1, m.paramDefaults())
	f.eta.bind(m.omega)
	f.eps.bind(m.sigma)
	f.amounts[1] = 42
	require.NoError(t, f.runMain())

	// WHEN the table runs
	row, err := f.runTable()
	require.NoError(t, err)

	// THEN unset captures come from their symbols and set ones win
	assert.Equal(t, []float64{0.2, 7, 3, 42, 0, 0, -1}, row)
}

func TestFrame_ResetRestoresIndividualState(t *testing.T) {
	d := decayDescriptor()
	d.Scratch = []ScratchVar{{Name: "flag", Init: 0}, {Name: "count", Init: 5}}
	d.Compartments[1].Init = 10
	m := mustCompile(t, d)

	f := newFrame(m)
	f.reset(1, m.paramDefaults())
	f.Scratch().SetBool("flag", true)
	f.Scratch().Set("count", 9)
	f.amounts[1] = 3
	f.SetBioav("DEPOT", 0.5)
	f.newInd = false

	f.reset(2, m.paramDefaults())

	assert.Equal(t, []float64{0, 5}, f.Scratch().Values())
	assert.Equal(t, []float64{0, 10}, f.Amounts())
	assert.Equal(t, 1.0, f.Bioav("DEPOT"))
	assert.True(t, f.NewInd())
	assert.Equal(t, 2, f.ID())
}

func TestFrame_CheckDerivedRejectsNonFinite(t *testing.T) {
	d := decayDescriptor()
	d.Derived = []string{"CL"}
	d.Blocks = BlockFuncs{MainFunc: func(f *Frame) { f.Set("CL", math.Log(f.Param("K"))) }}
	m := mustCompile(t, d)

	f := newFrame(m)
	params := m.paramDefaults()
	params[0] = -1
	f.reset(1, params)
	require.NoError(t, f.runMain())

	err := f.checkDerived()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CL")
}

func TestFrame_NegativeBioavIsRejected(t *testing.T) {
	d := decayDescriptor()
	d.Blocks = BlockFuncs{MainFunc: func(f *Frame) { f.SetBioav("DEPOT", f.Param("K")) }}
	m := mustCompile(t, d)

	f := newFrame(m)
	params := m.paramDefaults()
	params[0] = -0.5
	f.reset(1, params)
	require.NoError(t, f.runMain())

	assert.ErrorContains(t, f.checkDerived(), "bioavailability of DEPOT")
}

func TestResolveParams_Layers(t *testing.T) {
	m := mustCompile(t, decayDescriptor())

	got, err := m.resolveParams(map[string]float64{"K": 0.2, "KA": 3}, map[string]float64{"K": 0.4})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4, 3}, got)

	_, err = m.resolveParams(map[string]float64{"WT": 70})
	assert.ErrorContains(t, err, `unknown param "WT"`)

	_, err = m.resolveParams(map[string]float64{"K": math.NaN()})
	assert.ErrorContains(t, err, "not finite")
}
