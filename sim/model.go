package sim

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Transform tags the declared scale of a THETA.
type Transform string

const (
	TransformNone Transform = ""
	TransformLog  Transform = "log"
)

// Theta is one fixed effect. Value is on the declared scale; blocks read the
// natural-scale value with Frame.Theta and the declared value with Frame.ThetaRaw.
type Theta struct {
	Value     float64
	Transform Transform
}

// Natural returns the value on the scale the model uses it.
func (t Theta) Natural() float64 {
	if t.Transform == TransformLog {
		return math.Exp(t.Value)
	}
	return t.Value
}

// Param is a named constant or covariate with its default value. Run
// configuration and individuals may override it by name.
type Param struct {
	Name  string
	Value float64
}

// Compartment is one ODE state variable.
type Compartment struct {
	Name  string
	Init  float64 // amount at the start of every individual
	Depot bool    // absorption site; first depot is the default dosing target
}

// ScratchVar is persistent per-individual state that survives across records
// and is reset to Init at the start of each individual.
type ScratchVar struct {
	Name string
	Init float64
}

// Design is the observation design: a grid from Start to End every Delta
// plus explicit Add times.
type Design struct {
	Start float64
	End   float64
	Delta float64
	Add   []float64
}

// IsZero reports whether no design was declared.
func (d Design) IsZero() bool {
	return d.Start == 0 && d.End == 0 && d.Delta == 0 && len(d.Add) == 0
}

// DefaultDesign is used when neither the model nor the run declares one.
var DefaultDesign = Design{Start: 0, End: 24, Delta: 1}

// Validate checks window and spacing.
func (d Design) Validate() error {
	for name, v := range map[string]float64{"start": d.Start, "end": d.End, "delta": d.Delta} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite, got %g", name, v)
		}
	}
	if d.End < d.Start {
		return fmt.Errorf("end %g is before start %g", d.End, d.Start)
	}
	if d.Delta < 0 {
		return fmt.Errorf("delta must be non-negative, got %g", d.Delta)
	}
	for i, t := range d.Add {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("add[%d] must be finite, got %g", i, t)
		}
	}
	return nil
}

// Blocks is the executable part of a model. Implementations are compiled
// per model and must be free of package-level mutable state: everything that
// persists between records lives in the Frame's Scratch.
type Blocks interface {
	// Main runs before dosing at a record and derives individual parameters
	// with Frame.Set and bioavailability with Frame.SetBioav.
	Main(f *Frame)
	// ODE writes the derivative of every compartment into dadt (zeroed on
	// entry). It must read amounts from a, not from the frame.
	ODE(t float64, a []float64, f *Frame, dadt []float64)
	// Table runs at observation records after doses and records captures.
	Table(f *Frame)
}

// BlockFuncs adapts plain functions to Blocks. Nil functions are no-ops.
type BlockFuncs struct {
	MainFunc  func(f *Frame)
	ODEFunc   func(t float64, a []float64, f *Frame, dadt []float64)
	TableFunc func(f *Frame)
}

func (b BlockFuncs) Main(f *Frame) {
	if b.MainFunc != nil {
		b.MainFunc(f)
	}
}

func (b BlockFuncs) ODE(t float64, a []float64, f *Frame, dadt []float64) {
	if b.ODEFunc != nil {
		b.ODEFunc(t, a, f, dadt)
	}
}

func (b BlockFuncs) Table(f *Frame) {
	if b.TableFunc != nil {
		b.TableFunc(f)
	}
}

// Descriptor is the front end's description of one model.
type Descriptor struct {
	Name         string
	Description  string
	Compartments []Compartment
	Params       []Param
	Thetas       []Theta
	Omega        CovMatrix
	Sigma        CovMatrix
	Derived      []string     // names written by Main via Frame.Set
	Scratch      []ScratchVar // persistent per-individual state
	// Captures lists output columns in order. Names that match a derived
	// value, param, scratch variable, compartment, ETA or EPS label are
	// filled automatically unless Table sets them; all others must be set by
	// Table on every record.
	Captures []string
	Design   Design
	Blocks   Blocks
}

type sourceKind int

const (
	sourceTable sourceKind = iota
	sourceDerived
	sourceParam
	sourceScratch
	sourceCompartment
	sourceEta
	sourceEps
)

type captureSource struct {
	kind  sourceKind
	index int
}

// Model is a compiled, immutable Descriptor. It is safe to share between
// workers without locking.
type Model struct {
	desc Descriptor

	cmtIndex     map[string]int
	paramIndex   map[string]int
	derivedIndex map[string]int
	scratchIndex map[string]int
	captureIndex map[string]int

	thetaNatural []float64
	omega        *Sampler
	sigma        *Sampler
	sources      []captureSource
	doseCmt      int
}

// Compile validates d and produces an executable Model. All configuration
// errors are reported here as *ConfigError.
func Compile(d Descriptor) (*Model, error) {
	name := d.Name
	if name == "" {
		return nil, configErrorf("", "name", "model name is required")
	}
	if d.Blocks == nil {
		return nil, configErrorf(name, "blocks", "no executable blocks")
	}
	if len(d.Compartments) == 0 {
		return nil, configErrorf(name, "compartments", "at least one compartment is required")
	}

	m := &Model{desc: cloneDescriptor(d)}
	global := make(map[string]string)

	var err error
	if m.cmtIndex, err = indexNames(names(d.Compartments, func(c Compartment) string { return c.Name }), "compartment", global); err != nil {
		return nil, &ConfigError{Model: name, Field: "compartments", Err: err}
	}
	for _, c := range d.Compartments {
		if math.IsNaN(c.Init) || math.IsInf(c.Init, 0) {
			return nil, configErrorf(name, "compartments", "%s initial amount is not finite", c.Name)
		}
	}
	if m.paramIndex, err = indexNames(names(d.Params, func(p Param) string { return p.Name }), "param", global); err != nil {
		return nil, &ConfigError{Model: name, Field: "params", Err: err}
	}
	for _, p := range d.Params {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return nil, configErrorf(name, "params", "%s is not finite", p.Name)
		}
	}
	if m.derivedIndex, err = indexNames(d.Derived, "derived", global); err != nil {
		return nil, &ConfigError{Model: name, Field: "derived", Err: err}
	}
	if m.scratchIndex, err = indexNames(names(d.Scratch, func(s ScratchVar) string { return s.Name }), "scratch", global); err != nil {
		return nil, &ConfigError{Model: name, Field: "scratch", Err: err}
	}

	m.thetaNatural = make([]float64, len(d.Thetas))
	for i, th := range d.Thetas {
		if th.Transform != TransformNone && th.Transform != TransformLog {
			return nil, configErrorf(name, fmt.Sprintf("theta[%d]", i+1), "unknown transform %q", th.Transform)
		}
		m.thetaNatural[i] = th.Natural()
		if math.IsNaN(m.thetaNatural[i]) || math.IsInf(m.thetaNatural[i], 0) {
			return nil, configErrorf(name, fmt.Sprintf("theta[%d]", i+1), "value %g is not finite on the natural scale", th.Value)
		}
	}

	if m.omega, err = NewSampler(d.Omega, "ETA"); err != nil {
		return nil, &ConfigError{Model: name, Field: "omega", Err: err}
	}
	if m.sigma, err = NewSampler(d.Sigma, "EPS"); err != nil {
		return nil, &ConfigError{Model: name, Field: "sigma", Err: err}
	}

	if m.captureIndex, err = indexNames(d.Captures, "capture", nil); err != nil {
		return nil, &ConfigError{Model: name, Field: "captures", Err: err}
	}
	m.sources = make([]captureSource, len(d.Captures))
	for i, c := range d.Captures {
		m.sources[i] = m.resolveSource(c)
	}

	design := d.Design
	if design.IsZero() {
		design = DefaultDesign
	}
	if err := design.Validate(); err != nil {
		return nil, &ConfigError{Model: name, Field: "design", Err: err}
	}
	m.desc.Design = design

	m.doseCmt = 0
	for i, c := range d.Compartments {
		if c.Depot {
			m.doseCmt = i
			break
		}
	}

	if err := m.probe(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) resolveSource(name string) captureSource {
	if i, ok := m.derivedIndex[name]; ok {
		return captureSource{sourceDerived, i}
	}
	if i, ok := m.paramIndex[name]; ok {
		return captureSource{sourceParam, i}
	}
	if i, ok := m.scratchIndex[name]; ok {
		return captureSource{sourceScratch, i}
	}
	if i, ok := m.cmtIndex[name]; ok {
		return captureSource{sourceCompartment, i}
	}
	if i, ok := m.omega.index[name]; ok {
		return captureSource{sourceEta, i}
	}
	if i, ok := m.sigma.index[name]; ok {
		return captureSource{sourceEps, i}
	}
	return captureSource{kind: sourceTable}
}

// probe executes Main and Table once on a zero state to catch references to
// undeclared names and captures the table never sets. Branches not taken on
// the probe record are checked at run time instead.
func (m *Model) probe() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = configErrorf(m.desc.Name, "blocks", "panic during compile probe: %v", r)
		}
	}()
	f := newFrame(m)
	f.reset(0, m.paramDefaults())
	f.time = m.desc.Design.Start
	f.newInd = true
	f.eta.bind(m.omega)
	f.eps.bind(m.sigma)
	if err := f.runMain(); err != nil {
		return err
	}
	dadt := make([]float64, len(m.desc.Compartments))
	m.desc.Blocks.ODE(f.time, f.amounts, f, dadt)
	if err := f.blockFault("ode"); err != nil {
		return err
	}
	_, err = f.runTable()
	return err
}

// Name returns the model name.
func (m *Model) Name() string {
	return m.desc.Name
}

// Description returns the free-text description.
func (m *Model) Description() string {
	return m.desc.Description
}

// Compartments returns compartment names in declaration order.
func (m *Model) Compartments() []string {
	return names(m.desc.Compartments, func(c Compartment) string { return c.Name })
}

// Params returns declared params with their defaults.
func (m *Model) Params() []Param {
	return append([]Param(nil), m.desc.Params...)
}

// Captures returns the output column names in declaration order.
func (m *Model) Captures() []string {
	return append([]string(nil), m.desc.Captures...)
}

// Design returns the model's default observation design.
func (m *Model) Design() Design {
	d := m.desc.Design
	d.Add = append([]float64(nil), d.Add...)
	return d
}

// Omega returns the between-subject sampler.
func (m *Model) Omega() *Sampler {
	return m.omega
}

// Sigma returns the residual-error sampler.
func (m *Model) Sigma() *Sampler {
	return m.sigma
}

// CompartmentIndex resolves a compartment name. The empty name resolves to
// the default dosing compartment (first depot, else the first compartment).
func (m *Model) CompartmentIndex(name string) (int, bool) {
	if name == "" {
		return m.doseCmt, true
	}
	i, ok := m.cmtIndex[name]
	return i, ok
}

// HasParam reports whether name is a declared param.
func (m *Model) HasParam(name string) bool {
	_, ok := m.paramIndex[name]
	return ok
}

func (m *Model) paramDefaults() []float64 {
	out := make([]float64, len(m.desc.Params))
	for i, p := range m.desc.Params {
		out[i] = p.Value
	}
	return out
}

// resolveParams applies run-wide and then individual overrides to the defaults.
func (m *Model) resolveParams(layers ...map[string]float64) ([]float64, error) {
	out := m.paramDefaults()
	for _, layer := range layers {
		for _, k := range sortedKeys(layer) {
			i, ok := m.paramIndex[k]
			if !ok {
				return nil, fmt.Errorf("unknown param %q", k)
			}
			v := layer[k]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("param %q is not finite", k)
			}
			out[i] = v
		}
	}
	return out, nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func names[T any](items []T, key func(T) string) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = key(it)
	}
	return out
}

// indexNames maps names to positions, rejecting empty and duplicate names.
// When global is non-nil, names must also be unique across kinds.
func indexNames(list []string, kind string, global map[string]string) (map[string]int, error) {
	idx := make(map[string]int, len(list))
	for i, n := range list {
		if n == "" {
			return nil, fmt.Errorf("%s %d has an empty name", kind, i+1)
		}
		if _, dup := idx[n]; dup {
			return nil, fmt.Errorf("duplicate %s %q", kind, n)
		}
		if global != nil {
			if other, clash := global[n]; clash {
				return nil, fmt.Errorf("%s %q collides with %s of the same name", kind, n, other)
			}
			global[n] = kind
		}
		idx[n] = i
	}
	return idx, nil
}

func cloneDescriptor(d Descriptor) Descriptor {
	c := d
	c.Compartments = slices.Clone(d.Compartments)
	c.Params = slices.Clone(d.Params)
	c.Thetas = slices.Clone(d.Thetas)
	c.Derived = slices.Clone(d.Derived)
	c.Scratch = slices.Clone(d.Scratch)
	c.Captures = slices.Clone(d.Captures)
	c.Design.Add = slices.Clone(d.Design.Add)
	return c
}

var errUnsetCapture = errors.New("capture not set")
