package sim

import (
	"fmt"
	"math"
)

// Frame is the view a model's blocks get of one individual at one record.
// It is owned by the individual's executor and must not be retained by
// blocks between calls.
//
// Accessors that take a name record a fault and return NaN when the name is
// not declared; the engine turns the fault into a *ConfigError after the
// block returns.
type Frame struct {
	model *Model

	id      int
	time    float64
	newInd  bool
	amounts []float64
	params  []float64
	derived []float64
	bioav   []float64
	eta     Effects
	eps     Effects
	scratch *Scratch

	capture []float64
	set     []bool
	fault   error
}

func newFrame(m *Model) *Frame {
	n := len(m.desc.Compartments)
	return &Frame{
		model:   m,
		amounts: make([]float64, n),
		derived: make([]float64, len(m.desc.Derived)),
		bioav:   make([]float64, n),
		scratch: newScratch(m),
		capture: make([]float64, len(m.desc.Captures)),
		set:     make([]bool, len(m.desc.Captures)),
	}
}

// reset prepares the frame for a new individual: initial amounts, declared
// scratch defaults, unit bioavailability, cleared derived values and effects.
// The frame is reused across individuals, so nothing may survive from the
// previous one.
func (f *Frame) reset(id int, params []float64) {
	f.id = id
	f.time = 0
	f.newInd = true
	f.params = params
	for i, c := range f.model.desc.Compartments {
		f.amounts[i] = c.Init
		f.bioav[i] = 1
	}
	for i := range f.derived {
		f.derived[i] = 0
	}
	f.eta.bind(f.model.omega)
	clear(f.eta.values)
	f.eps.bind(f.model.sigma)
	clear(f.eps.values)
	f.scratch.Reset()
	f.fault = nil
}

func (f *Frame) faultf(format string, args ...any) float64 {
	if f.fault == nil {
		f.fault = fmt.Errorf(format, args...)
	}
	return math.NaN()
}

func (f *Frame) blockFault(block string) error {
	err := f.fault
	if err == nil {
		err = f.scratch.err
	}
	if err == nil {
		return nil
	}
	f.fault, f.scratch.err = nil, nil
	return &ConfigError{Model: f.model.desc.Name, Field: block + " block", Err: err}
}

func (f *Frame) runMain() error {
	for i := range f.bioav {
		f.bioav[i] = 1
	}
	f.model.desc.Blocks.Main(f)
	return f.blockFault("main")
}

// checkDerived reports the first non-finite derived value or bioavailability.
func (f *Frame) checkDerived() error {
	for i, v := range f.derived {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("derived parameter %s = %g", f.model.desc.Derived[i], v)
		}
	}
	for i, v := range f.bioav {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("bioavailability of %s = %g", f.model.desc.Compartments[i].Name, v)
		}
	}
	return nil
}

// runTable executes the table block and returns the captured row values.
func (f *Frame) runTable() ([]float64, error) {
	for i := range f.set {
		f.set[i] = false
		f.capture[i] = 0
	}
	f.model.desc.Blocks.Table(f)
	if err := f.blockFault("table"); err != nil {
		return nil, err
	}
	for i, src := range f.model.sources {
		if f.set[i] {
			continue
		}
		switch src.kind {
		case sourceDerived:
			f.capture[i] = f.derived[src.index]
		case sourceParam:
			f.capture[i] = f.params[src.index]
		case sourceScratch:
			f.capture[i] = f.scratch.values[src.index]
		case sourceCompartment:
			f.capture[i] = f.amounts[src.index]
		case sourceEta:
			f.capture[i] = f.eta.values[src.index]
		case sourceEps:
			f.capture[i] = f.eps.values[src.index]
		default:
			return nil, &ConfigError{
				Model: f.model.desc.Name,
				Field: "captures",
				Err:   fmt.Errorf("%w: %q at t=%g", errUnsetCapture, f.model.desc.Captures[i], f.time),
			}
		}
	}
	return append([]float64(nil), f.capture...), nil
}

// ID returns the individual id.
func (f *Frame) ID() int {
	return f.id
}

// Time returns the record time.
func (f *Frame) Time() float64 {
	return f.time
}

// NewInd reports whether this is the individual's first record.
func (f *Frame) NewInd() bool {
	return f.newInd
}

// Amount returns the current amount in the named compartment.
func (f *Frame) Amount(cmt string) float64 {
	i, ok := f.model.cmtIndex[cmt]
	if !ok {
		return f.faultf("unknown compartment %q", cmt)
	}
	return f.amounts[i]
}

// Amounts returns the compartment state in declaration order. Read only.
func (f *Frame) Amounts() []float64 {
	return f.amounts
}

// Param returns the individual's value of a declared param.
func (f *Frame) Param(name string) float64 {
	i, ok := f.model.paramIndex[name]
	if !ok {
		return f.faultf("unknown param %q", name)
	}
	return f.params[i]
}

// Params returns param values in declaration order. Read only.
func (f *Frame) Params() []float64 {
	return f.params
}

// Theta returns THETAn (1-based) on the natural scale.
func (f *Frame) Theta(n int) float64 {
	if n < 1 || n > len(f.model.thetaNatural) {
		return f.faultf("THETA%d out of range (have %d)", n, len(f.model.thetaNatural))
	}
	return f.model.thetaNatural[n-1]
}

// ThetaRaw returns THETAn (1-based) on its declared scale.
func (f *Frame) ThetaRaw(n int) float64 {
	if n < 1 || n > len(f.model.desc.Thetas) {
		return f.faultf("THETA%d out of range (have %d)", n, len(f.model.desc.Thetas))
	}
	return f.model.desc.Thetas[n-1].Value
}

// Eta returns the individual's between-subject effect with the given label.
func (f *Frame) Eta(label string) float64 {
	v, ok := f.eta.Lookup(label)
	if !ok {
		return f.faultf("unknown ETA label %q", label)
	}
	return v
}

// EtaAt returns ETA(n), 1-based.
func (f *Frame) EtaAt(n int) float64 {
	v, ok := f.eta.At(n)
	if !ok {
		return f.faultf("ETA(%d) out of range (have %d)", n, f.eta.Len())
	}
	return v
}

// Eps returns the current record's residual effect with the given label.
// Before the individual's first table record it is zero.
func (f *Frame) Eps(label string) float64 {
	v, ok := f.eps.Lookup(label)
	if !ok {
		return f.faultf("unknown EPS label %q", label)
	}
	return v
}

// EpsAt returns EPS(n), 1-based.
func (f *Frame) EpsAt(n int) float64 {
	v, ok := f.eps.At(n)
	if !ok {
		return f.faultf("EPS(%d) out of range (have %d)", n, f.eps.Len())
	}
	return v
}

// Set stores a derived parameter.
func (f *Frame) Set(name string, v float64) {
	i, ok := f.model.derivedIndex[name]
	if !ok {
		f.faultf("unknown derived parameter %q", name)
		return
	}
	f.derived[i] = v
}

// Get reads a derived parameter.
func (f *Frame) Get(name string) float64 {
	i, ok := f.model.derivedIndex[name]
	if !ok {
		return f.faultf("unknown derived parameter %q", name)
	}
	return f.derived[i]
}

// Derived returns derived values in declaration order for index-based access
// in hot paths such as the ODE block.
func (f *Frame) Derived() []float64 {
	return f.derived
}

// SetBioav sets the bioavailability fraction applied to doses into cmt at
// this record. Reset to 1 before every Main evaluation.
func (f *Frame) SetBioav(cmt string, v float64) {
	i, ok := f.model.cmtIndex[cmt]
	if !ok {
		f.faultf("unknown compartment %q", cmt)
		return
	}
	f.bioav[i] = v
}

// Bioav returns the bioavailability fraction currently in effect for cmt.
func (f *Frame) Bioav(cmt string) float64 {
	i, ok := f.model.cmtIndex[cmt]
	if !ok {
		return f.faultf("unknown compartment %q", cmt)
	}
	return f.bioav[i]
}

// Scratch returns the individual's persistent state.
func (f *Frame) Scratch() *Scratch {
	return f.scratch
}

// Capture records an output value for this observation. Only valid in Table.
func (f *Frame) Capture(name string, v float64) {
	i, ok := f.model.captureIndex[name]
	if !ok {
		f.faultf("capture %q is not declared", name)
		return
	}
	f.capture[i] = v
	f.set[i] = true
}

// Scratch is the persistent per-individual state declared by a model. Values
// survive across records of one individual and are reset between individuals.
type Scratch struct {
	index  map[string]int
	init   []float64
	values []float64
	err    error
}

func newScratch(m *Model) *Scratch {
	s := &Scratch{
		index:  m.scratchIndex,
		init:   make([]float64, len(m.desc.Scratch)),
		values: make([]float64, len(m.desc.Scratch)),
	}
	for i, v := range m.desc.Scratch {
		s.init[i] = v.Init
	}
	s.Reset()
	return s
}

// Reset restores every variable to its declared initial value.
func (s *Scratch) Reset() {
	copy(s.values, s.init)
}

func (s *Scratch) lookup(name string) (int, bool) {
	i, ok := s.index[name]
	if !ok && s.err == nil {
		s.err = fmt.Errorf("unknown scratch variable %q", name)
	}
	return i, ok
}

// Get returns a variable's value.
func (s *Scratch) Get(name string) float64 {
	i, ok := s.lookup(name)
	if !ok {
		return math.NaN()
	}
	return s.values[i]
}

// Set assigns a variable.
func (s *Scratch) Set(name string, v float64) {
	if i, ok := s.lookup(name); ok {
		s.values[i] = v
	}
}

// Bool reads a variable as a flag (non-zero is true).
func (s *Scratch) Bool(name string) bool {
	i, ok := s.lookup(name)
	return ok && s.values[i] != 0
}

// SetBool stores a flag as 1 or 0.
func (s *Scratch) SetBool(name string, b bool) {
	v := 0.0
	if b {
		v = 1
	}
	s.Set(name, v)
}

// Values returns a copy of the current values in declaration order.
func (s *Scratch) Values() []float64 {
	return append([]float64(nil), s.values...)
}
