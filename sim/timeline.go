package sim

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/sirupsen/logrus"
)

// maxSchedulePoints bounds the observation grid of one individual.
const maxSchedulePoints = 10_000_000

// Dose is one dosing record as supplied by the run configuration.
type Dose struct {
	Time     float64
	Cmt      string  // "" = default dosing compartment
	Amount   float64 // before bioavailability
	Duration float64 // > 0: zero-order infusion over Duration
	Rate     float64 // > 0: zero-order infusion at Rate; Duration = Amount/Rate
	Addl     int     // additional doses after the first
	II       float64 // interdose interval for Addl
}

// Infusion reports whether the dose is zero-order.
func (d Dose) Infusion() bool {
	return d.Duration > 0 || d.Rate > 0
}

// infusionDuration returns the infusion length implied by Duration or Rate.
func (d Dose) infusionDuration() float64 {
	if d.Rate > 0 {
		return d.Amount / d.Rate
	}
	return d.Duration
}

// Validate checks one dose record in isolation.
func (d Dose) Validate() error {
	for name, v := range map[string]float64{"time": d.Time, "amt": d.Amount, "dur": d.Duration, "rate": d.Rate, "ii": d.II} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite, got %g", name, v)
		}
	}
	if d.Amount < 0 {
		return fmt.Errorf("amt must be non-negative, got %g", d.Amount)
	}
	if d.Duration < 0 || d.Rate < 0 {
		return fmt.Errorf("dur and rate must be non-negative")
	}
	if d.Duration > 0 && d.Rate > 0 {
		return fmt.Errorf("set either dur or rate, not both")
	}
	if d.Addl < 0 {
		return fmt.Errorf("addl must be non-negative, got %d", d.Addl)
	}
	if d.Addl > 0 && d.II <= 0 {
		return fmt.Errorf("addl=%d requires ii > 0", d.Addl)
	}
	return nil
}

// Expand returns the dose followed by its Addl repeats.
func (d Dose) Expand() []Dose {
	out := make([]Dose, 0, d.Addl+1)
	for k := 0; k <= d.Addl; k++ {
		r := d
		r.Time = d.Time + float64(k)*d.II
		r.Addl, r.II = 0, 0
		out = append(out, r)
	}
	return out
}

// ScheduledDose is a dose resolved against a model, pending application at
// its schedule point. Amount is before bioavailability.
type ScheduledDose struct {
	Seq      int // unique within the timeline; pairs an infusion with its end
	Cmt      int
	Amount   float64
	Duration float64 // 0 = bolus
}

// Point is one entry of an individual's schedule. A point may be an
// observation, carry dose starts, carry infusion ends, or any combination.
type Point struct {
	Time         float64
	Obs          bool
	Doses        []ScheduledDose
	InfusionEnds []int // Seq of infusions whose inflow stops here
}

// Timeline is the strictly increasing schedule of one individual.
type Timeline struct {
	Points []Point
}

// ObservationTimes returns the times of observation points.
func (tl *Timeline) ObservationTimes() []float64 {
	var out []float64
	for _, p := range tl.Points {
		if p.Obs {
			out = append(out, p.Time)
		}
	}
	return out
}

// sameTime reports whether two schedule times collapse into one point.
func sameTime(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

type entry struct {
	time float64
	obs  bool
	dose *ScheduledDose
	end  int // seq+1 of an infusion end, 0 = none
}

// BuildTimeline merges the observation design and the dosing records into one
// ordered schedule. Window start and end are always observation points. Doses
// after the window end are dropped; doses before its start are an error.
func BuildTimeline(m *Model, design Design, doses []Dose) (*Timeline, error) {
	if err := design.Validate(); err != nil {
		return nil, err
	}
	var entries []entry
	addObs := func(t float64) { entries = append(entries, entry{time: t, obs: true}) }

	addObs(design.Start)
	if design.Delta > 0 {
		n := math.Floor((design.End-design.Start)/design.Delta + 1e-9)
		if n+1 > maxSchedulePoints {
			return nil, fmt.Errorf("observation grid of %g points exceeds %d", n+1, maxSchedulePoints)
		}
		for k := 1; k <= int(n); k++ {
			addObs(design.Start + float64(k)*design.Delta)
		}
	}
	addObs(design.End)
	for _, t := range design.Add {
		if t < design.Start || t > design.End {
			logrus.Debugf("model %s: observation time %g outside [%g, %g] ignored", m.Name(), t, design.Start, design.End)
			continue
		}
		addObs(t)
	}

	seq := 0
	for i, d := range doses {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("dose[%d]: %w", i, err)
		}
		cmt, ok := m.CompartmentIndex(d.Cmt)
		if !ok {
			return nil, fmt.Errorf("dose[%d]: unknown compartment %q", i, d.Cmt)
		}
		if d.Time < design.Start && !sameTime(d.Time, design.Start) {
			return nil, fmt.Errorf("dose[%d]: time %g is before window start %g", i, d.Time, design.Start)
		}
		for _, r := range d.Expand() {
			if r.Time > design.End && !sameTime(r.Time, design.End) {
				logrus.Debugf("model %s: dose at %g after window end %g dropped", m.Name(), r.Time, design.End)
				continue
			}
			sd := &ScheduledDose{Seq: seq, Cmt: cmt, Amount: r.Amount}
			seq++
			entries = append(entries, entry{time: r.Time, dose: sd})
			if r.Infusion() {
				sd.Duration = r.infusionDuration()
				if sd.Duration <= 0 || sameTime(r.Time, r.Time+sd.Duration) {
					return nil, fmt.Errorf("dose[%d]: infusion duration %g is too short to resolve", i, sd.Duration)
				}
				stop := r.Time + sd.Duration
				if stop <= design.End || sameTime(stop, design.End) {
					entries = append(entries, entry{time: stop, end: sd.Seq + 1})
				}
			}
		}
	}

	slices.SortStableFunc(entries, func(a, b entry) int { return cmp.Compare(a.time, b.time) })

	tl := &Timeline{}
	for _, e := range entries {
		n := len(tl.Points)
		if n == 0 || !sameTime(tl.Points[n-1].Time, e.time) {
			tl.Points = append(tl.Points, Point{Time: e.time})
			n++
		}
		p := &tl.Points[n-1]
		switch {
		case e.obs:
			p.Obs = true
		case e.dose != nil:
			p.Doses = append(p.Doses, *e.dose)
		case e.end > 0:
			p.InfusionEnds = append(p.InfusionEnds, e.end-1)
		}
	}
	return tl, nil
}
