package ode

import "math"

// Dormand-Prince 5(4) tableau.
const (
	dpC2 = 1.0 / 5
	dpC3 = 3.0 / 10
	dpC4 = 4.0 / 5
	dpC5 = 8.0 / 9

	dpA21 = 1.0 / 5
	dpA31 = 3.0 / 40
	dpA32 = 9.0 / 40
	dpA41 = 44.0 / 45
	dpA42 = -56.0 / 15
	dpA43 = 32.0 / 9
	dpA51 = 19372.0 / 6561
	dpA52 = -25360.0 / 2187
	dpA53 = 64448.0 / 6561
	dpA54 = -212.0 / 729
	dpA61 = 9017.0 / 3168
	dpA62 = -355.0 / 33
	dpA63 = 46732.0 / 5247
	dpA64 = 49.0 / 176
	dpA65 = -5103.0 / 18656
	dpA71 = 35.0 / 384
	dpA73 = 500.0 / 1113
	dpA74 = 125.0 / 192
	dpA75 = -2187.0 / 6784
	dpA76 = 11.0 / 84

	// error weights b - b*
	dpE1 = 71.0 / 57600
	dpE3 = -71.0 / 16695
	dpE4 = 71.0 / 1920
	dpE5 = -17253.0 / 339200
	dpE6 = 22.0 / 525
	dpE7 = -1.0 / 40
)

const (
	// stiffness is declared after stiffHits steps with h*|lambda| above stiffBound.
	stiffBound  = 3.25
	stiffHits   = 15
	stiffResets = 6
)

// dopri5 integrates [t0, t1]. When detect is set and the problem looks stiff,
// the remainder of the interval is handed to the Rosenbrock method.
func (s *Solver) dopri5(f Func, t0, t1 float64, y []float64, detect bool, st *Stats) error {
	k1, k2, k3, k4, k5, k6, k7 := s.k[0], s.k[1], s.k[2], s.k[3], s.k[4], s.k[5], s.k[6]
	ystage, ynew := s.tmp, s.out

	s.eval(f, t0, y, k1, st)
	if !finite(k1) {
		return &IntegrationError{T: t0, Err: ErrNonFinite}
	}
	h := s.cfg.InitialStep
	if h == 0 {
		h = s.initialStep(f, t0, t1, y, k1, 5, st)
	}

	t := t0
	attempts := 0
	nonFinite := 0
	stiffCount, nonStiffCount := 0, 0
	rejectedLast := false

	for t < t1 {
		if attempts >= s.cfg.MaxSteps {
			return &IntegrationError{T: t, Step: st.Steps, Err: ErrTooManySteps}
		}
		attempts++

		if s.cfg.MaxStep > 0 && h > s.cfg.MaxStep {
			h = s.cfg.MaxStep
		}
		last := false
		if t+1.01*h >= t1 {
			h = t1 - t
			last = true
		}
		if h < minStep(t) {
			return &IntegrationError{T: t, Step: st.Steps, Err: ErrStepTooSmall}
		}

		for i := range y {
			ystage[i] = y[i] + h*dpA21*k1[i]
		}
		s.eval(f, t+dpC2*h, ystage, k2, st)
		for i := range y {
			ystage[i] = y[i] + h*(dpA31*k1[i]+dpA32*k2[i])
		}
		s.eval(f, t+dpC3*h, ystage, k3, st)
		for i := range y {
			ystage[i] = y[i] + h*(dpA41*k1[i]+dpA42*k2[i]+dpA43*k3[i])
		}
		s.eval(f, t+dpC4*h, ystage, k4, st)
		for i := range y {
			ystage[i] = y[i] + h*(dpA51*k1[i]+dpA52*k2[i]+dpA53*k3[i]+dpA54*k4[i])
		}
		s.eval(f, t+dpC5*h, ystage, k5, st)
		for i := range y {
			ystage[i] = y[i] + h*(dpA61*k1[i]+dpA62*k2[i]+dpA63*k3[i]+dpA64*k4[i]+dpA65*k5[i])
		}
		s.eval(f, t+h, ystage, k6, st)
		for i := range y {
			ynew[i] = y[i] + h*(dpA71*k1[i]+dpA73*k3[i]+dpA74*k4[i]+dpA75*k5[i]+dpA76*k6[i])
		}
		s.eval(f, t+h, ynew, k7, st)

		if !finite(ynew) || !finite(k7) {
			st.Rejected++
			nonFinite++
			if nonFinite > maxNonFinite {
				return &IntegrationError{T: t, Step: st.Steps, Err: ErrNonFinite}
			}
			h *= 0.1
			rejectedLast = true
			continue
		}
		nonFinite = 0

		var errSum float64
		for i := range y {
			sc := s.cfg.ATol + s.cfg.RTol*math.Max(math.Abs(y[i]), math.Abs(ynew[i]))
			e := h * (dpE1*k1[i] + dpE3*k3[i] + dpE4*k4[i] + dpE5*k5[i] + dpE6*k6[i] + dpE7*k7[i]) / sc
			errSum += e * e
		}
		errNorm := math.Sqrt(errSum / float64(s.n))

		if errNorm > 1 {
			st.Rejected++
			h *= math.Max(0.2, 0.9*math.Pow(errNorm, -0.2))
			rejectedLast = true
			continue
		}

		// accepted
		st.Steps++
		if detect {
			var num, den float64
			for i := range y {
				dk := k7[i] - k6[i]
				dy := ynew[i] - ystage[i]
				num += dk * dk
				den += dy * dy
			}
			if den > 0 && h*math.Sqrt(num/den) > stiffBound {
				nonStiffCount = 0
				stiffCount++
				if stiffCount == stiffHits {
					copy(y, ynew)
					if last {
						t = t1
					} else {
						t += h
					}
					st.Switched = true
					if t >= t1 {
						return nil
					}
					return s.rosenbrock(f, t, t1, y, h, st)
				}
			} else {
				nonStiffCount++
				if nonStiffCount == stiffResets {
					stiffCount = 0
				}
			}
		}

		copy(y, ynew)
		copy(k1, k7)
		if last {
			t = t1
		} else {
			t += h
		}

		fac := 5.0
		if rejectedLast {
			fac = 1.0
		}
		rejectedLast = false
		if errNorm == 0 {
			h *= fac
		} else {
			h *= math.Min(fac, math.Max(0.2, 0.9*math.Pow(errNorm, -0.2)))
		}
	}
	return nil
}
