package ode

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ode23s coefficients (Shampine & Reichelt, 1997).
var (
	rosD   = 1 / (2 + math.Sqrt2)
	rosE32 = 6 + math.Sqrt2
)

type rosenbrockWork struct {
	jac  *mat.Dense // df/dy
	w    *mat.Dense // I - h*d*J
	lu   mat.LU
	f0   []float64
	f1   []float64
	f2   []float64
	dfdt []float64
	k1   []float64
	k2   []float64
	k3   []float64
	rhs  []float64
	ynew []float64
	pert []float64
	fp   []float64
}

func newRosenbrockWork(n int) *rosenbrockWork {
	w := &rosenbrockWork{
		jac: mat.NewDense(n, n, nil),
		w:   mat.NewDense(n, n, nil),
	}
	for _, p := range []*[]float64{&w.f0, &w.f1, &w.f2, &w.dfdt, &w.k1, &w.k2, &w.k3, &w.rhs, &w.ynew, &w.pert, &w.fp} {
		*p = make([]float64, n)
	}
	return w
}

// jacobian forms df/dy and df/dt at (t, y) by forward differences. f0 = f(t, y).
func (s *Solver) jacobian(f Func, t float64, y []float64, st *Stats) {
	w := s.ros
	sqrtEps := math.Sqrt(epsilon)
	copy(w.pert, y)
	for j := 0; j < s.n; j++ {
		del := sqrtEps * math.Max(math.Abs(y[j]), 1e-5)
		w.pert[j] = y[j] + del
		del = w.pert[j] - y[j]
		s.eval(f, t, w.pert, w.fp, st)
		for i := 0; i < s.n; i++ {
			w.jac.Set(i, j, (w.fp[i]-w.f0[i])/del)
		}
		w.pert[j] = y[j]
	}
	dt := sqrtEps * math.Max(math.Abs(t), 1e-5)
	s.eval(f, t+dt, y, w.fp, st)
	for i := 0; i < s.n; i++ {
		w.dfdt[i] = (w.fp[i] - w.f0[i]) / dt
	}
	st.Jacobians++
}

// factor builds W = I - h*d*J and its LU decomposition. Reports false when W
// is numerically singular.
func (s *Solver) factor(h float64) bool {
	w := s.ros
	hd := h * rosD
	w.w.Scale(-hd, w.jac)
	for i := 0; i < s.n; i++ {
		w.w.Set(i, i, 1+w.w.At(i, i))
	}
	w.lu.Factorize(w.w)
	return !math.IsInf(w.lu.Cond(), 1)
}

func (s *Solver) solve(dst, b []float64) bool {
	x := mat.NewVecDense(s.n, dst)
	if err := s.ros.lu.SolveVecTo(x, false, mat.NewVecDense(s.n, b)); err != nil {
		// ill-conditioned but solvable systems report a Condition warning
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return false
		}
	}
	return finite(dst)
}

// rosenbrock integrates [t0, t1] starting with step h, recomputing the
// Jacobian at every accepted point.
func (s *Solver) rosenbrock(f Func, t0, t1 float64, y []float64, h float64, st *Stats) error {
	if s.ros == nil {
		s.ros = newRosenbrockWork(s.n)
	}
	w := s.ros

	t := t0
	s.eval(f, t, y, w.f0, st)
	if !finite(w.f0) {
		return &IntegrationError{T: t, Err: ErrNonFinite}
	}
	s.jacobian(f, t, y, st)

	attempts := 0
	nonFinite := 0
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

		hd := h * rosD
		ok := s.factor(h)
		if ok {
			for i := range y {
				w.rhs[i] = w.f0[i] + hd*w.dfdt[i]
			}
			ok = s.solve(w.k1, w.rhs)
		}
		if ok {
			for i := range y {
				w.ynew[i] = y[i] + 0.5*h*w.k1[i]
			}
			s.eval(f, t+0.5*h, w.ynew, w.f1, st)
			for i := range y {
				w.rhs[i] = w.f1[i] - w.k1[i]
			}
			ok = s.solve(w.k2, w.rhs)
		}
		if ok {
			for i := range y {
				w.k2[i] += w.k1[i]
				w.ynew[i] = y[i] + h*w.k2[i]
			}
			s.eval(f, t+h, w.ynew, w.f2, st)
			for i := range y {
				w.rhs[i] = w.f2[i] - rosE32*(w.k2[i]-w.f1[i]) - 2*(w.k1[i]-w.f0[i]) + hd*w.dfdt[i]
			}
			ok = s.solve(w.k3, w.rhs) && finite(w.ynew) && finite(w.f2)
		}
		if !ok {
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
			sc := s.cfg.ATol + s.cfg.RTol*math.Max(math.Abs(y[i]), math.Abs(w.ynew[i]))
			e := h / 6 * (w.k1[i] - 2*w.k2[i] + w.k3[i]) / sc
			errSum += e * e
		}
		errNorm := math.Sqrt(errSum / float64(s.n))

		if errNorm > 1 {
			st.Rejected++
			h *= math.Max(0.1, 0.8*math.Pow(errNorm, -1.0/3))
			rejectedLast = true
			continue
		}

		st.Steps++
		copy(y, w.ynew)
		copy(w.f0, w.f2)
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
			h *= math.Min(fac, 0.8*math.Pow(errNorm, -1.0/3))
		}
		if t < t1 {
			s.jacobian(f, t, y, st)
		}
	}
	return nil
}
