package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// psdTolerance is the relative eigenvalue slack accepted as rounding noise
// when a singular covariance matrix falls back to the eigen decomposition.
const psdTolerance = 1e-10

// Sampler draws zero-mean multivariate normal vectors for one covariance
// matrix. It is immutable after construction and safe for concurrent use;
// randomness comes from the caller's *rand.Rand.
type Sampler struct {
	labels []string
	index  map[string]int
	dim    int
	zero   bool
	root   *mat.Dense // draw = root * z
}

// NewSampler decomposes c. A matrix that is not positive semi-definite is an
// error here, never at draw time. Components with zero variance get a zero
// row in the root so they always draw exactly 0.
func NewSampler(c CovMatrix, prefix string) (*Sampler, error) {
	c, err := c.withLabels(prefix)
	if err != nil {
		return nil, err
	}
	s := &Sampler{
		labels: c.labels,
		index:  make(map[string]int, c.dim),
		dim:    c.dim,
		zero:   c.IsZero(),
	}
	for i, l := range c.labels {
		s.index[l] = i
	}
	if s.zero || s.dim == 0 {
		s.zero = true
		return s, nil
	}

	var active []int
	for i := 0; i < c.dim; i++ {
		v := c.At(i, i)
		switch {
		case v < 0:
			return nil, fmt.Errorf("negative variance %g for %s", v, c.labels[i])
		case v == 0:
			for j := 0; j < c.dim; j++ {
				if c.At(i, j) != 0 {
					return nil, fmt.Errorf("%s has zero variance but non-zero covariance with %s", c.labels[i], c.labels[j])
				}
			}
		default:
			active = append(active, i)
		}
	}

	sub := mat.NewSymDense(len(active), nil)
	for a, i := range active {
		for b, j := range active[:a+1] {
			sub.SetSym(a, b, c.At(i, j))
		}
	}
	subRoot, err := matrixRoot(sub)
	if err != nil {
		return nil, err
	}

	s.root = mat.NewDense(c.dim, c.dim, nil)
	for a, i := range active {
		for b, j := range active {
			s.root.Set(i, j, subRoot.At(a, b))
		}
	}
	return s, nil
}

// matrixRoot returns R with R*R^T = sym: the Cholesky factor when sym is
// positive definite, otherwise V*sqrt(diag(lambda)) from the eigen
// decomposition with rounding-level negative eigenvalues clipped to zero.
func matrixRoot(sym *mat.SymDense) (mat.Matrix, error) {
	var chol mat.Cholesky
	if chol.Factorize(sym) {
		var l mat.TriDense
		chol.LTo(&l)
		return &l, nil
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, errors.New("eigen decomposition did not converge")
	}
	vals := eig.Values(nil)
	maxAbs := 0.0
	for _, v := range vals {
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	n := len(vals)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	root := mat.NewDense(n, n, nil)
	for j, v := range vals {
		if v < -psdTolerance*maxAbs {
			return nil, fmt.Errorf("not positive semi-definite (eigenvalue %g)", v)
		}
		sq := math.Sqrt(math.Max(v, 0))
		for i := 0; i < n; i++ {
			root.Set(i, j, vecs.At(i, j)*sq)
		}
	}
	return root, nil
}

// Dim returns the number of components.
func (s *Sampler) Dim() int {
	return s.dim
}

// Labels returns the component labels in declaration order.
func (s *Sampler) Labels() []string {
	return append([]string(nil), s.labels...)
}

// IsZero reports whether every draw is the zero vector.
func (s *Sampler) IsZero() bool {
	return s.zero
}

// Draw fills dst with one realization. An all-zero matrix consumes no
// randomness.
func (s *Sampler) Draw(rng *rand.Rand, dst *Effects) {
	dst.bind(s)
	if s.zero {
		for i := range dst.values {
			dst.values[i] = 0
		}
		return
	}
	z := mat.NewVecDense(s.dim, nil)
	for i := 0; i < s.dim; i++ {
		z.SetVec(i, rng.NormFloat64())
	}
	out := mat.NewVecDense(s.dim, dst.values)
	out.MulVec(s.root, z)
}

// Effects is one labeled random-effect realization (an ETA or EPS vector).
// Components are addressed by declared label, or by 1-based position for
// EPS(1)-style access.
type Effects struct {
	sampler *Sampler
	values  []float64
}

func (e *Effects) bind(s *Sampler) {
	if e.sampler != s || len(e.values) != s.dim {
		e.sampler = s
		e.values = make([]float64, s.dim)
	}
}

// Len returns the number of components.
func (e *Effects) Len() int {
	return len(e.values)
}

// Lookup returns the component with the given label.
func (e *Effects) Lookup(label string) (float64, bool) {
	if e.sampler == nil {
		return 0, false
	}
	i, ok := e.sampler.index[label]
	if !ok {
		return 0, false
	}
	return e.values[i], true
}

// At returns the 1-based component n.
func (e *Effects) At(n int) (float64, bool) {
	if n < 1 || n > len(e.values) {
		return 0, false
	}
	return e.values[n-1], true
}

// Values returns a copy of the components in declaration order.
func (e *Effects) Values() []float64 {
	return append([]float64(nil), e.values...)
}
