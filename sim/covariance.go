package sim

import (
	"fmt"
	"math"
)

// CovMatrix is a declared OMEGA or SIGMA block. It is stored as the lower
// triangle, row by row, and is always symmetric by construction.
type CovMatrix struct {
	labels []string
	lower  []float64
	dim    int // -1 when the lower-triangle length is not triangular
}

// Diag declares a diagonal covariance matrix. labels may be nil, in which case
// positional labels are assigned at compile time.
func Diag(labels []string, variances ...float64) CovMatrix {
	n := len(variances)
	lower := make([]float64, n*(n+1)/2)
	for i, v := range variances {
		lower[i*(i+1)/2+i] = v
	}
	return CovMatrix{labels: append([]string(nil), labels...), lower: lower, dim: n}
}

// BlockLower declares a full covariance block from its lower triangle given
// row-wise: a11, a21 a22, a31 a32 a33, ...
func BlockLower(labels []string, lower ...float64) CovMatrix {
	n := triangularDim(len(lower))
	return CovMatrix{labels: append([]string(nil), labels...), lower: append([]float64(nil), lower...), dim: n}
}

// triangularDim returns n with n(n+1)/2 == m, or -1.
func triangularDim(m int) int {
	n := int((math.Sqrt(float64(8*m+1)) - 1) / 2)
	for _, c := range []int{n - 1, n, n + 1} {
		if c >= 0 && c*(c+1)/2 == m {
			return c
		}
	}
	return -1
}

// Dim returns the matrix dimension, or -1 if the declaration is malformed.
func (c CovMatrix) Dim() int {
	return c.dim
}

// Labels returns the declared labels (possibly empty before compilation).
func (c CovMatrix) Labels() []string {
	return append([]string(nil), c.labels...)
}

// At returns element (i, j).
func (c CovMatrix) At(i, j int) float64 {
	if j > i {
		i, j = j, i
	}
	return c.lower[i*(i+1)/2+j]
}

// IsZero reports whether every element is exactly zero.
func (c CovMatrix) IsZero() bool {
	for _, v := range c.lower {
		if v != 0 {
			return false
		}
	}
	return true
}

// withLabels returns c with positional labels PREFIX1..PREFIXn filled in when
// none were declared, after validating shape and label uniqueness.
func (c CovMatrix) withLabels(prefix string) (CovMatrix, error) {
	if c.dim < 0 {
		return c, fmt.Errorf("%d values do not form a lower triangle", len(c.lower))
	}
	for i, v := range c.lower {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return c, fmt.Errorf("element %d is not finite", i)
		}
	}
	if len(c.labels) == 0 {
		c.labels = make([]string, c.dim)
		for i := range c.labels {
			c.labels[i] = fmt.Sprintf("%s%d", prefix, i+1)
		}
		return c, nil
	}
	if len(c.labels) != c.dim {
		return c, fmt.Errorf("%d labels for a %dx%d matrix", len(c.labels), c.dim, c.dim)
	}
	seen := make(map[string]bool, len(c.labels))
	for _, l := range c.labels {
		if l == "" {
			return c, fmt.Errorf("empty label")
		}
		if seen[l] {
			return c, fmt.Errorf("duplicate label %q", l)
		}
		seen[l] = true
	}
	return c, nil
}
