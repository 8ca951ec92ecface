// Package testutil provides assertion helpers shared by the sim/ test
// packages.
package testutil

import (
	"math"
	"testing"
)

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t testing.TB, name string, want, got, relTol float64) {
	t.Helper()
	if math.IsNaN(got) != math.IsNaN(want) {
		t.Errorf("%s: got %v, want %v", name, got, want)
		return
	}
	if math.IsNaN(want) || (want == 0 && got == 0) {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// AssertFloat64Near compares two float64 values with absolute tolerance.
// Use it where the expected value may be exactly zero.
func AssertFloat64Near(t testing.TB, name string, want, got, absTol float64) {
	t.Helper()
	if math.Abs(want-got) > absTol || math.IsNaN(got) {
		t.Errorf("%s: got %v, want %v (absDiff=%v, tol=%v)", name, got, want, math.Abs(want-got), absTol)
	}
}

// AssertBitIdentical fails unless both slices hold exactly the same bits.
// NaN payloads must match too.
func AssertBitIdentical(t testing.TB, name string, want, got []float64) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("%s: length %d, want %d", name, len(got), len(want))
	}
	for i := range want {
		if math.Float64bits(want[i]) != math.Float64bits(got[i]) {
			t.Errorf("%s[%d]: got %v, want %v (bit patterns differ)", name, i, got[i], want[i])
			return
		}
	}
}
