// Package trace provides per-individual solver and schedule tracing for
// population runs. This package has no dependencies on sim/: it stores pure
// data types.
package trace

import "time"

// IndividualRecord captures how one individual's timeline was executed.
type IndividualRecord struct {
	ID        int
	Points    int // schedule points on the timeline
	Rows      int // observations captured
	Steps     int // accepted integrator steps over all intervals
	Rejected  int
	Evals     int // right-hand side evaluations
	Jacobians int
	Switched  bool // auto solver moved to the stiff method at least once
	Failed    bool
	FailTime  float64 // simulation time of the failure (Failed only)
	Reason    string  // failure cause (Failed only)
	Elapsed   time.Duration
}
