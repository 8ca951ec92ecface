package trace

// Summary aggregates statistics from a RunTrace.
type Summary struct {
	Individuals    int
	Failed         int
	Switched       int // individuals that needed the stiff method
	TotalSteps     int
	MeanSteps      float64
	MaxSteps       int
	MaxStepsID     int     // individual with the most accepted steps
	RejectionRate  float64 // rejected / (accepted + rejected)
	FailureReasons map[string]int
}

// Summarize computes aggregate statistics from a RunTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(rt *RunTrace) *Summary {
	summary := &Summary{
		FailureReasons: make(map[string]int),
	}
	if rt == nil {
		return summary
	}

	summary.Individuals = len(rt.Individuals)
	rejected := 0
	for _, r := range rt.Individuals {
		summary.TotalSteps += r.Steps
		rejected += r.Rejected
		if r.Steps > summary.MaxSteps {
			summary.MaxSteps = r.Steps
			summary.MaxStepsID = r.ID
		}
		if r.Switched {
			summary.Switched++
		}
		if r.Failed {
			summary.Failed++
			summary.FailureReasons[r.Reason]++
		}
	}

	if summary.Individuals > 0 {
		summary.MeanSteps = float64(summary.TotalSteps) / float64(summary.Individuals)
	}
	if attempts := summary.TotalSteps + rejected; attempts > 0 {
		summary.RejectionRate = float64(rejected) / float64(attempts)
	}

	return summary
}
