package trace

import "testing"

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	summary := Summarize(nil)
	if summary.Individuals != 0 || summary.Failed != 0 {
		t.Errorf("expected zero counts, got %+v", summary)
	}
	if summary.FailureReasons == nil {
		t.Error("expected non-nil failure reasons map")
	}
}

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	// GIVEN an empty trace
	rt := NewRunTrace(Config{Level: LevelIndividuals})

	// WHEN summarized
	summary := Summarize(rt)

	// THEN all counts are zero and no division by zero occurs
	if summary.Individuals != 0 {
		t.Errorf("expected 0 individuals, got %d", summary.Individuals)
	}
	if summary.MeanSteps != 0 || summary.RejectionRate != 0 {
		t.Error("expected 0 mean steps and rejection rate")
	}
	if len(summary.FailureReasons) != 0 {
		t.Error("expected empty failure reasons")
	}
}

func TestSummarize_PopulatedTrace_CorrectCounts(t *testing.T) {
	// GIVEN a trace with successful, stiff and failed individuals
	rt := NewRunTrace(Config{Level: LevelIndividuals})
	rt.Record(IndividualRecord{ID: 1, Steps: 100, Rejected: 0})
	rt.Record(IndividualRecord{ID: 2, Steps: 300, Rejected: 50, Switched: true})
	rt.Record(IndividualRecord{ID: 3, Steps: 200, Rejected: 50, Failed: true, FailTime: 4, Reason: "ode: non-finite state"})
	rt.Record(IndividualRecord{ID: 4, Steps: 0, Failed: true, Reason: "ode: non-finite state"})

	// WHEN summarized
	summary := Summarize(rt)

	// THEN counts match
	if summary.Individuals != 4 {
		t.Errorf("expected 4 individuals, got %d", summary.Individuals)
	}
	if summary.Failed != 2 {
		t.Errorf("expected 2 failed, got %d", summary.Failed)
	}
	if summary.Switched != 1 {
		t.Errorf("expected 1 switched, got %d", summary.Switched)
	}
	if summary.FailureReasons["ode: non-finite state"] != 2 {
		t.Errorf("expected 2 non-finite failures, got %d", summary.FailureReasons["ode: non-finite state"])
	}

	// THEN step statistics match
	if summary.TotalSteps != 600 {
		t.Errorf("expected 600 total steps, got %d", summary.TotalSteps)
	}
	if summary.MeanSteps != 150 {
		t.Errorf("expected mean 150, got %.2f", summary.MeanSteps)
	}
	if summary.MaxSteps != 300 || summary.MaxStepsID != 2 {
		t.Errorf("expected max 300 at ID 2, got %d at ID %d", summary.MaxSteps, summary.MaxStepsID)
	}
	// rejection rate = 100 / 700
	want := 100.0 / 700.0
	if summary.RejectionRate < want-1e-12 || summary.RejectionRate > want+1e-12 {
		t.Errorf("expected rejection rate %.4f, got %.4f", want, summary.RejectionRate)
	}
}
