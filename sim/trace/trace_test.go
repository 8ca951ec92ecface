package trace

import (
	"sync"
	"testing"
)

func TestRunTrace_Record_AppendsRecord(t *testing.T) {
	// GIVEN a trace configured for individuals
	rt := NewRunTrace(Config{Level: LevelIndividuals})

	// WHEN an individual record is recorded
	rt.Record(IndividualRecord{ID: 3, Points: 50, Rows: 49, Steps: 120})

	// THEN the trace contains one record with correct data
	if len(rt.Individuals) != 1 {
		t.Fatalf("expected 1 record, got %d", len(rt.Individuals))
	}
	if rt.Individuals[0].ID != 3 {
		t.Errorf("expected ID 3, got %d", rt.Individuals[0].ID)
	}
	if rt.Individuals[0].Steps != 120 {
		t.Errorf("expected 120 steps, got %d", rt.Individuals[0].Steps)
	}
}

func TestRunTrace_Record_NilTraceIsNoOp(t *testing.T) {
	var rt *RunTrace
	rt.Record(IndividualRecord{ID: 1})
	rt.Sort()
}

func TestRunTrace_Sort_OrdersByID(t *testing.T) {
	// GIVEN records committed concurrently in arbitrary order
	rt := NewRunTrace(Config{Level: LevelIndividuals})
	var wg sync.WaitGroup
	for id := 20; id >= 1; id-- {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rt.Record(IndividualRecord{ID: id})
		}(id)
	}
	wg.Wait()

	// WHEN sorted
	rt.Sort()

	// THEN ids are increasing and none were lost
	if len(rt.Individuals) != 20 {
		t.Fatalf("expected 20 records, got %d", len(rt.Individuals))
	}
	for i, r := range rt.Individuals {
		if r.ID != i+1 {
			t.Errorf("position %d: expected ID %d, got %d", i, i+1, r.ID)
		}
	}
}

func TestIsValidLevel(t *testing.T) {
	tests := []struct {
		level string
		want  bool
	}{
		{"none", true},
		{"individuals", true},
		{"", true},
		{"decisions", false},
		{"all", false},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := IsValidLevel(tt.level); got != tt.want {
				t.Errorf("IsValidLevel(%q) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestConfig_Enabled(t *testing.T) {
	if (Config{}).Enabled() {
		t.Error("zero config should be disabled")
	}
	if (Config{Level: LevelNone}).Enabled() {
		t.Error("none should be disabled")
	}
	if !(Config{Level: LevelIndividuals}).Enabled() {
		t.Error("individuals should be enabled")
	}
}
