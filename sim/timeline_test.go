package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTimeline_GridIncludesWindowEnds(t *testing.T) {
	// GIVEN a grid whose spacing does not divide the window
	m := mustCompile(t, decayDescriptor())

	// WHEN built without doses
	tl, err := BuildTimeline(m, Design{Start: 0, End: 10, Delta: 3}, nil)
	require.NoError(t, err)

	// THEN the grid plus the window end are observation points
	assert.Equal(t, []float64{0, 3, 6, 9, 10}, tl.ObservationTimes())
}

func TestBuildTimeline_GridByMultiplication(t *testing.T) {
	m := mustCompile(t, decayDescriptor())

	tl, err := BuildTimeline(m, Design{Start: 0, End: 1, Delta: 0.1}, nil)
	require.NoError(t, err)

	obs := tl.ObservationTimes()
	require.Len(t, obs, 11)
	// k*delta, not delta accumulated k times
	k, delta := 7.0, 0.1
	assert.Equal(t, k*delta, obs[7])
	assert.Equal(t, 1.0, obs[10])
}

func TestBuildTimeline_ZeroDeltaOnlyEndsAndAdded(t *testing.T) {
	m := mustCompile(t, decayDescriptor())

	tl, err := BuildTimeline(m, Design{Start: 2, End: 8, Add: []float64{5, 1, 9, 3}}, nil)
	require.NoError(t, err)

	// 1 and 9 fall outside the window and are ignored
	assert.Equal(t, []float64{2, 3, 5, 8}, tl.ObservationTimes())
}

func TestBuildTimeline_NearlyEqualTimesCollapse(t *testing.T) {
	m := mustCompile(t, decayDescriptor())

	tl, err := BuildTimeline(m, Design{Start: 0, End: 6, Delta: 3, Add: []float64{3 + 1e-12}}, nil)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 3, 6}, tl.ObservationTimes())
}

func TestBuildTimeline_DoseAtObservationSharesPoint(t *testing.T) {
	// GIVEN a bolus exactly at an observation time
	m := mustCompile(t, decayDescriptor())

	// WHEN built
	tl, err := BuildTimeline(m, Design{Start: 0, End: 4, Delta: 1}, []Dose{{Time: 2, Cmt: "CENT", Amount: 50}})
	require.NoError(t, err)

	// THEN one point carries both the observation and the dose
	require.Len(t, tl.Points, 5)
	p := tl.Points[2]
	assert.Equal(t, 2.0, p.Time)
	assert.True(t, p.Obs)
	require.Len(t, p.Doses, 1)
	assert.Equal(t, 1, p.Doses[0].Cmt)
	assert.Equal(t, 50.0, p.Doses[0].Amount)
}

func TestBuildTimeline_DoseBetweenObservationsAddsPoint(t *testing.T) {
	m := mustCompile(t, decayDescriptor())

	tl, err := BuildTimeline(m, Design{Start: 0, End: 2, Delta: 1}, []Dose{{Time: 0.5, Amount: 10}})
	require.NoError(t, err)

	require.Len(t, tl.Points, 4)
	p := tl.Points[1]
	assert.Equal(t, 0.5, p.Time)
	assert.False(t, p.Obs)
	require.Len(t, p.Doses, 1)
	assert.Equal(t, 0, p.Doses[0].Cmt, "empty cmt resolves to the depot")
}

func TestBuildTimeline_StrictlyIncreasing(t *testing.T) {
	m := mustCompile(t, decayDescriptor())
	doses := []Dose{
		{Time: 7.3, Amount: 1},
		{Time: 0, Amount: 1, Duration: 2.2},
		{Time: 3, Amount: 1, Addl: 4, II: 1.5},
	}

	tl, err := BuildTimeline(m, Design{Start: 0, End: 10, Delta: 0.7, Add: []float64{4.5, 2.2}}, doses)
	require.NoError(t, err)

	for i := 1; i < len(tl.Points); i++ {
		assert.Less(t, tl.Points[i-1].Time, tl.Points[i].Time, "point %d", i)
	}
}

func TestBuildTimeline_InfusionContributesEndPoint(t *testing.T) {
	// GIVEN a 4h infusion starting at t=1 and a rate-defined infusion
	m := mustCompile(t, decayDescriptor())
	doses := []Dose{
		{Time: 1, Cmt: "CENT", Amount: 100, Duration: 4},
		{Time: 2, Cmt: "CENT", Amount: 100, Rate: 25},
	}

	// WHEN built on a coarse grid
	tl, err := BuildTimeline(m, Design{Start: 0, End: 10, Delta: 10}, doses)
	require.NoError(t, err)

	// THEN starts and ends are separate points, ends pair with their start by Seq
	var times []float64
	for _, p := range tl.Points {
		times = append(times, p.Time)
	}
	assert.Equal(t, []float64{0, 1, 2, 5, 6, 10}, times)
	assert.Equal(t, 4.0, tl.Points[1].Doses[0].Duration)
	assert.Equal(t, 4.0, tl.Points[2].Doses[0].Duration, "duration = amt/rate")
	assert.Equal(t, []int{tl.Points[1].Doses[0].Seq}, tl.Points[3].InfusionEnds)
	assert.Equal(t, []int{tl.Points[2].Doses[0].Seq}, tl.Points[4].InfusionEnds)
	assert.False(t, tl.Points[3].Obs)
}

func TestBuildTimeline_InfusionPastWindowHasNoEnd(t *testing.T) {
	m := mustCompile(t, decayDescriptor())

	tl, err := BuildTimeline(m, Design{Start: 0, End: 4, Delta: 4}, []Dose{{Time: 2, Amount: 10, Duration: 5}})
	require.NoError(t, err)

	for _, p := range tl.Points {
		assert.Empty(t, p.InfusionEnds)
	}
}

func TestBuildTimeline_AdditionalDosesExpandAndClip(t *testing.T) {
	// GIVEN a dose every 12h with 3 repeats and a 30h window
	m := mustCompile(t, decayDescriptor())

	tl, err := BuildTimeline(m, Design{Start: 0, End: 30, Delta: 30}, []Dose{{Time: 0, Amount: 5, Addl: 3, II: 12}})
	require.NoError(t, err)

	// THEN doses at 0, 12, 24 remain and the one at 36 is dropped
	var doseTimes []float64
	for _, p := range tl.Points {
		for range p.Doses {
			doseTimes = append(doseTimes, p.Time)
		}
	}
	assert.Equal(t, []float64{0, 12, 24}, doseTimes)
}

func TestBuildTimeline_SameTimeDosesKeepInputOrder(t *testing.T) {
	m := mustCompile(t, decayDescriptor())

	tl, err := BuildTimeline(m, Design{Start: 0, End: 1, Delta: 1}, []Dose{
		{Time: 1, Cmt: "CENT", Amount: 1},
		{Time: 1, Cmt: "DEPOT", Amount: 2},
	})
	require.NoError(t, err)

	last := tl.Points[len(tl.Points)-1]
	require.Len(t, last.Doses, 2)
	assert.Equal(t, 1.0, last.Doses[0].Amount)
	assert.Equal(t, 2.0, last.Doses[1].Amount)
}

func TestBuildTimeline_Errors(t *testing.T) {
	m := mustCompile(t, decayDescriptor())
	design := Design{Start: 1, End: 10, Delta: 1}

	tests := []struct {
		name    string
		design  Design
		dose    Dose
		wantErr string
	}{
		{"dose before start", design, Dose{Time: 0.5, Amount: 1}, "before window start"},
		{"unknown compartment", design, Dose{Time: 1, Cmt: "PERIPH", Amount: 1}, "unknown compartment"},
		{"negative amount", design, Dose{Time: 1, Amount: -1}, "amt must be non-negative"},
		{"dur and rate", design, Dose{Time: 1, Amount: 1, Duration: 1, Rate: 1}, "either dur or rate"},
		{"addl without ii", design, Dose{Time: 1, Amount: 1, Addl: 2}, "requires ii"},
		{"zero amount rate infusion", design, Dose{Time: 1, Amount: 0, Rate: 5}, "too short"},
		{"end before start", Design{Start: 5, End: 1}, Dose{Time: 5, Amount: 1}, "before start"},
		{"negative delta", Design{Start: 0, End: 1, Delta: -1}, Dose{Amount: 1}, "delta"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildTimeline(m, tt.design, []Dose{tt.dose})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDose_Expand(t *testing.T) {
	got := Dose{Time: 2, Amount: 10, Addl: 2, II: 8}.Expand()
	require.Len(t, got, 3)
	for k, d := range got {
		assert.Equal(t, 2+8*float64(k), d.Time)
		assert.Equal(t, 0, d.Addl)
		assert.Equal(t, 10.0, d.Amount)
	}
}
