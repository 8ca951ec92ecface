package cmd

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkpdsim/pkpdsim/sim"
	"github.com/pkpdsim/pkpdsim/sim/trace"
)

func TestWriteTable_FullPrecisionRoundTrip(t *testing.T) {
	// GIVEN values that need all 17 significant digits
	third := 1.0 / 3.0
	table := &sim.Table{
		Columns: []string{"CP", "flag"},
		Rows: []sim.Row{
			{ID: 1, Time: 0, Values: []float64{third, 0}},
			{ID: 1, Time: 0.05, Values: []float64{1e-300, 1}},
			{ID: 12, Time: 240, Values: []float64{math.Pi * 1e6, 0}},
		},
	}
	var buf bytes.Buffer

	// WHEN written
	require.NoError(t, writeTable(&buf, table))

	// THEN every value parses back to the same bits
	recs := readCSV(t, buf.Bytes())
	require.Len(t, recs, 4)
	assert.Equal(t, []string{"ID", "time", "CP", "flag"}, recs[0])
	assert.Equal(t, []string{"1", "0.05", "1e-300", "1"}, recs[2])
	assert.Equal(t, "12", recs[3][0])
	got, err := strconv.ParseFloat(recs[1][2], 64)
	require.NoError(t, err)
	assert.Equal(t, math.Float64bits(third), math.Float64bits(got))
}

func TestWriteDiagnostics_OneLinePerFailure(t *testing.T) {
	failures := []sim.Failure{
		{ID: 3, Time: 1.5, Err: &sim.NumericalError{ID: 3, Time: 1.5, Err: fmt.Errorf("step size underflow")}},
	}
	var buf bytes.Buffer
	require.NoError(t, writeDiagnostics(&buf, failures))
	assert.Equal(t, "ID,time,error\n3,1.5,step size underflow\n", buf.String())
}

func TestWriteTableFile_BadPath_ReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "out.csv")
	err := writeTableFile(path, &sim.Table{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating")
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPrintTraceSummary_ListsReasonsSorted(t *testing.T) {
	s := &trace.Summary{
		Individuals:    4,
		Failed:         2,
		Switched:       1,
		MeanSteps:      12.5,
		MaxSteps:       30,
		MaxStepsID:     2,
		FailureReasons: map[string]int{"step size underflow": 1, "non-finite derived parameter": 1},
	}
	var buf bytes.Buffer
	printTraceSummary(&buf, s)
	out := buf.String()
	assert.Contains(t, out, "=== Trace Summary ===")
	assert.Contains(t, out, "Max Steps            : 30 (ID 2)")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("non-finite")), bytes.Index(buf.Bytes(), []byte("step size")))
}
