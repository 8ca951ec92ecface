package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/pkpdsim/pkpdsim/sim"
	"github.com/pkpdsim/pkpdsim/sim/trace"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// writeTable writes the result table as CSV with header ID,time,<captures>.
// Values use the shortest representation that parses back to the same bits.
func writeTable(w io.Writer, t *sim.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return err
	}
	rec := make([]string, len(t.Columns)+2)
	for _, r := range t.Rows {
		rec[0] = strconv.Itoa(r.ID)
		rec[1] = formatFloat(r.Time)
		for j, v := range r.Values {
			rec[j+2] = formatFloat(v)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeDiagnostics writes one CSV line per failed individual.
func writeDiagnostics(w io.Writer, failures []sim.Failure) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"ID", "time", "error"}); err != nil {
		return err
	}
	for _, f := range failures {
		if err := cw.Write([]string{strconv.Itoa(f.ID), formatFloat(f.Time), f.Cause().Error()}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeTableFile(path string, t *sim.Table) error {
	return writeFile(path, func(w io.Writer) error { return writeTable(w, t) })
}

func writeDiagnosticsFile(path string, failures []sim.Failure) error {
	return writeFile(path, func(w io.Writer) error { return writeDiagnostics(w, failures) })
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// printTraceSummary reports per-individual solver statistics.
func printTraceSummary(w io.Writer, s *trace.Summary) {
	fmt.Fprintln(w, "=== Trace Summary ===")
	fmt.Fprintf(w, "Traced Individuals   : %d\n", s.Individuals)
	fmt.Fprintf(w, "Stiff Switches       : %d\n", s.Switched)
	fmt.Fprintf(w, "Mean Steps           : %.2f\n", s.MeanSteps)
	fmt.Fprintf(w, "Max Steps            : %d (ID %d)\n", s.MaxSteps, s.MaxStepsID)
	fmt.Fprintf(w, "Rejection Rate       : %.4f\n", s.RejectionRate)
	if len(s.FailureReasons) > 0 {
		fmt.Fprintln(w, "Failure Reasons:")
		reasons := make([]string, 0, len(s.FailureReasons))
		for r := range s.FailureReasons {
			reasons = append(reasons, r)
		}
		slices.Sort(reasons)
		for _, r := range reasons {
			fmt.Fprintf(w, "  %-40s: %d\n", r, s.FailureReasons[r])
		}
	}
}
