package sim

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// Row is one captured observation.
type Row struct {
	ID     int
	Time   float64
	Values []float64 // one per capture, in declaration order
}

// Table is the result of a run: rows ordered by (ID, Time), one column per
// capture in declaration order.
type Table struct {
	Columns []string
	Rows    []Row
}

// Header returns the full column list including the ID and time keys.
func (t *Table) Header() []string {
	return append([]string{"ID", "time"}, t.Columns...)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Column returns every value of the named capture, in row order.
func (t *Table) Column(name string) ([]float64, error) {
	j := slices.Index(t.Columns, name)
	if j < 0 {
		return nil, fmt.Errorf("no column %q", name)
	}
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Values[j]
	}
	return out, nil
}

// Individual returns the rows of one individual.
func (t *Table) Individual(id int) []Row {
	lo, _ := slices.BinarySearchFunc(t.Rows, id, func(r Row, id int) int { return cmp.Compare(r.ID, id) })
	hi := lo
	for hi < len(t.Rows) && t.Rows[hi].ID == id {
		hi++
	}
	return t.Rows[lo:hi]
}

// Collector gathers per-individual row blocks from concurrent workers. Each
// individual's rows are committed in one call so blocks never interleave; the
// final table is ordered by individual id regardless of completion order.
type Collector struct {
	columns []string

	mu     sync.Mutex
	blocks map[int][]Row
	rows   int
}

// NewCollector creates a collector for the given capture columns.
func NewCollector(columns []string) *Collector {
	return &Collector{
		columns: slices.Clone(columns),
		blocks:  make(map[int][]Row),
	}
}

// Commit stores the complete row block of one individual. Rows must be in
// increasing time order and match the column arity.
func (c *Collector) Commit(id int, rows []Row) error {
	for i, r := range rows {
		if r.ID != id {
			return fmt.Errorf("row %d belongs to individual %d, committed as %d", i, r.ID, id)
		}
		if len(r.Values) != len(c.columns) {
			return fmt.Errorf("individual %d row %d: %d values for %d columns", id, i, len(r.Values), len(c.columns))
		}
		if i > 0 && r.Time <= rows[i-1].Time {
			return fmt.Errorf("individual %d row %d: time %g not after %g", id, i, r.Time, rows[i-1].Time)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.blocks[id]; dup {
		return fmt.Errorf("individual %d committed twice", id)
	}
	c.blocks[id] = rows
	c.rows += len(rows)
	return nil
}

// Rows returns the number of rows committed so far.
func (c *Collector) Rows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows
}

// Table merges the committed blocks in increasing id order.
func (c *Collector) Table() *Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int, 0, len(c.blocks))
	for id := range c.blocks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	t := &Table{Columns: slices.Clone(c.columns), Rows: make([]Row, 0, c.rows)}
	for _, id := range ids {
		t.Rows = append(t.Rows, c.blocks[id]...)
	}
	return t
}
