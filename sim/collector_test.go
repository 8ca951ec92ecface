package sim

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_MergesInIDOrder(t *testing.T) {
	// GIVEN blocks committed concurrently in reverse id order
	c := NewCollector([]string{"CP"})
	var wg sync.WaitGroup
	for id := 10; id >= 1; id-- {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rows := []Row{
				{ID: id, Time: 0, Values: []float64{float64(id)}},
				{ID: id, Time: 1, Values: []float64{float64(id) + 0.5}},
			}
			assert.NoError(t, c.Commit(id, rows))
		}(id)
	}
	wg.Wait()

	// WHEN merged
	tbl := c.Table()

	// THEN rows are ordered by (ID, time) and each block is contiguous
	require.Equal(t, 20, tbl.Len())
	assert.Equal(t, 20, c.Rows())
	for i, r := range tbl.Rows {
		assert.Equal(t, i/2+1, r.ID)
		assert.Equal(t, float64(i%2), r.Time)
	}
}

func TestCollector_RejectsMalformedBlocks(t *testing.T) {
	c := NewCollector([]string{"CP", "DV"})

	assert.ErrorContains(t, c.Commit(1, []Row{{ID: 1, Values: []float64{1}}}), "1 values for 2 columns")
	assert.ErrorContains(t, c.Commit(1, []Row{{ID: 2, Values: []float64{1, 2}}}), "belongs to individual 2")
	assert.ErrorContains(t, c.Commit(1, []Row{
		{ID: 1, Time: 1, Values: []float64{1, 2}},
		{ID: 1, Time: 1, Values: []float64{1, 2}},
	}), "not after")

	require.NoError(t, c.Commit(1, nil))
	assert.ErrorContains(t, c.Commit(1, nil), "committed twice")
}

func TestTable_HeaderColumnAndIndividual(t *testing.T) {
	c := NewCollector([]string{"CP", "DV"})
	require.NoError(t, c.Commit(2, []Row{{ID: 2, Time: 0, Values: []float64{3, 4}}}))
	require.NoError(t, c.Commit(1, []Row{
		{ID: 1, Time: 0, Values: []float64{1, 2}},
		{ID: 1, Time: 1, Values: []float64{5, 6}},
	}))
	tbl := c.Table()

	assert.Equal(t, []string{"ID", "time", "CP", "DV"}, tbl.Header())

	dv, err := tbl.Column("DV")
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 6, 4}, dv)

	_, err = tbl.Column("IPRED")
	assert.Error(t, err)

	assert.Len(t, tbl.Individual(1), 2)
	assert.Len(t, tbl.Individual(2), 1)
	assert.Empty(t, tbl.Individual(3))
}
