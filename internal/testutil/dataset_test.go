package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tpcopeland/tvkit/timeline"
)

func TestWindowDataset_TilesEveryWindow(t *testing.T) {
	subjects := Population(15)
	cohort, errs := timeline.NewCohort(subjects)
	require.Empty(t, errs)

	ds := WindowDataset(subjects, "arm", 3)

	require.NoError(t, ds.VerifyPartition("testutil", cohort))
	assert.Equal(t, "arm", ds.Columns[0].Name)
}

func TestWindowDataset_ValuesCyclePieces(t *testing.T) {
	subjects := Population(1) // one subject, 90-day window
	ds := WindowDataset(subjects, "arm", 3)

	require.Len(t, ds.Rows, 3)
	assert.Equal(t, timeline.Code(0), ds.Rows[0].Values[0])
	assert.Equal(t, timeline.Code(1), ds.Rows[1].Values[0])
	assert.Equal(t, timeline.Code(2), ds.Rows[2].Values[0])
	assert.Equal(t, subjects[0].Entry, ds.Rows[0].Start)
	assert.Equal(t, subjects[0].Exit, ds.Rows[2].Stop)
}

func TestWindowDataset_ShortWindowStillTiles(t *testing.T) {
	subjects := []timeline.Subject{{ID: "s", Entry: 5, Exit: 6}}

	// Two-day window, five pieces: chunks clamp to one day and stop early.
	ds := WindowDataset(subjects, "arm", 5)

	require.Len(t, ds.Rows, 2)
	assert.Equal(t, timeline.Day(5), ds.Rows[0].Start)
	assert.Equal(t, timeline.Day(5), ds.Rows[0].Stop)
	assert.Equal(t, timeline.Day(6), ds.Rows[1].Start)
	assert.Equal(t, timeline.Day(6), ds.Rows[1].Stop)
}

func TestWindowDataset_PiecesClampToOne(t *testing.T) {
	subjects := Population(2)
	ds := WindowDataset(subjects, "arm", 0)

	// One row per subject covering the whole window.
	require.Len(t, ds.Rows, 2)
	for i, s := range subjects {
		assert.Equal(t, s.Entry, ds.Rows[i].Start)
		assert.Equal(t, s.Exit, ds.Rows[i].Stop)
	}
}
