package expose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tpcopeland/tvkit/timeline"
)

// partitionOf builds a single-column partition dataset for Classify tests.
func partitionOf(col string, rows ...wantRow) *timeline.Dataset {
	ds := &timeline.Dataset{Columns: []timeline.Column{{Name: col}}}
	for _, r := range rows {
		ds.Rows = append(ds.Rows, timeline.Row{
			Subject: r.subject, Start: r.start, Stop: r.stop, Values: r.values,
		})
	}
	return ds
}

func one(v timeline.Value) []timeline.Value { return []timeline.Value{v} }

// ============================================================
// Raw
// ============================================================

func TestClassifyRawCompressesEqualNeighbors(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 30})
	in := partitionOf("exposure",
		wantRow{"a", 0, 10, one(cv(0))},
		wantRow{"a", 11, 20, one(cv(0))},
		wantRow{"a", 21, 30, one(cv(5))},
	)

	out, err := Classify(in, cohort, baseOptions())
	require.NoError(t, err)

	requireRows(t, out, []wantRow{
		{"a", 0, 20, one(cv(0))},
		{"a", 21, 30, one(cv(5))},
	})
}

func TestClassifyRawAttachesReferenceLabel(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 30})
	in := partitionOf("exposure", wantRow{"a", 0, 30, one(cv(0))})
	opts := baseOptions()
	opts.ReferenceLabel = "untreated"

	out, err := Classify(in, cohort, opts)
	require.NoError(t, err)

	require.Len(t, out.Columns, 1)
	assert.Equal(t, "exposure", out.Columns[0].Name)
	assert.Equal(t, map[timeline.Code]string{0: "untreated"}, out.Columns[0].Labels)
}

// ============================================================
// Ever treated
// ============================================================

func TestClassifyEverTreatedLatchesAtFirstExposure(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 100})
	in := partitionOf("exposure",
		wantRow{"a", 0, 19, one(cv(0))},
		wantRow{"a", 20, 50, one(cv(5))},
		wantRow{"a", 51, 100, one(cv(0))},
	)
	opts := baseOptions()
	opts.Representation = EverTreated{}

	out, err := Classify(in, cohort, opts)
	require.NoError(t, err)

	requireRows(t, out, []wantRow{
		{"a", 0, 19, one(cv(0))},
		{"a", 20, 100, one(cv(1))},
	})
}

func TestClassifyEverTreatedByTypeAddsPerCodeColumns(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 49})
	in := partitionOf("exposure",
		wantRow{"a", 0, 9, one(cv(0))},
		wantRow{"a", 10, 19, one(cv(5))},
		wantRow{"a", 20, 29, one(cv(0))},
		wantRow{"a", 30, 39, one(cv(7))},
		wantRow{"a", 40, 49, one(cv(0))},
	)
	opts := baseOptions()
	opts.Representation = EverTreated{ByType: true}

	out, err := Classify(in, cohort, opts)
	require.NoError(t, err)

	require.Len(t, out.Columns, 3)
	assert.Equal(t, "exposure", out.Columns[0].Name)
	assert.Equal(t, "ever5", out.Columns[1].Name)
	assert.Equal(t, "ever7", out.Columns[2].Name)

	requireRows(t, out, []wantRow{
		{"a", 0, 9, []timeline.Value{cv(0), cv(0), cv(0)}},
		{"a", 10, 29, []timeline.Value{cv(1), cv(1), cv(0)}},
		{"a", 30, 49, []timeline.Value{cv(1), cv(1), cv(1)}},
	})
}

func TestClassifyByTypeRejectsLevelValues(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 30})
	in := partitionOf("exposure",
		wantRow{"a", 0, 10, one(lv(2.5))},
		wantRow{"a", 11, 30, one(cv(0))},
	)
	opts := baseOptions()
	opts.Representation = EverTreated{ByType: true}

	_, err := Classify(in, cohort, opts)
	require.Error(t, err)

	errs, ok := timeline.AsValidations(err)
	require.True(t, ok)
	require.Equal(t, timeline.ErrOptionConflict, errs[0].Code)
}

// ============================================================
// Current / former
// ============================================================

func TestClassifyCurrentFormerDistinguishesPastExposure(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 100})
	in := partitionOf("exposure",
		wantRow{"a", 0, 19, one(cv(0))},
		wantRow{"a", 20, 50, one(cv(5))},
		wantRow{"a", 51, 100, one(cv(0))},
	)
	opts := baseOptions()
	opts.Representation = CurrentFormer{}

	out, err := Classify(in, cohort, opts)
	require.NoError(t, err)

	requireRows(t, out, []wantRow{
		{"a", 0, 19, one(cv(0))},
		{"a", 20, 50, one(cv(1))},
		{"a", 51, 100, one(cv(2))},
	})
}

// ============================================================
// Continuous
// ============================================================

func TestClassifyContinuousAccumulatesExposedDays(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 100})
	in := partitionOf("exposure",
		wantRow{"a", 0, 19, one(cv(0))},
		wantRow{"a", 20, 50, one(cv(5))},
		wantRow{"a", 51, 100, one(cv(0))},
	)
	opts := baseOptions()
	opts.Representation = Continuous{Unit: timeline.UnitDays}

	out, err := Classify(in, cohort, opts)
	require.NoError(t, err)

	// The trailing reference row carries the same total as the exposed
	// row, so the two compress into one.
	requireRows(t, out, []wantRow{
		{"a", 0, 19, one(lv(0))},
		{"a", 20, 100, one(lv(31))},
	})
	assert.True(t, out.Columns[0].Continuous)
}

func TestClassifyContinuousExpandStepsWithinPeriod(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 30})
	in := partitionOf("exposure",
		wantRow{"a", 0, 4, one(cv(0))},
		wantRow{"a", 5, 24, one(cv(1))},
		wantRow{"a", 25, 30, one(cv(0))},
	)
	opts := baseOptions()
	opts.Representation = Continuous{Unit: timeline.UnitWeeks, Expand: true}

	out, err := Classify(in, cohort, opts)
	require.NoError(t, err)

	// 20 exposed days split into 7+7+6; the final chunk and the trailing
	// reference row share the total and compress.
	require.Len(t, out.Rows, 4)
	requireSpan(t, out.Rows[0], "a", 0, 4)
	requireSpan(t, out.Rows[1], "a", 5, 11)
	requireSpan(t, out.Rows[2], "a", 12, 18)
	requireSpan(t, out.Rows[3], "a", 19, 30)

	assert.InDelta(t, 0, levelOf(t, out.Rows[0]), 1e-12)
	assert.InDelta(t, 1, levelOf(t, out.Rows[1]), 1e-12)
	assert.InDelta(t, 2, levelOf(t, out.Rows[2]), 1e-12)
	assert.InDelta(t, 20.0/7.0, levelOf(t, out.Rows[3]), 1e-12)
}

func requireSpan(t *testing.T, r timeline.Row, subject string, start, stop timeline.Day) {
	t.Helper()
	require.Equal(t, subject, r.Subject)
	require.Equal(t, start, r.Start)
	require.Equal(t, stop, r.Stop)
}

func levelOf(t *testing.T, r timeline.Row) float64 {
	t.Helper()
	l, ok := r.Values[0].(timeline.Level)
	require.True(t, ok, "value %s is not a level", r.Values[0])
	return float64(l)
}

// ============================================================
// Duration buckets
// ============================================================

func TestClassifyDurationBucketsCumulativeTime(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 100})
	in := partitionOf("exposure",
		wantRow{"a", 0, 9, one(cv(0))},
		wantRow{"a", 10, 24, one(cv(5))}, // 15 days
		wantRow{"a", 25, 39, one(cv(0))},
		wantRow{"a", 40, 59, one(cv(5))}, // +20 days = 35
		wantRow{"a", 60, 100, one(cv(0))},
	)
	opts := baseOptions()
	opts.ReferenceLabel = "untreated"
	opts.Representation = Duration{Unit: timeline.UnitDays, Cuts: []float64{10, 30}}

	out, err := Classify(in, cohort, opts)
	require.NoError(t, err)

	requireRows(t, out, []wantRow{
		{"a", 0, 9, one(cv(0))},
		{"a", 10, 39, one(cv(2))},  // 15 days falls in [10,30)
		{"a", 40, 100, one(cv(3))}, // 35 days is past the last cut
	})
	assert.Equal(t, map[timeline.Code]string{0: "untreated"}, out.Columns[0].Labels)
}

// ============================================================
// Recency
// ============================================================

func TestClassifyRecencyBandsTimeSinceExposure(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 1500})
	in := partitionOf("exposure",
		wantRow{"a", 0, 99, one(cv(0))},
		wantRow{"a", 100, 199, one(cv(5))},
		wantRow{"a", 200, 565, one(cv(0))},  // 1 day after stop: < 1 year
		wantRow{"a", 566, 931, one(cv(0))},  // 367 days: 1-2 years
		wantRow{"a", 932, 1500, one(cv(0))}, // 733 days: past 2 years
	)
	opts := baseOptions()
	opts.Representation = Recency{Cuts: []float64{1, 2}}

	out, err := Classify(in, cohort, opts)
	require.NoError(t, err)

	requireRows(t, out, []wantRow{
		{"a", 0, 99, one(cv(0))}, // never exposed
		{"a", 100, 199, one(cv(1))},
		{"a", 200, 565, one(cv(2))},
		{"a", 566, 931, one(cv(3))},
		{"a", 932, 1500, one(cv(4))},
	})
}

// ============================================================
// Aux columns
// ============================================================

func TestClassifySwitchingFlagsSecondDistinctValue(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 49})
	in := partitionOf("exposure",
		wantRow{"a", 0, 9, one(cv(0))},
		wantRow{"a", 10, 19, one(cv(5))},
		wantRow{"a", 20, 29, one(cv(0))},
		wantRow{"a", 30, 39, one(cv(7))},
		wantRow{"a", 40, 49, one(cv(0))},
	)
	opts := baseOptions()
	opts.Switching = true

	out, err := Classify(in, cohort, opts)
	require.NoError(t, err)

	require.Len(t, out.Columns, 2)
	assert.Equal(t, "switched", out.Columns[1].Name)
	requireRows(t, out, []wantRow{
		{"a", 0, 9, []timeline.Value{cv(0), cv(0)}},
		{"a", 10, 19, []timeline.Value{cv(5), cv(0)}},
		{"a", 20, 29, []timeline.Value{cv(0), cv(0)}},
		{"a", 30, 39, []timeline.Value{cv(7), cv(1)}},
		{"a", 40, 49, []timeline.Value{cv(0), cv(1)}},
	})
}

func TestClassifyStateTimeCountsEpisodeDays(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 30})
	in := partitionOf("exposure",
		wantRow{"a", 0, 4, one(cv(0))},
		wantRow{"a", 5, 24, one(cv(5))},
		wantRow{"a", 25, 30, one(cv(0))},
	)
	opts := baseOptions()
	opts.StateTime = true

	out, err := Classify(in, cohort, opts)
	require.NoError(t, err)

	require.Len(t, out.Columns, 2)
	assert.Equal(t, "statetime", out.Columns[1].Name)
	requireRows(t, out, []wantRow{
		{"a", 0, 4, []timeline.Value{cv(0), cv(5)}},
		{"a", 5, 24, []timeline.Value{cv(5), cv(20)}},
		{"a", 25, 30, []timeline.Value{cv(0), cv(6)}},
	})
}

// ============================================================
// Input checking
// ============================================================

func TestClassifyRejectsBrokenPartition(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 30})
	in := partitionOf("exposure",
		wantRow{"a", 0, 10, one(cv(0))},
		wantRow{"a", 15, 30, one(cv(5))}, // gap at [11,14]
	)

	_, err := Classify(in, cohort, baseOptions())
	require.Error(t, err)
	require.True(t, timeline.IsPartitionBroken(err))
}

func TestClassifyRejectsDoseRepresentation(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 30})
	in := partitionOf("exposure", wantRow{"a", 0, 30, one(cv(0))})
	opts := baseOptions()
	opts.Representation = Dose{}
	opts.Reference = nil
	opts.Overlap = nil

	_, err := Classify(in, cohort, opts)
	require.Error(t, err)

	errs, ok := timeline.AsValidations(err)
	require.True(t, ok)
	require.Equal(t, timeline.ErrOptionConflict, errs[0].Code)
}
