package expose

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tpcopeland/tvkit/internal/testutil"
	"github.com/tpcopeland/tvkit/timeline"
)

func TestRunEndToEndEverTreated(t *testing.T) {
	cohort := newCohort(t,
		timeline.Subject{ID: "a", Entry: 0, Exit: 100},
		timeline.Subject{ID: "b", Entry: 0, Exit: 80},
	)
	records := []timeline.ExposureRecord{rec("a", 20, 50, cv(5))}
	opts := baseOptions()
	opts.Representation = EverTreated{}

	res, err := Run(cohort, records, opts)
	require.NoError(t, err)

	requireRows(t, res.Data, []wantRow{
		{"a", 0, 19, one(cv(0))},
		{"a", 20, 100, one(cv(1))},
		{"b", 0, 80, one(cv(0))},
	})
	assert.Empty(t, res.Warnings)
}

func TestRunCollectsValidationErrors(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 100})
	opts := Options{
		Generate: "",
		Grace:    -1,
	}

	_, err := Run(cohort, nil, opts)
	require.Error(t, err)

	errs, ok := timeline.AsValidations(err)
	require.True(t, ok)
	require.Len(t, errs, 3) // empty generate, missing reference, negative grace

	codes := make([]string, len(errs))
	for i, e := range errs {
		codes[i] = e.Code
	}
	assert.Contains(t, codes, timeline.ErrGenerateEmpty)
	assert.Contains(t, codes, timeline.ErrValueMissing)
	assert.Contains(t, codes, timeline.ErrOptionNegative)
}

func TestRunEmitsRunTokenInLogs(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 100})
	records := []timeline.ExposureRecord{rec("a", 20, 50, cv(5))}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	tokens := timeline.NewFixedGenerator("run-0001")

	_, err := Run(cohort, records, baseOptions(), WithLogger(logger), WithTokens(tokens))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "run=run-0001")
	assert.Contains(t, out, "run started")
	assert.Contains(t, out, "run finished")
	// every line of the run carries the token
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.Contains(t, line, "run=run-0001")
	}
}

func TestRunDefaultsDiscardLogs(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 10})

	res, err := Run(cohort, nil, baseOptions())
	require.NoError(t, err)
	requireRows(t, res.Data, []wantRow{{"a", 0, 10, one(cv(0))}})
}

func TestRunPropagatesComputeErrors(t *testing.T) {
	// Classify on a hand-built broken partition is the reachable way to
	// observe a ComputeError; Run itself builds valid partitions.
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 30})
	in := partitionOf("exposure",
		wantRow{"a", 0, 10, one(cv(0))},
		wantRow{"a", 12, 30, one(cv(0))},
	)

	_, err := Classify(in, cohort, baseOptions())
	require.Error(t, err)
	assert.True(t, timeline.IsPartitionBroken(err))
	assert.False(t, timeline.IsIterationCap(err))
}

func TestRunSwitchingAndStateTimeTogether(t *testing.T) {
	cohort := newCohort(t, timeline.Subject{ID: "a", Entry: 0, Exit: 59})
	records := []timeline.ExposureRecord{
		rec("a", 10, 19, cv(5)),
		rec("a", 30, 39, cv(7)),
	}
	opts := baseOptions()
	opts.Switching = true
	opts.StateTime = true

	res, err := Run(cohort, records, opts)
	require.NoError(t, err)

	require.Len(t, res.Data.Columns, 3)
	assert.Equal(t, "exposure", res.Data.Columns[0].Name)
	assert.Equal(t, "switched", res.Data.Columns[1].Name)
	assert.Equal(t, "statetime", res.Data.Columns[2].Name)

	requireRows(t, res.Data, []wantRow{
		{"a", 0, 9, []timeline.Value{cv(0), cv(0), cv(10)}},
		{"a", 10, 19, []timeline.Value{cv(5), cv(0), cv(10)}},
		{"a", 20, 29, []timeline.Value{cv(0), cv(0), cv(10)}},
		{"a", 30, 39, []timeline.Value{cv(7), cv(1), cv(10)}},
		{"a", 40, 59, []timeline.Value{cv(0), cv(1), cv(20)}},
	})
}

func TestRunPersonTimeConserved(t *testing.T) {
	cohort := newCohort(t,
		timeline.Subject{ID: "a", Entry: 0, Exit: 100},
		timeline.Subject{ID: "b", Entry: 50, Exit: 300},
	)
	records := []timeline.ExposureRecord{
		rec("a", 20, 50, cv(5)),
		rec("a", 40, 80, cv(7)),
		rec("b", 100, 200, cv(5)),
	}
	opts := baseOptions()
	opts.Overlap = Combine{}

	res, err := Run(cohort, records, opts)
	require.NoError(t, err)

	days := res.Data.PersonDays()
	assert.Equal(t, int64(101), days["a"])
	assert.Equal(t, int64(251), days["b"])
}

func TestRunPopulationScaleConservesPersonTime(t *testing.T) {
	subjects := testutil.Population(60)
	cohort := newCohort(t, subjects...)
	records := testutil.Periods(subjects, 5)

	res, err := Run(cohort, records, baseOptions())
	require.NoError(t, err)

	require.NoError(t, res.Data.VerifyPartition("test", cohort))
	days := res.Data.PersonDays()
	for _, s := range subjects {
		assert.Equal(t, int64(s.Window()), days[s.ID], "subject %s", s.ID)
	}
}
