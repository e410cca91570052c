package expose

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tpcopeland/tvkit/timeline"
)

func codesOf(errs timeline.Validations) []string {
	codes := make([]string, len(errs))
	for i, e := range errs {
		codes[i] = e.Code
	}
	return codes
}

func TestOptionsValidateAcceptsMinimalConfig(t *testing.T) {
	opts := Options{Generate: "exposure", Reference: cv(0)}
	require.Nil(t, opts.Validate())
}

func TestOptionsValidateCollectsAllErrors(t *testing.T) {
	opts := Options{
		Generate: "",
		Lag:      -3,
		Washout:  -1,
	}

	errs := opts.Validate()
	require.Len(t, errs, 4)
	codes := codesOf(errs)
	assert.Contains(t, codes, timeline.ErrGenerateEmpty)
	assert.Contains(t, codes, timeline.ErrValueMissing)
	assert.Contains(t, codes, timeline.ErrOptionNegative)
}

func TestOptionsValidateRejectsPairReference(t *testing.T) {
	opts := Options{
		Generate:  "exposure",
		Reference: timeline.Pair{Left: cv(1), Right: cv(2)},
	}

	errs := opts.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, timeline.ErrPairValueForbidden, errs[0].Code)
}

func TestOptionsValidateRejectsNonFiniteReference(t *testing.T) {
	opts := Options{Generate: "exposure", Reference: lv(math.Inf(1))}

	errs := opts.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, timeline.ErrValueNotFinite, errs[0].Code)
}

func TestOptionsValidateCodedRepresentationNeedsCodeReference(t *testing.T) {
	for _, rep := range []Representation{EverTreated{}, CurrentFormer{}, Duration{Unit: timeline.UnitDays, Cuts: []float64{1}}, Recency{Cuts: []float64{1}}} {
		opts := Options{Generate: "exposure", Reference: lv(0), Representation: rep}
		errs := opts.Validate()
		require.Len(t, errs, 1, "representation %s", rep)
		assert.Equal(t, timeline.ErrOptionConflict, errs[0].Code, "representation %s", rep)
	}

	// continuous and raw accept a level reference
	for _, rep := range []Representation{Raw{}, Continuous{Unit: timeline.UnitDays}} {
		opts := Options{Generate: "exposure", Reference: lv(0), Representation: rep}
		require.Nil(t, opts.Validate(), "representation %s", rep)
	}
}

func TestOptionsValidateWindowBounds(t *testing.T) {
	opts := Options{
		Generate:  "exposure",
		Reference: cv(0),
		Window:    Window{MinDays: 30, MaxDays: 10},
	}

	errs := opts.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, timeline.ErrOptionConflict, errs[0].Code)

	opts.Window = Window{MinDays: -1}
	errs = opts.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, timeline.ErrOptionNegative, errs[0].Code)
}

func TestOptionsValidateGraceByValue(t *testing.T) {
	opts := Options{
		Generate:  "exposure",
		Reference: cv(0),
		GraceByValue: map[timeline.Value]timeline.Day{
			timeline.Pair{Left: cv(1), Right: cv(2)}: 3,
		},
	}
	errs := opts.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, timeline.ErrPairValueForbidden, errs[0].Code)

	opts.GraceByValue = map[timeline.Value]timeline.Day{cv(1): -2}
	errs = opts.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, timeline.ErrOptionNegative, errs[0].Code)
}

func TestOptionsValidateCutRules(t *testing.T) {
	base := Options{Generate: "exposure", Reference: cv(0)}

	opts := base
	opts.Representation = Duration{Unit: timeline.UnitDays}
	errs := opts.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, timeline.ErrValueMissing, errs[0].Code)

	opts.Representation = Duration{Unit: timeline.UnitDays, Cuts: []float64{5, 5}}
	errs = opts.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, timeline.ErrCutsNotAscending, errs[0].Code)

	opts.Representation = Recency{Cuts: []float64{-1, 3}}
	errs = opts.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, timeline.ErrCutsNotAscending, errs[0].Code)

	opts.Representation = Recency{Cuts: []float64{math.NaN()}}
	errs = opts.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, timeline.ErrValueNotFinite, errs[0].Code)

	// dose cuts are optional
	opts = Options{Generate: "dose", Representation: Dose{}}
	require.Nil(t, opts.Validate())
}

func TestOptionsValidateUnknownUnit(t *testing.T) {
	opts := Options{
		Generate:       "exposure",
		Reference:      cv(0),
		Representation: Continuous{Unit: timeline.Unit("fortnights")},
	}

	errs := opts.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, timeline.ErrUnitUnknown, errs[0].Code)
}

func TestOptionsValidatePriorityOrder(t *testing.T) {
	base := Options{Generate: "exposure", Reference: cv(0)}

	opts := base
	opts.Overlap = Priority{}
	errs := opts.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, timeline.ErrValueMissing, errs[0].Code)

	opts.Overlap = Priority{Order: []timeline.Code{1, 2, 1}}
	errs = opts.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, timeline.ErrOptionConflict, errs[0].Code)
}

func TestOptionsValidateDoseConflicts(t *testing.T) {
	opts := Options{
		Generate:       "dose",
		Representation: Dose{},
		Overlap:        Split{},
		MergeDays:      5,
	}

	errs := opts.Validate()
	require.Len(t, errs, 2)
	assert.Equal(t, []string{timeline.ErrOptionConflict, timeline.ErrOptionConflict}, codesOf(errs))
}

func TestOptionsValidateAuxColumnCollision(t *testing.T) {
	opts := Options{
		Generate:  "switched",
		Reference: cv(0),
		Switching: true,
	}

	errs := opts.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, timeline.ErrColumnCollision, errs[0].Code)
}

func TestOptionsDefaultsAreRawAndLayer(t *testing.T) {
	opts := Options{Generate: "exposure", Reference: cv(0)}
	assert.Equal(t, Raw{}, opts.representationOrDefault())
	assert.Equal(t, Layer{}, opts.overlapOrDefault())
}
