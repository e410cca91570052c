package expose

import (
	"fmt"
	"math"

	"github.com/tpcopeland/tvkit/timeline"
)

// Representation selects how classified output values are derived from the
// canonical partition. Implementations live in this package; the interface
// is sealed via the unexported marker method.
type Representation interface {
	representation()
	fmt.Stringer
}

// Raw keeps the normalized period values untouched.
type Raw struct{}

// EverTreated emits 0 before the first exposed period and 1 from its start
// onward. With ByType set, one additional 0/1 column per distinct exposure
// code is emitted alongside the raw main column.
type EverTreated struct {
	ByType bool
}

// CurrentFormer emits 0 before the first exposed period, 1 during exposed
// periods, and 2 in unexposed periods after the first exposure.
type CurrentFormer struct{}

// Continuous emits cumulative exposed time in Unit as a Level value. With
// Expand set, exposed periods are first split into unit-sized chunks so
// the accumulation is visible at sub-period resolution.
type Continuous struct {
	Unit   timeline.Unit
	Expand bool
}

// Duration buckets cumulative exposed time in Unit against ascending Cuts:
// zero maps to the reference code, then 1 for below the first cut, i+1 for
// the half-open band [Cuts[i-1], Cuts[i]), and len(Cuts)+1 at or above the
// last cut.
type Duration struct {
	Unit timeline.Unit
	Cuts []float64
}

// Recency classifies unexposed periods by years since the most recent
// prior exposure ended: 0 when never exposed, 1 during exposure, 2 for
// below the first cut, i+2 per band, len(Cuts)+2 at or above the last cut.
type Recency struct {
	Cuts []float64
}

// Dose accumulates value-weighted exposure (rate times days) across the
// boundary decomposition of the raw periods. Without Cuts the output is a
// continuous running total; with Cuts it is banded into labeled dose
// categories. Dose is incompatible with overlap policies and gap bridging.
type Dose struct {
	Cuts []float64
}

func (Raw) representation()           {}
func (EverTreated) representation()   {}
func (CurrentFormer) representation() {}
func (Continuous) representation()    {}
func (Duration) representation()      {}
func (Recency) representation()       {}
func (Dose) representation()          {}

func (Raw) String() string           { return "raw" }
func (EverTreated) String() string   { return "evertreated" }
func (CurrentFormer) String() string { return "currentformer" }
func (Continuous) String() string    { return "continuous" }
func (Duration) String() string      { return "duration" }
func (Recency) String() string       { return "recency" }
func (Dose) String() string          { return "dose" }

// OverlapPolicy resolves periods of different values occupying the same
// days. Sealed; the four policies below are the complete set.
type OverlapPolicy interface {
	overlapPolicy()
	fmt.Stringer
}

// Priority resolves overlaps in favor of the value appearing earlier in
// Order. Values absent from Order rank below all listed values; among two
// unlisted values the earlier-sorted period wins.
type Priority struct {
	Order []timeline.Code
}

// Split cuts overlapping periods at every boundary and assigns each
// contested fragment to the earlier-sorted period.
type Split struct{}

// Layer lets the later-starting period interrupt the earlier one; the
// earlier period resumes after the interruption if it extends past it.
type Layer struct{}

// Combine replaces the overlapping stretch with a Pair of both values,
// keeping the non-overlapping flanks under their original values.
type Combine struct{}

func (Priority) overlapPolicy() {}
func (Split) overlapPolicy()    {}
func (Layer) overlapPolicy()    {}
func (Combine) overlapPolicy()  {}

func (Priority) String() string { return "priority" }
func (Split) String() string    { return "split" }
func (Layer) String() string    { return "layer" }
func (Combine) String() string  { return "combine" }

// Window drops raw periods whose inclusive duration falls outside
// [MinDays, MaxDays]. MaxDays zero means unbounded above.
type Window struct {
	MinDays timeline.Day
	MaxDays timeline.Day
}

// Options configures one exposure run. The zero value is not usable:
// Generate is required, and Reference is required for every representation
// except Dose.
type Options struct {
	// Generate names the output value column.
	Generate string

	// Reference is the unexposed value used for baseline, gap, and
	// post-exposure fill. Must be a scalar (Code or Level); bucketing
	// representations additionally require a Code. Ignored by Dose,
	// whose reference is fixed at Level(0).
	Reference timeline.Value

	// ReferenceLabel optionally labels the reference code in the output
	// column metadata.
	ReferenceLabel string

	// Representation of the classified output. Nil means Raw.
	Representation Representation

	// Overlap resolves same-day conflicts between different values.
	// Nil means Layer. Must be nil for Dose.
	Overlap OverlapPolicy

	// MergeDays merges consecutive same-value periods separated by a
	// gap of at most this many days.
	MergeDays timeline.Day

	// Grace extends a period across a trailing gap of at most this many
	// days. GraceByValue overrides Grace for specific period values.
	Grace        timeline.Day
	GraceByValue map[timeline.Value]timeline.Day

	// Carryforward retains the prior value for the first N days of a
	// gap too wide for grace; the remainder becomes reference.
	Carryforward timeline.Day

	// Lag shifts each period start forward before any other processing.
	Lag timeline.Day

	// Washout extends each period stop, capped at the subject's exit.
	Washout timeline.Day

	// Window drops periods by duration after lag and washout.
	Window Window

	// Switching adds a 0/1 column flagging subjects from the point they
	// have held two or more distinct non-reference output values.
	Switching bool

	// StateTime adds a column counting days spent in the current run of
	// equal output values.
	StateTime bool
}

// Aux column names emitted when the corresponding option is set.
const (
	switchedColumn  = "switched"
	stateTimeColumn = "statetime"
)

func (o Options) representationOrDefault() Representation {
	if o.Representation == nil {
		return Raw{}
	}
	return o.Representation
}

func (o Options) overlapOrDefault() OverlapPolicy {
	if o.Overlap == nil {
		return Layer{}
	}
	return o.Overlap
}

// Validate collects every configuration problem instead of stopping at the
// first. A nil return means the options are usable.
func (o Options) Validate() timeline.Validations {
	var errs timeline.Validations

	if o.Generate == "" {
		errs = append(errs, timeline.ValidationError{
			Field:   "generate",
			Message: "output column name is required",
			Code:    timeline.ErrGenerateEmpty,
		})
	}
	if o.Switching && o.Generate == switchedColumn {
		errs = append(errs, timeline.ValidationError{
			Field:   "generate",
			Message: fmt.Sprintf("collides with the %q aux column", switchedColumn),
			Code:    timeline.ErrColumnCollision,
		})
	}
	if o.StateTime && o.Generate == stateTimeColumn {
		errs = append(errs, timeline.ValidationError{
			Field:   "generate",
			Message: fmt.Sprintf("collides with the %q aux column", stateTimeColumn),
			Code:    timeline.ErrColumnCollision,
		})
	}

	rep := o.representationOrDefault()
	_, isDose := rep.(Dose)

	errs = append(errs, o.validateReference(rep, isDose)...)
	errs = append(errs, o.validateDayCounts()...)
	errs = append(errs, o.validateRepresentation(rep)...)
	errs = append(errs, o.validateOverlap(isDose)...)

	if isDose {
		if o.MergeDays != 0 || o.Grace != 0 || len(o.GraceByValue) != 0 || o.Carryforward != 0 {
			errs = append(errs, timeline.ValidationError{
				Field:   "representation",
				Message: "dose resolves overlaps additively; mergedays, grace, and carryforward do not apply",
				Code:    timeline.ErrOptionConflict,
			})
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (o Options) validateReference(rep Representation, isDose bool) timeline.Validations {
	var errs timeline.Validations
	if isDose {
		return nil // reference checked at run time, mismatch is a warning
	}
	switch ref := o.Reference.(type) {
	case nil:
		errs = append(errs, timeline.ValidationError{
			Field:   "reference",
			Message: "reference value is required",
			Code:    timeline.ErrValueMissing,
		})
	case timeline.Pair:
		errs = append(errs, timeline.ValidationError{
			Field:   "reference",
			Message: "must be a scalar value, not a pair",
			Code:    timeline.ErrPairValueForbidden,
		})
	case timeline.Level:
		if math.IsNaN(float64(ref)) || math.IsInf(float64(ref), 0) {
			errs = append(errs, timeline.ValidationError{
				Field:   "reference",
				Message: "must be finite",
				Code:    timeline.ErrValueNotFinite,
			})
		}
		switch rep.(type) {
		case EverTreated, CurrentFormer, Duration, Recency:
			errs = append(errs, timeline.ValidationError{
				Field:   "reference",
				Message: fmt.Sprintf("%s output is coded; reference must be a code value", rep),
				Code:    timeline.ErrOptionConflict,
			})
		}
	}
	return errs
}

func (o Options) validateDayCounts() timeline.Validations {
	var errs timeline.Validations
	check := func(field string, v timeline.Day) {
		if v < 0 {
			errs = append(errs, timeline.ValidationError{
				Field:   field,
				Message: "must not be negative",
				Code:    timeline.ErrOptionNegative,
			})
		}
	}
	check("mergedays", o.MergeDays)
	check("grace", o.Grace)
	check("carryforward", o.Carryforward)
	check("lag", o.Lag)
	check("washout", o.Washout)
	check("window.mindays", o.Window.MinDays)
	check("window.maxdays", o.Window.MaxDays)
	if o.Window.MaxDays > 0 && o.Window.MaxDays < o.Window.MinDays {
		errs = append(errs, timeline.ValidationError{
			Field:   "window",
			Message: "maxdays is below mindays",
			Code:    timeline.ErrOptionConflict,
		})
	}
	for v, g := range o.GraceByValue {
		if _, ok := v.(timeline.Pair); ok {
			errs = append(errs, timeline.ValidationError{
				Field:   "gracebyvalue",
				Message: "keys must be scalar values, not pairs",
				Code:    timeline.ErrPairValueForbidden,
			})
		}
		if g < 0 {
			errs = append(errs, timeline.ValidationError{
				Field:   "gracebyvalue",
				Message: fmt.Sprintf("grace for %s must not be negative", v),
				Code:    timeline.ErrOptionNegative,
			})
		}
	}
	return errs
}

func (o Options) validateRepresentation(rep Representation) timeline.Validations {
	var errs timeline.Validations
	switch r := rep.(type) {
	case Continuous:
		if _, ok := r.Unit.Divisor(); !ok {
			errs = append(errs, timeline.ValidationError{
				Field:   "representation.unit",
				Message: fmt.Sprintf("unknown unit %q", r.Unit),
				Code:    timeline.ErrUnitUnknown,
			})
		}
	case Duration:
		if _, ok := r.Unit.Divisor(); !ok {
			errs = append(errs, timeline.ValidationError{
				Field:   "representation.unit",
				Message: fmt.Sprintf("unknown unit %q", r.Unit),
				Code:    timeline.ErrUnitUnknown,
			})
		}
		errs = append(errs, validateCuts("representation.cuts", r.Cuts, true)...)
	case Recency:
		errs = append(errs, validateCuts("representation.cuts", r.Cuts, true)...)
	case Dose:
		errs = append(errs, validateCuts("representation.cuts", r.Cuts, false)...)
	}
	return errs
}

func (o Options) validateOverlap(isDose bool) timeline.Validations {
	var errs timeline.Validations
	if isDose {
		if o.Overlap != nil {
			errs = append(errs, timeline.ValidationError{
				Field:   "overlap",
				Message: "dose resolves overlaps additively; no overlap policy applies",
				Code:    timeline.ErrOptionConflict,
			})
		}
		return errs
	}
	p, ok := o.Overlap.(Priority)
	if !ok {
		return nil
	}
	if len(p.Order) == 0 {
		errs = append(errs, timeline.ValidationError{
			Field:   "overlap.order",
			Message: "priority order must list at least one code",
			Code:    timeline.ErrValueMissing,
		})
	}
	seen := make(map[timeline.Code]bool, len(p.Order))
	for _, c := range p.Order {
		if seen[c] {
			errs = append(errs, timeline.ValidationError{
				Field:   "overlap.order",
				Message: fmt.Sprintf("code %d listed more than once", int64(c)),
				Code:    timeline.ErrOptionConflict,
			})
		}
		seen[c] = true
	}
	return errs
}

// validateCuts checks a cutpoint slice: strictly ascending, positive,
// finite. With required set, an empty slice is itself an error.
func validateCuts(field string, cuts []float64, required bool) timeline.Validations {
	var errs timeline.Validations
	if len(cuts) == 0 {
		if required {
			errs = append(errs, timeline.ValidationError{
				Field:   field,
				Message: "at least one cutpoint is required",
				Code:    timeline.ErrValueMissing,
			})
		}
		return errs
	}
	prev := 0.0
	for i, c := range cuts {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			errs = append(errs, timeline.ValidationError{
				Field:   field,
				Message: fmt.Sprintf("cutpoint %d is not finite", i),
				Code:    timeline.ErrValueNotFinite,
			})
			return errs
		}
		if c <= prev {
			errs = append(errs, timeline.ValidationError{
				Field:   field,
				Message: "cutpoints must be positive and strictly ascending",
				Code:    timeline.ErrCutsNotAscending,
			})
			return errs
		}
		prev = c
	}
	return errs
}

// graceFor resolves the grace window for a period value, preferring the
// per-value override.
func (o Options) graceFor(v timeline.Value) timeline.Day {
	if g, ok := o.GraceByValue[v]; ok {
		return g
	}
	return o.Grace
}
