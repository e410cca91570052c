package event

import (
	"fmt"
	"strings"

	"github.com/tpcopeland/tvkit/timeline"
)

// Mode selects the censoring semantics after flagging. The variant set is
// sealed: Single or Recurring.
type Mode interface {
	mode()
	fmt.Stringer
}

// Single counts only each subject's earliest effective event: person-time
// starting at or after the first flagged interval's stop is dropped and no
// other positive flag survives.
type Single struct{}

func (Single) mode()          {}
func (Single) String() string { return "single" }

// Recurring splits and flags at every effective date with no truncation.
type Recurring struct{}

func (Recurring) mode()          {}
func (Recurring) String() string { return "recurring" }

const defaultGenerate = "event"

// Options configure event integration.
type Options struct {
	// Generate names the event indicator column. Empty means "event".
	Generate string

	// Mode selects single or recurring semantics. nil means Single.
	Mode Mode

	// TimeColumn, when set, appends a duration column: stop-start day
	// counts divided by the TimeUnit divisor.
	TimeColumn string

	// TimeUnit converts the duration column (days, months, or years;
	// weeks and quarters are not valid here). Empty means days.
	TimeUnit timeline.Unit

	// Keep lists event-record attributes to copy onto every output row
	// of the record's subject.
	Keep []string

	// Labels optionally label the indicator column's ranks
	// (0 = censored, 1 = primary, i+2 = competing column i).
	Labels map[timeline.Code]string
}

func (o Options) generateOrDefault() string {
	if strings.TrimSpace(o.Generate) == "" {
		return defaultGenerate
	}
	return o.Generate
}

func (o Options) modeOrDefault() Mode {
	if o.Mode == nil {
		return Single{}
	}
	return o.Mode
}

func (o Options) timeUnitOrDefault() timeline.Unit {
	if o.TimeUnit == "" {
		return timeline.UnitDays
	}
	return o.TimeUnit
}

// Validate returns every configuration error, not just the first.
func (o Options) Validate() timeline.Validations {
	var errs timeline.Validations
	if o.TimeColumn != "" && o.TimeColumn == o.generateOrDefault() {
		errs = append(errs, timeline.ValidationError{
			Field:   "timecolumn",
			Message: fmt.Sprintf("collides with the indicator column %q", o.TimeColumn),
			Code:    timeline.ErrColumnCollision,
		})
	}
	switch o.timeUnitOrDefault() {
	case timeline.UnitDays, timeline.UnitMonths, timeline.UnitYears:
	default:
		errs = append(errs, timeline.ValidationError{
			Field:   "timeunit",
			Message: fmt.Sprintf("unknown unit %q (want days, months, or years)", o.TimeUnit),
			Code:    timeline.ErrUnitUnknown,
		})
	}
	return errs
}
