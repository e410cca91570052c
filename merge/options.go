package merge

import (
	"fmt"

	"github.com/tpcopeland/tvkit/timeline"
)

// IDMode selects how subject-set mismatches across sources are handled.
// Sealed; Strict and Relaxed are the complete set.
type IDMode interface {
	idMode()
	fmt.Stringer
}

// Strict rejects the merge when any subject is missing from any source.
type Strict struct{}

// Relaxed drops subjects missing from at least one source and reports
// them in the result.
type Relaxed struct{}

func (Strict) idMode()  {}
func (Relaxed) idMode() {}

func (Strict) String() string  { return "strict" }
func (Relaxed) String() string { return "relaxed" }

// Options configures one merge. The zero value is usable: strict id
// matching, one batch, sequential processing.
type Options struct {
	// IDMode handles subjects missing from some sources. Nil means Strict.
	IDMode IDMode

	// BatchPercent sets the batch size as a percentage of the subject
	// count, in (0, 100]. Zero means one batch. Output is identical for
	// every batch size.
	BatchPercent float64

	// Workers bounds how many batches fold concurrently. Zero or one
	// means sequential.
	Workers int
}

func (o Options) idModeOrDefault() IDMode {
	if o.IDMode == nil {
		return Strict{}
	}
	return o.IDMode
}

// Validate collects every configuration problem. Nil means usable.
func (o Options) Validate() timeline.Validations {
	var errs timeline.Validations
	if o.BatchPercent != 0 && (o.BatchPercent <= 0 || o.BatchPercent > 100) {
		errs = append(errs, timeline.ValidationError{
			Field:   "batchpercent",
			Message: fmt.Sprintf("must be in (0, 100], got %g", o.BatchPercent),
			Code:    timeline.ErrBatchPercentRange,
		})
	}
	if o.Workers < 0 {
		errs = append(errs, timeline.ValidationError{
			Field:   "workers",
			Message: "must not be negative",
			Code:    timeline.ErrOptionNegative,
		})
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}
