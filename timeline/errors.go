package timeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validation error codes. Stable identifiers for programmatic handling;
// the numbering is append-only.
const (
	ErrSubjectIDEmpty     = "E101" // subject id empty after normalization
	ErrEntryAfterExit     = "E102" // subject entry > exit
	ErrDuplicateSubject   = "E103" // duplicate subject id in cohort
	ErrRecordMalformed    = "E104" // exposure record start > stop
	ErrUnknownSubject     = "E105" // record references id not in cohort
	ErrValueMissing       = "E106" // required value absent
	ErrValueNotFinite     = "E107" // Level is NaN or infinite
	ErrCutsNotAscending   = "E108" // cutpoints not strictly ascending/positive
	ErrOptionNegative     = "E109" // day-count option below zero
	ErrOptionConflict     = "E110" // mutually exclusive options combined
	ErrGenerateEmpty      = "E111" // output column name empty
	ErrUnitUnknown        = "E112" // unknown time unit
	ErrPriorityNotCode    = "E113" // priority ordering over non-Code values
	ErrTooFewSources      = "E114" // intersection needs at least two sources
	ErrColumnCollision    = "E115" // duplicate column name across sources
	ErrSourceEmpty        = "E116" // source dataset has no rows
	ErrTimelineMalformed  = "E117" // host timeline row start > stop
	ErrColumnUnknown      = "E118" // named column does not exist
	ErrBatchPercentRange  = "E119" // batch percentage outside (0,100]
	ErrPairValueForbidden = "E120" // Pair supplied where a scalar is required
)

// ValidationError reports a single configuration or input-schema
// violation. Validation is exhaustive: callers collect every error before
// aborting, so one round-trip surfaces the complete list.
type ValidationError struct {
	Field   string // dotted path to the offending field or record
	Message string // human-readable description
	Code    string // stable E-code
}

// Error implements the error interface.
// Format: "[E104] records[3]: start 50 is after stop 20"
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validations bundles a collect-all validation result into one error.
// An empty bundle is not an error; use AsError.
type Validations []ValidationError

// Error joins the individual messages, one per line.
func (v Validations) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// AsError returns the bundle as an error, or nil when it is empty.
func (v Validations) AsError() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// AsValidations extracts a validation bundle from an error chain.
func AsValidations(err error) (Validations, bool) {
	var v Validations
	if errors.As(err, &v) {
		return v, true
	}
	var single ValidationError
	if errors.As(err, &single) {
		return Validations{single}, true
	}
	return nil, false
}

// WarningCode classifies data-integrity warnings.
type WarningCode string

const (
	// WarnEmptyEvents: the event input had no rows; every interval is
	// censored (flag 0) and processing continues.
	WarnEmptyEvents WarningCode = "EMPTY_EVENTS"

	// WarnIDMismatch: relaxed id matching dropped subjects missing from
	// at least one source; the dropped ids are reported alongside.
	WarnIDMismatch WarningCode = "ID_MISMATCH"

	// WarnReferenceIgnored: a non-zero reference value was supplied where
	// the representation fixes the reference (dose), and was ignored.
	WarnReferenceIgnored WarningCode = "REFERENCE_IGNORED"

	// WarnNoEffectiveDate: a subject had event records but none carried a
	// usable date; the subject is fully censored.
	WarnNoEffectiveDate WarningCode = "NO_EFFECTIVE_DATE"
)

// Warning is a data-integrity finding that does not abort processing.
// The documented fallback has been applied and the result is complete;
// warnings accompany results, never replace them.
type Warning struct {
	Code    WarningCode
	Message string
	Details map[string]string
}

// String renders the warning with sorted detail keys for determinism.
func (w Warning) String() string {
	if len(w.Details) == 0 {
		return fmt.Sprintf("%s: %s", w.Code, w.Message)
	}
	keys := make([]string, 0, len(w.Details))
	for k := range w.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, w.Details[k]))
	}
	return fmt.Sprintf("%s: %s (%s)", w.Code, w.Message, strings.Join(parts, ", "))
}

// ComputeErrorCode classifies fatal computation errors.
type ComputeErrorCode string

const (
	// ComputeIterationCap: a fixed-point loop exceeded its hard pass cap.
	// Every pass must strictly reduce work, so hitting the cap signals a
	// logic or data defect, not legitimate input.
	ComputeIterationCap ComputeErrorCode = "ITERATION_CAP"

	// ComputePartitionBroken: a produced partition failed the
	// no-gaps/no-overlaps/tiling invariant.
	ComputePartitionBroken ComputeErrorCode = "PARTITION_BROKEN"
)

// ComputeError is a fatal, non-recoverable computation failure. The
// engine is deterministic over fixed inputs, so retrying cannot help;
// the error identifies the stage and subject for diagnosis.
type ComputeError struct {
	Code    ComputeErrorCode
	Stage   string // pipeline stage, e.g. "normalize/merge"
	Subject string // subject being processed, if any
	Message string
}

// Error implements the error interface.
func (e *ComputeError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s in %s: %s (subject=%s)", e.Code, e.Stage, e.Message, e.Subject)
	}
	return fmt.Sprintf("%s in %s: %s", e.Code, e.Stage, e.Message)
}

// NewIterationCapError reports a fixed-point loop that failed to settle
// within the allowed number of passes.
func NewIterationCapError(stage, subject string, passes int) *ComputeError {
	return &ComputeError{
		Code:    ComputeIterationCap,
		Stage:   stage,
		Subject: subject,
		Message: fmt.Sprintf("fixed-point loop did not settle after %d passes", passes),
	}
}

// NewPartitionError reports a broken partition invariant.
func NewPartitionError(stage, subject, message string) *ComputeError {
	return &ComputeError{
		Code:    ComputePartitionBroken,
		Stage:   stage,
		Subject: subject,
		Message: message,
	}
}

// IsIterationCap reports whether err is an iteration-cap ComputeError.
func IsIterationCap(err error) bool {
	var ce *ComputeError
	return errors.As(err, &ce) && ce.Code == ComputeIterationCap
}

// IsPartitionBroken reports whether err is a broken-partition ComputeError.
func IsPartitionBroken(err error) bool {
	var ce *ComputeError
	return errors.As(err, &ce) && ce.Code == ComputePartitionBroken
}
