package timeline

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Day is an integer day ordinal. The engine never interprets the epoch;
// callers map calendar dates to ordinals and back.
type Day int64

// Unit names a fixed time-unit divisor. Durations in days are converted
// to a unit by dividing by Divisor; the table is fixed, not configurable.
type Unit string

const (
	UnitDays     Unit = "days"
	UnitWeeks    Unit = "weeks"
	UnitMonths   Unit = "months"
	UnitQuarters Unit = "quarters"
	UnitYears    Unit = "years"
)

// Divisor returns the day divisor for the unit and whether the unit is
// known. Months and years use the Julian-year convention (365.25/12 and
// 365.25); these are exact in binary floating point.
func (u Unit) Divisor() (float64, bool) {
	switch u {
	case UnitDays:
		return 1, true
	case UnitWeeks:
		return 7, true
	case UnitMonths:
		return 365.25 / 12, true
	case UnitQuarters:
		return 365.25 / 4, true
	case UnitYears:
		return 365.25, true
	default:
		return 0, false
	}
}

// ChunkDays returns the whole-day chunk size used when expanding long
// intervals into unit-sized rows, and whether the unit is known.
func (u Unit) ChunkDays() (Day, bool) {
	switch u {
	case UnitDays:
		return 1, true
	case UnitWeeks:
		return 7, true
	case UnitMonths:
		return 30, true
	case UnitQuarters:
		return 91, true
	case UnitYears:
		return 365, true
	default:
		return 0, false
	}
}

// NormalizeID canonicalizes a subject id to Unicode NFC and trims
// surrounding whitespace. Ids arriving from different sources in
// different normal forms must compare equal, so every ingestion point
// (cohorts, exposure records, event records) runs through here.
func NormalizeID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}

// Subject is one study participant with an observation window.
// Invariant: Entry <= Exit (both inclusive day ordinals).
type Subject struct {
	ID    string
	Entry Day
	Exit  Day
}

// Window returns the inclusive length of the subject's study window.
func (s Subject) Window() Day {
	return s.Exit - s.Entry + 1
}

// Cohort is a validated, id-sorted collection of subjects with unique,
// NFC-normalized ids. Construct with NewCohort; the zero value is empty.
//
// Cohort is immutable after construction and safe for concurrent reads.
type Cohort struct {
	subjects []Subject
	index    map[string]int
}

// NewCohort validates and canonicalizes the given subjects. All
// violations are collected and returned together; the cohort is only
// usable when the returned slice is empty.
func NewCohort(subjects []Subject) (*Cohort, []ValidationError) {
	var errs []ValidationError

	canon := make([]Subject, 0, len(subjects))
	for i, s := range subjects {
		s.ID = NormalizeID(s.ID)
		if s.ID == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("subjects[%d].id", i),
				Message: "subject id must be non-empty",
				Code:    ErrSubjectIDEmpty,
			})
			continue
		}
		if s.Entry > s.Exit {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("subjects[%d]", i),
				Message: fmt.Sprintf("entry %d is after exit %d for subject %q", s.Entry, s.Exit, s.ID),
				Code:    ErrEntryAfterExit,
			})
			continue
		}
		canon = append(canon, s)
	}

	sort.Slice(canon, func(i, j int) bool { return canon[i].ID < canon[j].ID })

	index := make(map[string]int, len(canon))
	for i, s := range canon {
		if _, dup := index[s.ID]; dup {
			errs = append(errs, ValidationError{
				Field:   "subjects",
				Message: fmt.Sprintf("duplicate subject id %q", s.ID),
				Code:    ErrDuplicateSubject,
			})
			continue
		}
		index[s.ID] = i
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return &Cohort{subjects: canon, index: index}, nil
}

// Subjects returns the subjects in id order. Callers must not mutate the
// returned slice.
func (c *Cohort) Subjects() []Subject {
	if c == nil {
		return nil
	}
	return c.subjects
}

// Lookup finds a subject by id (the id is normalized before lookup).
func (c *Cohort) Lookup(id string) (Subject, bool) {
	if c == nil {
		return Subject{}, false
	}
	i, ok := c.index[NormalizeID(id)]
	if !ok {
		return Subject{}, false
	}
	return c.subjects[i], true
}

// Len reports the number of subjects.
func (c *Cohort) Len() int {
	if c == nil {
		return 0
	}
	return len(c.subjects)
}

// ExposureRecord is one raw exposure period as delivered by an input
// adapter. Records may overlap each other, leave gaps, or exceed the
// study window; normalization sorts all of that out.
//
// A nil Stop marks a point record (a single-day exposure at Start).
type ExposureRecord struct {
	Subject string
	Start   Day
	Stop    *Day
	Value   Value
}

// EventRecord is one outcome observation: a primary date and zero or more
// competing-risk dates in declared rank order. nil dates are missing.
// Attrs carries opaque passthrough columns onto the final dataset.
//
// A subject may contribute several records (recurrent events); the event
// stage resolves each record independently.
type EventRecord struct {
	Subject   string
	Primary   *Day
	Competing []*Day
	Attrs     map[string]string
}

// EffectiveEvent is a resolved event: the earliest non-missing date of
// one record with its type rank (1 = primary, i+2 = competing column i).
// Derived by the event stage, never stored by callers.
type EffectiveEvent struct {
	Subject string
	Date    Day
	Rank    int64
}

// DayPtr is a convenience for building records with optional dates.
func DayPtr(d Day) *Day { return &d }
