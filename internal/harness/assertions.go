package harness

import (
	"fmt"
	"strings"

	"github.com/tpcopeland/tvkit/timeline"
)

// AssertionError describes one failed assertion with enough context to
// debug the failure without rerunning.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s\n  expected: %s\n  actual:   %s",
		e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions checks every assertion against the result and
// returns the failure messages. The scenario passes when the returned
// slice is empty.
func EvaluateAssertions(res *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertPartition:
			err = assertPartition(res)
		case AssertPersonDays:
			err = assertPersonDays(res, a)
		case AssertRows:
			err = assertRows(res, a)
		case AssertRowCount:
			err = assertRowCount(res, a)
		case AssertEvents:
			err = assertEvents(res, a)
		default:
			err = fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

// assertPartition verifies the classified timeline tiles every study
// window. It runs against the inclusive timeline, not the final dataset:
// event integration truncates coverage on purpose.
func assertPartition(res *Result) error {
	if err := res.Timeline.VerifyPartition("harness", res.Cohort); err != nil {
		return &AssertionError{
			Type:     AssertPartition,
			Expected: "every study window tiled without gaps or overlaps",
			Actual:   err.Error(),
		}
	}
	return nil
}

func assertPersonDays(res *Result, a Assertion) error {
	got := res.Timeline.PersonDays()[a.Subject]
	if got != a.Days {
		return &AssertionError{
			Type:     AssertPersonDays,
			Expected: fmt.Sprintf("subject %q covers %d person-days", a.Subject, a.Days),
			Actual:   fmt.Sprintf("%d person-days", got),
		}
	}
	return nil
}

func assertRows(res *Result, a Assertion) error {
	for _, want := range a.Rows {
		if !containsRow(res.Final, want) {
			return &AssertionError{
				Type: AssertRows,
				Expected: fmt.Sprintf("row %s [%d,%d] %s", want.Subject,
					want.Start, want.Stop, strings.Join(want.Values, " ")),
				Actual: "not present in the final dataset",
			}
		}
	}
	return nil
}

// containsRow reports whether the dataset holds a row matching want
// exactly: subject, bounds, and every value's string rendering.
func containsRow(ds *timeline.Dataset, want RowSpec) bool {
	for _, r := range ds.Rows {
		if r.Subject != want.Subject ||
			r.Start != timeline.Day(want.Start) ||
			r.Stop != timeline.Day(want.Stop) ||
			len(r.Values) != len(want.Values) {
			continue
		}
		match := true
		for i, v := range r.Values {
			if v.String() != want.Values[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func assertRowCount(res *Result, a Assertion) error {
	if len(res.Final.Rows) != a.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows in the final dataset", a.Count),
			Actual:   fmt.Sprintf("%d rows", len(res.Final.Rows)),
		}
	}
	return nil
}

func assertEvents(res *Result, a Assertion) error {
	if res.Events != a.Count {
		return &AssertionError{
			Type:     AssertEvents,
			Expected: fmt.Sprintf("%d flagged events", a.Count),
			Actual:   fmt.Sprintf("%d flagged events", res.Events),
		}
	}
	return nil
}
