package expose

import (
	"fmt"
	"sort"

	"github.com/tpcopeland/tvkit/timeline"
)

// Classify rewrites a canonical partition into the representation selected
// by opts and run-length compresses the result. The input is not mutated.
// Person-time is conserved: classification changes values, never coverage.
//
// The dose representation is computed from raw periods, not from a
// partition; use Run.
func Classify(partition *timeline.Dataset, cohort *timeline.Cohort, opts Options) (*timeline.Dataset, error) {
	errs := opts.Validate()
	rep := opts.representationOrDefault()
	if _, ok := rep.(Dose); ok {
		errs = append(errs, timeline.ValidationError{
			Field:   "representation",
			Message: "dose is computed from raw periods; use Run",
			Code:    timeline.ErrOptionConflict,
		})
	}
	if cohort == nil || cohort.Len() == 0 {
		errs = append(errs, timeline.ValidationError{
			Field:   "cohort",
			Message: "at least one subject is required",
			Code:    timeline.ErrValueMissing,
		})
	}
	if partition == nil || len(partition.Columns) == 0 {
		errs = append(errs, timeline.ValidationError{
			Field:   "partition",
			Message: "a normalized timeline with one value column is required",
			Code:    timeline.ErrTimelineMalformed,
		})
	}
	if err := errs.AsError(); err != nil {
		return nil, err
	}

	in := partition.Clone()
	in.Sort()
	if err := in.VerifyPartition("classify", cohort); err != nil {
		return nil, err
	}

	out, err := applyRepresentation(in, cohort, opts, rep)
	if err != nil {
		return nil, err
	}
	compressRows(out)
	if opts.Switching || opts.StateTime {
		appendAux(out, opts)
	}
	out.Sort()
	if err := out.VerifyPartition("classify", cohort); err != nil {
		return nil, err
	}
	return out, nil
}

func applyRepresentation(in *timeline.Dataset, cohort *timeline.Cohort, opts Options, rep Representation) (*timeline.Dataset, error) {
	ref := opts.Reference
	out := &timeline.Dataset{}

	switch r := rep.(type) {
	case Raw:
		out.Columns = []timeline.Column{{Name: opts.Generate, Labels: referenceLabels(opts)}}
		out.Rows = in.Rows
		return out, nil

	case EverTreated:
		var codes []timeline.Code
		if r.ByType {
			var err error
			codes, err = distinctCodes(in, ref)
			if err != nil {
				return nil, err
			}
		}
		out.Columns = make([]timeline.Column, 0, 1+len(codes))
		out.Columns = append(out.Columns, timeline.Column{Name: opts.Generate})
		for _, c := range codes {
			out.Columns = append(out.Columns, timeline.Column{Name: fmt.Sprintf("ever%d", int64(c))})
		}
		for _, subj := range cohort.Subjects() {
			lo, hi := in.SubjectRows(subj.ID)
			ever := false
			everBy := make(map[timeline.Code]bool, len(codes))
			for _, row := range in.Rows[lo:hi] {
				if v := row.Values[0]; v != ref {
					ever = true
					if c, ok := v.(timeline.Code); ok {
						everBy[c] = true
					}
				}
				vals := make([]timeline.Value, 0, 1+len(codes))
				vals = append(vals, flag(ever))
				for _, c := range codes {
					vals = append(vals, flag(everBy[c]))
				}
				out.Rows = append(out.Rows, remapped(row, vals))
			}
		}
		return out, nil

	case CurrentFormer:
		out.Columns = []timeline.Column{{Name: opts.Generate}}
		for _, subj := range cohort.Subjects() {
			lo, hi := in.SubjectRows(subj.ID)
			ever := false
			for _, row := range in.Rows[lo:hi] {
				var v timeline.Value
				switch {
				case row.Values[0] != ref:
					v = timeline.Code(1)
					ever = true
				case ever:
					v = timeline.Code(2)
				default:
					v = timeline.Code(0)
				}
				out.Rows = append(out.Rows, remapped(row, []timeline.Value{v}))
			}
		}
		return out, nil

	case Continuous:
		div, _ := r.Unit.Divisor()
		var chunk timeline.Day
		if r.Expand {
			chunk, _ = r.Unit.ChunkDays()
		}
		out.Columns = []timeline.Column{{Name: opts.Generate, Continuous: true}}
		for _, subj := range cohort.Subjects() {
			lo, hi := in.SubjectRows(subj.ID)
			rows := in.Rows[lo:hi]
			if chunk > 0 {
				rows = expandRows(rows, ref, chunk)
			}
			cum := 0.0
			for _, row := range rows {
				if row.Values[0] != ref {
					cum += float64(row.Stop-row.Start+1) / div
				}
				out.Rows = append(out.Rows, remapped(row, []timeline.Value{timeline.Level(cum)}))
			}
		}
		return out, nil

	case Duration:
		div, _ := r.Unit.Divisor()
		refCode := ref.(timeline.Code) // coded reps validate this
		out.Columns = []timeline.Column{{Name: opts.Generate, Labels: referenceLabels(opts)}}
		for _, subj := range cohort.Subjects() {
			lo, hi := in.SubjectRows(subj.ID)
			cum := 0.0
			for _, row := range in.Rows[lo:hi] {
				if row.Values[0] != ref {
					cum += float64(row.Stop-row.Start+1) / div
				}
				v := bucketValue(cum, r.Cuts, refCode, 1)
				out.Rows = append(out.Rows, remapped(row, []timeline.Value{v}))
			}
		}
		return out, nil

	case Recency:
		out.Columns = []timeline.Column{{Name: opts.Generate}}
		for _, subj := range cohort.Subjects() {
			lo, hi := in.SubjectRows(subj.ID)
			exposedBefore := false
			var lastStop timeline.Day
			for _, row := range in.Rows[lo:hi] {
				var v timeline.Value
				switch {
				case row.Values[0] != ref:
					v = timeline.Code(1)
					exposedBefore = true
					lastStop = row.Stop
				case !exposedBefore:
					v = timeline.Code(0)
				default:
					years := float64(row.Start-lastStop) / recencyYearDays
					v = bucketValue(years, r.Cuts, timeline.Code(0), 2)
				}
				out.Rows = append(out.Rows, remapped(row, []timeline.Value{v}))
			}
		}
		return out, nil
	}
	// sealed interface; Dose rejected above
	return nil, timeline.NewPartitionError("classify", "", "unhandled representation")
}

// recencyYearDays converts a day gap to years for recency banding.
const recencyYearDays = 365.25

func remapped(row timeline.Row, vals []timeline.Value) timeline.Row {
	row.Values = vals
	return row
}

func flag(b bool) timeline.Value {
	if b {
		return timeline.Code(1)
	}
	return timeline.Code(0)
}

// referenceLabels builds the column label map when the reference is a
// labeled code; nil otherwise.
func referenceLabels(opts Options) map[timeline.Code]string {
	c, ok := opts.Reference.(timeline.Code)
	if !ok || opts.ReferenceLabel == "" {
		return nil
	}
	return map[timeline.Code]string{c: opts.ReferenceLabel}
}

// distinctCodes collects the distinct non-reference codes of the main
// column in ascending order. Non-code exposure values cannot get per-type
// columns, so they are rejected.
func distinctCodes(d *timeline.Dataset, ref timeline.Value) ([]timeline.Code, error) {
	seen := make(map[timeline.Code]struct{})
	for _, row := range d.Rows {
		v := row.Values[0]
		if v == ref {
			continue
		}
		c, ok := v.(timeline.Code)
		if !ok {
			return nil, timeline.Validations{{
				Field:   "representation.bytype",
				Message: fmt.Sprintf("per-type columns require coded exposure values, got %s", v),
				Code:    timeline.ErrOptionConflict,
			}}
		}
		seen[c] = struct{}{}
	}
	codes := make([]timeline.Code, 0, len(seen))
	for c := range seen {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes, nil
}

// expandRows splits exposed rows into chunk-sized pieces so cumulative
// values step at sub-period resolution. Reference rows pass through whole.
func expandRows(rows []timeline.Row, ref timeline.Value, chunk timeline.Day) []timeline.Row {
	out := make([]timeline.Row, 0, len(rows))
	for _, r := range rows {
		if r.Values[0] == ref || r.Stop-r.Start+1 <= chunk {
			out = append(out, r)
			continue
		}
		for cs := r.Start; cs <= r.Stop; cs += chunk {
			piece := r
			piece.Start = cs
			piece.Stop = min(cs+chunk-1, r.Stop)
			out = append(out, piece)
		}
	}
	return out
}

// bucketValue assigns v to its half-open cut band: zero maps to the zero
// code, values below cuts[0] to base, the band [cuts[i-1], cuts[i]) to
// base+i, and values at or above the last cut to base+len(cuts).
func bucketValue(v float64, cuts []float64, zero timeline.Code, base int64) timeline.Code {
	if v == 0 {
		return zero
	}
	for i, c := range cuts {
		if v < c {
			return timeline.Code(base + int64(i))
		}
	}
	return timeline.Code(base + int64(len(cuts)))
}

// compressRows run-length compresses sorted rows: consecutive adjacent
// same-subject rows with equal values collapse into one maximal row.
func compressRows(d *timeline.Dataset) {
	if len(d.Rows) < 2 {
		return
	}
	out := d.Rows[:1]
	for _, r := range d.Rows[1:] {
		last := &out[len(out)-1]
		if r.Subject == last.Subject && r.Start == last.Stop+1 && valuesEqual(r.Values, last.Values) {
			last.Stop = r.Stop
			continue
		}
		out = append(out, r)
	}
	d.Rows = out
}

func valuesEqual(a, b []timeline.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// appendAux adds the switched and statetime columns. Both derive from the
// compressed main column: switched latches to 1 once the subject has held
// two or more distinct non-reference values, statetime counts the days of
// the row's value episode.
func appendAux(d *timeline.Dataset, opts Options) {
	if opts.Switching {
		d.Columns = append(d.Columns, timeline.Column{Name: switchedColumn})
	}
	if opts.StateTime {
		d.Columns = append(d.Columns, timeline.Column{Name: stateTimeColumn})
	}
	unexposed := unexposedValue(opts)
	var (
		subject  string
		distinct map[timeline.Value]struct{}
	)
	for i := range d.Rows {
		r := &d.Rows[i]
		if r.Subject != subject || distinct == nil {
			subject = r.Subject
			distinct = make(map[timeline.Value]struct{})
		}
		if v := r.Values[0]; v != unexposed {
			distinct[v] = struct{}{}
		}
		if opts.Switching {
			r.Values = append(r.Values, flag(len(distinct) >= 2))
		}
		if opts.StateTime {
			r.Values = append(r.Values, timeline.Code(int64(r.Stop-r.Start+1)))
		}
	}
}

// unexposedValue is the representation's own unexposed marker, used by the
// aux columns to tell exposure states apart from background.
func unexposedValue(opts Options) timeline.Value {
	switch opts.representationOrDefault().(type) {
	case EverTreated, CurrentFormer, Recency:
		return timeline.Code(0)
	case Continuous:
		return timeline.Level(0)
	default:
		return opts.Reference
	}
}
