package timeline

import (
	"fmt"
	"sort"
)

// Column describes one value column of a Dataset.
//
// Continuous marks cumulative magnitudes (continuous exposure, dose):
// whenever a row is rescaled to a sub-interval, continuous values are
// pro-rated by the duration ratio while plain values pass through.
type Column struct {
	Name       string
	Continuous bool
	// Labels optionally maps category codes to display labels
	// (reference label, dose bands, event types).
	Labels map[Code]string
}

// Row is one interval of a Dataset: a subject, an integer-day span, one
// value per column, and optional passthrough attributes.
type Row struct {
	Subject string
	Start   Day
	Stop    Day
	Values  []Value
	// Attrs carries event-record passthrough columns; nil elsewhere.
	Attrs map[string]string
}

// Dataset is the tabular interval collection exchanged between stages:
// classified timelines, merged timelines, and final event datasets.
// Rows are kept sorted by (subject, start, stop).
type Dataset struct {
	Columns []Column
	Rows    []Row
}

// ColumnIndex returns the position of the named column, or -1.
func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Sort orders rows by (subject, start, stop). Value columns break the
// remaining ties so equal spans order deterministically.
func (d *Dataset) Sort() {
	sort.SliceStable(d.Rows, func(i, j int) bool {
		a, b := d.Rows[i], d.Rows[j]
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Stop != b.Stop {
			return a.Stop < b.Stop
		}
		for k := 0; k < len(a.Values) && k < len(b.Values); k++ {
			if c := CompareValues(a.Values[k], b.Values[k]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

// Dedupe removes exact duplicate rows (same subject, span, values, and
// attributes). The dataset must already be sorted.
func (d *Dataset) Dedupe() {
	if len(d.Rows) < 2 {
		return
	}
	out := d.Rows[:1]
	for _, r := range d.Rows[1:] {
		if !rowsEqual(out[len(out)-1], r) {
			out = append(out, r)
		}
	}
	d.Rows = out
}

func rowsEqual(a, b Row) bool {
	if a.Subject != b.Subject || a.Start != b.Start || a.Stop != b.Stop {
		return false
	}
	if len(a.Values) != len(b.Values) {
		return false
	}
	for i := range a.Values {
		if a.Values[i] != b.Values[i] {
			return false
		}
	}
	if len(a.Attrs) != len(b.Attrs) {
		return false
	}
	for k, v := range a.Attrs {
		if b.Attrs[k] != v {
			return false
		}
	}
	return true
}

// Clone deep-copies the dataset. Stages clone before mutating so nothing
// is ever modified across a hand-off boundary.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Columns: make([]Column, len(d.Columns)),
		Rows:    make([]Row, len(d.Rows)),
	}
	for i, c := range d.Columns {
		cc := c
		if c.Labels != nil {
			cc.Labels = make(map[Code]string, len(c.Labels))
			for k, v := range c.Labels {
				cc.Labels[k] = v
			}
		}
		out.Columns[i] = cc
	}
	for i, r := range d.Rows {
		rr := r
		rr.Values = append([]Value(nil), r.Values...)
		if r.Attrs != nil {
			rr.Attrs = make(map[string]string, len(r.Attrs))
			for k, v := range r.Attrs {
				rr.Attrs[k] = v
			}
		}
		out.Rows[i] = rr
	}
	return out
}

// PersonDays sums inclusive durations (stop-start+1) per subject.
func (d *Dataset) PersonDays() map[string]int64 {
	out := make(map[string]int64)
	for _, r := range d.Rows {
		out[r.Subject] += int64(r.Stop - r.Start + 1)
	}
	return out
}

// Subjects returns the distinct subject ids present, in sorted order.
func (d *Dataset) Subjects() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, r := range d.Rows {
		if _, ok := seen[r.Subject]; !ok {
			seen[r.Subject] = struct{}{}
			ids = append(ids, r.Subject)
		}
	}
	sort.Strings(ids)
	return ids
}

// SubjectRows returns the row index range [lo, hi) for one subject.
// The dataset must be sorted.
func (d *Dataset) SubjectRows(id string) (lo, hi int) {
	lo = sort.Search(len(d.Rows), func(i int) bool { return d.Rows[i].Subject >= id })
	hi = sort.Search(len(d.Rows), func(i int) bool { return d.Rows[i].Subject > id })
	return lo, hi
}

// VerifyPartition checks the exhaustive-partition invariant against a
// cohort: for every subject, rows are sorted, non-overlapping, gap-free,
// and tile [entry, exit] exactly. Returns a ComputeError naming the first
// violating subject, or nil.
func (d *Dataset) VerifyPartition(stage string, cohort *Cohort) error {
	for _, s := range cohort.Subjects() {
		lo, hi := d.SubjectRows(s.ID)
		if lo == hi {
			return NewPartitionError(stage, s.ID, "subject has no intervals")
		}
		rows := d.Rows[lo:hi]
		if rows[0].Start != s.Entry {
			return NewPartitionError(stage, s.ID,
				fmt.Sprintf("first start %d != entry %d", rows[0].Start, s.Entry))
		}
		if rows[len(rows)-1].Stop != s.Exit {
			return NewPartitionError(stage, s.ID,
				fmt.Sprintf("last stop %d != exit %d", rows[len(rows)-1].Stop, s.Exit))
		}
		for i, r := range rows {
			if r.Start > r.Stop {
				return NewPartitionError(stage, s.ID,
					fmt.Sprintf("interval [%d,%d] inverted", r.Start, r.Stop))
			}
			if i > 0 && r.Start != rows[i-1].Stop+1 {
				return NewPartitionError(stage, s.ID,
					fmt.Sprintf("break between stop %d and start %d", rows[i-1].Stop, r.Start))
			}
		}
	}
	for _, id := range d.Subjects() {
		if _, ok := cohort.Lookup(id); !ok {
			return NewPartitionError(stage, id, "subject not in cohort")
		}
	}
	return nil
}

// CountingProcess converts inclusive rows to counting-process form: each
// stop becomes the exclusive boundary stop+1, so adjacent rows share the
// boundary and the duration is stop-start. The event stage consumes this
// form; the conversion is explicit, never implicit.
func (d *Dataset) CountingProcess() *Dataset {
	out := d.Clone()
	for i := range out.Rows {
		out.Rows[i].Stop++
	}
	return out
}
