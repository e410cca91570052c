package expose

import (
	"fmt"
	"sort"

	"github.com/tpcopeland/tvkit/timeline"
)

// classifyDose computes cumulative dose directly from hygiene-filtered raw
// spans. Overlapping spans contribute additively: the span set is cut at
// every boundary, each segment's daily rate is the sum of the covering
// span values, and the running total accumulates rate times segment days.
//
// Without cuts the output column is the continuous running total; with
// cuts each row is banded into labeled dose categories.
func classifyDose(cohort *timeline.Cohort, grouped map[string][]span, cuts []float64, generate string) (*timeline.Dataset, error) {
	col := timeline.Column{Name: generate, Continuous: true}
	if len(cuts) > 0 {
		col.Continuous = false
		col.Labels = doseLabels(cuts)
	}
	ds := &timeline.Dataset{Columns: []timeline.Column{col}}

	for _, subj := range cohort.Subjects() {
		for _, s := range doseSpans(subj, grouped[subj.ID], cuts) {
			ds.Rows = append(ds.Rows, timeline.Row{
				Subject: subj.ID,
				Start:   s.start,
				Stop:    s.stop,
				Values:  []timeline.Value{s.value},
			})
		}
	}
	compressRows(ds)
	if err := ds.VerifyPartition("dose", cohort); err != nil {
		return nil, err
	}
	return ds, nil
}

func doseSpans(subj timeline.Subject, spans []span, cuts []float64) []span {
	zero := doseValue(0, cuts)
	if len(spans) == 0 {
		return []span{{subj.Entry, subj.Exit, zero}}
	}
	sortSpans(spans)

	// Boundary grid from every start and stop+1. Segments between
	// consecutive boundaries never straddle a span edge, so each is
	// covered by a fixed set of spans.
	bset := make(map[timeline.Day]struct{}, 2*len(spans))
	for _, s := range spans {
		bset[s.start] = struct{}{}
		bset[s.stop+1] = struct{}{}
	}
	bounds := make([]timeline.Day, 0, len(bset))
	for b := range bset {
		bounds = append(bounds, b)
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i] < bounds[j] })

	out := make([]span, 0, len(bounds)+1)
	if bounds[0] > subj.Entry {
		out = append(out, span{subj.Entry, bounds[0] - 1, zero})
	}
	cum := 0.0
	for k := 0; k+1 < len(bounds); k++ {
		seg := span{bounds[k], bounds[k+1] - 1, nil}
		rate := 0.0
		for _, s := range spans {
			if s.start <= seg.start && seg.stop <= s.stop {
				rate += doseRate(s.value)
			}
		}
		cum += rate * float64(seg.duration())
		seg.value = doseValue(cum, cuts)
		out = append(out, seg)
	}
	if last := bounds[len(bounds)-1]; last <= subj.Exit {
		out = append(out, span{last, subj.Exit, doseValue(cum, cuts)})
	}
	return out
}

// doseRate reads a span value as a daily rate. Records were validated
// scalar and finite, so both variants convert directly.
func doseRate(v timeline.Value) float64 {
	switch x := v.(type) {
	case timeline.Code:
		return float64(x)
	case timeline.Level:
		return float64(x)
	}
	return 0
}

// doseValue renders a running total as the output value: the raw Level
// when unbanded, the band code otherwise.
func doseValue(cum float64, cuts []float64) timeline.Value {
	if len(cuts) == 0 {
		return timeline.Level(cum)
	}
	return bucketValue(cum, cuts, 0, 1)
}

// doseLabels names the dose bands: "No dose" for zero, "<c1" below the
// first cut, "a-<b" per interior band, and "cN+" at or above the last cut.
func doseLabels(cuts []float64) map[timeline.Code]string {
	labels := make(map[timeline.Code]string, len(cuts)+2)
	labels[0] = "No dose"
	labels[1] = fmt.Sprintf("<%g", cuts[0])
	for i := 1; i < len(cuts); i++ {
		labels[timeline.Code(i+1)] = fmt.Sprintf("%g-<%g", cuts[i-1], cuts[i])
	}
	labels[timeline.Code(len(cuts)+1)] = fmt.Sprintf("%g+", cuts[len(cuts)-1])
	return labels
}
